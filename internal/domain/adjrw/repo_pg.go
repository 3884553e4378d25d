package adjrw

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const stateCols = `case_id, rw, adjrw, rate_year, rate_used, calculated_amount,
	coverage_group, rate_rule_id, updated_by, updated_at`

func (r *repoPG) LockCase(ctx context.Context, caseID int64) (string, string, error) {
	var code, name *string
	err := db.Pick(ctx, r.pool).QueryRow(ctx,
		`SELECT right_code, right_name FROM cases WHERE id = $1 FOR UPDATE`, caseID).Scan(&code, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", apperr.NotFound("case %d not found", caseID)
	}
	if err != nil {
		return "", "", apperr.Store("lock case", err)
	}
	var c, n string
	if code != nil {
		c = *code
	}
	if name != nil {
		n = *name
	}
	return c, n, nil
}

func (r *repoPG) LockState(ctx context.Context, caseID int64) (*State, error) {
	s, err := scanState(db.Pick(ctx, r.pool).QueryRow(ctx,
		`SELECT `+stateCols+` FROM case_rw WHERE case_id = $1 FOR UPDATE`, caseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Store("lock ledger row", err)
	}
	return s, nil
}

// Upsert writes rw/adjrw unconditionally. The snapshot columns keep their
// stored values once rate_year is set; every SET expression sees the old row.
func (r *repoPG) Upsert(ctx context.Context, w Write) (*State, error) {
	s, err := scanState(db.Pick(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO case_rw (case_id, rw, adjrw, rate_year, rate_used, calculated_amount,
			coverage_group, rate_rule_id, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (case_id) DO UPDATE SET
			rw = EXCLUDED.rw,
			adjrw = EXCLUDED.adjrw,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW(),
			rate_year = COALESCE(case_rw.rate_year, EXCLUDED.rate_year),
			rate_used = CASE WHEN case_rw.rate_year IS NULL THEN EXCLUDED.rate_used ELSE case_rw.rate_used END,
			calculated_amount = CASE WHEN case_rw.rate_year IS NULL THEN EXCLUDED.calculated_amount ELSE case_rw.calculated_amount END,
			coverage_group = CASE WHEN case_rw.rate_year IS NULL THEN EXCLUDED.coverage_group ELSE case_rw.coverage_group END,
			rate_rule_id = CASE WHEN case_rw.rate_year IS NULL THEN EXCLUDED.rate_rule_id ELSE case_rw.rate_rule_id END
		RETURNING `+stateCols,
		w.CaseID, w.RW, w.Adjrw, w.RateYear, w.RateUsed, w.CalculatedAmount,
		w.CoverageGroup, w.RateRuleID, w.UpdatedBy,
	))
	if err != nil {
		return nil, apperr.Store("upsert ledger row", err)
	}
	return s, nil
}

func (r *repoPG) AppendHistory(ctx context.Context, h *HistoryEntry) error {
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO case_adjrw_history (case_id, pre_adjrw, post_adjrw, updated_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		h.CaseID, h.PreAdjrw, h.PostAdjrw, h.UpdatedBy,
	).Scan(&h.ID, &h.CreatedAt)
	return apperr.Store("append adjrw history", err)
}

func (r *repoPG) CaseExists(ctx context.Context, caseID int64) (bool, error) {
	var ok bool
	err := db.Pick(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM cases WHERE id = $1)`, caseID).Scan(&ok)
	if err != nil {
		return false, apperr.Store("check case", err)
	}
	return ok, nil
}

func (r *repoPG) GetState(ctx context.Context, caseID int64) (*State, error) {
	s, err := scanState(db.Pick(ctx, r.pool).QueryRow(ctx,
		`SELECT `+stateCols+` FROM case_rw WHERE case_id = $1`, caseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Store("get ledger row", err)
	}
	return s, nil
}

const historyCols = `id, case_id, pre_adjrw, post_adjrw, updated_by, created_at`

func (r *repoPG) LatestHistory(ctx context.Context, caseID int64) (*HistoryEntry, error) {
	var h HistoryEntry
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		SELECT `+historyCols+` FROM case_adjrw_history
		WHERE case_id = $1 ORDER BY id DESC LIMIT 1`, caseID,
	).Scan(&h.ID, &h.CaseID, &h.PreAdjrw, &h.PostAdjrw, &h.UpdatedBy, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Store("latest adjrw history", err)
	}
	return &h, nil
}

func (r *repoPG) ListHistory(ctx context.Context, caseID int64, limit int) ([]*HistoryEntry, error) {
	rows, err := db.Pick(ctx, r.pool).Query(ctx, `
		SELECT `+historyCols+` FROM case_adjrw_history
		WHERE case_id = $1 ORDER BY id DESC LIMIT $2`, caseID, limit)
	if err != nil {
		return nil, apperr.Store("list adjrw history", err)
	}
	defer rows.Close()
	var out []*HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.CaseID, &h.PreAdjrw, &h.PostAdjrw, &h.UpdatedBy, &h.CreatedAt); err != nil {
			return nil, apperr.Store("scan adjrw history", err)
		}
		out = append(out, &h)
	}
	return out, apperr.Store("list adjrw history", rows.Err())
}

func scanState(row pgx.Row) (*State, error) {
	var s State
	err := row.Scan(&s.CaseID, &s.RW, &s.Adjrw, &s.RateYear, &s.RateUsed, &s.CalculatedAmount,
		&s.CoverageGroup, &s.RateRuleID, &s.UpdatedBy, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
