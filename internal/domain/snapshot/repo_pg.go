package snapshot

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

const snapCols = `id, case_id, role, action, payload_json, created_by, created_at`

func (r *repoPG) Insert(ctx context.Context, s *Snapshot) error {
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO case_form_snapshots (case_id, role, action, payload_json, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		s.CaseID, s.Role, s.Action, s.Payload, s.CreatedBy,
	).Scan(&s.ID, &s.CreatedAt)
	return apperr.Store("insert snapshot", err)
}

func (r *repoPG) Latest(ctx context.Context, caseID int64, role, action string) (*Snapshot, error) {
	s, err := scanSnapshot(db.Pick(ctx, r.pool).QueryRow(ctx, `
		SELECT `+snapCols+` FROM case_form_snapshots
		WHERE case_id = $1 AND role = $2 AND action = $3
		ORDER BY id DESC LIMIT 1`, caseID, role, action))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Store("latest snapshot", err)
	}
	return s, nil
}

func (r *repoPG) List(ctx context.Context, caseID int64, f Filter) ([]*Snapshot, error) {
	rows, err := db.Pick(ctx, r.pool).Query(ctx, `
		SELECT `+snapCols+` FROM case_form_snapshots
		WHERE case_id = $1
			AND ($2 = '' OR role = $2)
			AND ($3 = '' OR action = $3)
		ORDER BY id DESC
		LIMIT $4`, caseID, f.Role, f.Action, f.Limit)
	if err != nil {
		return nil, apperr.Store("list snapshots", err)
	}
	defer rows.Close()
	var out []*Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, apperr.Store("scan snapshot", err)
		}
		out = append(out, s)
	}
	return out, apperr.Store("list snapshots", rows.Err())
}

func (r *repoPG) Get(ctx context.Context, id int64) (*Snapshot, error) {
	s, err := scanSnapshot(db.Pick(ctx, r.pool).QueryRow(ctx,
		`SELECT `+snapCols+` FROM case_form_snapshots WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("snapshot %d not found", id)
	}
	if err != nil {
		return nil, apperr.Store("get snapshot", err)
	}
	return s, nil
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

func (r *repoPG) UpsertDraft(ctx context.Context, d *Draft) error {
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO case_drafts (case_id, role, user_id, payload_json, version, updated_at)
		VALUES ($1, $2, $3, $4, 1, NOW())
		ON CONFLICT (case_id, role) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			payload_json = EXCLUDED.payload_json,
			version = case_drafts.version + 1,
			updated_at = NOW()
		RETURNING version, updated_at`,
		d.CaseID, d.Role, d.UserID, d.Payload,
	).Scan(&d.Version, &d.UpdatedAt)
	return apperr.Store("upsert draft", err)
}

func (r *repoPG) GetDraft(ctx context.Context, caseID int64, role string) (*Draft, error) {
	d := Draft{CaseID: caseID, Role: role}
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		SELECT user_id, payload_json, version, updated_at
		FROM case_drafts WHERE case_id = $1 AND role = $2`, caseID, role,
	).Scan(&d.UserID, &d.Payload, &d.Version, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Store("get draft", err)
	}
	return &d, nil
}

func (r *repoPG) DeleteDraft(ctx context.Context, caseID int64, role string) error {
	_, err := db.Pick(ctx, r.pool).Exec(ctx,
		`DELETE FROM case_drafts WHERE case_id = $1 AND role = $2`, caseID, role)
	return apperr.Store("delete draft", err)
}

func scanSnapshot(row pgx.Row) (*Snapshot, error) {
	var s Snapshot
	if err := row.Scan(&s.ID, &s.CaseID, &s.Role, &s.Action, &s.Payload, &s.CreatedBy, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
