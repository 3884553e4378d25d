package coverage

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

const ruleCols = `id, coverage_group, coverage_name, rate_year, adjrw_min, adjrw_max,
	calc_type, rate_per_adjrw, is_active, created_at, updated_at`

func (r *repoPG) ListRules(ctx context.Context, year *int, activeOnly bool) ([]*Rule, error) {
	rows, err := db.Pick(ctx, r.pool).Query(ctx, `
		SELECT `+ruleCols+` FROM coverage_rates
		WHERE ($1::int IS NULL OR rate_year = $1) AND (NOT $2 OR is_active)
		ORDER BY coverage_group, adjrw_min ASC NULLS FIRST, id`, year, activeOnly)
	if err != nil {
		return nil, apperr.Store("list rules", err)
	}
	defer rows.Close()
	return collectRules(rows)
}

func (r *repoPG) ActiveRules(ctx context.Context, group string, year int) ([]*Rule, error) {
	rows, err := db.Pick(ctx, r.pool).Query(ctx, `
		SELECT `+ruleCols+` FROM coverage_rates
		WHERE coverage_group = $1 AND rate_year = $2 AND is_active
		ORDER BY id DESC`, group, year)
	if err != nil {
		return nil, apperr.Store("load rules", err)
	}
	defer rows.Close()
	return collectRules(rows)
}

func (r *repoPG) GetRule(ctx context.Context, id int64) (*Rule, error) {
	rule, err := scanRule(db.Pick(ctx, r.pool).QueryRow(ctx, `SELECT `+ruleCols+` FROM coverage_rates WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("coverage rule %d not found", id)
	}
	if err != nil {
		return nil, apperr.Store("get rule", err)
	}
	return rule, nil
}

func (r *repoPG) CreateRule(ctx context.Context, rule *Rule) error {
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO coverage_rates (coverage_group, coverage_name, rate_year, adjrw_min, adjrw_max,
			calc_type, rate_per_adjrw, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		rule.CoverageGroup, rule.CoverageName, rule.RateYear, rule.AdjrwMin, rule.AdjrwMax,
		rule.CalcType, rule.RatePerAdjrw, rule.IsActive,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	return apperr.Store("create rule", err)
}

func (r *repoPG) UpdateRule(ctx context.Context, rule *Rule) error {
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		UPDATE coverage_rates SET
			coverage_group=$2, coverage_name=$3, rate_year=$4, adjrw_min=$5, adjrw_max=$6,
			calc_type=$7, rate_per_adjrw=$8, is_active=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rule.ID, rule.CoverageGroup, rule.CoverageName, rule.RateYear, rule.AdjrwMin, rule.AdjrwMax,
		rule.CalcType, rule.RatePerAdjrw, rule.IsActive,
	).Scan(&rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("coverage rule %d not found", rule.ID)
	}
	return apperr.Store("update rule", err)
}

func (r *repoPG) DeleteRule(ctx context.Context, id int64) error {
	tag, err := db.Pick(ctx, r.pool).Exec(ctx, `DELETE FROM coverage_rates WHERE id = $1`, id)
	if err != nil {
		return apperr.Store("delete rule", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("coverage rule %d not found", id)
	}
	return nil
}

func (r *repoPG) DeactivateRules(ctx context.Context, group string, year int) (int64, error) {
	tag, err := db.Pick(ctx, r.pool).Exec(ctx, `
		UPDATE coverage_rates SET is_active = FALSE, updated_at = NOW()
		WHERE coverage_group = $1 AND rate_year = $2 AND is_active`, group, year)
	if err != nil {
		return 0, apperr.Store("deactivate rules", err)
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) ListMappings(ctx context.Context) ([]*Mapping, error) {
	rows, err := db.Pick(ctx, r.pool).Query(ctx, `
		SELECT id, right_prefix, coverage_group, created_at
		FROM coverage_prefix_mapping
		ORDER BY char_length(right_prefix) DESC, right_prefix`)
	if err != nil {
		return nil, apperr.Store("list mappings", err)
	}
	defer rows.Close()
	var out []*Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.ID, &m.RightPrefix, &m.CoverageGroup, &m.CreatedAt); err != nil {
			return nil, apperr.Store("scan mapping", err)
		}
		out = append(out, &m)
	}
	return out, apperr.Store("list mappings", rows.Err())
}

func (r *repoPG) UpsertMapping(ctx context.Context, m *Mapping) error {
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO coverage_prefix_mapping (right_prefix, coverage_group)
		VALUES ($1, $2)
		ON CONFLICT (right_prefix) DO UPDATE SET coverage_group = EXCLUDED.coverage_group
		RETURNING id, created_at`, m.RightPrefix, m.CoverageGroup,
	).Scan(&m.ID, &m.CreatedAt)
	return apperr.Store("upsert mapping", err)
}

func (r *repoPG) DeleteMapping(ctx context.Context, id int64) error {
	tag, err := db.Pick(ctx, r.pool).Exec(ctx, `DELETE FROM coverage_prefix_mapping WHERE id = $1`, id)
	if err != nil {
		return apperr.Store("delete mapping", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("coverage mapping %d not found", id)
	}
	return nil
}

func (r *repoPG) CaseRight(ctx context.Context, caseID int64) (string, string, error) {
	var code, name *string
	err := db.Pick(ctx, r.pool).QueryRow(ctx,
		`SELECT right_code, right_name FROM cases WHERE id = $1`, caseID).Scan(&code, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", apperr.NotFound("case %d not found", caseID)
	}
	if err != nil {
		return "", "", apperr.Store("load case right", err)
	}
	return deref(code), deref(name), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func scanRule(row pgx.Row) (*Rule, error) {
	var r Rule
	err := row.Scan(&r.ID, &r.CoverageGroup, &r.CoverageName, &r.RateYear, &r.AdjrwMin, &r.AdjrwMax,
		&r.CalcType, &r.RatePerAdjrw, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func collectRules(rows pgx.Rows) ([]*Rule, error) {
	var out []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, apperr.Store("scan rule", err)
		}
		out = append(out, r)
	}
	return out, apperr.Store("read rules", rows.Err())
}
