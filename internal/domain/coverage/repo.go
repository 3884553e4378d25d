package coverage

import "context"

type Repository interface {
	// Rules
	ListRules(ctx context.Context, year *int, activeOnly bool) ([]*Rule, error)
	ActiveRules(ctx context.Context, group string, year int) ([]*Rule, error)
	GetRule(ctx context.Context, id int64) (*Rule, error)
	CreateRule(ctx context.Context, r *Rule) error
	UpdateRule(ctx context.Context, r *Rule) error
	DeleteRule(ctx context.Context, id int64) error
	DeactivateRules(ctx context.Context, group string, year int) (int64, error)

	// Prefix mappings
	ListMappings(ctx context.Context) ([]*Mapping, error)
	UpsertMapping(ctx context.Context, m *Mapping) error
	DeleteMapping(ctx context.Context, id int64) error

	// CaseRight reads the right code and name recorded on a case.
	CaseRight(ctx context.Context, caseID int64) (code, name string, err error)
}
