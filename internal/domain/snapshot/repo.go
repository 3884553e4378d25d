package snapshot

import "context"

type Repository interface {
	Insert(ctx context.Context, s *Snapshot) error
	Latest(ctx context.Context, caseID int64, role, action string) (*Snapshot, error)
	List(ctx context.Context, caseID int64, f Filter) ([]*Snapshot, error)
	Get(ctx context.Context, id int64) (*Snapshot, error)
	CaseExists(ctx context.Context, caseID int64) (bool, error)

	// Drafts
	UpsertDraft(ctx context.Context, d *Draft) error
	GetDraft(ctx context.Context, caseID int64, role string) (*Draft, error)
	DeleteDraft(ctx context.Context, caseID int64, role string) error
}
