package adjrw

import "context"

type Repository interface {
	// LockCase takes the case row lock and returns its right code and name.
	LockCase(ctx context.Context, caseID int64) (rightCode, rightName string, err error)
	// LockState takes the ledger row lock. It returns nil when no row exists.
	LockState(ctx context.Context, caseID int64) (*State, error)
	Upsert(ctx context.Context, w Write) (*State, error)
	AppendHistory(ctx context.Context, h *HistoryEntry) error

	CaseExists(ctx context.Context, caseID int64) (bool, error)
	GetState(ctx context.Context, caseID int64) (*State, error)
	LatestHistory(ctx context.Context, caseID int64) (*HistoryEntry, error)
	ListHistory(ctx context.Context, caseID int64, limit int) ([]*HistoryEntry, error)
}
