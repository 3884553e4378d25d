package casework

import (
	"context"
	"time"
)

type Repository interface {
	// LockCase takes the case row lock. Every mutation calls it first.
	LockCase(ctx context.Context, id int64) (*Case, error)
	LockCaseByAN(ctx context.Context, an string) (*Case, error)
	GetCase(ctx context.Context, id int64) (*CaseDetail, error)
	ListCases(ctx context.Context, f ListFilter) ([]*CaseSummary, int, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	ListAvailableForCoder(ctx context.Context) ([]*CaseSummary, error)

	SetStatus(ctx context.Context, id int64, status Status) error
	// AssignAuditor sets the auditor, due date and status. received_date is
	// only written the first time.
	AssignAuditor(ctx context.Context, id, auditorID int64, receivedAt time.Time, dueAt *time.Time) error
	InsertAssignment(ctx context.Context, a *Assignment) error
	// DeactivateAuditorAssignments flags the active auditor assignments of a
	// case as returned.
	DeactivateAuditorAssignments(ctx context.Context, caseID int64) (int64, error)
	// ReturnCase sets RETURNED and clears the auditor.
	ReturnCase(ctx context.Context, id int64) error
	// ClaimCase sets the coder only while the case is unclaimed and
	// SENT_TO_CODER. It reports the rows changed.
	ClaimCase(ctx context.Context, id, coderID int64) (int64, error)

	UpdateCaseInfo(ctx context.Context, id int64, cols []Column) (*CaseInfo, error)
	ReplaceDiagnoses(ctx context.Context, caseID int64, rows []*Diagnosis) error
	ListDiagnoses(ctx context.Context, caseID int64) ([]*Diagnosis, error)
	// DiagnosisCase returns the case a diagnosis row belongs to.
	DiagnosisCase(ctx context.Context, id int64) (int64, error)
	DeleteDiagnosis(ctx context.Context, caseID, id int64) error
	ListAssignments(ctx context.Context, caseID int64) ([]*Assignment, error)
}
