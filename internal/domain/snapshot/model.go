package snapshot

import (
	"encoding/json"
	"time"
)

const (
	RoleAuditor = "AUDITOR"
	RoleCoder   = "CODER"

	ActionSave            = "SAVE"
	ActionSubmitToCoder   = "SUBMIT_TO_CODER"
	ActionSubmitToAuditor = "SUBMIT_TO_AUDITOR"
)

// EnrichKey is the payload key that carries the ledger view on submissions.
const EnrichKey = "adjrw_snapshot"

var validRoles = map[string]bool{RoleAuditor: true, RoleCoder: true}

var validActions = map[string]bool{
	ActionSave:            true,
	ActionSubmitToCoder:   true,
	ActionSubmitToAuditor: true,
}

// Snapshot is an immutable copy of a submitted form.
type Snapshot struct {
	ID        int64           `json:"id"`
	CaseID    int64           `json:"case_id"`
	Role      string          `json:"role"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	CreatedBy *int64          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

type Filter struct {
	Role   string
	Action string
	Limit  int
}

// Draft is the in-progress form of one role on one case. Each save replaces
// the payload and bumps Version.
type Draft struct {
	CaseID    int64           `json:"case_id"`
	Role      string          `json:"role"`
	UserID    *int64          `json:"user_id"`
	Payload   json.RawMessage `json:"payload"`
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}
