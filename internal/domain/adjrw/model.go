package adjrw

import (
	"time"

	"github.com/noosi159/Hospital1-backend/internal/platform/normalize"
)

// State is the ledger row of one case. RateYear, RateUsed, CalculatedAmount,
// CoverageGroup and RateRuleID are written once and never recomputed.
type State struct {
	CaseID           int64     `json:"case_id"`
	RW               *float64  `json:"rw"`
	Adjrw            float64   `json:"adjrw"`
	RateYear         *int      `json:"rate_year"`
	RateUsed         *float64  `json:"rate_used"`
	CalculatedAmount *float64  `json:"calculated_amount"`
	CoverageGroup    *string   `json:"coverage_group"`
	RateRuleID       *int64    `json:"rate_rule_id"`
	UpdatedBy        *int64    `json:"updated_by"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Frozen reports whether the rate snapshot has been locked.
func (s *State) Frozen() bool {
	return s != nil && s.RateYear != nil
}

// Write is what one ledger write stores. The rate fields are only honoured
// when the stored row has no rate year yet.
type Write struct {
	CaseID           int64
	RW               *float64
	Adjrw            float64
	RateYear         *int
	RateUsed         *float64
	CalculatedAmount *float64
	CoverageGroup    *string
	RateRuleID       *int64
	UpdatedBy        *int64
}

type HistoryEntry struct {
	ID        int64     `json:"id"`
	CaseID    int64     `json:"case_id"`
	PreAdjrw  float64   `json:"pre_adjrw"`
	PostAdjrw float64   `json:"post_adjrw"`
	UpdatedBy *int64    `json:"updated_by"`
	CreatedAt time.Time `json:"created_at"`
}

// ApplyInput is one AdjRW write. RW left absent keeps the stored value; RW
// sent as null or "" clears it.
type ApplyInput struct {
	CaseID  int64
	RW      normalize.Number
	Adjrw   normalize.Number
	ActorID int64
}

type Result struct {
	CaseID           int64    `json:"case_id"`
	RW               *float64 `json:"rw"`
	Adjrw            float64  `json:"adjrw"`
	PreAdjrw         float64  `json:"pre_adjrw"`
	RateYear         *int     `json:"rate_year"`
	RateUsed         *float64 `json:"rate_used"`
	CalculatedAmount *float64 `json:"calculated_amount"`
	CoverageGroup    *string  `json:"coverage_group"`
	Frozen           bool     `json:"frozen"`
}

// LatestState is the read view of the ledger. Adjrw defaults to 0 and RW to
// null when the case has never been written. PreAdjrw and PostAdjrw come from
// the newest history row and fall back to Adjrw.
type LatestState struct {
	CaseID           int64      `json:"case_id"`
	RW               *float64   `json:"rw"`
	Adjrw            float64    `json:"adjrw"`
	PreAdjrw         float64    `json:"pre_adjrw"`
	PostAdjrw        float64    `json:"post_adjrw"`
	RateYear         *int       `json:"rate_year"`
	RateUsed         *float64   `json:"rate_used"`
	CalculatedAmount *float64   `json:"calculated_amount"`
	CoverageGroup    *string    `json:"coverage_group"`
	UpdatedAt        *time.Time `json:"updated_at"`
}
