package coverage

import (
	"strings"
	"time"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/normalize"
)

const (
	CalcRate   = "RATE"
	CalcActual = "ACTUAL"
)

// Coverage groups produced by the keyword fallback.
const (
	GroupUC      = "UC"
	GroupGOV     = "GOV"
	GroupLOCAL   = "LOCAL"
	GroupSSS     = "SSS"
	GroupPROBLEM = "PROBLEM"
	GroupFOREIGN = "FOREIGN"
)

// Rule is one row of the reimbursement rate table.
type Rule struct {
	ID            int64     `json:"id"`
	CoverageGroup string    `json:"coverage_group"`
	CoverageName  *string   `json:"coverage_name"`
	RateYear      int       `json:"rate_year"`
	AdjrwMin      *float64  `json:"adjrw_min"`
	AdjrwMax      *float64  `json:"adjrw_max"`
	CalcType      string    `json:"calc_type"`
	RatePerAdjrw  *float64  `json:"rate_per_adjrw"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate checks the invariants the table enforces with CHECK constraints
// and rounds the bounds and rate to their column scale.
func (r *Rule) Validate() error {
	if r.CoverageGroup == "" {
		return apperr.Validation("coverage_group is required")
	}
	if r.RateYear < 1900 || r.RateYear > 9999 {
		return apperr.Validation("rate_year must be a four digit year")
	}
	switch r.CalcType {
	case CalcRate:
		if r.RatePerAdjrw == nil {
			return apperr.Validation("RATE must have rate_per_adjrw")
		}
	case CalcActual:
		if r.RatePerAdjrw != nil {
			return apperr.Validation("ACTUAL must have rate_per_adjrw = null")
		}
	default:
		return apperr.Validation("calc_type must be RATE or ACTUAL")
	}
	for _, b := range []struct {
		field string
		v     *float64
	}{{"adjrw_min", r.AdjrwMin}, {"adjrw_max", r.AdjrwMax}} {
		if b.v == nil {
			continue
		}
		v, err := CheckAdjrw(b.field, *b.v)
		if err != nil {
			return err
		}
		*b.v = v
	}
	if r.RatePerAdjrw != nil {
		v, err := CheckRate("rate_per_adjrw", *r.RatePerAdjrw)
		if err != nil {
			return err
		}
		*r.RatePerAdjrw = v
	}
	if r.AdjrwMin != nil && r.AdjrwMax != nil && *r.AdjrwMin > *r.AdjrwMax {
		return apperr.Validation("adjrw_min must be <= adjrw_max")
	}
	return nil
}

// Mapping maps a right code prefix to a coverage group.
type Mapping struct {
	ID            int64     `json:"id"`
	RightPrefix   string    `json:"right_prefix"`
	CoverageGroup string    `json:"coverage_group"`
	CreatedAt     time.Time `json:"created_at"`
}

// RateSnapshot is the outcome of resolving a group and matching a rule for
// one AdjRW value. Group is empty when no coverage group could be resolved.
type RateSnapshot struct {
	CoverageGroup    string   `json:"coverage_group,omitempty"`
	RateYear         int      `json:"rate_year"`
	Rule             *Rule    `json:"rule,omitempty"`
	RateUsed         *float64 `json:"rate_used"`
	CalculatedAmount *float64 `json:"calculated_amount"`
}

// RuleInput is the loosely typed body accepted by rule create and update.
// Absent fields are left untouched on update.
type RuleInput struct {
	CoverageGroup normalize.Text   `json:"coverage_group"`
	CoverageName  normalize.Text   `json:"coverage_name"`
	RateYear      normalize.Number `json:"rate_year"`
	AdjrwMin      normalize.Number `json:"adjrw_min"`
	AdjrwMax      normalize.Number `json:"adjrw_max"`
	CalcType      normalize.Text   `json:"calc_type"`
	RatePerAdjrw  normalize.Number `json:"rate_per_adjrw"`
	IsActive      *bool            `json:"is_active"`
}

// ApplyTo copies every present field of in onto r.
func (in RuleInput) ApplyTo(r *Rule) error {
	if in.CoverageGroup.Present {
		r.CoverageGroup = strings.ToUpper(in.CoverageGroup.String())
	}
	if in.CoverageName.Present {
		r.CoverageName = in.CoverageName.Ptr()
	}
	if in.RateYear.Present {
		y, err := in.RateYear.Required("rate_year")
		if err != nil {
			return err
		}
		if y != float64(int(y)) {
			return apperr.Validation("rate_year must be an integer")
		}
		r.RateYear = int(y)
	}
	if in.AdjrwMin.Present {
		v, err := in.AdjrwMin.Float("adjrw_min")
		if err != nil {
			return err
		}
		r.AdjrwMin = v
	}
	if in.AdjrwMax.Present {
		v, err := in.AdjrwMax.Float("adjrw_max")
		if err != nil {
			return err
		}
		r.AdjrwMax = v
	}
	if in.CalcType.Present {
		r.CalcType = strings.ToUpper(in.CalcType.String())
	}
	if in.RatePerAdjrw.Present {
		v, err := in.RatePerAdjrw.Float("rate_per_adjrw")
		if err != nil {
			return err
		}
		r.RatePerAdjrw = v
	}
	if in.IsActive != nil {
		r.IsActive = *in.IsActive
	}
	return nil
}

// QuoteInput asks for a provisional amount. Either CaseID or the right
// code/name pair identifies the coverage.
type QuoteInput struct {
	CaseID    normalize.Number `json:"case_id"`
	RightCode normalize.Text   `json:"right_code"`
	RightName normalize.Text   `json:"right_name"`
	RateYear  normalize.Number `json:"rate_year"`
	Adjrw     normalize.Number `json:"adjrw"`
}
