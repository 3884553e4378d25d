package coverage

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
)

// Matches reports whether rule r applies to the AdjRW value a.
//
// A rule with only a maximum covers values strictly below it, a rule with only
// a minimum covers values at or above it, a rule with both covers the closed
// range and a rule with neither matches everything.
func Matches(r *Rule, a float64) bool {
	switch {
	case r.AdjrwMin == nil && r.AdjrwMax != nil:
		return a < *r.AdjrwMax
	case r.AdjrwMin != nil && r.AdjrwMax == nil:
		return a >= *r.AdjrwMin
	case r.AdjrwMin != nil && r.AdjrwMax != nil:
		return a >= *r.AdjrwMin && a <= *r.AdjrwMax
	default:
		return true
	}
}

func boundRank(r *Rule) int {
	switch {
	case r.AdjrwMin != nil && r.AdjrwMax != nil:
		return 3
	case r.AdjrwMin != nil:
		return 2
	case r.AdjrwMax != nil:
		return 1
	default:
		return 0
	}
}

// moreSpecific reports whether a outranks b.
func moreSpecific(a, b *Rule) bool {
	ra, rb := boundRank(a), boundRank(b)
	if ra != rb {
		return ra > rb
	}
	switch ra {
	case 3:
		wa, wb := *a.AdjrwMax-*a.AdjrwMin, *b.AdjrwMax-*b.AdjrwMin
		if wa != wb {
			return wa < wb
		}
		if *a.AdjrwMin != *b.AdjrwMin {
			return *a.AdjrwMin > *b.AdjrwMin
		}
	case 2:
		if *a.AdjrwMin != *b.AdjrwMin {
			return *a.AdjrwMin > *b.AdjrwMin
		}
	case 1:
		if *a.AdjrwMax != *b.AdjrwMax {
			return *a.AdjrwMax < *b.AdjrwMax
		}
	}
	return a.ID > b.ID
}

// MatchRule returns the most specific active rule covering a, or nil. The
// input order does not affect the result.
func MatchRule(rules []*Rule, a float64) *Rule {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return nil
	}
	var matched []*Rule
	for _, r := range rules {
		if r != nil && r.IsActive && Matches(r, a) {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return moreSpecific(matched[i], matched[j])
	})
	return matched[0]
}

// Column limits of the NUMERIC ledger and rate table columns. Values are
// rounded to the column scale before they are compared.
const (
	MaxAdjrw  = 1e6  // NUMERIC(10,4)
	MaxRate   = 1e10 // NUMERIC(12,2)
	MaxAmount = 1e12 // NUMERIC(14,2)
)

// Amount computes rate_used and calculated_amount for a matched rule. ACTUAL
// rules and a nil rule yield no rate and no amount. The product is taken in
// decimal so the stored amount is exactly adjrw * rate rounded to cents.
func Amount(r *Rule, a float64) (rateUsed, amount *float64, err error) {
	if r == nil || r.CalcType != CalcRate || r.RatePerAdjrw == nil {
		return nil, nil, nil
	}
	rate := *r.RatePerAdjrw
	d := decimal.NewFromFloat(a).Mul(decimal.NewFromFloat(rate)).Round(2)
	if d.Abs().GreaterThanOrEqual(decimal.NewFromFloat(MaxAmount)) {
		return nil, nil, apperr.Validation("calculated amount %s is out of range", d.String())
	}
	amt := d.InexactFloat64()
	return &rate, &amt, nil
}

// Round2 rounds half away from zero to two decimal places.
func Round2(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return decimal.NewFromFloat(x).Round(2).InexactFloat64()
}

// Round4 rounds half away from zero to the four decimal places AdjRW is
// stored with.
func Round4(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return decimal.NewFromFloat(x).Round(4).InexactFloat64()
}

// CheckAdjrw rounds an AdjRW-scaled value to its stored scale and rejects
// values the column cannot hold.
func CheckAdjrw(field string, v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, apperr.Validation("%s must be a finite number", field)
	}
	r := Round4(v)
	if math.Abs(r) >= MaxAdjrw {
		return 0, apperr.Validation("%s must be less than %d in magnitude", field, int64(MaxAdjrw))
	}
	return r, nil
}

// CheckRate is CheckAdjrw for rate_per_adjrw.
func CheckRate(field string, v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, apperr.Validation("%s must be a finite number", field)
	}
	r := Round2(v)
	if math.Abs(r) >= MaxRate {
		return 0, apperr.Validation("%s must be less than %d in magnitude", field, int64(MaxRate))
	}
	return r, nil
}
