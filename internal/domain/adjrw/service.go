package adjrw

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/noosi159/Hospital1-backend/internal/domain/coverage"
	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/db"
	"github.com/noosi159/Hospital1-backend/internal/platform/metrics"
	"github.com/noosi159/Hospital1-backend/internal/platform/tracing"
)

const (
	tracerName = "casereview/adjrw"

	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// RateResolver prices an AdjRW value for a case's right in a given year.
type RateResolver interface {
	Snapshot(ctx context.Context, rightCode, rightName string, year int, adjrw float64) (coverage.RateSnapshot, error)
}

type Service struct {
	repo    Repository
	rates   RateResolver
	tx      db.Transactor
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(repo Repository, rates RateResolver, tx db.Transactor, m *metrics.Metrics) *Service {
	return &Service{repo: repo, rates: rates, tx: tx, metrics: m, now: time.Now}
}

// ApplyAdjrw records a new AdjRW value for a case in its own transaction, or
// in the caller's when ctx already carries one.
//
// The first write resolves the coverage group, matches a rule for the current
// calendar year and stores the rate snapshot. Later writes change rw and adjrw
// only. Every write appends one history row. Values are rounded to the four
// decimal places they are stored with before they are priced.
func (s *Service) ApplyAdjrw(ctx context.Context, in ApplyInput) (*Result, error) {
	adjrw, err := in.Adjrw.Required("adjrw")
	if err != nil {
		return nil, err
	}
	if adjrw, err = coverage.CheckAdjrw("adjrw", adjrw); err != nil {
		return nil, err
	}
	rw, err := in.RW.Float("rw")
	if err != nil {
		return nil, err
	}
	if rw != nil {
		v, err := coverage.CheckAdjrw("rw", *rw)
		if err != nil {
			return nil, err
		}
		rw = &v
	}
	if in.CaseID <= 0 {
		return nil, apperr.Validation("case id is required")
	}

	ctx, span := tracing.Start(ctx, tracerName, "adjrw.apply", attribute.Int64("case.id", in.CaseID))
	var res *Result
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		code, name, err := s.repo.LockCase(ctx, in.CaseID)
		if err != nil {
			return err
		}
		cur, err := s.repo.LockState(ctx, in.CaseID)
		if err != nil {
			return err
		}

		var pre float64
		w := Write{CaseID: in.CaseID, RW: rw, Adjrw: adjrw, UpdatedBy: actor(in.ActorID)}
		if cur != nil {
			pre = cur.Adjrw
			if !in.RW.Present {
				w.RW = cur.RW
			}
		}

		frozen := cur.Frozen()
		if !frozen {
			year := s.now().Year()
			snap, err := s.rates.Snapshot(ctx, code, name, year, adjrw)
			if err != nil {
				return err
			}
			w.RateYear = &year
			w.RateUsed = snap.RateUsed
			w.CalculatedAmount = snap.CalculatedAmount
			if snap.CoverageGroup != "" {
				g := snap.CoverageGroup
				w.CoverageGroup = &g
			}
			if snap.Rule != nil {
				id := snap.Rule.ID
				w.RateRuleID = &id
			}
		}

		stored, err := s.repo.Upsert(ctx, w)
		if err != nil {
			return err
		}
		if err := s.repo.AppendHistory(ctx, &HistoryEntry{
			CaseID:    in.CaseID,
			PreAdjrw:  pre,
			PostAdjrw: adjrw,
			UpdatedBy: w.UpdatedBy,
		}); err != nil {
			return err
		}

		res = &Result{
			CaseID:           in.CaseID,
			RW:               stored.RW,
			Adjrw:            stored.Adjrw,
			PreAdjrw:         pre,
			RateYear:         stored.RateYear,
			RateUsed:         stored.RateUsed,
			CalculatedAmount: stored.CalculatedAmount,
			CoverageGroup:    stored.CoverageGroup,
			Frozen:           frozen,
		}
		return nil
	})
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	s.metrics.LedgerWrite(res.Frozen)
	return res, nil
}

// GetLatestState returns the ledger view of a case without locking.
func (s *Service) GetLatestState(ctx context.Context, caseID int64) (*LatestState, error) {
	ok, err := s.repo.CaseExists(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("case %d not found", caseID)
	}
	st, err := s.repo.GetState(ctx, caseID)
	if err != nil {
		return nil, err
	}
	h, err := s.repo.LatestHistory(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return latestView(caseID, st, h), nil
}

func latestView(caseID int64, st *State, h *HistoryEntry) *LatestState {
	out := &LatestState{CaseID: caseID}
	if st != nil {
		out.RW = st.RW
		out.Adjrw = st.Adjrw
		out.RateYear = st.RateYear
		out.RateUsed = st.RateUsed
		out.CalculatedAmount = st.CalculatedAmount
		out.CoverageGroup = st.CoverageGroup
		t := st.UpdatedAt
		out.UpdatedAt = &t
	}
	out.PreAdjrw, out.PostAdjrw = out.Adjrw, out.Adjrw
	if h != nil {
		out.PreAdjrw, out.PostAdjrw = h.PreAdjrw, h.PostAdjrw
	}
	return out
}

// History lists ledger changes newest first.
func (s *Service) History(ctx context.Context, caseID int64, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	ok, err := s.repo.CaseExists(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("case %d not found", caseID)
	}
	return s.repo.ListHistory(ctx, caseID, limit)
}

func actor(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
