package adjrw

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/noosi159/Hospital1-backend/internal/domain/coverage"
	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/db"
	"github.com/noosi159/Hospital1-backend/internal/platform/normalize"
)

// -- Mock Repository --

type mockRepo struct {
	cases   map[int64][2]string
	states  map[int64]*State
	history []*HistoryEntry
	locked  []string
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		cases:  map[int64][2]string{1: {"UC01", ""}},
		states: make(map[int64]*State),
	}
}

func (m *mockRepo) LockCase(_ context.Context, caseID int64) (string, string, error) {
	c, ok := m.cases[caseID]
	if !ok {
		return "", "", apperr.NotFound("case %d not found", caseID)
	}
	m.locked = append(m.locked, "case")
	return c[0], c[1], nil
}

func (m *mockRepo) LockState(_ context.Context, caseID int64) (*State, error) {
	m.locked = append(m.locked, "ledger")
	s, ok := m.states[caseID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockRepo) Upsert(_ context.Context, w Write) (*State, error) {
	s, ok := m.states[w.CaseID]
	if !ok {
		s = &State{CaseID: w.CaseID}
		m.states[w.CaseID] = s
	}
	s.RW, s.Adjrw, s.UpdatedBy, s.UpdatedAt = w.RW, w.Adjrw, w.UpdatedBy, time.Now()
	if s.RateYear == nil {
		s.RateYear, s.RateUsed, s.CalculatedAmount = w.RateYear, w.RateUsed, w.CalculatedAmount
		s.CoverageGroup, s.RateRuleID = w.CoverageGroup, w.RateRuleID
	}
	cp := *s
	return &cp, nil
}

func (m *mockRepo) AppendHistory(_ context.Context, h *HistoryEntry) error {
	h.ID = int64(len(m.history) + 1)
	h.CreatedAt = time.Now()
	m.history = append(m.history, h)
	return nil
}

func (m *mockRepo) CaseExists(_ context.Context, caseID int64) (bool, error) {
	_, ok := m.cases[caseID]
	return ok, nil
}

func (m *mockRepo) GetState(_ context.Context, caseID int64) (*State, error) {
	s, ok := m.states[caseID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockRepo) LatestHistory(_ context.Context, caseID int64) (*HistoryEntry, error) {
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].CaseID == caseID {
			return m.history[i], nil
		}
	}
	return nil, nil
}

func (m *mockRepo) ListHistory(_ context.Context, caseID int64, limit int) ([]*HistoryEntry, error) {
	var out []*HistoryEntry
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		if m.history[i].CaseID == caseID {
			out = append(out, m.history[i])
		}
	}
	return out, nil
}

// rateTable prices against an in-memory rule list that tests can edit.
type rateTable struct {
	rules []*coverage.Rule
	calls int
	err   error
}

func (rt *rateTable) Snapshot(_ context.Context, code, name string, year int, a float64) (coverage.RateSnapshot, error) {
	rt.calls++
	if rt.err != nil {
		return coverage.RateSnapshot{}, rt.err
	}
	snap := coverage.RateSnapshot{RateYear: year, CoverageGroup: coverage.Resolve(
		[]*coverage.Mapping{{RightPrefix: "UC", CoverageGroup: "UC"}}, code, name)}
	var candidates []*coverage.Rule
	for _, r := range rt.rules {
		if r.CoverageGroup == snap.CoverageGroup && r.RateYear == year {
			candidates = append(candidates, r)
		}
	}
	snap.Rule = coverage.MatchRule(candidates, a)
	var err error
	snap.RateUsed, snap.CalculatedAmount, err = coverage.Amount(snap.Rule, a)
	return snap, err
}

func f(v float64) *float64 { return &v }

func newTestService() (*Service, *mockRepo, *rateTable) {
	repo := newMockRepo()
	rates := &rateTable{rules: []*coverage.Rule{{
		ID: 1, CoverageGroup: "UC", RateYear: 2026, CalcType: coverage.CalcRate,
		RatePerAdjrw: f(7600), IsActive: true,
	}}}
	svc := NewService(repo, rates, db.PassThrough{}, nil)
	svc.now = func() time.Time { return time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC) }
	return svc, repo, rates
}

func TestApplyAdjrw_FirstWriteFreezesSnapshot(t *testing.T) {
	svc, repo, _ := newTestService()
	res, err := svc.ApplyAdjrw(context.Background(), ApplyInput{
		CaseID: 1, RW: normalize.NumberOf(1.2), Adjrw: normalize.NumberOf(1.5), ActorID: 7,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Frozen {
		t.Error("first write must not report frozen")
	}
	if res.RateYear == nil || *res.RateYear != 2026 {
		t.Errorf("rate_year = %v", res.RateYear)
	}
	if res.CalculatedAmount == nil || *res.CalculatedAmount != 11400 {
		t.Errorf("calculated_amount = %v, want 11400", res.CalculatedAmount)
	}
	if res.CoverageGroup == nil || *res.CoverageGroup != "UC" {
		t.Errorf("coverage_group = %v", res.CoverageGroup)
	}
	if len(repo.locked) != 2 || repo.locked[0] != "case" || repo.locked[1] != "ledger" {
		t.Errorf("expected case then ledger lock, got %v", repo.locked)
	}
	if len(repo.history) != 1 || repo.history[0].PreAdjrw != 0 || repo.history[0].PostAdjrw != 1.5 {
		t.Errorf("unexpected history %+v", repo.history)
	}
	if *repo.history[0].UpdatedBy != 7 {
		t.Errorf("updated_by = %v", repo.history[0].UpdatedBy)
	}
}

func TestApplyAdjrw_FreezeSurvivesRateTableEdits(t *testing.T) {
	svc, repo, rates := newTestService()
	ctx := context.Background()
	if _, err := svc.ApplyAdjrw(ctx, ApplyInput{CaseID: 1, Adjrw: normalize.NumberOf(1.5)}); err != nil {
		t.Fatal(err)
	}

	rates.rules[0].RatePerAdjrw = f(9999)
	calls := rates.calls

	res, err := svc.ApplyAdjrw(ctx, ApplyInput{CaseID: 1, Adjrw: normalize.NumberOf(2)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Frozen {
		t.Error("second write must report frozen")
	}
	if rates.calls != calls {
		t.Error("frozen write must not consult the rate table")
	}
	if *res.RateUsed != 7600 || *res.CalculatedAmount != 11400 {
		t.Errorf("snapshot changed: rate %v amount %v", *res.RateUsed, *res.CalculatedAmount)
	}
	if res.Adjrw != 2 || res.PreAdjrw != 1.5 {
		t.Errorf("adjrw = %v pre = %v", res.Adjrw, res.PreAdjrw)
	}

	rates.rules = nil
	res, err = svc.ApplyAdjrw(ctx, ApplyInput{CaseID: 1, Adjrw: normalize.NumberOf(3)})
	if err != nil {
		t.Fatal(err)
	}
	if res.CalculatedAmount == nil || *res.CalculatedAmount != 11400 || *repo.states[1].RateYear != 2026 {
		t.Error("deleting the rule must not change the frozen snapshot")
	}
}

func TestApplyAdjrw_SameValueTwice(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	first, err := svc.ApplyAdjrw(ctx, ApplyInput{CaseID: 1, Adjrw: normalize.NumberOf(1.5)})
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.ApplyAdjrw(ctx, ApplyInput{CaseID: 1, Adjrw: normalize.NumberOf(1.5)})
	if err != nil {
		t.Fatal(err)
	}
	if len(repo.history) != 2 {
		t.Fatalf("expected two history rows, got %d", len(repo.history))
	}
	if h := repo.history[1]; h.PreAdjrw != 1.5 || h.PostAdjrw != 1.5 {
		t.Errorf("second history row = %+v", h)
	}
	if *first.RateYear != *second.RateYear || *first.RateUsed != *second.RateUsed ||
		*first.CalculatedAmount != *second.CalculatedAmount {
		t.Error("frozen fields differ between the two writes")
	}
}

func TestApplyAdjrw_RWRetainedWhenOmitted(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.ApplyAdjrw(ctx, ApplyInput{CaseID: 1, RW: normalize.NumberOf(1.1), Adjrw: normalize.NumberOf(1)}); err != nil {
		t.Fatal(err)
	}
	res, err := svc.ApplyAdjrw(ctx, ApplyInput{CaseID: 1, Adjrw: normalize.NumberOf(2)})
	if err != nil {
		t.Fatal(err)
	}
	if res.RW == nil || *res.RW != 1.1 {
		t.Errorf("rw = %v, want 1.1", res.RW)
	}

	res, err = svc.ApplyAdjrw(ctx, ApplyInput{CaseID: 1, RW: normalize.Number{Present: true, Null: true}, Adjrw: normalize.NumberOf(2)})
	if err != nil {
		t.Fatal(err)
	}
	if res.RW != nil {
		t.Errorf("explicit null should clear rw, got %v", *res.RW)
	}
}

func TestApplyAdjrw_Validation(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	var bad struct {
		Adjrw normalize.Number `json:"adjrw"`
	}
	if err := bad.Adjrw.UnmarshalJSON([]byte(`"abc"`)); err != nil {
		t.Fatal(err)
	}
	for name, in := range map[string]ApplyInput{
		"missing adjrw": {CaseID: 1},
		"garbage adjrw": {CaseID: 1, Adjrw: bad.Adjrw},
		"missing case":  {Adjrw: normalize.NumberOf(1)},
	} {
		if _, err := svc.ApplyAdjrw(ctx, in); !apperr.IsValidation(err) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
	if len(repo.history) != 0 || len(repo.states) != 0 {
		t.Error("rejected input must not write")
	}

	if _, err := svc.ApplyAdjrw(ctx, ApplyInput{CaseID: 404, Adjrw: normalize.NumberOf(1)}); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestApplyAdjrw_RejectsValuesBeyondColumnRange(t *testing.T) {
	svc, repo, rates := newTestService()
	ctx := context.Background()
	for name, in := range map[string]ApplyInput{
		"adjrw overflow":    {CaseID: 1, Adjrw: normalize.NumberOf(1e7)},
		"adjrw rounds over": {CaseID: 1, Adjrw: normalize.NumberOf(999999.99995)},
		"rw overflow":       {CaseID: 1, RW: normalize.NumberOf(-2e6), Adjrw: normalize.NumberOf(1)},
	} {
		if _, err := svc.ApplyAdjrw(ctx, in); !apperr.IsValidation(err) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
	if len(repo.history) != 0 || len(repo.states) != 0 {
		t.Error("rejected input must not write")
	}

	rates.rules[0].RatePerAdjrw = f(9e9)
	if _, err := svc.ApplyAdjrw(ctx, ApplyInput{CaseID: 1, Adjrw: normalize.NumberOf(999)}); !apperr.IsValidation(err) {
		t.Errorf("amount overflow: expected validation error, got %v", err)
	}
	if len(repo.states) != 0 {
		t.Error("amount overflow must not write")
	}
}

func TestApplyAdjrw_RoundsBeforePricing(t *testing.T) {
	svc, repo, rates := newTestService()
	rates.rules[0].RatePerAdjrw = f(10000)
	res, err := svc.ApplyAdjrw(context.Background(), ApplyInput{
		CaseID: 1, RW: normalize.NumberOf(1.23456), Adjrw: normalize.NumberOf(1.23456),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Adjrw != 1.2346 || *res.RW != 1.2346 {
		t.Errorf("adjrw = %v rw = %v, want 1.2346", res.Adjrw, *res.RW)
	}
	if *res.CalculatedAmount != 12346 {
		t.Errorf("calculated_amount = %v, want stored adjrw * rate = 12346", *res.CalculatedAmount)
	}
	if repo.history[0].PostAdjrw != 1.2346 {
		t.Errorf("history post_adjrw = %v", repo.history[0].PostAdjrw)
	}
}

func TestApplyAdjrw_ResolverFailure(t *testing.T) {
	svc, repo, rates := newTestService()
	rates.err = errors.New("connection reset")
	_, err := svc.ApplyAdjrw(context.Background(), ApplyInput{CaseID: 1, Adjrw: normalize.NumberOf(1)})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(repo.states) != 0 || len(repo.history) != 0 {
		t.Error("failed write must not persist anything")
	}
}

func TestApplyAdjrw_NoCoverageLeavesAmountNull(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.cases[2] = [2]string{"ZZ", "เงินสด"}
	res, err := svc.ApplyAdjrw(context.Background(), ApplyInput{CaseID: 2, Adjrw: normalize.NumberOf(1)})
	if err != nil {
		t.Fatal(err)
	}
	if res.RateYear == nil || res.RateUsed != nil || res.CalculatedAmount != nil || res.CoverageGroup != nil {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestGetLatestState(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	st, err := svc.GetLatestState(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if st.Adjrw != 0 || st.RW != nil || st.RateYear != nil || st.PreAdjrw != 0 {
		t.Errorf("unexpected defaults %+v", st)
	}

	svc.ApplyAdjrw(ctx, ApplyInput{CaseID: 1, RW: normalize.NumberOf(0.9), Adjrw: normalize.NumberOf(1.5)})
	svc.ApplyAdjrw(ctx, ApplyInput{CaseID: 1, Adjrw: normalize.NumberOf(1.8)})

	st, err = svc.GetLatestState(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if st.Adjrw != 1.8 || st.PreAdjrw != 1.5 || st.PostAdjrw != 1.8 || *st.RW != 0.9 {
		t.Errorf("unexpected state %+v", st)
	}

	if _, err := svc.GetLatestState(ctx, 404); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestHistory_NewestFirstAndLimit(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	for _, v := range []float64{1, 2, 3} {
		svc.ApplyAdjrw(ctx, ApplyInput{CaseID: 1, Adjrw: normalize.NumberOf(v)})
	}
	entries, err := svc.History(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].PostAdjrw != 3 || entries[1].PostAdjrw != 2 {
		t.Errorf("unexpected history %+v", entries)
	}
}
