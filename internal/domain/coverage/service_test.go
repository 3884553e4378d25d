package coverage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/db"
	"github.com/noosi159/Hospital1-backend/internal/platform/normalize"
)

// -- Mock Repository --

type mockRepo struct {
	rules    map[int64]*Rule
	mappings map[string]*Mapping
	rights   map[int64][2]string
	nextID   int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		rules:    make(map[int64]*Rule),
		mappings: make(map[string]*Mapping),
		rights:   make(map[int64][2]string),
	}
}

func (m *mockRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *mockRepo) ListRules(_ context.Context, year *int, activeOnly bool) ([]*Rule, error) {
	var out []*Rule
	for _, r := range m.rules {
		if year != nil && r.RateYear != *year {
			continue
		}
		if activeOnly && !r.IsActive {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepo) ActiveRules(_ context.Context, group string, year int) ([]*Rule, error) {
	var out []*Rule
	for _, r := range m.rules {
		if r.CoverageGroup == group && r.RateYear == year && r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRepo) GetRule(_ context.Context, id int64) (*Rule, error) {
	r, ok := m.rules[id]
	if !ok {
		return nil, apperr.NotFound("coverage rule %d not found", id)
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) CreateRule(_ context.Context, r *Rule) error {
	r.ID = m.id()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	m.rules[r.ID] = r
	return nil
}

func (m *mockRepo) UpdateRule(_ context.Context, r *Rule) error {
	if _, ok := m.rules[r.ID]; !ok {
		return apperr.NotFound("coverage rule %d not found", r.ID)
	}
	m.rules[r.ID] = r
	return nil
}

func (m *mockRepo) DeleteRule(_ context.Context, id int64) error {
	if _, ok := m.rules[id]; !ok {
		return apperr.NotFound("coverage rule %d not found", id)
	}
	delete(m.rules, id)
	return nil
}

func (m *mockRepo) DeactivateRules(_ context.Context, group string, year int) (int64, error) {
	var n int64
	for _, r := range m.rules {
		if r.CoverageGroup == group && r.RateYear == year && r.IsActive {
			r.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) ListMappings(_ context.Context) ([]*Mapping, error) {
	var out []*Mapping
	for _, mp := range m.mappings {
		out = append(out, mp)
	}
	return out, nil
}

func (m *mockRepo) UpsertMapping(_ context.Context, mp *Mapping) error {
	if existing, ok := m.mappings[mp.RightPrefix]; ok {
		existing.CoverageGroup = mp.CoverageGroup
		mp.ID = existing.ID
		return nil
	}
	mp.ID = m.id()
	m.mappings[mp.RightPrefix] = mp
	return nil
}

func (m *mockRepo) DeleteMapping(_ context.Context, id int64) error {
	for k, mp := range m.mappings {
		if mp.ID == id {
			delete(m.mappings, k)
			return nil
		}
	}
	return apperr.NotFound("coverage mapping %d not found", id)
}

func (m *mockRepo) CaseRight(_ context.Context, caseID int64) (string, string, error) {
	r, ok := m.rights[caseID]
	if !ok {
		return "", "", apperr.NotFound("case %d not found", caseID)
	}
	return r[0], r[1], nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	svc := NewService(repo, db.PassThrough{})
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return svc, repo
}

func TestService_SnapshotSSS(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	repo.CreateRule(ctx, rule(0, nil, f(1.99), CalcActual, nil))
	repo.rules[1].CoverageGroup = "SSS"
	repo.CreateRule(ctx, rule(0, f(2), nil, CalcRate, f(12000)))
	repo.rules[2].CoverageGroup = "SSS"
	repo.UpsertMapping(ctx, &Mapping{RightPrefix: "S", CoverageGroup: "SSS"})

	snap, err := svc.Snapshot(ctx, "S01", "", 2026, 1.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.CoverageGroup != "SSS" || snap.Rule == nil || snap.Rule.ID != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.CalculatedAmount != nil {
		t.Errorf("ACTUAL rule must leave amount null, got %v", *snap.CalculatedAmount)
	}

	snap, err = svc.Snapshot(ctx, "S01", "", 2026, 2.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.CalculatedAmount == nil || *snap.CalculatedAmount != 24000 {
		t.Errorf("amount = %v, want 24000", snap.CalculatedAmount)
	}
}

func TestService_SnapshotNoGroup(t *testing.T) {
	svc, _ := newTestService()
	snap, err := svc.Snapshot(context.Background(), "ZZ", "เงินสด", 2026, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.CoverageGroup != "" || snap.Rule != nil || snap.RateUsed != nil {
		t.Errorf("expected empty snapshot, got %+v", snap)
	}
}

func TestService_QuoteByCase(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	repo.CreateRule(ctx, rule(0, nil, nil, CalcRate, f(7600)))
	repo.rights[9] = [2]string{"", "บัตรทอง"}

	snap, err := svc.Quote(ctx, QuoteInput{CaseID: normalize.NumberOf(9), Adjrw: normalize.NumberOf(1.5)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.RateYear != 2026 {
		t.Errorf("expected current year, got %d", snap.RateYear)
	}
	if snap.CalculatedAmount == nil || *snap.CalculatedAmount != 11400 {
		t.Errorf("amount = %v", snap.CalculatedAmount)
	}
}

func TestService_QuoteValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.Quote(ctx, QuoteInput{RightCode: normalize.TextOf("UC")}); !apperr.IsValidation(err) {
		t.Errorf("missing adjrw: expected validation error, got %v", err)
	}
	if _, err := svc.Quote(ctx, QuoteInput{Adjrw: normalize.NumberOf(1)}); !apperr.IsValidation(err) {
		t.Errorf("missing right: expected validation error, got %v", err)
	}
	if _, err := svc.Quote(ctx, QuoteInput{CaseID: normalize.NumberOf(404), Adjrw: normalize.NumberOf(1)}); !apperr.IsNotFound(err) {
		t.Errorf("unknown case: expected not found, got %v", err)
	}
}

func TestService_CreateRuleValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	base := func() RuleInput {
		return RuleInput{
			CoverageGroup: normalize.TextOf("uc"),
			RateYear:      normalize.NumberOf(2026),
			CalcType:      normalize.TextOf("rate"),
			RatePerAdjrw:  normalize.NumberOf(7600),
		}
	}

	r, err := svc.CreateRule(ctx, base())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.CoverageGroup != "UC" || r.CalcType != CalcRate || !r.IsActive {
		t.Errorf("unexpected rule %+v", r)
	}

	tests := []struct {
		name string
		mod  func(*RuleInput)
	}{
		{"bad calc type", func(in *RuleInput) { in.CalcType = normalize.TextOf("FIXED") }},
		{"rate missing", func(in *RuleInput) { in.RatePerAdjrw = normalize.Number{} }},
		{"actual with rate", func(in *RuleInput) { in.CalcType = normalize.TextOf("ACTUAL") }},
		{"min above max", func(in *RuleInput) {
			in.AdjrwMin = normalize.NumberOf(3)
			in.AdjrwMax = normalize.NumberOf(2)
		}},
		{"fractional year", func(in *RuleInput) { in.RateYear = normalize.NumberOf(2026.5) }},
		{"missing group", func(in *RuleInput) { in.CoverageGroup = normalize.Text{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base()
			tt.mod(&in)
			if _, err := svc.CreateRule(ctx, in); !apperr.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestService_UpdateRulePartial(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	repo.CreateRule(ctx, rule(0, f(1), f(2), CalcRate, f(100)))

	updated, err := svc.UpdateRule(ctx, 1, RuleInput{AdjrwMax: normalize.NumberOf(5)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *updated.AdjrwMax != 5 || *updated.AdjrwMin != 1 || *updated.RatePerAdjrw != 100 {
		t.Errorf("unexpected rule %+v", updated)
	}

	// Switching to ACTUAL while keeping the old rate breaks the rate rule.
	if _, err := svc.UpdateRule(ctx, 1, RuleInput{CalcType: normalize.TextOf("ACTUAL")}); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if repo.rules[1].CalcType != CalcRate {
		t.Error("failed update must not change the stored rule")
	}

	var nullRate RuleInput
	if err := jsonDecode(`{"calc_type":"ACTUAL","rate_per_adjrw":""}`, &nullRate); err != nil {
		t.Fatal(err)
	}
	r, err := svc.UpdateRule(ctx, 1, nullRate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.CalcType != CalcActual || r.RatePerAdjrw != nil {
		t.Errorf("unexpected rule %+v", r)
	}

	if _, err := svc.UpdateRule(ctx, 99, RuleInput{}); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_UpsertMapping(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	m, err := svc.UpsertMapping(ctx, " uc ", "uc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.RightPrefix != "UC" || m.CoverageGroup != "UC" {
		t.Errorf("unexpected mapping %+v", m)
	}
	if _, err := svc.UpsertMapping(ctx, "", "UC"); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	group, err := svc.ResolveGroup(ctx, "uc123", "")
	if err != nil || group != "UC" {
		t.Errorf("ResolveGroup = %q, %v", group, err)
	}
}

func TestSeed(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	repo.CreateRule(ctx, rule(0, nil, nil, CalcRate, f(5000)))

	doc := `
mappings:
  - prefix: uc
    group: UC
  - prefix: S
    group: SSS
rules:
  - group: UC
    year: 2026
    calc_type: RATE
    rate: 7600
  - group: sss
    year: 2026
    max: 1.99
    calc_type: ACTUAL
  - group: SSS
    year: 2026
    min: 2
    calc_type: rate
    rate: 12000
`
	file, err := ParseSeed(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res, err := svc.Seed(ctx, file)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if res.Mappings != 2 || res.Rules != 3 || res.Deactivated != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if repo.rules[1].IsActive {
		t.Error("previous UC rule should be deactivated")
	}
	matched, err := svc.FindMatchedRule(ctx, "uc", 2026, 1.5)
	if err != nil || matched == nil || *matched.RatePerAdjrw != 7600 {
		t.Errorf("FindMatchedRule = %+v, %v", matched, err)
	}
}

func TestParseSeed_Errors(t *testing.T) {
	if _, err := ParseSeed(strings.NewReader("rules:\n  - grp: UC\n")); err == nil {
		t.Error("expected error for unknown field")
	}
	svc, _ := newTestService()
	file := &SeedFile{Rules: []SeedRule{{Group: "UC", Year: 2026, CalcType: "RATE"}}}
	if _, err := svc.Seed(context.Background(), file); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func jsonDecode(s string, v interface{}) error {
	return json.Unmarshal([]byte(s), v)
}
