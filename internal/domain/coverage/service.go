package coverage

import (
	"context"
	"strings"
	"time"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/db"
)

type Service struct {
	repo Repository
	tx   db.Transactor
	now  func() time.Time
}

func NewService(repo Repository, tx db.Transactor) *Service {
	return &Service{repo: repo, tx: tx, now: time.Now}
}

// ResolveGroup loads the prefix mappings and resolves rightCode/rightName.
func (s *Service) ResolveGroup(ctx context.Context, rightCode, rightName string) (string, error) {
	mappings, err := s.repo.ListMappings(ctx)
	if err != nil {
		return "", err
	}
	return Resolve(mappings, rightCode, rightName), nil
}

// FindMatchedRule returns the best active rule for group/year covering adjrw,
// or nil when none applies.
func (s *Service) FindMatchedRule(ctx context.Context, group string, year int, adjrw float64) (*Rule, error) {
	group = strings.ToUpper(strings.TrimSpace(group))
	if group == "" {
		return nil, nil
	}
	rules, err := s.repo.ActiveRules(ctx, group, year)
	if err != nil {
		return nil, err
	}
	return MatchRule(rules, adjrw), nil
}

// Snapshot resolves the coverage group of a right and prices adjrw against
// the rate table for year.
func (s *Service) Snapshot(ctx context.Context, rightCode, rightName string, year int, adjrw float64) (RateSnapshot, error) {
	snap := RateSnapshot{RateYear: year}
	adjrw, err := CheckAdjrw("adjrw", adjrw)
	if err != nil {
		return snap, err
	}
	group, err := s.ResolveGroup(ctx, rightCode, rightName)
	if err != nil {
		return snap, err
	}
	snap.CoverageGroup = group
	rule, err := s.FindMatchedRule(ctx, group, year, adjrw)
	if err != nil {
		return snap, err
	}
	snap.Rule = rule
	snap.RateUsed, snap.CalculatedAmount, err = Amount(rule, adjrw)
	return snap, err
}

// Quote prices an AdjRW value without persisting anything. The year defaults
// to the current calendar year.
func (s *Service) Quote(ctx context.Context, in QuoteInput) (RateSnapshot, error) {
	adjrw, err := in.Adjrw.Required("adjrw")
	if err != nil {
		return RateSnapshot{}, err
	}
	year := s.now().Year()
	if y, err := in.RateYear.Float("rate_year"); err != nil {
		return RateSnapshot{}, err
	} else if y != nil {
		year = int(*y)
	}

	code, name := in.RightCode.String(), in.RightName.String()
	caseID, err := in.CaseID.Float("case_id")
	if err != nil {
		return RateSnapshot{}, err
	}
	if caseID != nil {
		code, name, err = s.repo.CaseRight(ctx, int64(*caseID))
		if err != nil {
			return RateSnapshot{}, err
		}
	} else if code == "" && name == "" {
		return RateSnapshot{}, apperr.Validation("case_id or right_code/right_name is required")
	}
	return s.Snapshot(ctx, code, name, year, adjrw)
}

// -- Rule administration --

func (s *Service) ListRules(ctx context.Context, year *int) ([]*Rule, error) {
	return s.repo.ListRules(ctx, year, true)
}

func (s *Service) GetRule(ctx context.Context, id int64) (*Rule, error) {
	return s.repo.GetRule(ctx, id)
}

func (s *Service) CreateRule(ctx context.Context, in RuleInput) (*Rule, error) {
	rule := &Rule{IsActive: true}
	if err := in.ApplyTo(rule); err != nil {
		return nil, err
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// UpdateRule applies the present fields of in and validates the merged rule.
func (s *Service) UpdateRule(ctx context.Context, id int64, in RuleInput) (*Rule, error) {
	var rule *Rule
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		rule, err = s.repo.GetRule(ctx, id)
		if err != nil {
			return err
		}
		if err := in.ApplyTo(rule); err != nil {
			return err
		}
		if err := rule.Validate(); err != nil {
			return err
		}
		return s.repo.UpdateRule(ctx, rule)
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *Service) DeleteRule(ctx context.Context, id int64) error {
	return s.repo.DeleteRule(ctx, id)
}

// -- Mapping administration --

func (s *Service) ListMappings(ctx context.Context) ([]*Mapping, error) {
	return s.repo.ListMappings(ctx)
}

func (s *Service) UpsertMapping(ctx context.Context, prefix, group string) (*Mapping, error) {
	m := &Mapping{
		RightPrefix:   strings.ToUpper(strings.TrimSpace(prefix)),
		CoverageGroup: strings.ToUpper(strings.TrimSpace(group)),
	}
	if m.RightPrefix == "" {
		return nil, apperr.Validation("right_prefix is required")
	}
	if m.CoverageGroup == "" {
		return nil, apperr.Validation("coverage_group is required")
	}
	if err := s.repo.UpsertMapping(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) DeleteMapping(ctx context.Context, id int64) error {
	return s.repo.DeleteMapping(ctx, id)
}
