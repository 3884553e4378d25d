package coverage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML document loaded by the coverage seed command.
//
//	mappings:
//	  - prefix: UC
//	    group: UC
//	rules:
//	  - group: SSS
//	    year: 2026
//	    max: 1.99
//	    calc_type: ACTUAL
type SeedFile struct {
	Mappings []SeedMapping `yaml:"mappings"`
	Rules    []SeedRule    `yaml:"rules"`
}

type SeedMapping struct {
	Prefix string `yaml:"prefix"`
	Group  string `yaml:"group"`
}

type SeedRule struct {
	Group    string   `yaml:"group"`
	Name     string   `yaml:"name"`
	Year     int      `yaml:"year"`
	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
	CalcType string   `yaml:"calc_type"`
	Rate     *float64 `yaml:"rate"`
}

func (sr SeedRule) rule() *Rule {
	r := &Rule{
		CoverageGroup: strings.ToUpper(strings.TrimSpace(sr.Group)),
		RateYear:      sr.Year,
		AdjrwMin:      sr.Min,
		AdjrwMax:      sr.Max,
		CalcType:      strings.ToUpper(strings.TrimSpace(sr.CalcType)),
		RatePerAdjrw:  sr.Rate,
		IsActive:      true,
	}
	if n := strings.TrimSpace(sr.Name); n != "" {
		r.CoverageName = &n
	}
	return r
}

// ParseSeed decodes a seed document, rejecting unknown keys.
func ParseSeed(r io.Reader) (*SeedFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f SeedFile
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return &f, nil
}

type SeedResult struct {
	Mappings    int   `json:"mappings"`
	Rules       int   `json:"rules"`
	Deactivated int64 `json:"deactivated"`
}

// Seed loads f in one transaction. Active rules of every group/year pair that
// appears in the file are deactivated before the file's rules are inserted,
// so a seed can be re-run for a year without duplicating bands.
func (s *Service) Seed(ctx context.Context, f *SeedFile) (SeedResult, error) {
	var res SeedResult
	rules := make([]*Rule, 0, len(f.Rules))
	for i, sr := range f.Rules {
		r := sr.rule()
		if err := r.Validate(); err != nil {
			return res, fmt.Errorf("rule %d: %w", i+1, err)
		}
		rules = append(rules, r)
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, m := range f.Mappings {
			if _, err := s.UpsertMapping(ctx, m.Prefix, m.Group); err != nil {
				return err
			}
			res.Mappings++
		}
		type groupYear struct {
			group string
			year  int
		}
		seen := make(map[groupYear]bool)
		for _, r := range rules {
			k := groupYear{r.CoverageGroup, r.RateYear}
			if seen[k] {
				continue
			}
			seen[k] = true
			n, err := s.repo.DeactivateRules(ctx, r.CoverageGroup, r.RateYear)
			if err != nil {
				return err
			}
			res.Deactivated += n
		}
		for _, r := range rules {
			if err := s.repo.CreateRule(ctx, r); err != nil {
				return err
			}
			res.Rules++
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}
	return res, nil
}
