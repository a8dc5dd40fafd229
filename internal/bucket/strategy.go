// Package bucket drives enrichment runs: businesses are grouped into
// (geo, vertical) buckets, each bucket gets a strategy, and buckets are
// processed in strict priority order under budget caps.
package bucket

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/leadfactory/leadfactory/internal/model"
)

// FallbackKey is the strategy applied to verticals without one of their own.
const FallbackKey = "default"

// DefaultStrategies returns the built-in per-vertical policies.
func DefaultStrategies() []model.BucketStrategy {
	return []model.BucketStrategy{
		{
			Key:          "healthcare",
			Priority:     model.PriorityHigh,
			MaxBudgetUSD: 1000,
			BatchSize:    50,
			Sources:      []string{"dataaxle", "hunter"},
			SkipWindow:   720 * time.Hour,
		},
		{
			Key:          "saas",
			Priority:     model.PriorityMedium,
			MaxBudgetUSD: 500,
			BatchSize:    100,
			Sources:      []string{"dataaxle", "hunter"},
			SkipWindow:   336 * time.Hour,
		},
		{
			Key:          "restaurants",
			Priority:     model.PriorityLow,
			MaxBudgetUSD: 100,
			BatchSize:    200,
			Sources:      []string{"dataaxle"},
			SkipWindow:   168 * time.Hour,
		},
		{
			Key:          FallbackKey,
			Priority:     model.PriorityMinimal,
			MaxBudgetUSD: 50,
			BatchSize:    150,
			Sources:      []string{"dataaxle"},
			SkipWindow:   168 * time.Hour,
		},
	}
}

// StrategyBook maps vertical buckets to strategies with a fallback for
// unknown verticals.
type StrategyBook struct {
	byKey    map[string]model.BucketStrategy
	fallback model.BucketStrategy
}

// NewStrategyBook indexes the given strategies. The strategy keyed
// "default" becomes the fallback; without one, a minimal fallback is
// synthesized.
func NewStrategyBook(strategies []model.BucketStrategy) *StrategyBook {
	book := &StrategyBook{byKey: make(map[string]model.BucketStrategy, len(strategies))}
	for _, s := range strategies {
		book.byKey[s.Key] = s
		if s.Key == FallbackKey {
			book.fallback = s
		}
	}
	if book.fallback.Key == "" {
		book.fallback = model.BucketStrategy{
			Key:          FallbackKey,
			Priority:     model.PriorityMinimal,
			MaxBudgetUSD: 50,
			BatchSize:    150,
			SkipWindow:   168 * time.Hour,
		}
	}
	return book
}

// For returns the strategy for the given vertical bucket.
func (b *StrategyBook) For(vert string) model.BucketStrategy {
	if s, ok := b.byKey[vert]; ok {
		return s
	}
	return b.fallback
}

// strategyFile is the YAML schema of a strategy override file. SkipWindow
// is a Go duration string ("720h").
type strategyFile struct {
	Strategies []struct {
		Key          string   `yaml:"key"`
		Priority     string   `yaml:"priority"`
		MaxBudgetUSD float64  `yaml:"max_budget_usd"`
		BatchSize    int      `yaml:"batch_size"`
		Sources      []string `yaml:"sources"`
		SkipWindow   string   `yaml:"skip_window"`
	} `yaml:"strategies"`
}

// LoadStrategyBook reads a YAML strategy file and merges it over the
// built-in defaults: file entries replace defaults with the same key.
func LoadStrategyBook(path string) (*StrategyBook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "bucket: read strategy file %s", path)
	}

	var file strategyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "bucket: parse strategy file %s", path)
	}

	merged := make(map[string]model.BucketStrategy)
	for _, s := range DefaultStrategies() {
		merged[s.Key] = s
	}
	for _, raw := range file.Strategies {
		if raw.Key == "" {
			return nil, eris.Errorf("bucket: strategy without key in %s", path)
		}
		s := model.BucketStrategy{
			Key:          raw.Key,
			Priority:     model.Priority(raw.Priority),
			MaxBudgetUSD: raw.MaxBudgetUSD,
			BatchSize:    raw.BatchSize,
			Sources:      raw.Sources,
		}
		if raw.SkipWindow != "" {
			d, err := time.ParseDuration(raw.SkipWindow)
			if err != nil {
				return nil, eris.Wrapf(err, "bucket: strategy %s skip_window", raw.Key)
			}
			s.SkipWindow = d
		}
		merged[raw.Key] = s
	}

	all := make([]model.BucketStrategy, 0, len(merged))
	for _, s := range merged {
		all = append(all, s)
	}
	return NewStrategyBook(all), nil
}
