// Package ledger persists per-call provider costs and daily rollups. It is
// the source of truth the guardrails consult for current spend.
package ledger

import (
	"context"
	"time"

	"github.com/leadfactory/leadfactory/internal/model"
)

// Filter narrows a spend query. Zero-value fields match everything.
type Filter struct {
	Provider   string
	Operation  string
	CampaignID string
	Since      time.Time
}

// Ledger records costs and answers spend queries. Implementations are safe
// for concurrent use.
type Ledger interface {
	// Record appends one cost record. The write path is append-only.
	Record(ctx context.Context, rec model.CostRecord) error

	// ProviderCosts summarizes spend for one provider over the trailing
	// window of whole days, broken down by operation.
	ProviderCosts(ctx context.Context, provider string, days int) (*model.ProviderCosts, error)

	// CampaignCosts summarizes all spend attributed to one campaign.
	CampaignCosts(ctx context.Context, campaignID string) (*model.CampaignCosts, error)

	// SumCosts returns total spend matching the filter.
	SumCosts(ctx context.Context, f Filter) (float64, error)

	// AggregateDaily recomputes the rollup rows for the given calendar day
	// (UTC) from raw records. Safe to run repeatedly for the same day.
	AggregateDaily(ctx context.Context, day time.Time) (int64, error)

	// Cleanup deletes raw records older than daysToKeep. Aggregates are
	// never deleted.
	Cleanup(ctx context.Context, daysToKeep int) (int64, error)

	Migrate(ctx context.Context) error
	Close() error
}
