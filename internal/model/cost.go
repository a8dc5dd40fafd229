// Package model defines the core data types for the lead enrichment platform.
package model

import "time"

// CostRecord is one entry in the cost ledger: a single billable (or
// attempted) external API call. Records are append-only and never mutated.
type CostRecord struct {
	ID         string            `json:"id"`
	Provider   string            `json:"provider"`
	Operation  string            `json:"operation"`
	CostUSD    float64           `json:"cost_usd"`
	LeadID     string            `json:"lead_id,omitempty"`
	CampaignID string            `json:"campaign_id,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// DailyCostAggregate is one rollup row per (day, provider, operation,
// campaign). Aggregates are retained after raw records are purged.
type DailyCostAggregate struct {
	Date         time.Time `json:"date"`
	Provider     string    `json:"provider"`
	Operation    string    `json:"operation,omitempty"`
	CampaignID   string    `json:"campaign_id,omitempty"`
	TotalCostUSD float64   `json:"total_cost_usd"`
	RequestCount int64     `json:"request_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// OperationCosts breaks down spend for a single operation.
type OperationCosts struct {
	Operation    string  `json:"operation"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	RequestCount int64   `json:"request_count"`
}

// ProviderCosts summarizes spend for one provider over a trailing window.
type ProviderCosts struct {
	Provider     string           `json:"provider"`
	Days         int              `json:"days"`
	TotalCostUSD float64          `json:"total_cost_usd"`
	RequestCount int64            `json:"request_count"`
	ByOperation  []OperationCosts `json:"by_operation"`
}

// ProviderOperationCosts breaks down campaign spend by provider+operation.
type ProviderOperationCosts struct {
	Provider     string  `json:"provider"`
	Operation    string  `json:"operation"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	RequestCount int64   `json:"request_count"`
}

// CampaignCosts summarizes spend attributed to one campaign.
type CampaignCosts struct {
	CampaignID   string                   `json:"campaign_id"`
	TotalCostUSD float64                  `json:"total_cost_usd"`
	RequestCount int64                    `json:"request_count"`
	Breakdown    []ProviderOperationCosts `json:"breakdown"`
}
