package model

import "time"

// Priority orders buckets for processing. High-priority buckets are
// always drained before lower tiers.
type Priority string

const (
	PriorityHigh    Priority = "high"
	PriorityMedium  Priority = "medium"
	PriorityLow     Priority = "low"
	PriorityMinimal Priority = "minimal"
)

// priorityRank maps priority to dequeue order (lower = first).
var priorityRank = map[Priority]int{
	PriorityHigh:    0,
	PriorityMedium:  1,
	PriorityLow:     2,
	PriorityMinimal: 3,
}

// Rank returns the dequeue order of the priority. Unknown priorities sort
// after minimal.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// BucketStrategy is the enrichment policy applied to one business segment.
type BucketStrategy struct {
	Key          string        `json:"key" yaml:"key"`
	Priority     Priority      `json:"priority" yaml:"priority"`
	MaxBudgetUSD float64       `json:"max_budget_usd" yaml:"max_budget_usd"`
	BatchSize    int           `json:"batch_size" yaml:"batch_size"`
	Sources      []string      `json:"sources" yaml:"sources"`
	SkipWindow   time.Duration `json:"skip_window" yaml:"skip_window"`
}

// BucketError records one failed business enrichment within a bucket.
type BucketError struct {
	BusinessID string `json:"business_id"`
	Source     string `json:"source,omitempty"`
	Message    string `json:"message"`
}

// BucketStats aggregates the outcome of processing one bucket.
type BucketStats struct {
	Key         string        `json:"key"`
	Priority    Priority      `json:"priority"`
	Processed   int           `json:"processed"`
	Enriched    int           `json:"enriched"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	CostUSD     float64       `json:"cost_usd"`
	SuccessRate float64       `json:"success_rate"`
	Errors      []BucketError `json:"errors,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Finalize computes the success rate from the counters.
func (s *BucketStats) Finalize(start time.Time, now time.Time) {
	s.Elapsed = now.Sub(start)
	if s.Processed > 0 {
		s.SuccessRate = float64(s.Enriched) / float64(s.Processed)
	}
}

// StopReason explains why an enrichment run ended.
type StopReason string

const (
	StopExhausted StopReason = "exhausted"  // all buckets drained
	StopBudget    StopReason = "budget"     // run budget depleted
	StopBucketCap StopReason = "bucket_cap" // max-buckets cap reached
)

// FlowSummary is the run-level rollup of a bucket enrichment flow.
type FlowSummary struct {
	BucketsProcessed   int           `json:"buckets_processed"`
	TotalProcessed     int           `json:"total_processed"`
	TotalEnriched      int           `json:"total_enriched"`
	TotalFailed        int           `json:"total_failed"`
	TotalCostUSD       float64       `json:"total_cost_usd"`
	BudgetUSD          float64       `json:"budget_usd"`
	AverageSuccessRate float64       `json:"average_success_rate"`
	StopReason         StopReason    `json:"stop_reason"`
	Buckets            []BucketStats `json:"buckets"`
	Elapsed            time.Duration `json:"elapsed"`
}
