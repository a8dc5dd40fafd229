package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// LimitScope determines which calls a cost limit applies to.
type LimitScope string

const (
	ScopeGlobal            LimitScope = "global"
	ScopeProvider          LimitScope = "provider"
	ScopeCampaign          LimitScope = "campaign"
	ScopeOperation         LimitScope = "operation"
	ScopeProviderOperation LimitScope = "provider_operation"
)

// LimitPeriod is the accounting window for a cost limit.
type LimitPeriod string

const (
	PeriodHourly  LimitPeriod = "hourly"
	PeriodDaily   LimitPeriod = "daily"
	PeriodWeekly  LimitPeriod = "weekly"
	PeriodMonthly LimitPeriod = "monthly"
	PeriodTotal   LimitPeriod = "total"
)

// ValidPeriod reports whether p is a known limit period.
func ValidPeriod(p LimitPeriod) bool {
	switch p {
	case PeriodHourly, PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodTotal:
		return true
	}
	return false
}

// Start returns the beginning of the period window containing now.
// Windows are calendar-aligned in UTC so "wait for period rollover" is
// well-defined. PeriodTotal returns the zero time (all history).
func (p LimitPeriod) Start(now time.Time) time.Time {
	now = now.UTC()
	switch p {
	case PeriodHourly:
		return now.Truncate(time.Hour)
	case PeriodDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeekly:
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		// Back up to Monday.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}
	}
}

// LimitAction is an enforcement action a guardrail can take.
type LimitAction string

const (
	ActionLog          LimitAction = "log"
	ActionAlert        LimitAction = "alert"
	ActionThrottle     LimitAction = "throttle"
	ActionBlock        LimitAction = "block"
	ActionCircuitBreak LimitAction = "circuit_break"
)

// actionSeverity orders actions from least to most restrictive.
var actionSeverity = map[LimitAction]int{
	ActionLog:          1,
	ActionAlert:        2,
	ActionThrottle:     3,
	ActionCircuitBreak: 4,
	ActionBlock:        5,
}

// Severity returns the restrictiveness rank of the action (higher = more
// restrictive). Unknown actions rank 0.
func (a LimitAction) Severity() int {
	return actionSeverity[a]
}

// MostSevere returns the most restrictive action in the list, or ActionLog
// when the list is empty.
func MostSevere(actions []LimitAction) LimitAction {
	best := ActionLog
	for _, a := range actions {
		if a.Severity() > best.Severity() {
			best = a
		}
	}
	return best
}

// BreakerConfig is the per-limit circuit breaker sub-configuration.
type BreakerConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout" yaml:"recovery_timeout" mapstructure:"recovery_timeout"`
}

// CostLimit is a named spending rule evaluated on every gated call.
type CostLimit struct {
	Name              string        `json:"name" yaml:"name" mapstructure:"name"`
	Scope             LimitScope    `json:"scope" yaml:"scope" mapstructure:"scope"`
	Period            LimitPeriod   `json:"period" yaml:"period" mapstructure:"period"`
	LimitUSD          float64       `json:"limit_usd" yaml:"limit_usd" mapstructure:"limit_usd"`
	Provider          string        `json:"provider,omitempty" yaml:"provider" mapstructure:"provider"`
	Operation         string        `json:"operation,omitempty" yaml:"operation" mapstructure:"operation"`
	CampaignID        string        `json:"campaign_id,omitempty" yaml:"campaign_id" mapstructure:"campaign_id"`
	WarningThreshold  float64       `json:"warning_threshold" yaml:"warning_threshold" mapstructure:"warning_threshold"`
	CriticalThreshold float64       `json:"critical_threshold" yaml:"critical_threshold" mapstructure:"critical_threshold"`
	Actions           []LimitAction `json:"actions" yaml:"actions" mapstructure:"actions"`
	Breaker           BreakerConfig `json:"breaker" yaml:"breaker" mapstructure:"breaker"`
	Enabled           bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// ApplyDefaults fills zero-valued thresholds with the standard 0.8/0.95
// warning/critical split and defaults Actions to log+alert.
func (l *CostLimit) ApplyDefaults() {
	if l.WarningThreshold == 0 {
		l.WarningThreshold = 0.8
	}
	if l.CriticalThreshold == 0 {
		l.CriticalThreshold = 0.95
	}
	if len(l.Actions) == 0 {
		l.Actions = []LimitAction{ActionLog, ActionAlert}
	}
}

// Validate checks that the limit is internally consistent: positive amount,
// ordered thresholds, and scope discriminators populated to match the scope.
func (l *CostLimit) Validate() error {
	if l.Name == "" {
		return eris.New("cost limit: name is required")
	}
	if l.LimitUSD <= 0 {
		return eris.Errorf("cost limit %s: limit_usd must be positive", l.Name)
	}
	if !ValidPeriod(l.Period) {
		return eris.Errorf("cost limit %s: unknown period %q", l.Name, l.Period)
	}
	if l.WarningThreshold >= l.CriticalThreshold {
		return eris.Errorf("cost limit %s: warning threshold %.2f must be below critical %.2f",
			l.Name, l.WarningThreshold, l.CriticalThreshold)
	}
	switch l.Scope {
	case ScopeGlobal:
	case ScopeProvider:
		if l.Provider == "" {
			return eris.Errorf("cost limit %s: provider scope requires a provider", l.Name)
		}
	case ScopeCampaign:
		if l.CampaignID == "" {
			return eris.Errorf("cost limit %s: campaign scope requires a campaign_id", l.Name)
		}
	case ScopeOperation:
		if l.Operation == "" {
			return eris.Errorf("cost limit %s: operation scope requires an operation", l.Name)
		}
	case ScopeProviderOperation:
		if l.Provider == "" || l.Operation == "" {
			return eris.Errorf("cost limit %s: provider_operation scope requires provider and operation", l.Name)
		}
	default:
		return eris.Errorf("cost limit %s: unknown scope %q", l.Name, l.Scope)
	}
	return nil
}

// Matches reports whether this limit governs a call with the given
// provider, operation and campaign.
func (l *CostLimit) Matches(provider, operation, campaignID string) bool {
	switch l.Scope {
	case ScopeGlobal:
		return true
	case ScopeProvider:
		return l.Provider == provider
	case ScopeCampaign:
		return l.CampaignID != "" && l.CampaignID == campaignID
	case ScopeOperation:
		return l.Operation == operation
	case ScopeProviderOperation:
		return l.Provider == provider && l.Operation == operation
	default:
		return false
	}
}

// RateLimitConfig holds token-bucket parameters for one provider (and
// optionally one operation). A zero CostPerMinuteUSD disables cost-based
// limiting for the key.
type RateLimitConfig struct {
	Provider          string  `json:"provider" yaml:"provider" mapstructure:"provider"`
	Operation         string  `json:"operation,omitempty" yaml:"operation" mapstructure:"operation"`
	RequestsPerMinute float64 `json:"requests_per_minute" yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Burst             int     `json:"burst" yaml:"burst" mapstructure:"burst"`
	CostPerMinuteUSD  float64 `json:"cost_per_minute_usd,omitempty" yaml:"cost_per_minute_usd" mapstructure:"cost_per_minute_usd"`
	CostBurstUSD      float64 `json:"cost_burst_usd,omitempty" yaml:"cost_burst_usd" mapstructure:"cost_burst_usd"`
}
