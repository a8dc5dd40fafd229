// Package guardrail enforces spending limits over the cost ledger. Every
// gated provider call is checked against the configured limits before it is
// allowed to spend money.
package guardrail

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadfactory/leadfactory/internal/ledger"
	"github.com/leadfactory/leadfactory/internal/model"
	"github.com/leadfactory/leadfactory/internal/resilience"
)

// CheckRequest describes a provider call about to be made.
type CheckRequest struct {
	Provider         string
	Operation        string
	CampaignID       string
	LeadID           string
	EstimatedCostUSD float64
}

// Decision is the outcome of evaluating a check request against every
// matching limit. The most restrictive outcome wins.
type Decision struct {
	Allowed    bool
	Action     model.LimitAction
	LimitName  string
	CurrentUSD float64
	LimitUSD   float64
	Throttle   time.Duration // suggested delay when Action is throttle
	Reason     string
}

// ManagerConfig configures a guardrail Manager.
type ManagerConfig struct {
	Limits   []model.CostLimit
	Ledger   ledger.Ledger
	Alerter  *Alerter
	CacheTTL time.Duration    // spend cache TTL, default 60s
	Now      func() time.Time // clock override for tests
}

// Manager evaluates cost limits. Safe for concurrent use.
type Manager struct {
	limits   []model.CostLimit
	ledger   ledger.Ledger
	alerter  *Alerter
	breakers *resilience.Breakers
	cache    *spendCache
	nowFunc  func() time.Time
}

// NewManager validates the limits and builds a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Ledger == nil {
		return nil, eris.New("guardrail: ledger is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	limits := make([]model.CostLimit, len(cfg.Limits))
	copy(limits, cfg.Limits)
	for i := range limits {
		limits[i].ApplyDefaults()
		if err := limits[i].Validate(); err != nil {
			return nil, eris.Wrap(err, "guardrail: invalid limit")
		}
	}

	return &Manager{
		limits:   limits,
		ledger:   cfg.Ledger,
		alerter:  cfg.Alerter,
		breakers: resilience.NewBreakers(resilience.DefaultCircuitBreakerConfig()),
		cache:    newSpendCache(cfg.CacheTTL, now),
		nowFunc:  now,
	}, nil
}

// Limits returns the configured limits.
func (m *Manager) Limits() []model.CostLimit {
	out := make([]model.CostLimit, len(m.limits))
	copy(out, m.limits)
	return out
}

// Check evaluates the request against every matching enabled limit and
// returns the most restrictive outcome. A ledger failure on a single limit
// fails open for that limit: spend tracking must never take the whole
// pipeline down with it.
func (m *Manager) Check(ctx context.Context, req CheckRequest) Decision {
	final := Decision{Allowed: true}

	if bypassed(ctx, req.Provider) {
		return final
	}

	for i := range m.limits {
		limit := &m.limits[i]
		if !limit.Enabled || !limit.Matches(req.Provider, req.Operation, req.CampaignID) {
			continue
		}

		d, ok := m.evaluate(ctx, limit, req)
		if !ok {
			continue
		}
		if d.Action.Severity() > final.Action.Severity() || (!d.Allowed && final.Allowed) {
			final = d
		}
	}
	return final
}

// evaluate checks one limit. The bool result is false when the limit could
// not be evaluated (ledger failure).
func (m *Manager) evaluate(ctx context.Context, limit *model.CostLimit, req CheckRequest) (Decision, bool) {
	limitUSD := limit.LimitUSD
	if v, ok := limitOverride(ctx, limit.Name); ok {
		limitUSD = v
	}

	if limit.Breaker.Enabled {
		cb := m.breakerFor(limit)
		if cb.State() == resilience.CircuitOpen {
			return Decision{
				Allowed:   false,
				Action:    model.ActionCircuitBreak,
				LimitName: limit.Name,
				LimitUSD:  limitUSD,
				Throttle:  cb.Cooldown(),
				Reason:    "limit circuit breaker is open",
			}, true
		}
	}

	spend, err := m.spend(ctx, limit)
	if err != nil {
		zap.L().Error("guardrail: spend lookup failed, skipping limit",
			zap.String("limit", limit.Name),
			zap.Error(err),
		)
		return Decision{}, false
	}

	// Threshold bands look at spend already committed; the outright-exceed
	// check also counts the estimated cost of this call, so a call that
	// would cross the limit is denied before any money moves.
	projected := spend + req.EstimatedCostUSD
	ratio := 0.0
	if limitUSD > 0 {
		ratio = spend / limitUSD
	}

	d := Decision{
		Allowed:    true,
		LimitName:  limit.Name,
		CurrentUSD: spend,
		LimitUSD:   limitUSD,
	}

	switch {
	case projected > limitUSD:
		d.Action = model.MostSevere(limit.Actions)
		d.Reason = "limit exceeded"
		m.applyAction(&d, limit)
		m.fireAlert(ctx, limit, req, SeverityEmergency, spend, limitUSD, ratio)

	case ratio >= limit.CriticalThreshold:
		d.Action = model.MostSevere(limit.Actions)
		d.Reason = "critical threshold reached"
		m.applyAction(&d, limit)
		m.fireAlert(ctx, limit, req, SeverityCritical, spend, limitUSD, ratio)

	case ratio >= limit.WarningThreshold:
		d.Action = model.ActionAlert
		d.Reason = "warning threshold reached"
		m.fireAlert(ctx, limit, req, SeverityWarning, spend, limitUSD, ratio)
	}

	return d, true
}

// applyAction translates the limit's configured action into the decision's
// allow/deny outcome.
func (m *Manager) applyAction(d *Decision, limit *model.CostLimit) {
	switch d.Action {
	case model.ActionBlock, model.ActionCircuitBreak:
		d.Allowed = false
	case model.ActionThrottle:
		d.Throttle = timeUntilRollover(limit.Period, m.nowFunc())
	}
}

func (m *Manager) spend(ctx context.Context, limit *model.CostLimit) (float64, error) {
	if v, ok := m.cache.get(limit.Name); ok {
		return v, nil
	}

	f := ledger.Filter{Since: limit.Period.Start(m.nowFunc())}
	switch limit.Scope {
	case model.ScopeProvider:
		f.Provider = limit.Provider
	case model.ScopeCampaign:
		f.CampaignID = limit.CampaignID
	case model.ScopeOperation:
		f.Operation = limit.Operation
	case model.ScopeProviderOperation:
		f.Provider = limit.Provider
		f.Operation = limit.Operation
	}

	v, err := m.ledger.SumCosts(ctx, f)
	if err != nil {
		return 0, err
	}
	m.cache.set(limit.Name, v)
	return v, nil
}

func (m *Manager) fireAlert(ctx context.Context, limit *model.CostLimit, req CheckRequest, sev Severity, spend, limitUSD, ratio float64) {
	if m.alerter == nil {
		return
	}
	m.alerter.Fire(ctx, Alert{
		LimitName:  limit.Name,
		Scope:      limit.Scope,
		Severity:   sev,
		Message:    fmt.Sprintf("limit %s at %.0f%% ($%.2f of $%.2f)", limit.Name, ratio*100, spend, limitUSD),
		Provider:   req.Provider,
		Operation:  req.Operation,
		CampaignID: req.CampaignID,
		CurrentUSD: spend,
		LimitUSD:   limitUSD,
		Percent:    ratio * 100,
		Timestamp:  m.nowFunc().UTC(),
	})
}

// AddSpend bumps the cached spend of every matching limit by the cost of a
// call that just completed, so enforcement keeps up with spend committed
// inside the cache TTL.
func (m *Manager) AddSpend(req CheckRequest, costUSD float64) {
	if costUSD <= 0 {
		return
	}
	for i := range m.limits {
		limit := &m.limits[i]
		if !limit.Enabled || !limit.Matches(req.Provider, req.Operation, req.CampaignID) {
			continue
		}
		m.cache.add(limit.Name, costUSD)
	}
}

// RecordSuccess feeds a successful call into the breakers of every matching
// limit that has one enabled.
func (m *Manager) RecordSuccess(req CheckRequest) {
	m.eachBreaker(req, func(cb *resilience.CircuitBreaker) { cb.RecordSuccess() })
}

// RecordFailure feeds a failed call into the breakers of every matching
// limit that has one enabled.
func (m *Manager) RecordFailure(req CheckRequest) {
	m.eachBreaker(req, func(cb *resilience.CircuitBreaker) { cb.RecordFailure() })
}

func (m *Manager) eachBreaker(req CheckRequest, fn func(*resilience.CircuitBreaker)) {
	for i := range m.limits {
		limit := &m.limits[i]
		if !limit.Enabled || !limit.Breaker.Enabled {
			continue
		}
		if !limit.Matches(req.Provider, req.Operation, req.CampaignID) {
			continue
		}
		fn(m.breakerFor(limit))
	}
}

func (m *Manager) breakerFor(limit *model.CostLimit) *resilience.CircuitBreaker {
	return m.breakers.GetWithConfig(limit.Name, resilience.CircuitBreakerConfig{
		FailureThreshold: limit.Breaker.FailureThreshold,
		RecoveryTimeout:  limit.Breaker.RecoveryTimeout,
		Now:              m.nowFunc,
	})
}

// BreakerStates returns the per-limit breaker states for observability.
func (m *Manager) BreakerStates() map[string]resilience.CircuitState {
	return m.breakers.States()
}

// RemainingBudget returns, for each provider named by a limit with the
// given period, the headroom under its most restrictive applicable limit.
// Global limits appear under the key "global".
func (m *Manager) RemainingBudget(ctx context.Context, period model.LimitPeriod) (map[string]float64, error) {
	out := make(map[string]float64)

	for i := range m.limits {
		limit := &m.limits[i]
		if !limit.Enabled || limit.Period != period {
			continue
		}

		key := limit.Provider
		if limit.Scope == model.ScopeGlobal {
			key = "global"
		}
		if key == "" {
			continue
		}

		spend, err := m.spend(ctx, limit)
		if err != nil {
			return nil, eris.Wrapf(err, "guardrail: remaining budget for %s", limit.Name)
		}
		remaining := limit.LimitUSD - spend
		if remaining < 0 {
			remaining = 0
		}
		if cur, ok := out[key]; !ok || remaining < cur {
			out[key] = remaining
		}
	}
	return out, nil
}

// timeUntilRollover returns how long until the period window containing now
// rolls over. Zero for PeriodTotal, which never rolls.
func timeUntilRollover(p model.LimitPeriod, now time.Time) time.Duration {
	start := p.Start(now)
	if start.IsZero() {
		return 0
	}
	var next time.Time
	switch p {
	case model.PeriodHourly:
		next = start.Add(time.Hour)
	case model.PeriodDaily:
		next = start.AddDate(0, 0, 1)
	case model.PeriodWeekly:
		next = start.AddDate(0, 0, 7)
	case model.PeriodMonthly:
		next = start.AddDate(0, 1, 0)
	default:
		return 0
	}
	return next.Sub(now.UTC())
}
