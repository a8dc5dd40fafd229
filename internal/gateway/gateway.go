// Package gateway is the single chokepoint for outbound provider calls.
// Every call passes the rate limiter, the provider circuit breaker, and the
// cost guardrails, in that order, before any money is spent; successful
// calls are recorded in the cost ledger.
package gateway

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadfactory/leadfactory/internal/guardrail"
	"github.com/leadfactory/leadfactory/internal/ledger"
	"github.com/leadfactory/leadfactory/internal/model"
	"github.com/leadfactory/leadfactory/internal/ratelimit"
	"github.com/leadfactory/leadfactory/internal/resilience"
)

// Source is one enrichment capability backed by an external provider.
// Implementations perform the provider call; admission and cost recording
// belong to the Gateway.
type Source interface {
	Name() string
	Operation() string
	Enrich(ctx context.Context, biz *model.Business) error
	EstimateCost(biz model.Business) float64
}

// Request identifies one gated provider call.
type Request struct {
	Provider         string
	Operation        string
	LeadID           string
	CampaignID       string
	EstimatedCostUSD float64
	Metadata         map[string]string
}

// Gateway sequences admission checks around provider calls. Safe for
// concurrent use; all keyed state lives in the limiter and breaker
// registries.
type Gateway struct {
	limiter  *ratelimit.Registry
	breakers *resilience.Breakers
	guard    *guardrail.Manager
	ledger   ledger.Ledger
}

// New builds a Gateway. All dependencies are required.
func New(limiter *ratelimit.Registry, breakers *resilience.Breakers, guard *guardrail.Manager, lgr ledger.Ledger) *Gateway {
	return &Gateway{
		limiter:  limiter,
		breakers: breakers,
		guard:    guard,
		ledger:   lgr,
	}
}

// Execute runs one provider call through the full admission sequence:
// rate limiter, circuit breaker, guardrails, then the call itself. On
// success the actual cost is recorded in the ledger best-effort and the
// breaker and guardrail breakers see a success; on failure they see a
// failure and the error comes back wrapped in a ProviderCallError.
//
// actualCost may be nil, in which case the estimate is recorded.
func (g *Gateway) Execute(ctx context.Context, req Request, call func(ctx context.Context) error, actualCost func() float64) error {
	if d := g.limiter.TryAcquire(req.Provider, req.Operation, req.EstimatedCostUSD); !d.Allowed {
		return &RateLimitedError{Provider: req.Provider, Operation: req.Operation, RetryAfter: d.RetryAfter}
	}

	cb := g.breakers.Get(req.Provider)
	if err := cb.Allow(); err != nil {
		return &CircuitOpenError{Provider: req.Provider, RetryAfter: cb.Cooldown()}
	}

	checkReq := guardrail.CheckRequest{
		Provider:         req.Provider,
		Operation:        req.Operation,
		CampaignID:       req.CampaignID,
		LeadID:           req.LeadID,
		EstimatedCostUSD: req.EstimatedCostUSD,
	}
	decision := g.guard.Check(ctx, checkReq)
	if !decision.Allowed {
		return &GuardrailBlockedError{
			Provider:   req.Provider,
			Limit:      decision.LimitName,
			CurrentUSD: decision.CurrentUSD,
			LimitUSD:   decision.LimitUSD,
		}
	}
	if decision.Action == model.ActionThrottle && decision.Throttle > 0 {
		// Throttling is advisory: surface it in the logs and let the call
		// proceed rather than stalling a worker until period rollover.
		zap.L().Warn("gateway: call throttled by guardrail",
			zap.String("provider", req.Provider),
			zap.String("limit", decision.LimitName),
			zap.Duration("suggested_delay", decision.Throttle),
		)
	}

	if err := call(ctx); err != nil {
		cb.RecordFailure()
		g.guard.RecordFailure(checkReq)
		return &ProviderCallError{Provider: req.Provider, Operation: req.Operation, Err: err}
	}

	cb.RecordSuccess()
	g.guard.RecordSuccess(checkReq)

	cost := req.EstimatedCostUSD
	if actualCost != nil {
		cost = actualCost()
	}
	g.guard.AddSpend(checkReq, cost)
	g.recordCost(ctx, req, cost)
	return nil
}

// ExecuteVal is like Execute but preserves the call's return value.
func ExecuteVal[T any](ctx context.Context, g *Gateway, req Request, call func(ctx context.Context) (T, error), actualCost func() float64) (T, error) {
	var val T
	err := g.Execute(ctx, req, func(ctx context.Context) error {
		var callErr error
		val, callErr = call(ctx)
		return callErr
	}, actualCost)
	if err != nil {
		var zero T
		return zero, err
	}
	return val, nil
}

// recordCost writes the cost record. Failures are logged and swallowed:
// cost tracking never blocks a successful business operation.
func (g *Gateway) recordCost(ctx context.Context, req Request, cost float64) {
	rec := model.CostRecord{
		ID:         uuid.New().String(),
		Provider:   req.Provider,
		Operation:  req.Operation,
		CostUSD:    cost,
		LeadID:     req.LeadID,
		CampaignID: req.CampaignID,
		RequestID:  uuid.New().String(),
		Metadata:   req.Metadata,
	}
	if err := g.ledger.Record(ctx, rec); err != nil {
		zap.L().Error("gateway: cost record failed",
			zap.String("provider", req.Provider),
			zap.String("operation", req.Operation),
			zap.Float64("cost_usd", cost),
			zap.Error(err),
		)
	}
}
