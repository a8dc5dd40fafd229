package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadfactory/leadfactory/internal/bucket"
	"github.com/leadfactory/leadfactory/internal/business"
	"github.com/leadfactory/leadfactory/internal/gateway"
	"github.com/leadfactory/leadfactory/internal/guardrail"
	"github.com/leadfactory/leadfactory/internal/ledger"
	"github.com/leadfactory/leadfactory/internal/ratelimit"
	"github.com/leadfactory/leadfactory/internal/resilience"
	"github.com/leadfactory/leadfactory/pkg/dataaxle"
	"github.com/leadfactory/leadfactory/pkg/hunter"
)

// coreEnv holds the storage and guardrail stack shared by every command.
type coreEnv struct {
	Ledger   ledger.Ledger
	Store    business.Store
	Guard    *guardrail.Manager
	Limiter  *ratelimit.Registry
	Breakers *resilience.Breakers
}

// Close releases resources held by the environment.
func (e *coreEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
	if e.Ledger != nil {
		_ = e.Ledger.Close()
	}
}

// initStores opens the cost ledger and the business store on the configured
// driver.
func initStores(ctx context.Context) (ledger.Ledger, business.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		lgr, err := ledger.NewPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, eris.Wrap(err, "init ledger")
		}
		st, err := business.NewPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			_ = lgr.Close()
			return nil, nil, eris.Wrap(err, "init business store")
		}
		return lgr, st, nil
	case "sqlite":
		lgr, err := ledger.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, eris.Wrap(err, "init ledger")
		}
		st, err := business.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			_ = lgr.Close()
			return nil, nil, eris.Wrap(err, "init business store")
		}
		return lgr, st, nil
	default:
		return nil, nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initCore validates config for the given mode and builds the shared stack:
// stores, rate limiter, breakers, and the guardrail manager. Callers should
// defer env.Close().
func initCore(ctx context.Context, mode string) (*coreEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	lgr, st, err := initStores(ctx)
	if err != nil {
		return nil, err
	}

	var notifiers []guardrail.Notifier
	notifiers = append(notifiers, guardrail.LogNotifier{})
	if cfg.Guardrail.AlertWebhookURL != "" {
		notifiers = append(notifiers, guardrail.NewWebhookNotifier(cfg.Guardrail.AlertWebhookURL))
		zap.L().Info("alert webhook enabled")
	}
	alerter := guardrail.NewAlerter(cfg.Guardrail.AlertMinInterval, notifiers...)

	guard, err := guardrail.NewManager(guardrail.ManagerConfig{
		Limits:   cfg.Guardrail.Limits,
		Ledger:   lgr,
		Alerter:  alerter,
		CacheTTL: cfg.Guardrail.CacheTTL,
	})
	if err != nil {
		_ = st.Close()
		_ = lgr.Close()
		return nil, eris.Wrap(err, "init guardrails")
	}

	limiterConfigs := make([]ratelimit.Config, 0, len(cfg.RateLimits))
	for _, rl := range cfg.RateLimits {
		limiterConfigs = append(limiterConfigs, ratelimit.Config{
			Provider:          rl.Provider,
			Operation:         rl.Operation,
			RequestsPerMinute: rl.RequestsPerMinute,
			Burst:             rl.Burst,
			CostPerMinuteUSD:  rl.CostPerMinuteUSD,
			CostBurstUSD:      rl.CostBurstUSD,
		})
	}

	return &coreEnv{
		Ledger:   lgr,
		Store:    st,
		Guard:    guard,
		Limiter:  ratelimit.NewRegistry(limiterConfigs),
		Breakers: resilience.NewBreakers(resilience.DefaultCircuitBreakerConfig()),
	}, nil
}

// enrichEnv adds the provider clients, gateway, and flow on top of the core
// stack.
type enrichEnv struct {
	*coreEnv
	Gateway *gateway.Gateway
	Sources []gateway.Source
	Book    *bucket.StrategyBook
}

// initEnrich builds the full enrichment environment. Callers should defer
// env.Close().
func initEnrich(ctx context.Context) (*enrichEnv, error) {
	core, err := initCore(ctx, "enrich")
	if err != nil {
		return nil, err
	}

	if err := core.Ledger.Migrate(ctx); err != nil {
		core.Close()
		return nil, eris.Wrap(err, "migrate ledger")
	}
	if err := core.Store.Migrate(ctx); err != nil {
		core.Close()
		return nil, eris.Wrap(err, "migrate business store")
	}

	hunterClient := hunter.NewClient(cfg.Hunter.Key, hunter.WithBaseURL(cfg.Hunter.BaseURL))
	axleClient := dataaxle.NewClient(cfg.DataAxle.Key, dataaxle.WithBaseURL(cfg.DataAxle.BaseURL))

	sources := []gateway.Source{
		dataaxle.NewSource(axleClient, cfg.Pricing.DataAxle.BusinessMatch),
		hunter.NewSource(hunterClient, cfg.Pricing.Hunter.EmailLookup),
	}

	book := bucket.NewStrategyBook(bucket.DefaultStrategies())
	if cfg.Enrich.StrategiesFile != "" {
		book, err = bucket.LoadStrategyBook(cfg.Enrich.StrategiesFile)
		if err != nil {
			core.Close()
			return nil, eris.Wrap(err, "load strategies")
		}
		zap.L().Info("bucket strategies loaded", zap.String("file", cfg.Enrich.StrategiesFile))
	}

	return &enrichEnv{
		coreEnv: core,
		Gateway: gateway.New(core.Limiter, core.Breakers, core.Guard, core.Ledger),
		Sources: sources,
		Book:    book,
	}, nil
}
