package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leadfactory/leadfactory/internal/guardrail"
	"github.com/leadfactory/leadfactory/internal/ledger"
	"github.com/leadfactory/leadfactory/internal/model"
	"github.com/leadfactory/leadfactory/internal/ratelimit"
	"github.com/leadfactory/leadfactory/internal/resilience"
)

// memLedger keeps cost records in memory and sums them for guardrail checks.
type memLedger struct {
	mu      sync.Mutex
	records []model.CostRecord
	failRec bool
}

func (m *memLedger) Record(_ context.Context, rec model.CostRecord) error {
	if m.failRec {
		return errors.New("ledger down")
	}
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *memLedger) SumCosts(_ context.Context, f ledger.Filter) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, r := range m.records {
		if f.Provider != "" && r.Provider != f.Provider {
			continue
		}
		if f.Operation != "" && r.Operation != f.Operation {
			continue
		}
		if f.CampaignID != "" && r.CampaignID != f.CampaignID {
			continue
		}
		total += r.CostUSD
	}
	return total, nil
}

func (m *memLedger) ProviderCosts(context.Context, string, int) (*model.ProviderCosts, error) {
	return nil, nil
}
func (m *memLedger) CampaignCosts(context.Context, string) (*model.CampaignCosts, error) {
	return nil, nil
}
func (m *memLedger) AggregateDaily(context.Context, time.Time) (int64, error) { return 0, nil }
func (m *memLedger) Cleanup(context.Context, int) (int64, error)              { return 0, nil }
func (m *memLedger) Migrate(context.Context) error                            { return nil }
func (m *memLedger) Close() error                                             { return nil }

func (m *memLedger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func newTestGateway(t *testing.T, lgr ledger.Ledger, rlConfigs []ratelimit.Config, limits ...model.CostLimit) *Gateway {
	t.Helper()
	guard, err := guardrail.NewManager(guardrail.ManagerConfig{Limits: limits, Ledger: lgr})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return New(
		ratelimit.NewRegistry(rlConfigs),
		resilience.NewBreakers(resilience.DefaultCircuitBreakerConfig()),
		guard,
		lgr,
	)
}

func hunterRequest(est float64) Request {
	return Request{Provider: "hunter", Operation: "email_lookup", LeadID: "lead-1", EstimatedCostUSD: est}
}

func TestExecute_Success_RecordsCost(t *testing.T) {
	lgr := &memLedger{}
	g := newTestGateway(t, lgr, nil)

	var called bool
	err := g.Execute(context.Background(), hunterRequest(0.01), func(context.Context) error {
		called = true
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !called {
		t.Fatal("call was not invoked")
	}
	if lgr.count() != 1 {
		t.Fatalf("expected 1 cost record, got %d", lgr.count())
	}
	rec := lgr.records[0]
	if rec.Provider != "hunter" || rec.Operation != "email_lookup" || rec.CostUSD != 0.01 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.LeadID != "lead-1" {
		t.Errorf("lead id not carried to record: %+v", rec)
	}
}

func TestExecute_ActualCostOverridesEstimate(t *testing.T) {
	lgr := &memLedger{}
	g := newTestGateway(t, lgr, nil)

	err := g.Execute(context.Background(), hunterRequest(0.01),
		func(context.Context) error { return nil },
		func() float64 { return 0.03 },
	)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := lgr.records[0].CostUSD; got != 0.03 {
		t.Errorf("recorded cost = %.2f, want actual 0.03", got)
	}
}

func TestExecute_RateLimited(t *testing.T) {
	lgr := &memLedger{}
	g := newTestGateway(t, lgr, []ratelimit.Config{
		{Provider: "hunter", RequestsPerMinute: 60, Burst: 1},
	})

	ok := func(context.Context) error { return nil }
	if err := g.Execute(context.Background(), hunterRequest(0.01), ok, nil); err != nil {
		t.Fatalf("first call: %v", err)
	}

	var called bool
	err := g.Execute(context.Background(), hunterRequest(0.01), func(context.Context) error {
		called = true
		return nil
	}, nil)
	if !IsRateLimited(err) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if called {
		t.Fatal("denied call must not reach the provider")
	}
	var rl *RateLimitedError
	if !errors.As(err, &rl) || rl.RetryAfter <= 0 {
		t.Errorf("expected retry-after hint, got %+v", rl)
	}
	if lgr.count() != 1 {
		t.Errorf("denied call must not be billed, got %d records", lgr.count())
	}
}

func TestExecute_ProviderFailure_WrappedAndCounted(t *testing.T) {
	lgr := &memLedger{}
	g := newTestGateway(t, lgr, nil)

	boom := errors.New("upstream 500")
	err := g.Execute(context.Background(), hunterRequest(0.01), func(context.Context) error {
		return boom
	}, nil)
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
	var pce *ProviderCallError
	if !errors.As(err, &pce) || pce.Provider != "hunter" {
		t.Fatalf("expected ProviderCallError, got %v", err)
	}
	if lgr.count() != 0 {
		t.Errorf("failed call must not be billed, got %d records", lgr.count())
	}
}

func TestExecute_CircuitOpensAfterFailures(t *testing.T) {
	lgr := &memLedger{}
	guard, err := guardrail.NewManager(guardrail.ManagerConfig{Ledger: lgr})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	g := New(
		ratelimit.NewRegistry(nil),
		resilience.NewBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute}),
		guard,
		lgr,
	)

	fail := func(context.Context) error { return errors.New("down") }
	for i := 0; i < 2; i++ {
		if err := g.Execute(context.Background(), hunterRequest(0.01), fail, nil); !errors.As(err, new(*ProviderCallError)) {
			t.Fatalf("call %d: expected ProviderCallError, got %v", i+1, err)
		}
	}

	var called bool
	err = g.Execute(context.Background(), hunterRequest(0.01), func(context.Context) error {
		called = true
		return nil
	}, nil)
	if !IsCircuitOpen(err) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if called {
		t.Fatal("call must not reach an open circuit's provider")
	}
	var co *CircuitOpenError
	if !errors.As(err, &co) || co.RetryAfter <= 0 {
		t.Errorf("expected cooldown hint, got %+v", co)
	}
}

func TestExecute_GuardrailBlocked(t *testing.T) {
	lgr := &memLedger{}
	lgr.records = append(lgr.records, model.CostRecord{Provider: "hunter", CostUSD: 0.05})

	g := newTestGateway(t, lgr, nil, model.CostLimit{
		Name: "hunter_daily", Scope: model.ScopeProvider, Provider: "hunter",
		Period: model.PeriodDaily, LimitUSD: 0.05,
		Actions: []model.LimitAction{model.ActionBlock}, Enabled: true,
	})

	var called bool
	err := g.Execute(context.Background(), hunterRequest(0.01), func(context.Context) error {
		called = true
		return nil
	}, nil)
	if !IsGuardrailBlocked(err) {
		t.Fatalf("expected GuardrailBlockedError, got %v", err)
	}
	if called {
		t.Fatal("blocked call must not reach the provider")
	}
	var gb *GuardrailBlockedError
	if !errors.As(err, &gb) || gb.Limit != "hunter_daily" {
		t.Errorf("expected limit name in error, got %+v", gb)
	}
}

// The canonical budget scenario: $0.01 per call against a $0.05 daily limit,
// six pending calls. Five succeed and are billed; the sixth is denied.
func TestExecute_DailyBudget_EndToEnd(t *testing.T) {
	lgr, err := ledger.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer lgr.Close()
	if err := lgr.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	g := newTestGateway(t, lgr, nil, model.CostLimit{
		Name: "hunter_daily", Scope: model.ScopeProvider, Provider: "hunter",
		Period: model.PeriodDaily, LimitUSD: 0.05,
		Actions: []model.LimitAction{model.ActionBlock}, Enabled: true,
	})

	ok := func(context.Context) error { return nil }
	var denied error
	succeeded := 0
	for i := 0; i < 6; i++ {
		err := g.Execute(context.Background(), hunterRequest(0.01), ok, nil)
		if err == nil {
			succeeded++
			continue
		}
		denied = err
	}

	if succeeded != 5 {
		t.Fatalf("expected 5 successful calls, got %d", succeeded)
	}
	if !IsGuardrailBlocked(denied) {
		t.Fatalf("expected the 6th call to be guardrail-blocked, got %v", denied)
	}

	pc, err := lgr.ProviderCosts(context.Background(), "hunter", 1)
	if err != nil {
		t.Fatalf("ProviderCosts: %v", err)
	}
	if pc.RequestCount != 5 {
		t.Errorf("recorded requests = %d, want 5", pc.RequestCount)
	}
	if pc.TotalCostUSD < 0.0499 || pc.TotalCostUSD > 0.0501 {
		t.Errorf("recorded spend = %.4f, want 0.05", pc.TotalCostUSD)
	}
}

func TestExecute_LedgerFailure_DoesNotFailCall(t *testing.T) {
	lgr := &memLedger{failRec: true}
	g := newTestGateway(t, lgr, nil)

	err := g.Execute(context.Background(), hunterRequest(0.01), func(context.Context) error {
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("cost recording failure must not fail the call, got %v", err)
	}
}

func TestExecuteVal(t *testing.T) {
	lgr := &memLedger{}
	g := newTestGateway(t, lgr, nil)

	got, err := ExecuteVal(context.Background(), g, hunterRequest(0.01),
		func(context.Context) (string, error) { return "alice@example.com", nil }, nil)
	if err != nil {
		t.Fatalf("ExecuteVal: %v", err)
	}
	if got != "alice@example.com" {
		t.Errorf("got %q", got)
	}

	_, err = ExecuteVal(context.Background(), g, hunterRequest(0.01),
		func(context.Context) (string, error) { return "", errors.New("no match") }, nil)
	if err == nil {
		t.Fatal("expected error")
	}
}
