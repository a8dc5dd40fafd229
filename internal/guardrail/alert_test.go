package guardrail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/leadfactory/leadfactory/internal/model"
)

// captureNotifier records delivered alerts.
type captureNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	done   chan struct{}
}

func newCaptureNotifier(expected int) *captureNotifier {
	return &captureNotifier{done: make(chan struct{}, expected)}
}

func (c *captureNotifier) Notify(_ context.Context, a Alert) error {
	c.mu.Lock()
	c.alerts = append(c.alerts, a)
	c.mu.Unlock()
	c.done <- struct{}{}
	return nil
}

func (c *captureNotifier) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for alert delivery")
	}
}

func TestAlerter_Delivers(t *testing.T) {
	capture := newCaptureNotifier(1)
	a := NewAlerter(time.Minute, capture)

	a.Fire(context.Background(), Alert{LimitName: "hunter-daily", Severity: SeverityWarning})
	capture.wait(t)

	capture.mu.Lock()
	defer capture.mu.Unlock()
	if len(capture.alerts) != 1 || capture.alerts[0].LimitName != "hunter-daily" {
		t.Fatalf("unexpected alerts: %+v", capture.alerts)
	}
}

func TestAlerter_SuppressesRepeats(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	capture := newCaptureNotifier(3)
	a := NewAlerter(5*time.Minute, capture)
	a.nowFunc = func() time.Time { return now }

	a.Fire(context.Background(), Alert{LimitName: "hunter-daily", Severity: SeverityWarning})
	capture.wait(t)

	// Same limit and severity inside the window: suppressed.
	a.Fire(context.Background(), Alert{LimitName: "hunter-daily", Severity: SeverityWarning})

	// Different severity is its own stream.
	a.Fire(context.Background(), Alert{LimitName: "hunter-daily", Severity: SeverityCritical})
	capture.wait(t)

	// After the window the same alert fires again.
	now = now.Add(6 * time.Minute)
	a.Fire(context.Background(), Alert{LimitName: "hunter-daily", Severity: SeverityWarning})
	capture.wait(t)

	capture.mu.Lock()
	defer capture.mu.Unlock()
	if len(capture.alerts) != 3 {
		t.Fatalf("expected 3 delivered alerts, got %d", len(capture.alerts))
	}
}

func TestWebhookNotifier_Posts(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Notify(context.Background(), Alert{
		LimitName:  "hunter-daily",
		Scope:      model.ScopeProvider,
		Severity:   SeverityCritical,
		CurrentUSD: 96,
		LimitUSD:   100,
		Percent:    96,
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.LimitName != "hunter-daily" || got.Severity != SeverityCritical {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestWebhookNotifier_RetriesTransientFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	n.retry.InitialBackoff = time.Millisecond

	if err := n.Notify(context.Background(), Alert{LimitName: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestWebhookNotifier_PermanentFailure_NoRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	n.retry.InitialBackoff = time.Millisecond

	if err := n.Notify(context.Background(), Alert{LimitName: "x"}); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
}
