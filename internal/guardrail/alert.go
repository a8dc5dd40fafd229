package guardrail

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadfactory/leadfactory/internal/model"
	"github.com/leadfactory/leadfactory/internal/resilience"
)

// Severity classifies how urgent an alert is.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// Alert describes one guardrail event: a limit approaching or crossing its
// threshold.
type Alert struct {
	LimitName  string           `json:"limit_name"`
	Scope      model.LimitScope `json:"scope"`
	Severity   Severity         `json:"severity"`
	Message    string           `json:"message"`
	Provider   string           `json:"provider,omitempty"`
	Operation  string           `json:"operation,omitempty"`
	CampaignID string           `json:"campaign_id,omitempty"`
	CurrentUSD float64          `json:"current_usd"`
	LimitUSD   float64          `json:"limit_usd"`
	Percent    float64          `json:"percent"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Notifier delivers a single alert to one destination.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the global logger.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, alert Alert) error {
	fields := []zap.Field{
		zap.String("limit", alert.LimitName),
		zap.String("scope", string(alert.Scope)),
		zap.String("severity", string(alert.Severity)),
		zap.Float64("current_usd", alert.CurrentUSD),
		zap.Float64("limit_usd", alert.LimitUSD),
		zap.Float64("percent", alert.Percent),
	}
	switch alert.Severity {
	case SeverityCritical, SeverityEmergency:
		zap.L().Error("guardrail: "+alert.Message, fields...)
	default:
		zap.L().Warn("guardrail: "+alert.Message, fields...)
	}
	return nil
}

// WebhookNotifier posts alerts as JSON to a webhook URL, retrying transient
// delivery failures.
type WebhookNotifier struct {
	url    string
	client *http.Client
	retry  resilience.RetryConfig
}

// NewWebhookNotifier creates a webhook notifier for the given URL.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.DefaultRetryConfig(),
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "guardrail: marshal alert")
	}

	return resilience.Do(ctx, w.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "guardrail: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return resilience.NewTransientError(err, 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode >= 400 {
			err := eris.Errorf("guardrail: webhook returned status %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(err, resp.StatusCode)
			}
			return err
		}
		return nil
	})
}

// Alerter fans alerts out to notifiers, suppressing repeats for the same
// limit and severity within the minimum interval. Dispatch happens on a
// background goroutine so alerting never delays the gated call.
type Alerter struct {
	notifiers   []Notifier
	minInterval time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
	nowFunc  func() time.Time
}

// NewAlerter creates an Alerter. A minInterval of zero disables suppression.
func NewAlerter(minInterval time.Duration, notifiers ...Notifier) *Alerter {
	return &Alerter{
		notifiers:   notifiers,
		minInterval: minInterval,
		lastSent:    make(map[string]time.Time),
		nowFunc:     time.Now,
	}
}

// Fire dispatches the alert to all notifiers unless an alert for the same
// limit and severity fired within the minimum interval.
func (a *Alerter) Fire(ctx context.Context, alert Alert) {
	if a == nil || len(a.notifiers) == 0 {
		return
	}
	if !a.shouldSend(alert) {
		return
	}

	notifiers := a.notifiers
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		for _, n := range notifiers {
			if err := n.Notify(sendCtx, alert); err != nil {
				zap.L().Error("guardrail: alert delivery failed",
					zap.String("limit", alert.LimitName),
					zap.Error(err),
				)
			}
		}
	}()
}

func (a *Alerter) shouldSend(alert Alert) bool {
	key := alert.LimitName + "|" + string(alert.Severity)
	now := a.nowFunc()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.minInterval > 0 {
		if last, ok := a.lastSent[key]; ok && now.Sub(last) < a.minInterval {
			return false
		}
	}
	a.lastSent[key] = now
	return true
}
