// Package ratelimit provides token-bucket admission control for outbound
// provider calls. Admission never errors: callers always get a decision,
// and an unconfigured provider is never limited.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of an admission check. When Allowed is false,
// RetryAfter hints how long the caller should wait before trying again.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// costTokensPerUSD quantizes dollar amounts into integer bucket tokens
// (mills, i.e. tenths of a cent).
const costTokensPerUSD = 1000

// Registry manages token buckets keyed by provider(+operation). Each key
// carries a request-count bucket and, when configured, a cost bucket.
// Token refill is continuous, so bursts up to the configured burst size
// are admitted immediately after idle periods.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	configs map[string]Config

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// Config holds the token-bucket parameters for one provider/operation key.
type Config struct {
	Provider          string
	Operation         string
	RequestsPerMinute float64
	Burst             int
	CostPerMinuteUSD  float64
	CostBurstUSD      float64
}

type entry struct {
	requests *rate.Limiter
	cost     *rate.Limiter // nil when cost limiting is not configured
}

// NewRegistry creates a registry from the given configs. A config with an
// empty Operation applies to every operation of its provider unless a more
// specific provider+operation config exists.
func NewRegistry(configs []Config) *Registry {
	idx := make(map[string]Config, len(configs))
	for _, c := range configs {
		idx[key(c.Provider, c.Operation)] = c
	}
	return &Registry{
		entries: make(map[string]*entry),
		configs: idx,
		nowFunc: time.Now,
	}
}

func key(provider, operation string) string {
	return provider + ":" + operation
}

// TryAcquire attempts to admit one call for provider/operation with the
// given estimated cost. It never blocks and never errors; absence of
// configuration means "no limit".
func (r *Registry) TryAcquire(provider, operation string, estCostUSD float64) Decision {
	e := r.entryFor(provider, operation)
	if e == nil {
		return Decision{Allowed: true}
	}

	now := r.nowFunc()

	reqRes := e.requests.ReserveN(now, 1)
	if !reqRes.OK() {
		// Request can never be satisfied (burst smaller than one call).
		return Decision{Allowed: false, RetryAfter: time.Minute}
	}
	delay := reqRes.DelayFrom(now)

	var costRes *rate.Reservation
	if e.cost != nil && estCostUSD > 0 {
		tokens := int(math.Ceil(estCostUSD * costTokensPerUSD))
		costRes = e.cost.ReserveN(now, tokens)
		if !costRes.OK() {
			reqRes.CancelAt(now)
			return Decision{Allowed: false, RetryAfter: time.Minute}
		}
		if d := costRes.DelayFrom(now); d > delay {
			delay = d
		}
	}

	if delay > 0 {
		reqRes.CancelAt(now)
		if costRes != nil {
			costRes.CancelAt(now)
		}
		return Decision{Allowed: false, RetryAfter: delay}
	}

	return Decision{Allowed: true}
}

// entryFor returns the bucket entry governing provider/operation, creating
// it lazily from configuration. The provider+operation config wins over a
// provider-wide config; no config at all returns nil.
func (r *Registry) entryFor(provider, operation string) *entry {
	k := key(provider, operation)

	r.mu.RLock()
	e, ok := r.entries[k]
	r.mu.RUnlock()
	if ok {
		return e
	}

	cfg, ok := r.configs[k]
	if !ok {
		cfg, ok = r.configs[key(provider, "")]
		if !ok {
			return nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if e, ok = r.entries[k]; ok {
		return e
	}
	e = newEntry(cfg)
	r.entries[k] = e
	return e
}

func newEntry(cfg Config) *entry {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	e := &entry{
		requests: rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), burst),
	}
	if cfg.CostPerMinuteUSD > 0 {
		costBurst := cfg.CostBurstUSD
		if costBurst <= 0 {
			costBurst = cfg.CostPerMinuteUSD
		}
		e.cost = rate.NewLimiter(
			rate.Limit(cfg.CostPerMinuteUSD*costTokensPerUSD/60.0),
			int(math.Ceil(costBurst*costTokensPerUSD)),
		)
	}
	return e
}
