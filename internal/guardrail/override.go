package guardrail

import "context"

type ctxKey int

const (
	bypassKey ctxKey = iota
	overrideKey
)

type bypassValue struct {
	providers map[string]bool // empty = all providers
}

// WithBypass returns a context whose guardrail checks are skipped for the
// given providers. With no providers listed, every check is skipped. The
// bypass is scoped to the context; nothing global changes.
func WithBypass(ctx context.Context, providers ...string) context.Context {
	set := make(map[string]bool, len(providers))
	for _, p := range providers {
		set[p] = true
	}
	return context.WithValue(ctx, bypassKey, bypassValue{providers: set})
}

func bypassed(ctx context.Context, provider string) bool {
	v, ok := ctx.Value(bypassKey).(bypassValue)
	if !ok {
		return false
	}
	if len(v.providers) == 0 {
		return true
	}
	return v.providers[provider]
}

// WithLimitOverride returns a context carrying replacement limit amounts in
// USD, keyed by limit name. Overrides apply only to checks made with the
// returned context.
func WithLimitOverride(ctx context.Context, limits map[string]float64) context.Context {
	copied := make(map[string]float64, len(limits))
	for k, v := range limits {
		copied[k] = v
	}
	return context.WithValue(ctx, overrideKey, copied)
}

func limitOverride(ctx context.Context, name string) (float64, bool) {
	m, ok := ctx.Value(overrideKey).(map[string]float64)
	if !ok {
		return 0, false
	}
	v, ok := m[name]
	return v, ok
}
