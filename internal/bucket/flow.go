package bucket

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leadfactory/leadfactory/internal/business"
	"github.com/leadfactory/leadfactory/internal/gateway"
	"github.com/leadfactory/leadfactory/internal/model"
)

// FlowConfig tunes one enrichment run.
type FlowConfig struct {
	// BudgetUSD caps total estimated spend for the run. Zero means no cap.
	BudgetUSD float64

	// MaxBuckets caps how many buckets the run processes. Zero means all.
	MaxBuckets int

	// Concurrency bounds in-flight enrichments within a bucket. Default 4.
	Concurrency int

	// DiscoveryWindow is the staleness horizon used when discovering
	// segments. Default 720h; per-bucket fetches still apply each
	// strategy's own skip window.
	DiscoveryWindow time.Duration
}

// Flow runs bucket enrichment: discover segments, queue them by strategy
// priority, and drain the queue one bucket at a time.
type Flow struct {
	store   business.Store
	gw      *gateway.Gateway
	sources map[string]gateway.Source
	book    *StrategyBook
	cfg     FlowConfig
	nowFunc func() time.Time
}

// NewFlow builds a Flow over the given sources.
func NewFlow(store business.Store, gw *gateway.Gateway, sources []gateway.Source, book *StrategyBook, cfg FlowConfig) *Flow {
	idx := make(map[string]gateway.Source, len(sources))
	for _, s := range sources {
		idx[s.Name()] = s
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.DiscoveryWindow <= 0 {
		cfg.DiscoveryWindow = 720 * time.Hour
	}
	return &Flow{
		store:   store,
		gw:      gw,
		sources: idx,
		book:    book,
		cfg:     cfg,
		nowFunc: time.Now,
	}
}

// spendTracker reserves budget before each call so concurrent workers can
// never collectively overshoot a cap. A limit of zero disables the cap.
type spendTracker struct {
	mu    sync.Mutex
	limit float64
	spent float64
}

func (t *spendTracker) reserve(amount float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limit > 0 && t.spent+amount > t.limit {
		return false
	}
	t.spent += amount
	return true
}

func (t *spendTracker) release(amount float64) {
	t.mu.Lock()
	t.spent -= amount
	t.mu.Unlock()
}

// Run executes one enrichment pass. Buckets are processed sequentially in
// priority order; businesses within a bucket are enriched concurrently.
// A partial summary comes back even when the context is cancelled.
func (f *Flow) Run(ctx context.Context) (*model.FlowSummary, error) {
	start := f.nowFunc()

	segments, err := f.store.Segments(ctx, f.cfg.DiscoveryWindow)
	if err != nil {
		return nil, eris.Wrap(err, "bucket: discover segments")
	}

	q := NewQueue()
	for _, seg := range segments {
		if seg.Pending == 0 {
			continue
		}
		q.Push(seg, f.book.For(seg.VertBucket))
	}
	zap.L().Info("bucket: run starting",
		zap.Int("buckets", q.Len()),
		zap.Float64("budget_usd", f.cfg.BudgetUSD),
	)

	summary := &model.FlowSummary{
		BudgetUSD:  f.cfg.BudgetUSD,
		StopReason: model.StopExhausted,
	}
	run := &spendTracker{limit: f.cfg.BudgetUSD}

	for q.Len() > 0 {
		if ctx.Err() != nil {
			break
		}
		if f.cfg.MaxBuckets > 0 && summary.BucketsProcessed >= f.cfg.MaxBuckets {
			summary.StopReason = model.StopBucketCap
			break
		}

		item, _ := q.Pop()
		stats, runOut := f.processBucket(ctx, item, run)
		if stats != nil {
			summary.BucketsProcessed++
			summary.TotalProcessed += stats.Processed
			summary.TotalEnriched += stats.Enriched
			summary.TotalFailed += stats.Failed
			summary.TotalCostUSD += stats.CostUSD
			summary.Buckets = append(summary.Buckets, *stats)
		}
		if runOut {
			summary.StopReason = model.StopBudget
			break
		}
	}

	if n := len(summary.Buckets); n > 0 {
		var sum float64
		for _, b := range summary.Buckets {
			sum += b.SuccessRate
		}
		summary.AverageSuccessRate = sum / float64(n)
	}
	summary.Elapsed = f.nowFunc().Sub(start)

	zap.L().Info("bucket: run finished",
		zap.Int("buckets", summary.BucketsProcessed),
		zap.Int("enriched", summary.TotalEnriched),
		zap.Int("failed", summary.TotalFailed),
		zap.Float64("cost_usd", summary.TotalCostUSD),
		zap.String("stop_reason", string(summary.StopReason)),
	)
	return summary, ctx.Err()
}

// processBucket drains one bucket. The bool result reports run-budget
// exhaustion. A nil stats means the bucket was skipped because its segment
// query failed; that never aborts the run.
func (f *Flow) processBucket(ctx context.Context, item Item, run *spendTracker) (*model.BucketStats, bool) {
	seg, strat := item.Segment, item.Strategy
	begin := f.nowFunc()

	list, err := f.store.ListStale(ctx, seg.GeoBucket, seg.VertBucket, strat.SkipWindow, strat.BatchSize)
	if err != nil {
		zap.L().Error("bucket: segment query failed, skipping bucket",
			zap.String("bucket", seg.Key()),
			zap.Error(err),
		)
		return nil, false
	}

	stats := &model.BucketStats{Key: seg.Key(), Priority: strat.Priority}
	bucket := &spendTracker{limit: strat.MaxBudgetUSD}

	var (
		mu        sync.Mutex
		bucketOut bool // bucket budget exhausted, halt this bucket
		runOut    bool // run budget exhausted, halt the whole run
	)
	halted := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return bucketOut || runOut
	}

	g := new(errgroup.Group)
	g.SetLimit(f.cfg.Concurrency)

	for i := range list {
		if halted() || ctx.Err() != nil {
			mu.Lock()
			stats.Skipped++
			mu.Unlock()
			continue
		}
		b := list[i]
		g.Go(func() error {
			f.enrichOne(ctx, b, strat, run, bucket, stats, &mu, &bucketOut, &runOut)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	stats.Finalize(begin, f.nowFunc())

	mu.Lock()
	out := runOut
	mu.Unlock()
	return stats, out
}

// enrichOne runs every configured source for a single business. The
// business counts as enriched when at least one source succeeded; source
// failures are isolated and recorded, never propagated.
func (f *Flow) enrichOne(ctx context.Context, b model.Business, strat model.BucketStrategy, run, bucket *spendTracker, stats *model.BucketStats, mu *sync.Mutex, bucketOut, runOut *bool) {
	var attempted, enriched bool

	for _, name := range strat.Sources {
		src, ok := f.sources[name]
		if !ok {
			mu.Lock()
			stats.Errors = append(stats.Errors, model.BucketError{
				BusinessID: b.ID, Source: name, Message: "source not configured",
			})
			mu.Unlock()
			continue
		}

		mu.Lock()
		stop := *bucketOut || *runOut
		mu.Unlock()
		if stop {
			break
		}

		est := src.EstimateCost(b)
		if !run.reserve(est) {
			mu.Lock()
			*runOut = true
			mu.Unlock()
			break
		}
		if !bucket.reserve(est) {
			run.release(est)
			mu.Lock()
			*bucketOut = true
			mu.Unlock()
			break
		}

		attempted = true
		req := gateway.Request{
			Provider:         src.Name(),
			Operation:        src.Operation(),
			LeadID:           b.ID,
			CampaignID:       b.CampaignID,
			EstimatedCostUSD: est,
		}
		err := f.gw.Execute(ctx, req, func(ctx context.Context) error {
			return src.Enrich(ctx, &b)
		}, nil)
		if err != nil {
			run.release(est)
			bucket.release(est)
			mu.Lock()
			stats.Errors = append(stats.Errors, model.BucketError{
				BusinessID: b.ID, Source: name, Message: err.Error(),
			})
			mu.Unlock()
			continue
		}

		enriched = true
		mu.Lock()
		stats.CostUSD += est
		mu.Unlock()
	}

	mu.Lock()
	if attempted || enriched {
		stats.Processed++
		if enriched {
			stats.Enriched++
		} else {
			stats.Failed++
		}
	} else {
		stats.Skipped++
	}
	mu.Unlock()

	if enriched {
		if err := f.store.StampEnriched(ctx, b, f.nowFunc().UTC()); err != nil {
			zap.L().Error("bucket: stamp enriched failed",
				zap.String("business_id", b.ID),
				zap.Error(err),
			)
		}
	}
}
