package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTryAcquire_NoConfig_AlwaysAllowed(t *testing.T) {
	r := NewRegistry(nil)
	for i := 0; i < 100; i++ {
		if d := r.TryAcquire("unknown", "op", 0.5); !d.Allowed {
			t.Fatalf("call %d denied without config", i)
		}
	}
}

func TestTryAcquire_BurstThenDenied(t *testing.T) {
	r := NewRegistry([]Config{
		{Provider: "hunter", RequestsPerMinute: 60, Burst: 3},
	})
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	r.nowFunc = fixedClock(now)

	// Burst of 3 admitted instantly.
	for i := 0; i < 3; i++ {
		if d := r.TryAcquire("hunter", "find", 0); !d.Allowed {
			t.Fatalf("burst call %d denied", i)
		}
	}

	// 4th immediate call denied with a retry hint near one token interval.
	d := r.TryAcquire("hunter", "find", 0)
	if d.Allowed {
		t.Fatal("expected denial after burst exhausted")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Second+100*time.Millisecond {
		t.Errorf("retry-after = %v, want ~1s", d.RetryAfter)
	}

	// After one refill interval (60 rpm = 1 token/s) exactly one more
	// request succeeds.
	r.nowFunc = fixedClock(now.Add(time.Second))
	if d := r.TryAcquire("hunter", "find", 0); !d.Allowed {
		t.Error("expected one call admitted after refill")
	}
	if d := r.TryAcquire("hunter", "find", 0); d.Allowed {
		t.Error("expected second call denied after single refill")
	}
}

func TestTryAcquire_DenialDoesNotConsumeTokens(t *testing.T) {
	r := NewRegistry([]Config{
		{Provider: "hunter", RequestsPerMinute: 60, Burst: 1},
	})
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	r.nowFunc = fixedClock(now)

	if d := r.TryAcquire("hunter", "find", 0); !d.Allowed {
		t.Fatal("first call denied")
	}
	// Repeated denials must not push the retry horizon further out.
	for i := 0; i < 5; i++ {
		if d := r.TryAcquire("hunter", "find", 0); d.Allowed {
			t.Fatal("expected denial")
		}
	}
	r.nowFunc = fixedClock(now.Add(time.Second))
	if d := r.TryAcquire("hunter", "find", 0); !d.Allowed {
		t.Error("token not refilled after repeated denials")
	}
}

func TestTryAcquire_CostBucket(t *testing.T) {
	r := NewRegistry([]Config{
		{
			Provider:          "dataaxle",
			RequestsPerMinute: 6000,
			Burst:             100,
			CostPerMinuteUSD:  0.60, // 1 cent per second refill
			CostBurstUSD:      0.10,
		},
	})
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	r.nowFunc = fixedClock(now)

	// Two $0.05 calls fit the $0.10 cost burst.
	for i := 0; i < 2; i++ {
		if d := r.TryAcquire("dataaxle", "match", 0.05); !d.Allowed {
			t.Fatalf("call %d denied within cost burst", i)
		}
	}

	// Third call exceeds the cost budget even though requests are plentiful.
	d := r.TryAcquire("dataaxle", "match", 0.05)
	if d.Allowed {
		t.Fatal("expected cost-based denial")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("expected positive retry-after, got %v", d.RetryAfter)
	}

	// Zero-cost calls bypass the cost bucket.
	if d := r.TryAcquire("dataaxle", "match", 0); !d.Allowed {
		t.Error("zero-cost call should not hit the cost bucket")
	}
}

func TestTryAcquire_OperationConfigWins(t *testing.T) {
	r := NewRegistry([]Config{
		{Provider: "hunter", RequestsPerMinute: 600, Burst: 10},
		{Provider: "hunter", Operation: "verify", RequestsPerMinute: 60, Burst: 1},
	})
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	r.nowFunc = fixedClock(now)

	if d := r.TryAcquire("hunter", "verify", 0); !d.Allowed {
		t.Fatal("first verify denied")
	}
	if d := r.TryAcquire("hunter", "verify", 0); d.Allowed {
		t.Error("verify should use the tighter operation config")
	}
	// The provider-wide bucket is independent.
	if d := r.TryAcquire("hunter", "find", 0); !d.Allowed {
		t.Error("find should use the provider-wide config")
	}
}

func TestTryAcquire_Concurrent(t *testing.T) {
	t.Parallel()
	r := NewRegistry([]Config{
		{Provider: "hunter", RequestsPerMinute: 60, Burst: 10},
	})
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	r.nowFunc = fixedClock(now)

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d := r.TryAcquire("hunter", "find", 0); d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Exactly the burst size is admitted; no over-admission under contention.
	if allowed != 10 {
		t.Errorf("admitted %d concurrent calls, want exactly 10", allowed)
	}
}
