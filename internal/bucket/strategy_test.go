package bucket

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leadfactory/leadfactory/internal/model"
)

func TestStrategyBook_LookupAndFallback(t *testing.T) {
	book := NewStrategyBook(DefaultStrategies())

	hc := book.For("healthcare")
	if hc.Priority != model.PriorityHigh || hc.MaxBudgetUSD != 1000 || hc.BatchSize != 50 {
		t.Errorf("unexpected healthcare strategy: %+v", hc)
	}
	if hc.SkipWindow != 720*time.Hour {
		t.Errorf("healthcare skip window = %v", hc.SkipWindow)
	}

	unknown := book.For("florists")
	if unknown.Key != FallbackKey || unknown.Priority != model.PriorityMinimal {
		t.Errorf("unexpected fallback: %+v", unknown)
	}
}

func TestStrategyBook_SynthesizedFallback(t *testing.T) {
	book := NewStrategyBook([]model.BucketStrategy{
		{Key: "saas", Priority: model.PriorityMedium},
	})
	fb := book.For("unknown")
	if fb.Key != FallbackKey {
		t.Errorf("expected synthesized fallback, got %+v", fb)
	}
}

func writeStrategyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadStrategyBook_MergesOverDefaults(t *testing.T) {
	path := writeStrategyFile(t, `
strategies:
  - key: healthcare
    priority: high
    max_budget_usd: 2500
    batch_size: 25
    sources: [dataaxle]
    skip_window: 240h
  - key: legal
    priority: medium
    max_budget_usd: 300
    batch_size: 40
    sources: [hunter]
    skip_window: 336h
`)

	book, err := LoadStrategyBook(path)
	if err != nil {
		t.Fatalf("LoadStrategyBook: %v", err)
	}

	hc := book.For("healthcare")
	if hc.MaxBudgetUSD != 2500 || hc.BatchSize != 25 || hc.SkipWindow != 240*time.Hour {
		t.Errorf("override not applied: %+v", hc)
	}

	legal := book.For("legal")
	if legal.Priority != model.PriorityMedium || legal.MaxBudgetUSD != 300 {
		t.Errorf("new strategy not loaded: %+v", legal)
	}

	// Untouched defaults survive the merge.
	if saas := book.For("saas"); saas.MaxBudgetUSD != 500 {
		t.Errorf("default saas strategy lost: %+v", saas)
	}
}

func TestLoadStrategyBook_BadDuration(t *testing.T) {
	path := writeStrategyFile(t, `
strategies:
  - key: healthcare
    skip_window: "30 days"
`)
	if _, err := LoadStrategyBook(path); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestLoadStrategyBook_MissingKey(t *testing.T) {
	path := writeStrategyFile(t, `
strategies:
  - priority: high
`)
	if _, err := LoadStrategyBook(path); err == nil {
		t.Fatal("expected error for strategy without key")
	}
}

func TestLoadStrategyBook_MissingFile(t *testing.T) {
	if _, err := LoadStrategyBook("/nonexistent/strategies.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
