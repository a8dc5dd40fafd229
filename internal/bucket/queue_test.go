package bucket

import (
	"testing"

	"github.com/leadfactory/leadfactory/internal/model"
)

func seg(geo, vert string, pending int) model.Segment {
	return model.Segment{GeoBucket: geo, VertBucket: vert, Pending: pending}
}

func stratWithPriority(p model.Priority) model.BucketStrategy {
	return model.BucketStrategy{Key: string(p), Priority: p}
}

func TestQueue_StrictPriorityOrder(t *testing.T) {
	q := NewQueue()
	q.Push(seg("west", "restaurants", 1), stratWithPriority(model.PriorityLow))
	q.Push(seg("west", "healthcare", 1), stratWithPriority(model.PriorityHigh))
	q.Push(seg("west", "other", 1), stratWithPriority(model.PriorityMinimal))
	q.Push(seg("west", "saas", 1), stratWithPriority(model.PriorityMedium))

	want := []string{"west/healthcare", "west/saas", "west/restaurants", "west/other"}
	for i, expected := range want {
		item, ok := q.Pop()
		if !ok {
			t.Fatalf("queue empty at %d", i)
		}
		if item.Segment.Key() != expected {
			t.Errorf("pop %d = %s, want %s", i, item.Segment.Key(), expected)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("expected empty queue")
	}
}

func TestQueue_FIFOWithinTier(t *testing.T) {
	q := NewQueue()
	high := stratWithPriority(model.PriorityHigh)
	q.Push(seg("a", "healthcare", 1), high)
	q.Push(seg("b", "healthcare", 1), high)
	q.Push(seg("c", "healthcare", 1), high)

	for _, expected := range []string{"a/healthcare", "b/healthcare", "c/healthcare"} {
		item, _ := q.Pop()
		if item.Segment.Key() != expected {
			t.Errorf("got %s, want %s", item.Segment.Key(), expected)
		}
	}
}

func TestQueue_InterleavedTiers(t *testing.T) {
	q := NewQueue()
	q.Push(seg("a", "saas", 1), stratWithPriority(model.PriorityMedium))
	q.Push(seg("b", "healthcare", 1), stratWithPriority(model.PriorityHigh))
	q.Push(seg("c", "saas", 1), stratWithPriority(model.PriorityMedium))
	q.Push(seg("d", "healthcare", 1), stratWithPriority(model.PriorityHigh))

	want := []string{"b/healthcare", "d/healthcare", "a/saas", "c/saas"}
	for i, expected := range want {
		item, _ := q.Pop()
		if item.Segment.Key() != expected {
			t.Errorf("pop %d = %s, want %s", i, item.Segment.Key(), expected)
		}
	}
}

func TestQueue_Len(t *testing.T) {
	q := NewQueue()
	if q.Len() != 0 {
		t.Errorf("new queue len = %d", q.Len())
	}
	q.Push(seg("a", "saas", 1), stratWithPriority(model.PriorityMedium))
	q.Push(seg("b", "saas", 1), stratWithPriority(model.PriorityMedium))
	if q.Len() != 2 {
		t.Errorf("len = %d, want 2", q.Len())
	}
	q.Pop()
	if q.Len() != 1 {
		t.Errorf("len after pop = %d, want 1", q.Len())
	}
}
