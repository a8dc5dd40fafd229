package bucket

import (
	"container/heap"

	"github.com/leadfactory/leadfactory/internal/model"
)

// Item is one bucket waiting to be processed: a segment paired with its
// strategy.
type Item struct {
	Segment  model.Segment
	Strategy model.BucketStrategy

	seq int
}

// Queue dequeues buckets in strict priority order. Within a priority tier
// the order is FIFO by insertion.
type Queue struct {
	h       itemHeap
	nextSeq int
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push enqueues a segment with its strategy.
func (q *Queue) Push(seg model.Segment, strat model.BucketStrategy) {
	heap.Push(&q.h, Item{Segment: seg, Strategy: strat, seq: q.nextSeq})
	q.nextSeq++
}

// Pop dequeues the highest-priority bucket. The second return is false when
// the queue is empty.
func (q *Queue) Pop() (Item, bool) {
	if q.h.Len() == 0 {
		return Item{}, false
	}
	return heap.Pop(&q.h).(Item), true
}

// Len returns the number of queued buckets.
func (q *Queue) Len() int {
	return q.h.Len()
}

type itemHeap []Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	ri, rj := h[i].Strategy.Priority.Rank(), h[j].Strategy.Priority.Rank()
	if ri != rj {
		return ri < rj
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(Item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
