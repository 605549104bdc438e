package util

import "hybrid_monitor/internal/metrics"

// BoundedQueue is a fixed-capacity FIFO that never blocks producers. Depth
// and drops are reported under its stream label.
type BoundedQueue[T any] struct {
	ch      chan T
	metrics *metrics.Metrics
	stream  string
}

func NewBoundedQueue[T any](size int, m *metrics.Metrics, stream string) *BoundedQueue[T] {
	if size <= 0 {
		size = 1
	}
	return &BoundedQueue[T]{ch: make(chan T, size), metrics: m, stream: stream}
}

func (q *BoundedQueue[T]) TryEnqueue(v T) bool {
	ok := TrySend(q.ch, q.metrics, q.stream, v)
	q.observe()
	return ok
}

// Channel is the consumer side. Consumers should call Observe after each
// receive to keep the depth gauge current.
func (q *BoundedQueue[T]) Channel() <-chan T {
	return q.ch
}

func (q *BoundedQueue[T]) Depth() int {
	return len(q.ch)
}

func (q *BoundedQueue[T]) Observe() { q.observe() }

func (q *BoundedQueue[T]) observe() {
	if q.metrics != nil {
		q.metrics.QueueDepth.WithLabelValues(q.stream).Set(float64(len(q.ch)))
	}
}
