package util

import "hybrid_monitor/internal/metrics"

// TrySend delivers v without blocking; a full channel drops it and counts
// the drop against stream.
func TrySend[T any](out chan<- T, m *metrics.Metrics, stream string, v T) bool {
	select {
	case out <- v:
		return true
	default:
		if m != nil {
			m.DroppedLocalTotal.WithLabelValues(stream).Inc()
		}
		return false
	}
}
