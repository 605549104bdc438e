// Package probe carries the outcome of best-effort introspection of one item
// (a process, a socket) so that unavailable items are counted instead of
// silently swallowed.
package probe

import "errors"

var ErrSkipped = errors.New("item skipped")

type Result[T any] struct {
	value  T
	reason error
}

func Ok[T any](v T) Result[T] { return Result[T]{value: v} }

// Skip records that the item could not be inspected. A nil reason is
// replaced with ErrSkipped so IsSkip stays reliable.
func Skip[T any](reason error) Result[T] {
	if reason == nil {
		reason = ErrSkipped
	}
	return Result[T]{reason: reason}
}

func (r Result[T]) IsSkip() bool { return r.reason != nil }

// Value returns the inspected value; ok is false for skipped items.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.reason == nil
}

func (r Result[T]) Reason() error { return r.reason }

// Partition splits results into the values that were read and the reasons
// the rest were skipped.
func Partition[T any](rs []Result[T]) ([]T, []error) {
	var (
		oks     []T
		skipped []error
	)
	for _, r := range rs {
		if r.IsSkip() {
			skipped = append(skipped, r.reason)
			continue
		}
		oks = append(oks, r.value)
	}
	return oks, skipped
}
