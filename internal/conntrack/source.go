// Package conntrack turns kernel connection-tracking destroy events into flow
// events, so a router without an IDS still feeds the detection pipeline.
package conntrack

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"hybrid_monitor/internal/event"
	"hybrid_monitor/internal/features"
	"hybrid_monitor/internal/metrics"
	"hybrid_monitor/internal/tail"
	"hybrid_monitor/internal/util"
)

const Stream = "conntrack"

var (
	ErrUnsupported = errors.New("conntrack is only available on linux")
	ErrStopped     = errors.New("conntrack listener stopped")
)

type Options struct {
	QueueDepth   int
	PollInterval time.Duration
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

// Record is one finished connection as reported by the kernel.
type Record struct {
	SrcIP        string
	DstIP        string
	SrcPort      uint16
	DstPort      uint16
	Proto        uint8
	BytesOrig    uint64
	BytesReply   uint64
	PacketsOrig  uint64
	PacketsReply uint64
	Ended        time.Time
}

// ToEvent maps a record onto the flow event shape the pipeline expects.
// Conntrack reports no start time, so age is left unset.
func ToEvent(r Record) event.Event {
	return event.Event{
		Type:      event.TypeFlow,
		Timestamp: event.Num(float64(r.Ended.UnixNano()) / 1e9),
		SrcIP:     event.Str(r.SrcIP),
		SrcPort:   event.Num(float64(r.SrcPort)),
		DestIP:    event.Str(r.DstIP),
		DestPort:  event.Num(float64(r.DstPort)),
		Proto:     features.NormalizeProto(event.Num(float64(r.Proto))),
		Flow: &event.Flow{
			PktsToServer:  event.Num(float64(r.PacketsOrig)),
			PktsToClient:  event.Num(float64(r.PacketsReply)),
			BytesToServer: event.Num(float64(r.BytesOrig)),
			BytesToClient: event.Num(float64(r.BytesReply)),
		},
	}
}

// Source buffers converted events for a pipeline. It implements the same
// Next contract as the log tailer.
type Source struct {
	events  chan event.Event
	poll    time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
	stop    func() error

	done     chan struct{}
	doneOnce sync.Once
}

func newSource(opts Options, stop func() error) *Source {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 2000
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = tail.DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Source{
		events:  make(chan event.Event, opts.QueueDepth),
		poll:    opts.PollInterval,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		stop:    stop,
		done:    make(chan struct{}),
	}
}

// stopped marks the kernel subscription as gone.
func (s *Source) stopped() {
	s.doneOnce.Do(func() { close(s.done) })
}

// push hands a record to the pipeline, dropping it if the pipeline is behind.
func (s *Source) push(r Record) bool {
	ev := ToEvent(r)
	if !util.TrySend(s.events, s.metrics, Stream, ev) {
		return false
	}
	if s.metrics != nil {
		s.metrics.EventsTotal.WithLabelValues(Stream, string(ev.Type)).Inc()
	}
	return true
}

func (s *Source) Next(ctx context.Context) (event.Event, error) {
	select {
	case <-ctx.Done():
		return event.Event{}, ctx.Err()
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		return event.Event{}, ErrStopped
	case <-time.After(s.poll):
		return event.Event{}, tail.ErrNoData
	}
}

func (s *Source) Close() error {
	if s.stop == nil {
		return nil
	}
	stop := s.stop
	s.stop = nil
	return stop()
}
