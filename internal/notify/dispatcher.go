// Package notify delivers emitted alerts. Delivery is best effort: a failed
// send is logged and counted, never retried.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"hybrid_monitor/internal/alert"
	"hybrid_monitor/internal/metrics"
	"hybrid_monitor/internal/util"
)

type Transport interface {
	Name() string
	Send(ctx context.Context, rec alert.Record) error
}

type DispatcherConfig struct {
	QueueSize   int
	SendTimeout time.Duration
	// RatePerSecond <= 0 disables rate limiting.
	RatePerSecond float64
	Burst         int
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{QueueSize: 256, SendTimeout: 10 * time.Second, RatePerSecond: 1, Burst: 10}
}

const queueStream = "alerts"

// Dispatcher queues records from the gate and fans each one out to every
// transport from a single worker.
type Dispatcher struct {
	cfg        DispatcherConfig
	transports []Transport
	queue      *util.BoundedQueue[alert.Record]
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	logger     *zap.Logger
	pending    sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig, transports []Transport, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultDispatcherConfig().SendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Dispatcher{
		cfg:        cfg,
		transports: transports,
		queue:      util.NewBoundedQueue[alert.Record](cfg.QueueSize, m, queueStream),
		limiter:    limiter,
		metrics:    m,
		logger:     logger,
	}
}

// Notify implements alert.Notifier. It never blocks.
func (d *Dispatcher) Notify(_ context.Context, rec alert.Record) {
	if len(d.transports) == 0 {
		return
	}
	if !d.limiter.Allow() {
		d.logger.Warn("alert dropped by rate limit", zap.String("id", rec.ID))
		if d.metrics != nil {
			d.metrics.AlertsSuppressed.WithLabelValues("rate_limited").Inc()
		}
		return
	}
	d.pending.Add(1)
	if !d.queue.TryEnqueue(rec) {
		d.pending.Done()
		d.logger.Warn("alert queue full, dropping", zap.String("id", rec.ID))
	}
}

// Run delivers queued records until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-d.queue.Channel():
			d.queue.Observe()
			d.deliver(ctx, rec)
			d.pending.Done()
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, rec alert.Record) {
	for _, t := range d.transports {
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		err := t.Send(sendCtx, rec)
		cancel()
		if err != nil {
			d.logger.Warn("alert delivery failed",
				zap.String("transport", t.Name()),
				zap.String("id", rec.ID),
				zap.Error(err))
			if d.metrics != nil {
				d.metrics.NotifyErrors.WithLabelValues(t.Name()).Inc()
			}
			continue
		}
		if d.metrics != nil {
			d.metrics.NotifySent.WithLabelValues(t.Name()).Inc()
		}
	}
}

// Flush waits until every accepted record has been handed to the
// transports, or ctx expires.
func (d *Dispatcher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) Transports() []string {
	names := make([]string, len(d.transports))
	for i, t := range d.transports {
		names[i] = t.Name()
	}
	return names
}
