package host

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Poller re-evaluates the ensemble on its own cadence so the event loop only
// ever reads the latest value.
type Poller struct {
	ensemble *Ensemble
	interval time.Duration
	logger   *zap.Logger
	latest   atomic.Pointer[RiskScore]
}

func NewPoller(e *Ensemble, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{ensemble: e, interval: interval, logger: logger}
}

// Run polls until ctx is done. The first evaluation happens immediately.
func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	rs := p.ensemble.Score(ctx)
	p.latest.Store(&rs)
	p.logger.Debug("host risk evaluated",
		zap.Float64("score", rs.Value),
		zap.Any("components", rs.Components),
		zap.Any("skipped", rs.Skipped))
}

// Latest returns the most recent evaluation; ok is false before the first.
func (p *Poller) Latest() (RiskScore, bool) {
	rs := p.latest.Load()
	if rs == nil {
		return RiskScore{}, false
	}
	return *rs, true
}

// HostRisk is the latest score value, 0 before the first evaluation.
func (p *Poller) HostRisk() float64 {
	rs, _ := p.Latest()
	return rs.Value
}

// Fixed is a constant host score, used when replaying saved logs.
type Fixed float64

func (f Fixed) HostRisk() float64 { return float64(f) }
