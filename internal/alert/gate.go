// Package alert decides which verdicts become alerts.
package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"hybrid_monitor/internal/fusion"
	"hybrid_monitor/internal/metrics"
)

type Severity string

const (
	Critical Severity = "CRITICAL"
	High     Severity = "HIGH"
	Medium   Severity = "MEDIUM"
	Low      Severity = "LOW"
)

func SeverityFor(score float64) Severity {
	switch {
	case score >= 0.9:
		return Critical
	case score >= 0.75:
		return High
	case score >= 0.6:
		return Medium
	default:
		return Low
	}
}

// Record is what transports deliver.
type Record struct {
	ID             string            `json:"id"`
	Severity       Severity          `json:"severity"`
	Score          float64           `json:"score"`
	AttackType     string            `json:"attack_type"`
	SourceIdentity string            `json:"source"`
	Timestamp      time.Time         `json:"timestamp"`
	Components     fusion.Components `json:"components"`
	Details        string            `json:"details,omitempty"`
}

// Notifier takes ownership of an emitted record. It must not block the
// caller on delivery.
type Notifier interface {
	Notify(ctx context.Context, rec Record)
}

type Config struct {
	Threshold float64
	Cooldown  time.Duration
	// MaxKeys bounds the cooldown table; the least recently alerted key is
	// forgotten first.
	MaxKeys int
}

func DefaultConfig() Config {
	return Config{Threshold: 0.75, Cooldown: 300 * time.Second, MaxKeys: 10000}
}

// Gate applies the score threshold and per-key cooldown. Cooldown state lives
// only in memory and is reset on restart.
type Gate struct {
	cfg      Config
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	last *lru.Cache[string, time.Time]
}

func NewGate(cfg Config, n Notifier, m *metrics.Metrics, logger *zap.Logger) (*Gate, error) {
	if cfg.Threshold <= 0 {
		return nil, errors.New("alert threshold must be positive")
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultConfig().MaxKeys
	}
	last, err := lru.New[string, time.Time](cfg.MaxKeys)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{cfg: cfg, notifier: n, metrics: m, logger: logger, now: time.Now, last: last}, nil
}

// Option tweaks a Record before it is handed to the notifier.
type Option func(*Record)

func WithDetails(details string) Option {
	return func(r *Record) { r.Details = details }
}

// MaybeAlert reports whether v was emitted. A suppressed attempt leaves the
// cooldown clock for its key untouched.
func (g *Gate) MaybeAlert(ctx context.Context, v fusion.Verdict, attackType, source string, opts ...Option) bool {
	if v.FinalScore < g.cfg.Threshold {
		g.suppressed("below_threshold")
		return false
	}

	key := attackType + "_" + source
	now := g.now()

	g.mu.Lock()
	if last, ok := g.last.Get(key); ok && now.Sub(last) < g.cfg.Cooldown {
		g.mu.Unlock()
		g.suppressed("cooldown")
		g.logger.Debug("alert suppressed by cooldown",
			zap.String("key", key),
			zap.Duration("since_last", now.Sub(last)))
		return false
	}
	g.last.Add(key, now)
	g.mu.Unlock()

	rec := Record{
		ID:             uuid.NewString(),
		Severity:       SeverityFor(v.FinalScore),
		Score:          v.FinalScore,
		AttackType:     attackType,
		SourceIdentity: source,
		Timestamp:      now.UTC(),
		Components:     v.Components,
	}
	for _, opt := range opts {
		opt(&rec)
	}

	if g.metrics != nil {
		g.metrics.AlertsEmitted.WithLabelValues(string(rec.Severity)).Inc()
	}
	g.logger.Info("alert",
		zap.String("id", rec.ID),
		zap.String("severity", string(rec.Severity)),
		zap.Float64("score", rec.Score),
		zap.String("attack_type", attackType),
		zap.String("source", source))

	if g.notifier != nil {
		g.notifier.Notify(ctx, rec)
	}
	return true
}

func (g *Gate) suppressed(reason string) {
	if g.metrics != nil {
		g.metrics.AlertsSuppressed.WithLabelValues(reason).Inc()
	}
}
