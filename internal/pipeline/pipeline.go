// Package pipeline runs the per-source detection loop: read an event, align
// and score it, correlate relays, fuse the detector outputs and gate alerts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"hybrid_monitor/internal/alert"
	"hybrid_monitor/internal/event"
	"hybrid_monitor/internal/features"
	"hybrid_monitor/internal/fusion"
	"hybrid_monitor/internal/metrics"
	"hybrid_monitor/internal/relay"
	"hybrid_monitor/internal/tail"
)

const (
	AttackSteppingStone = "Stepping Stone"
	AttackHybrid        = "Hybrid Detection"
	UnknownSource       = "Unknown"
)

// Source yields events. ErrNoData means "try again"; io.EOF ends a replay.
type Source interface {
	Next(ctx context.Context) (event.Event, error)
	Close() error
}

type Classifier interface {
	Predict(vec features.Vector) float64
}

type HostScorer interface {
	HostRisk() float64
}

// Deps are the collaborators of one pipeline. Relay and Gate hold per-source
// state and must not be shared with another pipeline.
type Deps struct {
	Stream     string
	Aligner    *features.Aligner
	Classifier Classifier
	Relay      *relay.Correlator
	Host       HostScorer
	Combiner   fusion.Combiner
	Gate       *alert.Gate
	Verdicts   io.Writer
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

type Pipeline struct {
	Deps
}

func New(d Deps) *Pipeline {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Stream == "" {
		d.Stream = "eve"
	}
	return &Pipeline{Deps: d}
}

// Process runs one event through every stage and returns its verdict.
func (p *Pipeline) Process(ctx context.Context, ev event.Event) fusion.Verdict {
	network := p.networkScore(ev)

	var relayText string
	if p.Relay != nil && ev.Type == event.TypeFlow {
		relayText = p.Relay.CheckRelay(ev)
	}

	var hostRisk float64
	if p.Host != nil {
		hostRisk = p.Host.HostRisk()
	}

	v := p.Combiner.Fuse(network, hostRisk, relayText != "")
	if p.Metrics != nil {
		p.Metrics.VerdictsTotal.WithLabelValues(p.Stream, string(v.Label)).Inc()
		p.Metrics.FinalScore.Observe(v.FinalScore)
	}
	p.writeVerdict(ev, v)

	if relayText != "" {
		p.Logger.Warn("stepping stone detected", zap.String("stream", p.Stream), zap.String("path", relayText))
	}

	if p.Gate != nil {
		attack, source := Attribution(ev, relayText != "")
		var opts []alert.Option
		if relayText != "" {
			opts = append(opts, alert.WithDetails(relayText))
		}
		p.Gate.MaybeAlert(ctx, v, attack, source, opts...)
	}
	return v
}

func (p *Pipeline) networkScore(ev event.Event) float64 {
	if p.Classifier == nil || p.Aligner == nil {
		return 0
	}
	vec, stats := p.Aligner.Align(ev)
	if p.Metrics != nil {
		if stats.Coerced > 0 {
			p.Metrics.FeatureCoercions.Add(float64(stats.Coerced))
		}
		for _, col := range stats.Unseen {
			p.Metrics.UnseenCategories.WithLabelValues(col).Inc()
		}
	}
	if stats.Coerced > 0 || len(stats.Unseen) > 0 {
		p.Logger.Debug("feature alignment recovered",
			zap.Int("coerced", stats.Coerced),
			zap.Strings("unseen", stats.Unseen))
	}
	return p.Classifier.Predict(vec)
}

// Attribution names the alert: a relay match wins over the IDS signature,
// which wins over the generic label.
func Attribution(ev event.Event, steppingStone bool) (attackType, source string) {
	switch {
	case steppingStone:
		attackType = AttackSteppingStone
	case ev.Signature() != "":
		attackType = ev.Signature()
	default:
		attackType = AttackHybrid
	}
	source = ev.SrcIP.String()
	if source == "" {
		source = UnknownSource
	}
	return attackType, source
}

func (p *Pipeline) writeVerdict(ev event.Event, v fusion.Verdict) {
	if p.Verdicts == nil {
		return
	}
	relay := "no"
	if v.Components.SteppingStone {
		relay = "yes"
	}
	line := fmt.Sprintf("[HYBRID] %s  Score=%.4f  (ANN=%.4f, Host=%.4f, Relay=%s) src=%s dest=%s\n",
		v.Label, v.FinalScore, v.Components.Network, v.Components.Host, relay, ev.SrcIP.String(), ev.DestIP.String())
	if _, err := io.WriteString(p.Verdicts, line); err != nil {
		p.Logger.Warn("verdict log write failed", zap.Error(err))
	}
}

// Run processes events from src until ctx is done or src ends. A replay
// source ending with io.EOF is not an error.
func (p *Pipeline) Run(ctx context.Context, src Source) error {
	for {
		ev, err := src.Next(ctx)
		switch {
		case err == nil:
			p.Process(ctx, ev)
		case errors.Is(err, tail.ErrNoData):
		case errors.Is(err, io.EOF):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return err
		}
	}
}
