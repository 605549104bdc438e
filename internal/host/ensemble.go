// Package host scores how compromised the local machine looks, from its
// processes, its sockets and a per-process anomaly model.
package host

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"hybrid_monitor/internal/metrics"
	"hybrid_monitor/internal/models"
	"hybrid_monitor/internal/probe"
)

const (
	DetectorProcess = "process"
	DetectorNetwork = "network"
	DetectorAnomaly = "anomaly"
)

type Config struct {
	Rules            []Rule
	TrustedPorts     []uint32
	ConnectionWeight float64
	// Each anomalous process adds min(severity*AnomalyWeight, AnomalyCap).
	AnomalyWeight float64
	AnomalyCap    float64
}

func DefaultConfig() Config {
	return Config{
		Rules:            DefaultRules(),
		TrustedPorts:     []uint32{80, 443, 53, 22},
		ConnectionWeight: 0.3,
		AnomalyWeight:    0.2,
		AnomalyCap:       0.3,
	}
}

// RiskScore is one evaluation of the ensemble. Value is in [0, 1].
type RiskScore struct {
	Value      float64            `json:"score"`
	Components map[string]float64 `json:"components"`
	Skipped    map[string]int     `json:"skipped"`
	At         time.Time          `json:"at"`
}

type Ensemble struct {
	cfg       Config
	inspector Inspector
	// model is nil when no host artifact was loaded.
	model   *models.Host
	trusted map[uint32]struct{}
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewEnsemble(cfg Config, inspector Inspector, model *models.Host, m *metrics.Metrics, logger *zap.Logger) *Ensemble {
	if logger == nil {
		logger = zap.NewNop()
	}
	trusted := make(map[uint32]struct{}, len(cfg.TrustedPorts))
	for _, p := range cfg.TrustedPorts {
		trusted[p] = struct{}{}
	}
	return &Ensemble{
		cfg:       cfg,
		inspector: inspector,
		model:     model,
		trusted:   trusted,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Score runs every detector once. Items that cannot be inspected are counted
// in Skipped and contribute nothing.
func (e *Ensemble) Score(ctx context.Context) RiskScore {
	rs := RiskScore{
		Components: map[string]float64{DetectorProcess: 0, DetectorNetwork: 0, DetectorAnomaly: 0},
		Skipped:    map[string]int{},
		At:         e.now(),
	}

	procs, err := e.inspector.Processes(ctx)
	if err != nil {
		e.logger.Debug("process enumeration failed", zap.Error(err))
		rs.Skipped[DetectorProcess]++
		rs.Skipped[DetectorAnomaly]++
	}
	infos, skipped := probe.Partition(procs)
	e.noteSkipped(&rs, DetectorProcess, skipped)

	rs.Components[DetectorProcess] = e.processScore(infos)
	rs.Components[DetectorAnomaly] = e.anomalyScore(infos, &rs)

	conns, err := e.inspector.Connections(ctx)
	if err != nil {
		e.logger.Debug("connection enumeration failed", zap.Error(err))
		rs.Skipped[DetectorNetwork]++
	}
	established, skipped := probe.Partition(conns)
	e.noteSkipped(&rs, DetectorNetwork, skipped)
	rs.Components[DetectorNetwork] = e.networkScore(established)

	var total float64
	for _, v := range rs.Components {
		total += v
	}
	rs.Value = math.Min(total, 1.0)

	e.record(rs)
	return rs
}

func (e *Ensemble) noteSkipped(rs *RiskScore, detector string, reasons []error) {
	if len(reasons) == 0 {
		return
	}
	rs.Skipped[detector] += len(reasons)
	denied := 0
	for _, r := range reasons {
		if errors.Is(r, ErrEnumerationDenied) {
			denied++
		}
	}
	e.logger.Debug("host items skipped",
		zap.String("detector", detector),
		zap.Int("skipped", len(reasons)),
		zap.Int("denied", denied))
}

func (e *Ensemble) processScore(procs []ProcessInfo) float64 {
	var score float64
	for _, p := range procs {
		score += processWeight(e.cfg.Rules, p.Cmdline)
	}
	return math.Min(score, 1.0)
}

func (e *Ensemble) networkScore(conns []Connection) float64 {
	var score float64
	for _, c := range conns {
		if c.Status != "ESTABLISHED" {
			continue
		}
		if _, ok := e.trusted[c.RemotePort]; ok {
			continue
		}
		score += e.cfg.ConnectionWeight
	}
	return math.Min(score, 1.0)
}

func (e *Ensemble) anomalyScore(procs []ProcessInfo, rs *RiskScore) float64 {
	if e.model == nil {
		return 0
	}
	var score float64
	for _, p := range procs {
		if p.Stats == nil {
			rs.Skipped[DetectorAnomaly]++
			continue
		}
		scaled := e.model.Scaler.Transform(p.Stats.Vector())
		if !e.model.Model.Predict(scaled) {
			continue
		}
		severity := e.model.Model.ScoreSample(scaled)
		score += math.Min(severity*e.cfg.AnomalyWeight, e.cfg.AnomalyCap)
	}
	return math.Min(score, 1.0)
}

func (e *Ensemble) record(rs RiskScore) {
	if e.metrics == nil {
		return
	}
	e.metrics.HostRiskScore.Set(rs.Value)
	for name, v := range rs.Components {
		e.metrics.HostSubScore.WithLabelValues(name).Set(v)
	}
	for name, n := range rs.Skipped {
		e.metrics.HostItemsSkipped.WithLabelValues(name).Add(float64(n))
	}
}
