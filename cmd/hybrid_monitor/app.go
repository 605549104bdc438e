package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"hybrid_monitor/internal/alert"
	"hybrid_monitor/internal/config"
	"hybrid_monitor/internal/features"
	"hybrid_monitor/internal/fusion"
	"hybrid_monitor/internal/host"
	"hybrid_monitor/internal/logging"
	"hybrid_monitor/internal/metrics"
	"hybrid_monitor/internal/models"
	"hybrid_monitor/internal/notify"
	"hybrid_monitor/internal/pipeline"
	"hybrid_monitor/internal/relay"
)

// app holds what every command needs: configuration, logger, metrics and
// the resources to release on exit.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	closers []func()
}

func newApp(reg prometheus.Registerer) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logger, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	return &app{cfg: cfg, logger: logger, metrics: metrics.New(reg)}, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

// loadNetwork returns nil when the artifact is unusable; the network score
// then contributes 0.
func (a *app) loadNetwork() *models.Network {
	net, err := models.LoadNetwork(a.cfg.Models.Network)
	if err != nil {
		a.logger.Warn("network model unavailable, network score disabled", zap.Error(err))
		a.metrics.ModelUnavailable.WithLabelValues("network").Inc()
		return nil
	}
	a.logger.Info("network model loaded",
		zap.String("path", a.cfg.Models.Network),
		zap.Int("columns", len(net.Columns)),
		zap.Int("dim", net.Classifier.Dim()))
	return net
}

func (a *app) loadHost() *models.Host {
	h, err := models.LoadHost(a.cfg.Models.Host)
	if err != nil {
		a.logger.Warn("host model unavailable, anomaly score disabled", zap.Error(err))
		a.metrics.ModelUnavailable.WithLabelValues("host").Inc()
		return nil
	}
	return h
}

func (a *app) ensemble() *host.Ensemble {
	return host.NewEnsemble(a.cfg.HostConfig(), host.SystemInspector{}, a.loadHost(), a.metrics, a.logger.Named("host"))
}

// transports builds every configured alert channel. A channel that cannot be
// reached at startup is left out with a warning.
func (a *app) transports(ctx context.Context) []notify.Transport {
	n := a.cfg.Notify
	var out []notify.Transport
	if n.Webhook.URL != "" {
		out = append(out, notify.NewWebhook(n.Webhook.URL, n.Webhook.Token, n.Timeout))
	}
	if n.Slack.URL != "" {
		out = append(out, notify.NewSlack(n.Slack.URL, n.Timeout))
	}
	if n.NATS.URL != "" {
		conn, err := notify.ConnectNATS(n.NATS.URL, "hybrid_monitor", a.logger.Named("nats"))
		if err != nil {
			a.logger.Warn("nats transport disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, conn.Close)
			out = append(out, notify.NewNATS(conn, n.NATS.Subject))
		}
	}
	if n.Redis.URL != "" {
		client, err := notify.DialRedis(ctx, n.Redis.URL)
		if err != nil {
			a.logger.Warn("redis transport disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, func() { _ = client.Close() })
			out = append(out, notify.NewRedisStream(client, n.Redis.Stream, n.Redis.MaxLen))
		}
	}
	if n.Archive.Dir != "" {
		archive, err := notify.NewArchive(n.Archive.Dir, n.Archive.MaxBytes)
		if err != nil {
			a.logger.Warn("alert archive disabled", zap.Error(err))
		} else {
			out = append(out, archive)
		}
	}
	return out
}

func (a *app) dispatcher(ctx context.Context) *notify.Dispatcher {
	d := notify.NewDispatcher(a.cfg.DispatcherConfig(), a.transports(ctx), a.metrics, a.logger.Named("notify"))
	a.logger.Info("alert transports", zap.Strings("enabled", d.Transports()))
	return d
}

// newPipeline gives each stream its own correlator and gate.
func (a *app) newPipeline(stream string, net *models.Network, hs pipeline.HostScorer, n alert.Notifier, verdicts io.Writer) (*pipeline.Pipeline, error) {
	corr, err := relay.New(a.cfg.RelayConfig(), a.metrics, stream)
	if err != nil {
		return nil, err
	}
	gate, err := alert.NewGate(a.cfg.AlertConfig(), n, a.metrics, a.logger.Named("alert").With(zap.String("stream", stream)))
	if err != nil {
		return nil, err
	}

	var (
		aligner    *features.Aligner
		classifier pipeline.Classifier
	)
	if net != nil {
		aligner = net.Aligner()
		classifier = net.Classifier
	}
	return pipeline.New(pipeline.Deps{
		Stream:     stream,
		Aligner:    aligner,
		Classifier: classifier,
		Relay:      corr,
		Host:       hs,
		Combiner:   fusion.New(a.cfg.Weights()),
		Gate:       gate,
		Verdicts:   verdicts,
		Metrics:    a.metrics,
		Logger:     a.logger.Named("pipeline"),
	}), nil
}
