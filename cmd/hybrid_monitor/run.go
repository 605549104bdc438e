package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hybrid_monitor/internal/conntrack"
	"hybrid_monitor/internal/host"
	"hybrid_monitor/internal/pipeline"
	"hybrid_monitor/internal/tail"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Monitor the live event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}
		defer a.close()
		return a.run()
	},
}

func (a *app) run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		a.logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	go a.serveMetrics(ctx)

	var hostRisk pipeline.HostScorer = host.Fixed(0)
	if a.cfg.Host.Enabled {
		poller := host.NewPoller(a.ensemble(), a.cfg.Host.PollInterval, a.logger.Named("host"))
		go poller.Run(ctx)
		hostRisk = poller
	}

	dispatcher := a.dispatcher(ctx)
	go dispatcher.Run(ctx)

	verdicts, err := pipeline.OpenLog(a.cfg.Output.VerdictLog)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { _ = verdicts.Close() })

	net := a.loadNetwork()

	eve, err := a.newPipeline("eve", net, hostRisk, dispatcher, verdicts)
	if err != nil {
		return err
	}
	openEve := func() (pipeline.Source, error) {
		t, err := tail.Open(a.cfg.Source.EveLog, tail.Options{
			PollInterval: a.cfg.Source.PollInterval,
			Metrics:      a.metrics,
			Logger:       a.logger.Named("tail"),
			Stream:       "eve",
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	}

	var (
		ct     *pipeline.Pipeline
		openCT func() (pipeline.Source, error)
	)
	if a.cfg.Conntrack.Enabled {
		if ct, err = a.newPipeline(conntrack.Stream, net, hostRisk, dispatcher, verdicts); err != nil {
			return err
		}
		openCT = func() (pipeline.Source, error) {
			src, err := conntrack.Open(conntrack.Options{
				QueueDepth:   a.cfg.Conntrack.QueueDepth,
				PollInterval: a.cfg.Source.PollInterval,
				Metrics:      a.metrics,
				Logger:       a.logger.Named("conntrack"),
			})
			if err != nil {
				return nil, err
			}
			return src, nil
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("hybrid monitoring activated", zap.String("eve_log", a.cfg.Source.EveLog))
		if err := pipeline.Supervise(ctx, openEve, eve, a.cfg.Source.ReopenDelay); err != nil {
			errCh <- err
			cancel()
		}
	}()

	if ct != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pipeline.Supervise(ctx, openCT, ct, a.cfg.Source.ReopenDelay); err != nil {
				// The IDS log is the primary source; keep running without conntrack.
				a.logger.Error("conntrack source unavailable", zap.Error(err))
			}
		}()
	}

	wg.Wait()
	close(errCh)
	return <-errCh
}

func (a *app) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Bind, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error("metrics server error", zap.Error(err))
	}
}
