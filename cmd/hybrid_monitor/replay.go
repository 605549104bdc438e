package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"hybrid_monitor/internal/alert"
	"hybrid_monitor/internal/host"
	"hybrid_monitor/internal/notify"
	"hybrid_monitor/internal/pipeline"
	"hybrid_monitor/internal/tail"
)

var (
	replayHostScore float64
	replayOut       string
	replayNotify    bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <eve.json>",
	Short: "Run a saved event log through a fresh pipeline",
	Long: `replay reads the log from its first line and exits at its end. The relay
correlator runs on event time, so a replay reproduces the live verdicts for
the same host score.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer a.close()
		return a.replay(cmd.Context(), args[0], cmd.OutOrStdout())
	},
}

func init() {
	replayCmd.Flags().Float64Var(&replayHostScore, "host-score", 0, "Host risk used for every event")
	replayCmd.Flags().StringVar(&replayOut, "out", "", "Write verdict lines here instead of stdout")
	replayCmd.Flags().BoolVar(&replayNotify, "notify", false, "Deliver alerts through the configured transports")
}

func (a *app) replay(ctx context.Context, path string, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	verdicts := stdout
	if replayOut != "" {
		w, err := pipeline.OpenLog(replayOut)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = w.Close() })
		verdicts = w
	}

	var (
		notifier   alert.Notifier
		dispatcher *notify.Dispatcher
	)
	if replayNotify {
		dispatcher = a.dispatcher(ctx)
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go dispatcher.Run(runCtx)
		notifier = dispatcher
	}

	p, err := a.newPipeline("replay", a.loadNetwork(), host.Fixed(replayHostScore), notifier, verdicts)
	if err != nil {
		return err
	}
	src, err := tail.OpenReplay(path, tail.Options{Metrics: a.metrics, Logger: a.logger.Named("tail"), Stream: "replay"})
	if err != nil {
		return err
	}
	defer src.Close()

	if err := p.Run(ctx, src); err != nil {
		return err
	}
	if dispatcher != nil {
		flushCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := dispatcher.Flush(flushCtx); err != nil {
			fmt.Fprintf(os.Stderr, "alerts still pending: %v\n", err)
		}
	}
	return nil
}
