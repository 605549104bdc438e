package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"hybrid_monitor/internal/alert"
	"hybrid_monitor/internal/fusion"
)

const (
	testAlertScore  = 0.95
	testAlertType   = "Test Alert"
	testAlertSource = "192.168.1.100"
)

var testAlertCmd = &cobra.Command{
	Use:   "test-alert",
	Short: "Send a synthetic alert through the gate and every configured transport",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		dispatcher := a.dispatcher(ctx)
		go dispatcher.Run(ctx)

		gate, err := alert.NewGate(a.cfg.AlertConfig(), dispatcher, a.metrics, a.logger.Named("alert"))
		if err != nil {
			return err
		}
		v := fusion.Verdict{
			Label:      fusion.Malicious,
			FinalScore: testAlertScore,
			Components: fusion.Components{Network: testAlertScore},
		}
		if !gate.MaybeAlert(ctx, v, testAlertType, testAlertSource) {
			return fmt.Errorf("test alert suppressed: threshold is %.2f", a.cfg.Alert.Threshold)
		}
		if err := dispatcher.Flush(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "test alert sent via %v\n", dispatcher.Transports())
		return nil
	},
}
