package main

import (
	"context"
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var hostScoreCmd = &cobra.Command{
	Use:   "host-score",
	Short: "Evaluate the host risk ensemble once and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer a.close()

		rs := a.ensemble().Score(context.Background())
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rs)
	},
}
