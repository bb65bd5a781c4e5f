package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seenimoa/filingwatch/api"
)

// --- Serve Command ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only status API",
	Long: `Serve job status, stored snapshots and deltas over HTTP, plus /health and
Prometheus /metrics. Set api.token to require a bearer token on /api/v1.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.API.Port = port
		}
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := api.NewServer(api.Options{
			Config:  cfg,
			Store:   a.store,
			Tracker: a.tracker,
			Metrics: a.metrics,
			Logger:  a.logger,
			Version: version,
		})
		addr := cfg.API.Addr()
		fmt.Printf("filingwatch status API listening on http://%s\n", addr)
		return srv.ListenAndServe(cmd.Context(), addr)
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (default: api.port)")
}
