// filingwatch ingests SEC 13F holdings reports and Senate financial
// disclosures, reconciles each new snapshot against the prior period and
// stores the resulting position changes.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seenimoa/filingwatch/internal/config"
	"github.com/seenimoa/filingwatch/internal/jobs"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "filingwatch",
	Short: "filingwatch: 13F and Senate disclosure ingestion",
	Long: `filingwatch fetches SEC Form 13F-HR holdings reports and Senate eFD
periodic transaction and annual reports, normalizes them into snapshots,
derives position changes between adjacent periods and records every run
in a resumable job log.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.Logging.Level = lvl
		}
		return cfg.Validate()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runAllCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(entityCmd)
	rootCmd.AddCommand(remapCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(serveCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("filingwatch %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Migrate Command ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.store.SchemaVersion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("schema at version %d (%s)\n", v, a.store.Dialect())
		return nil
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  filingwatch: System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Printf("  Time (ET):     %s\n", utils.FormatDateTimeET(utils.NowET()))
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    Database:      %s %s\n", cfg.Database.Driver, config.RedactDSN(cfg.Database.DSN))
		fmt.Printf("    SEC agent:     %s\n", cfg.SEC.UserAgent)
		fmt.Printf("    Concurrency:   %d\n", cfg.Pipeline.Concurrency)
		fmt.Printf("    Thresholds:    abs %s, rel %s\n", cfg.Reconcile.AbsoluteThreshold, cfg.Reconcile.RelativeThreshold)
		if cfg.Fetch.ReplayDir != "" {
			fmt.Printf("    Replay from:   %s\n", cfg.Fetch.ReplayDir)
		}
		fmt.Printf("    Status API:    %s\n", cfg.API.Addr())
		fmt.Println()

		if v, err := a.store.SchemaVersion(ctx); err == nil {
			fmt.Printf("  Schema:        v%d\n", v)
		}
		entities, err := a.store.ListEntities(ctx, "")
		if err != nil {
			return err
		}
		fmt.Printf("  Entities:      %d\n", len(entities))
		recent, err := a.tracker.List(ctx, jobs.Filter{})
		if err != nil {
			return err
		}
		counts := make(map[string]int)
		for _, j := range recent {
			counts[string(j.Status)]++
		}
		fmt.Printf("  Jobs:          %d queued, %d running, %d succeeded, %d skipped, %d failed\n",
			counts["queued"], counts["running"], counts["succeeded"], counts["skipped"], counts["failed"])
		fmt.Println()

		fmt.Println("  Credentials:")
		for _, k := range config.CheckSecrets(cfg) {
			status := "not set"
			if k.IsSet {
				status = fmt.Sprintf("set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}
