package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seenimoa/filingwatch/internal/discovery"
	"github.com/seenimoa/filingwatch/internal/jobs"
	"github.com/seenimoa/filingwatch/internal/pipeline"
	"github.com/seenimoa/filingwatch/internal/store"
	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

// --- Run Command ---

var runCmd = &cobra.Command{
	Use:   "run <kind> <external-id> <period>",
	Short: "Ingest one entity for one period",
	Long: `Fetch, parse, reconcile and persist a single (entity, kind, period) unit.

Kinds: institutional-report, legislator-disclosure, net-worth-report.
Periods: a quarter "2024-01-01..2024-03-31", a day "2024-03-09" or a
range. Institutions are registered on first use; legislators must be added
with "entity add" first.`,
	Example: `  filingwatch run institutional-report 1067983 2024-01-01..2024-03-31
  filingwatch run legislator-disclosure S000148 2024-03-09`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		kinds, err := parseKinds(args[:1])
		if err != nil {
			return err
		}
		period, err := models.ParsePeriod(args[2])
		if err != nil {
			return err
		}

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		ref, err := a.entityRef(ctx, kinds[0], args[1])
		if err != nil {
			return err
		}
		out, err := a.pipeline.Run(ctx, pipeline.Unit{Entity: ref, Kind: kinds[0], Period: period})
		printOutcomes([]pipeline.Outcome{*out})
		return err
	},
}

// entityRef resolves a command-line id. Institutions are identified by CIK
// alone; legislator disclosures are searched by name, so those entities must
// be registered.
func (a *app) entityRef(ctx context.Context, kind models.SourceKind, externalID string) (models.EntityRef, error) {
	ek := kind.EntityKind()
	if ek == models.EntityInstitutional {
		externalID = utils.PadCIK(externalID)
	}
	e, err := a.store.EntityByExternalID(ctx, externalID, ek)
	switch {
	case err == nil:
		return e.Ref(), nil
	case errors.Is(err, store.ErrNotFound) && ek == models.EntityInstitutional:
		return models.EntityRef{ExternalID: externalID, Kind: ek}, nil
	case errors.Is(err, store.ErrNotFound):
		return models.EntityRef{}, fmt.Errorf("legislator %s is not registered; run \"filingwatch entity add\" first", externalID)
	default:
		return models.EntityRef{}, err
	}
}

// --- Run-All Command ---

var runAllCmd = &cobra.Command{
	Use:   "run-all",
	Short: "Ingest every tracked entity over a window",
	Long: `Plan one unit per tracked entity, source kind and available period in
the window, then run them with bounded concurrency. Units of one entity run
in period order. With --resume only failed jobs marked resumable are rerun.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		kindArgs, _ := cmd.Flags().GetStringSlice("kinds")
		days, _ := cmd.Flags().GetInt("window-days")
		since, _ := cmd.Flags().GetString("since")
		resume, _ := cmd.Flags().GetBool("resume")

		kinds, err := parseKinds(kindArgs)
		if err != nil {
			return err
		}
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		var units []pipeline.Unit
		if resume {
			units, err = a.resumableUnits(ctx, kinds)
		} else {
			units, err = a.plan(ctx, kinds, since, days)
		}
		if err != nil {
			return err
		}
		if len(units) == 0 {
			fmt.Println("nothing to do")
			return nil
		}

		outcomes, err := a.runner.RunAll(ctx, units)
		printOutcomes(outcomes)
		if err != nil {
			return err
		}
		if n := pipeline.Summarize(outcomes)[models.JobFailed]; n > 0 {
			return fmt.Errorf("%d of %d units failed", n, len(outcomes))
		}
		return nil
	},
}

func (a *app) plan(ctx context.Context, kinds []models.SourceKind, since string, days int) ([]pipeline.Unit, error) {
	w, err := window(since, days)
	if err != nil {
		return nil, err
	}
	entities, err := a.trackedEntities(ctx, kinds)
	if err != nil {
		return nil, err
	}
	a.logger.Info("planning run",
		zap.Int("entities", len(entities)),
		zap.String("window", w.Key()))
	return a.planner.Plan(ctx, entities, kinds, w)
}

// resumableUnits rebuilds units from failed jobs that may be retried.
func (a *app) resumableUnits(ctx context.Context, kinds []models.SourceKind) ([]pipeline.Unit, error) {
	want := make(map[models.SourceKind]bool)
	for _, k := range kinds {
		want[k] = true
	}
	failed, err := a.tracker.List(ctx, jobs.Filter{ResumableOnly: true})
	if err != nil {
		return nil, err
	}
	var units []pipeline.Unit
	for _, j := range failed {
		kind, err := j.TaskType.SourceKind()
		if err != nil || !want[kind] {
			continue
		}
		id, period, err := pipeline.ParseScope(j.Scope)
		if err != nil {
			a.logger.Warn("skipping job with bad scope", zap.Int64("job", j.ID), zap.Error(err))
			continue
		}
		ref, err := a.entityRef(ctx, kind, id)
		if err != nil {
			a.logger.Warn("skipping job", zap.Int64("job", j.ID), zap.Error(err))
			continue
		}
		units = append(units, pipeline.Unit{Entity: ref, Kind: kind, Period: period})
	}
	return units, nil
}

// --- Discover Command ---

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Queue new 13F filings from the EDGAR feed",
	Long: `Read the EDGAR latest-filings feed, keep 13F-HR reports by tracked
institutions and queue one job per (filer, report quarter). With --run the
queued units are ingested right away.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		since, _ := cmd.Flags().GetString("since")
		run, _ := cmd.Flags().GetBool("run")

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		var from models.Period
		if since != "" {
			if from, err = window(since, 0); err != nil {
				return err
			}
		}
		filings, err := a.discoverer.Recent(ctx, from.Start)
		if err != nil {
			return err
		}
		units, err := discovery.Queue(ctx, filings, a.store, a.tracker)
		if err != nil {
			return err
		}
		fmt.Printf("%d filings in feed, %d queued for tracked entities\n", len(filings), len(units))
		if !run || len(units) == 0 {
			for _, u := range units {
				fmt.Println("  " + u.String())
			}
			return nil
		}
		outcomes, err := a.runner.RunAll(ctx, units)
		printOutcomes(outcomes)
		return err
	},
}

func printOutcomes(outcomes []pipeline.Outcome) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tENTITY\tPERIOD\tSTATUS\tDELTAS\tWARNINGS\tERROR")
	for _, o := range outcomes {
		msg := ""
		if o.Err != nil {
			msg = o.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			o.Unit.Kind, o.Unit.Entity.ExternalID, o.Unit.Period.Key(), o.Status,
			o.Result.DeltasWritten, len(o.Warnings), msg)
	}
	w.Flush()

	s := pipeline.Summarize(outcomes)
	fmt.Printf("\n%d succeeded, %d skipped, %d failed\n",
		s[models.JobSucceeded], s[models.JobSkipped], s[models.JobFailed])
}

func init() {
	runAllCmd.Flags().StringSlice("kinds", nil, "source kinds to run (default: all)")
	runAllCmd.Flags().Int("window-days", 0, "look back this many days (default: pipeline.window_days)")
	runAllCmd.Flags().String("since", "", "start of the window, YYYY-MM-DD")
	runAllCmd.Flags().Bool("resume", false, "rerun failed jobs marked resumable")

	discoverCmd.Flags().String("since", "", "read the feed back to this date, YYYY-MM-DD (default: one page)")
	discoverCmd.Flags().Bool("run", false, "ingest queued filings immediately")
}
