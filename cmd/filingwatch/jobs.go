package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seenimoa/filingwatch/internal/jobs"
	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

// --- Jobs Commands ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and maintain the job log",
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List jobs, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		task, _ := flags.GetString("task")
		status, _ := flags.GetString("status")
		resumable, _ := flags.GetBool("resumable")
		limit, _ := flags.GetInt("limit")

		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.tracker.List(cmd.Context(), jobs.Filter{
			TaskType:      models.TaskType(task),
			Status:        models.JobStatus(status),
			ResumableOnly: resumable,
			Limit:         limit,
		})
		if err != nil {
			return err
		}
		printJobs(list)
		return nil
	},
}

var jobsHistoryCmd = &cobra.Command{
	Use:   "history <job-id>",
	Short: "Show a job's status transitions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid job id %q", args[0])
		}
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.tracker.Job(cmd.Context(), id)
		if err != nil {
			return err
		}
		events, err := a.tracker.History(cmd.Context(), id)
		if err != nil {
			return err
		}
		printJobs([]models.JobRecord{*job})
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "AT (ET)\tSTATUS\tATTEMPT\tRUN\tMESSAGE")
		for _, ev := range events {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				utils.FormatDateTimeET(ev.At), ev.Status, ev.Attempt, ev.RunID, ev.Message)
		}
		return w.Flush()
	},
}

var jobsReapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Fail running jobs whose heartbeat stopped",
	Long: `Mark running jobs that have not heartbeated within the timeout as failed
and resumable, so "run-all --resume" picks them up again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		reaped, err := a.tracker.ReapStale(cmd.Context(), timeout)
		if err != nil {
			return err
		}
		fmt.Printf("%d stale jobs reaped\n", len(reaped))
		if len(reaped) > 0 {
			printJobs(reaped)
		}
		return nil
	},
}

var jobsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old finished jobs and their history",
	Long: `Delete succeeded, skipped and non-resumable failed jobs last updated
before the retention period. Queued, running and resumable jobs are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			olderThan = cfg.Jobs.RetainFor
		}
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.tracker.Prune(cmd.Context(), olderThan)
		if err != nil {
			return err
		}
		fmt.Printf("%d jobs older than %s pruned\n", n, olderThan)
		return nil
	},
}

func printJobs(list []models.JobRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTASK\tSCOPE\tSTATUS\tATTEMPTS\tRESUMABLE\tUPDATED (ET)\tERROR")
	for _, j := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%t\t%s\t%s\n",
			j.ID, j.TaskType, j.Scope, j.Status, j.Attempts, j.Resumable,
			utils.FormatDateTimeET(j.UpdatedAt), j.LastError)
	}
	w.Flush()
}

func init() {
	f := jobsStatusCmd.Flags()
	f.String("task", "", "filter by task (sec_13f, congress_trades, net_worth)")
	f.String("status", "", "filter by status (queued, running, succeeded, failed, skipped)")
	f.Bool("resumable", false, "only failed jobs that may be retried")
	f.Int("limit", 50, "maximum number of jobs")

	jobsReapCmd.Flags().Duration("timeout", 0, "heartbeat age after which a job is stale (default: jobs.stale_after)")

	jobsPruneCmd.Flags().Duration("older-than", 0, "retention period (default: jobs.retain_for)")

	jobsCmd.AddCommand(jobsStatusCmd, jobsHistoryCmd, jobsReapCmd, jobsPruneCmd)
}
