package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/seenimoa/filingwatch/internal/store"
	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

// --- Snapshots / Deltas Commands ---

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots <institutional|legislator> <external-id>",
	Short: "List an entity's stored snapshots",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		e, err := a.lookupEntity(cmd, args[0], args[1])
		if err != nil {
			return err
		}
		snaps, err := a.store.Snapshots(cmd.Context(), store.SnapshotFilter{EntityID: e.ID, IncludeSuperseded: all})
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tPERIOD\tREV\tPOSITIONS\tVALUE\tSTATUS\tWARNINGS")
		for _, s := range snaps {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\t%d\n",
				s.ID, s.SourceKind, s.Period.Key(), s.Revision, s.Summary.Positions,
				formatTotal(s), s.ParseStatus, len(s.Warnings))
		}
		return w.Flush()
	},
}

var deltasCmd = &cobra.Command{
	Use:   "deltas <institutional|legislator> <external-id>",
	Short: "List an entity's position changes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		security, _ := cmd.Flags().GetString("security")
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		e, err := a.lookupEntity(cmd, args[0], args[1])
		if err != nil {
			return err
		}
		deltas, err := a.store.Deltas(cmd.Context(), store.DeltaFilter{
			EntityID:          e.ID,
			SecurityID:        security,
			IncludeSuperseded: all,
		})
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SNAPSHOT\tSECURITY\tNAME\tCHANGE\tAMOUNT\tPCT\tNOW\tFLAGS")
		for _, d := range deltas {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				d.NewSnapshotID, d.SecurityID, d.Name, d.Classification,
				formatChange(d), formatPct(d.ChangePct), formatHolding(d), strings.Join(d.Flags, ","))
		}
		return w.Flush()
	},
}

func (a *app) lookupEntity(cmd *cobra.Command, kind, externalID string) (*models.Entity, error) {
	ek := models.EntityKind(kind)
	if !ek.Valid() {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	if ek == models.EntityInstitutional {
		externalID = utils.PadCIK(externalID)
	}
	return a.store.EntityByExternalID(cmd.Context(), externalID, ek)
}

// formatChange renders the signed change in the delta's basis.
func formatChange(d models.Delta) string {
	switch d.Basis {
	case models.BasisQuantity:
		return signed(d.Change, utils.FormatShares(d.Change.Abs()))
	case models.BasisValue:
		return signed(d.Change, utils.FormatUSD(d.Change.Abs()))
	default:
		return "-"
	}
}

// formatPct renders a ratio as a signed percentage.
func formatPct(v decimal.NullDecimal) string {
	if !v.Valid {
		return "-"
	}
	pct := v.Decimal.Mul(decimal.NewFromInt(100))
	return signed(pct, pct.Abs().StringFixed(1)+"%")
}

func formatHolding(d models.Delta) string {
	switch {
	case d.NewQuantity.Valid:
		return utils.FormatShares(d.NewQuantity.Decimal)
	case d.NewValue != nil:
		return d.NewValue.String()
	default:
		return "-"
	}
}

func formatTotal(s models.Snapshot) string {
	if s.SourceKind == models.SourceNetWorthReport {
		nw := s.Summary.NetWorth()
		if nw.Max.Valid {
			return utils.FormatUSDCompact(nw.Min) + " - " + utils.FormatUSDCompact(nw.Max.Decimal)
		}
		return "over " + utils.FormatUSDCompact(nw.Min)
	}
	return utils.FormatUSDCompact(s.Summary.ValueMin)
}

func signed(v decimal.Decimal, s string) string {
	if v.IsNegative() {
		return "-" + s
	}
	return "+" + s
}

func init() {
	snapshotsCmd.Flags().Bool("all", false, "include superseded revisions")
	deltasCmd.Flags().Bool("all", false, "include superseded deltas")
	deltasCmd.Flags().String("security", "", "only this security id")
	rootCmd.AddCommand(snapshotsCmd, deltasCmd)
}
