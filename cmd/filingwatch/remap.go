package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

// --- Remap Commands ---

var remapCmd = &cobra.Command{
	Use:   "remap",
	Short: "Manage security identifier remaps",
	Long: `A remap tells reconciliation that an old security identifier (ticker or
CUSIP) now refers to the same holding as a new one, e.g. after a ticker
change, so the position is compared instead of reported closed and opened.`,
}

var remapAddCmd = &cobra.Command{
	Use:     "add <old-id> <new-id>",
	Short:   "Record that old-id is now new-id",
	Example: `  filingwatch remap add FB META --reason "ticker change 2022-06-09"`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		r := models.IdentifierRemap{OldID: args[0], NewID: args[1], Reason: reason}
		if err := a.store.AddRemap(cmd.Context(), r); err != nil {
			return err
		}
		fmt.Printf("remap %s -> %s recorded\n", r.OldID, r.NewID)
		return nil
	},
}

var remapListCmd = &cobra.Command{
	Use:   "list",
	Short: "List identifier remaps",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		remaps, err := a.store.Remaps(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "OLD\tNEW\tREASON\tCREATED (ET)")
		for _, r := range remaps {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.OldID, r.NewID, r.Reason, utils.FormatDateTimeET(r.CreatedAt))
		}
		return w.Flush()
	},
}

func init() {
	remapAddCmd.Flags().String("reason", "", "why the identifier changed")
	remapCmd.AddCommand(remapAddCmd, remapListCmd)
}
