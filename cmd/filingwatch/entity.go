package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seenimoa/filingwatch/internal/config"
	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

// --- Entity Commands ---

var entityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Manage tracked entities",
}

var entityAddCmd = &cobra.Command{
	Use:   "add <institutional|legislator> <external-id>",
	Short: "Register or update a tracked entity",
	Example: `  filingwatch entity add institutional 1067983 --name "Berkshire Hathaway"
  filingwatch entity add legislator S000148 --first Charles --last Schumer --party D --state NY`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		ec := config.EntityConfig{Kind: args[0], ExternalID: args[1]}
		ec.Name, _ = flags.GetString("name")
		ec.FirstName, _ = flags.GetString("first")
		ec.LastName, _ = flags.GetString("last")
		ec.Firm, _ = flags.GetString("firm")
		ec.Party, _ = flags.GetString("party")
		ec.Chamber, _ = flags.GetString("chamber")
		ec.State, _ = flags.GetString("state")

		e, err := entityFromConfig(ec)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		saved, err := a.store.RegisterEntity(cmd.Context(), e)
		if err != nil {
			return err
		}
		fmt.Printf("entity %d: %s\n", saved.ID, saved.Ref())
		return nil
	},
}

var entityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		if kind != "" && !models.EntityKind(kind).Valid() {
			return fmt.Errorf("unknown entity kind %q", kind)
		}
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		entities, err := a.store.ListEntities(cmd.Context(), models.EntityKind(kind))
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tEXTERNAL ID\tNAME\tLATEST SNAPSHOT\tUPDATED (ET)")
		for _, e := range entities {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
				e.ID, e.Kind, e.ExternalID, e.DisplayName, e.LatestSnapshotID,
				utils.FormatDateTimeET(e.UpdatedAt))
		}
		return w.Flush()
	},
}

var entitySyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Register every entity listed in the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Entities) == 0 {
			fmt.Println("no entities in config")
			return nil
		}
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, ec := range cfg.Entities {
			e, err := entityFromConfig(ec)
			if err != nil {
				return err
			}
			saved, err := a.store.RegisterEntity(cmd.Context(), e)
			if err != nil {
				return err
			}
			fmt.Printf("  %s\n", saved.Ref())
		}
		fmt.Printf("%d entities synced\n", len(cfg.Entities))
		return nil
	},
}

// entityFromConfig validates one entity definition. Institution CIKs are
// stored zero-padded.
func entityFromConfig(ec config.EntityConfig) (models.Entity, error) {
	e := models.Entity{
		ExternalID:  strings.TrimSpace(ec.ExternalID),
		Kind:        models.EntityKind(ec.Kind),
		DisplayName: ec.Name,
		FirstName:   ec.FirstName,
		LastName:    ec.LastName,
		Firm:        ec.Firm,
		Party:       ec.Party,
		Chamber:     ec.Chamber,
		State:       ec.State,
	}
	switch e.Kind {
	case models.EntityInstitutional:
		e.ExternalID = utils.PadCIK(e.ExternalID)
	case models.EntityLegislator:
		if e.FirstName == "" || e.LastName == "" {
			return e, fmt.Errorf("legislator %s needs a first and last name", e.ExternalID)
		}
		if e.DisplayName == "" {
			e.DisplayName = e.FirstName + " " + e.LastName
		}
	default:
		return e, fmt.Errorf("unknown entity kind %q", ec.Kind)
	}
	return e, nil
}

func init() {
	f := entityAddCmd.Flags()
	f.String("name", "", "display name")
	f.String("first", "", "legislator first name, as filed")
	f.String("last", "", "legislator last name, as filed")
	f.String("firm", "", "management firm")
	f.String("party", "", "party (D, R, I)")
	f.String("chamber", "", "chamber (House, Senate)")
	f.String("state", "", "state")

	entityListCmd.Flags().String("kind", "", "filter by kind (institutional, legislator)")

	entityCmd.AddCommand(entityAddCmd, entityListCmd, entitySyncCmd)
}
