package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/keshon/heartflow/internal/config"
	"github.com/keshon/heartflow/internal/mind"
	"github.com/keshon/heartflow/internal/storage"
)

func statusCmd() *cobra.Command {
	var (
		group  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show persisted group state from the datastore",
		Long: `Reads the datastore snapshot (STORAGE_PATH) and prints each group's
heartbeat threshold, energy, mode and counters. Use the status API of a
running instance for live values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			store, err := storage.New(cfg.StoragePath, zerolog.Nop())
			if err != nil {
				return err
			}
			defer store.Close()

			e := mind.New(cfg.Mind(), mind.Deps{Persister: store, Logger: zerolog.Nop()})
			ids := store.Groups()
			if group != "" {
				ids = []string{group}
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no groups in", cfg.StoragePath)
				return nil
			}

			statuses := make([]mind.GroupStatus, 0, len(ids))
			for _, id := range ids {
				e.Store().Group(id)
				e.Registry().EnsureFlow(id)
				statuses = append(statuses, e.Status(id))
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statuses)
			}
			printStatuses(cmd.OutOrStdout(), statuses, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "show a single group")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printStatuses(w io.Writer, statuses []mind.GroupStatus, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tMODE\tTHRESHOLD\tENERGY\tSTREAK\tCONSECUTIVE\tDESTINATION\tLAST TRIGGER")
	for _, st := range statuses {
		last := "never"
		if ago, ok := st.SinceLastTrigger(now); ok {
			last = humanize.RelTime(now.Add(-ago), now, "ago", "from now")
		}
		dest := "no"
		if st.HasDestination {
			dest = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.0f%%\t%d\t%d\t%s\t%s\n",
			st.GroupID, st.Mode, st.Threshold, st.Energy*100, st.Streak, st.Consecutive, dest, last)
	}
	tw.Flush()
}
