package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/habitnexus/internal/db"
	"github.com/kimhsiao/habitnexus/internal/dispatch"
	"github.com/kimhsiao/habitnexus/internal/reminder"
)

var nextCmd = &cobra.Command{
	Use:   "next <reminder-id>",
	Short: "Show when a reminder fires next",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		source, err := reminder.NewSource(cfg.Reminders.File)
		if err != nil {
			return err
		}
		r, err := source.Get(args[0])
		if err != nil {
			return err
		}
		if err := reminder.Validate(r); err != nil {
			return err
		}

		database, err := db.Open(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		defer database.Close()

		scheduler := reminder.NewScheduler(dispatch.NewJournal(database.DB), &reminder.Config{
			Granularity: time.Minute,
			HorizonDays: cfg.Reminders.HorizonDays,
			Location:    loc,
		})

		out := cmd.OutOrStdout()
		next, ok := scheduler.GetNextOccurrence(cmd.Context(), r)
		if !ok {
			fmt.Fprintf(out, "%s does not fire in the next %d day(s)\n", r.ID, cfg.Reminders.HorizonDays)
			return nil
		}
		fmt.Fprintf(out, "%s fires next at %s\n", r.ID, next.Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(nextCmd)
}
