package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/habitnexus/internal/app"
	"github.com/kimhsiao/habitnexus/internal/config"
	"github.com/kimhsiao/habitnexus/internal/db"
	"github.com/kimhsiao/habitnexus/internal/queue"
)

var queueClearYes bool

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or clear the offline queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued mutations in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		store, database, err := openQueue(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		items, err := store.List(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintln(out, "Queue is empty")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMETHOD\tURL\tTYPE\tPRIORITY\tATTEMPTS\tQUEUED AT")
		for _, item := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				item.ID, item.Method, item.URL, item.RequestType, item.Priority, item.Attempts,
				item.CreatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every queued mutation without replaying it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !queueClearYes {
			return fmt.Errorf("refusing to drop queued mutations without --yes")
		}

		cfg, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		store, database, err := openQueue(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		count, err := store.Count(cmd.Context())
		if err != nil {
			return err
		}
		if err := store.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Dropped %d queued request(s)\n", count)
		return nil
	},
}

func init() {
	queueClearCmd.Flags().BoolVar(&queueClearYes, "yes", false, "confirm dropping the queue")
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}

func openQueue(cfg *config.Config) (*queue.SQLiteStore, *db.DB, error) {
	database, err := db.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, err
	}
	store, err := app.NewQueueStore(cfg, database)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return store, database, nil
}
