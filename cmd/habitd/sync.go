package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/habitnexus/internal/app"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay the offline queue once and exit",
	Long: `Replay every queued mutation against the upstream API once.

Mutations that fail stay queued with their attempt count bumped; they are
retried by the next pass or by a running "habitd serve".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		a, err := app.Build(cfg, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.SyncAll(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Replayed %d of %d queued request(s)\n", result.Replayed, result.Batch)
		status := a.GetSyncStatus(cmd.Context())
		for _, e := range status.SyncErrors {
			fmt.Fprintf(out, "  failed %s %s (attempt %d): %s\n", e.RequestID, e.URL, e.Attempts, e.Message)
		}
		if result.Deferred > 0 {
			fmt.Fprintf(out, "  deferred %d request(s) behind a failed one\n", result.Deferred)
		}
		fmt.Fprintf(out, "Still queued: %d\n", status.QueuedRequestsCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
