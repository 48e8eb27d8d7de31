// Package main is habitd, the offline-first companion daemon of the habit
// tracker. The UI talks to habitd on localhost; habitd proxies the remote API,
// queues mutations while offline, replays them and polls reminders.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/habitnexus/internal/config"
	"github.com/kimhsiao/habitnexus/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "habitd",
	Short: "Offline-first sync and reminder daemon for the habit tracker",
	Long: `habitd sits between the habit-tracker UI and the remote API.

It proxies every request upstream, answers reads from cache when the network
is down, durably queues mutations that could not be sent and replays them
when connectivity returns. It also polls reminders and records reminder
actions so they survive being offline.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./habitd.yaml or ~/.config/habitd/habitd.yaml)")
}

// setup loads configuration and initializes logging. The returned closer
// flushes the log file.
func setup() (*config.Config, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	out, closer := logging.Output(logging.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	logging.Init(out, logging.ParseLevel(cfg.Log.Level))

	if cfg.File != "" {
		logging.Debug("Configuration loaded", map[string]interface{}{"file": cfg.File})
	}
	return cfg, closer, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
