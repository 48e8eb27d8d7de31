package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/habitnexus/cmd/habitd/handlers"
	"github.com/kimhsiao/habitnexus/internal/app"
	"github.com/kimhsiao/habitnexus/internal/config"
	"github.com/kimhsiao/habitnexus/internal/logging"
)

const shutdownTimeout = 10 * time.Second

var serveEphemeral bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy, sync coordinator and reminder runner",
	Long: `Run habitd in the foreground.

The server listens on server.listen and:
  - proxies every path upstream through the offline interceptor
  - serves the control API under /_habitd/
  - pushes sync status and due reminders over /_habitd/ws
  - replays queued mutations every sync.interval and on reconnect

With --ephemeral the queue, cache and action journal live in memory and are
lost on exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg, serveEphemeral)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveEphemeral, "ephemeral", false, "keep queue, cache and journal in memory")
	rootCmd.AddCommand(serveCmd)
}

// newHandler routes control endpoints and the websocket; everything else is proxied.
func newHandler(a *app.App, hub *WSHub) http.Handler {
	mux := http.NewServeMux()
	handlers.Register(mux, a)
	mux.HandleFunc("GET "+handlers.Prefix+"/ws", HandleWebSocket(hub))
	mux.Handle("/", a.Interceptor)
	return mux
}

func runServer(ctx context.Context, cfg *config.Config, ephemeral bool) error {
	hub := NewWSHub()
	defer hub.Close()

	a, err := app.Build(cfg, app.Options{Ephemeral: ephemeral, Notifier: hub.Notifier()})
	if err != nil {
		return err
	}
	defer a.Close()

	id := a.AddListener(hub.BroadcastSyncStatus)
	defer a.RemoveListener(id)

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           newHandler(a, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Run(ctx)
	})
	g.Go(func() error {
		logging.Info("habitd listening", map[string]interface{}{
			"addr":      cfg.Server.Listen,
			"upstream":  cfg.Upstream.URL,
			"ephemeral": ephemeral,
		})
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logging.Info("habitd stopped", nil)
	return err
}
