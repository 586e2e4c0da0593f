package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wayfarer-dev/wayfarer/internal/logging"
	"github.com/wayfarer-dev/wayfarer/internal/server"
)

// ServeCmd starts the HTTP/WebSocket surface a desktop shell drives the
// engine through (spec.md §6 "To the desktop shell/UI layer").
func ServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the engine's HTTP/WebSocket command and event surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := effectiveConfig()
			deps, err := openEngineDeps(cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			srv := server.New(cfg, deps.surface, deps.store, deps.recordings, deps.registry, deps.planner)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go srv.Hub().Run(ctx)

			httpServer := &http.Server{Addr: addr, Handler: srv.Router()}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				fmt.Println("\nshutting down...")
				cancel()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				httpServer.Shutdown(shutdownCtx)
			}()

			logging.Infof("wayfarer serving on %s", addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8787", "address to listen on")
	return cmd
}
