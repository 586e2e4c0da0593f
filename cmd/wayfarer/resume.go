package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wayfarer-dev/wayfarer/internal/orchestrator"
)

// ResumeCmd resumes a paused or interrupted automation session from its
// persisted state (spec.md §4.10 "Resumption").
func ResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume a paused automation session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := effectiveConfig()
			deps, err := openEngineDeps(cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			tabID := uuid.NewString()
			tab, err := deps.surface.Attach(tabID)
			if err != nil {
				return fmt.Errorf("attach tab: %w", err)
			}
			defer deps.surface.Detach(tabID)

			orch := orchestrator.New(deps.store, deps.planner, deps.registry, tab, cfg, stdoutOrchestratorEvents{})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				fmt.Println("\ninterrupted")
				cancel()
			}()

			return orch.Resume(ctx, args[0])
		},
	}
	return cmd
}
