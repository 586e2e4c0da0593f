package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wayfarer-dev/wayfarer/internal/bcs"
	"github.com/wayfarer-dev/wayfarer/internal/orchestrator"
	"github.com/wayfarer-dev/wayfarer/internal/types"
)

// stdoutOrchestratorEvents prints automation progress to stdout.
type stdoutOrchestratorEvents struct{}

func (stdoutOrchestratorEvents) OnProgress(sessionID string, event orchestrator.ProgressEvent, detail any) {
	fmt.Printf("[%s] %s: %v\n", sessionID, event, detail)
}

// RunCmd drives a fresh automation session toward a user goal (spec.md
// §4.10).
func RunCmd() *cobra.Command {
	var recordingID string
	var startURL string

	cmd := &cobra.Command{
		Use:   "run <goal...>",
		Short: "Run a new automation session toward a goal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := effectiveConfig()
			deps, err := openEngineDeps(cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			var cached *types.RecordingSession
			if recordingID != "" {
				cached, err = deps.recordings.Load(recordingID)
				if err != nil {
					return fmt.Errorf("load recording: %w", err)
				}
			}

			tabID := uuid.NewString()
			tab, err := deps.surface.Attach(tabID)
			if err != nil {
				return fmt.Errorf("attach tab: %w", err)
			}
			defer deps.surface.Detach(tabID)

			if startURL != "" {
				if err := tab.Navigate(context.Background(), startURL, bcs.WaitNetworkIdle, cfg.Timeouts.Navigate); err != nil {
					return fmt.Errorf("navigate to start url: %w", err)
				}
			}

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

			goal := strings.Join(args, " ")
			return orch.Run(ctx, goal, recordingID, cached)
		},
	}

	cmd.Flags().StringVar(&recordingID, "recording", "", "ID of a prior recording to ground the plan on")
	cmd.Flags().StringVar(&startURL, "url", "", "URL to navigate the tab to before starting")
	return cmd
}
