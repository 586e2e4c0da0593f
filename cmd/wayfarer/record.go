package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wayfarer-dev/wayfarer/internal/recorder"
	"github.com/wayfarer-dev/wayfarer/internal/types"
)

// stdoutRecorderEvents prints recorder events as they arrive, so a human
// running `wayfarer record` sees each captured action in real time.
type stdoutRecorderEvents struct{}

func (stdoutRecorderEvents) OnActionCaptured(action types.RecordedAction) {
	fmt.Printf("  captured: %s %s\n", action.Kind, action.TabURL)
}

func (stdoutRecorderEvents) OnMaxActionsReached(ev recorder.MaxActionsReachedEvent) {
	fmt.Println("  max recording actions reached, stopping")
}

func (stdoutRecorderEvents) OnStopped(session types.RecordingSession) {
	fmt.Printf("recording stopped: %d action(s)\n", len(session.Actions))
}

// RecordCmd records a human browsing session for later automation reuse
// (spec.md §4.4).
func RecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record <start-url>",
		Short: "Record a browser session as reference material for automation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := effectiveConfig()
			deps, err := openEngineDeps(cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			tabID := uuid.NewString()
			rec := recorder.New(deps.surface, stdoutRecorderEvents{}, cfg.MaxRecordingActions)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				fmt.Println("\nstopping recording...")
				cancel()
			}()

			if err := rec.Start(ctx, tabID, args[0]); err != nil {
				return fmt.Errorf("start recording: %w", err)
			}
			fmt.Println("recording... press Ctrl+C to stop")
			<-ctx.Done()

			session := rec.Stop()
			if err := deps.recordings.Save(session); err != nil {
				return fmt.Errorf("save recording: %w", err)
			}
			fmt.Printf("saved recording %s (%d actions)\n", session.ID, len(session.Actions))
			return nil
		},
	}
	return cmd
}
