package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// SessionsCmd manages persisted automation sessions (spec.md §4.7).
func SessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage automation sessions",
	}

	var listLimit, listOffset int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List automation sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := effectiveConfig()
			deps, err := openEngineDeps(cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			sessions, err := deps.store.ListSessions(cmd.Context(), listLimit, listOffset)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions found")
				return nil
			}
			for _, s := range sessions {
				fmt.Printf("%s  %-10s  %s\n", s.ID, s.Status, s.UserGoal)
			}
			return nil
		},
	}
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum sessions to list")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "number of most-recently-updated sessions to skip")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's full transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := effectiveConfig()
			deps, err := openEngineDeps(cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			loaded, err := deps.store.LoadSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("session %s (%s): %s\n", loaded.Session.ID, loaded.Session.Status, loaded.Session.UserGoal)
			for _, m := range loaded.Messages {
				fmt.Printf("  [%s] %d block(s)\n", m.Role, len(m.Content))
			}
			for _, st := range loaded.Steps {
				outcome := "ok"
				if !st.Success {
					outcome = "failed: " + st.ErrorStr
				}
				fmt.Printf("  step %d: %s (%s)\n", st.StepNumber, st.ToolName, outcome)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := effectiveConfig()
			deps, err := openEngineDeps(cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			if err := deps.store.DeleteSession(cmd.Context(), args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("deleted")
			return nil
		},
	})

	return cmd
}
