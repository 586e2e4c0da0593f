// Package cli wires the engine's subcommands the way the teacher's
// cmd/nebo package does: shared package-level flag variables, one
// XxxCmd() constructor per subcommand, and a SetupRootCmd entry point that
// the main package's main() calls Execute() on (see DESIGN.md).
package cli

import (
	"github.com/spf13/cobra"

	"github.com/wayfarer-dev/wayfarer/internal/config"
	"github.com/wayfarer-dev/wayfarer/internal/logging"
)

// Shared CLI flags, used across multiple command files.
var (
	cfgFile  string
	cdpURL   string
	dataDir  string
	verbose  bool
)

// loadedConfig holds the configuration SetupRootCmd resolved, available to
// every subcommand's Run callback.
var loadedConfig config.Config

// SetupRootCmd configures the root command with every subcommand and flag.
func SetupRootCmd(c config.Config) *cobra.Command {
	loadedConfig = c

	rootCmd := &cobra.Command{
		Use:   "wayfarer",
		Short: "Wayfarer - LLM-driven browser automation engine",
		Long: `Wayfarer records a human performing a task in a real browser, then drives an
LLM planner that replays and generalizes the task against a live Chrome
DevTools Protocol session.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !verbose {
				logging.Disable()
			}
			if cfgFile != "" {
				c, err := config.LoadFile(cfgFile)
				if err != nil {
					return err
				}
				loadedConfig = c
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: engine defaults)")
	rootCmd.PersistentFlags().StringVar(&cdpURL, "cdp-url", "", "attach to an already-running Chrome instead of launching one")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the session store / recordings directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(RecordCmd())
	rootCmd.AddCommand(RunCmd())
	rootCmd.AddCommand(ResumeCmd())
	rootCmd.AddCommand(SessionsCmd())
	rootCmd.AddCommand(ServeCmd())

	return rootCmd
}

// effectiveConfig applies the --cdp-url/--data-dir overrides atop the
// loaded config: engine defaults, then the config file (whose ${VAR}
// references are expanded from the environment), then these flags last.
func effectiveConfig() config.Config {
	c := loadedConfig
	if cdpURL != "" {
		c.CDPURL = cdpURL
	}
	if dataDir != "" {
		c.DataDir = dataDir
	}
	return c
}
