// pcagent is a hierarchical multi-agent PC automation CLI: it decomposes
// natural-language tasks, routes each subtask to a cost-appropriate
// model tier, executes GUI actions, and verifies the outcome.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pcagent/internal/config"
	"pcagent/internal/logging"
)

var (
	configPath string
	verbose    bool

	// cfg is loaded once in PersistentPreRunE and shared by every
	// subcommand.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pcagent",
	Short: "Multi-agent PC automation with cost-aware model routing",
	Long: `pcagent executes natural-language PC tasks through a hierarchy of
agents: a manager decomposes the instruction, a router assigns each
subtask to a model tier within budget, a decision agent drives GUI
actions, and a hybrid evaluator verifies file, visual, and process
outcomes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		return logging.Initialize(logging.Options{
			Dir:        cfg.StateDir,
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.JSONFormat,
			Disabled:   cfg.Logging.Disabled,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "pcagent.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logging.CloseAll()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logging.CloseAll()
		os.Exit(1)
	}
}
