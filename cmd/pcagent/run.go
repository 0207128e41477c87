package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pcagent/cmd/pcagent/ui"
	"pcagent/internal/core"
	"pcagent/internal/store"
	"pcagent/internal/types"
)

var (
	runInstruction string
	runTaskFile    string
	runBudget      float64
	runMode        string
	runOutput      string
	runDriver      string
	runTUI         bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a natural-language PC task",
	Example: `  pcagent run -i "open the editor and type 'meeting notes'"
  pcagent run -f tasks.txt --mode cost_saving
  pcagent run -i "..." --tui`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runInstruction == "" && runTaskFile == "" {
			return fmt.Errorf("provide --instruction or --task-file")
		}
		if runBudget > 0 {
			cfg.Budget.DailyLimit = runBudget
		}
		if runMode != "" {
			cfg.Execution.Mode = runMode
		}
		if runDriver != "" {
			cfg.Execution.Driver = runDriver
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx := cmd.Context()

		history, err := store.New(cfg.StorePath(), cfg.Store.HistoryLimit)
		if err != nil {
			return err
		}
		defer history.Close()

		orch, err := core.New(ctx, cfg, core.Deps{Memory: history, History: history})
		if err != nil {
			return err
		}
		defer orch.Close()

		var results []*types.ExecutionResult
		switch {
		case runTaskFile != "":
			results, err = orch.ExecuteTaskFile(ctx, runTaskFile)
		case runTUI:
			var result *types.ExecutionResult
			result, err = ui.Run(ctx, orch, orch.Progress().Subscribe, runInstruction)
			if result != nil {
				results = append(results, result)
			}
		default:
			var result *types.ExecutionResult
			result, err = orch.ExecuteTask(ctx, runInstruction)
			if result != nil {
				results = append(results, result)
			}
		}

		if !runTUI {
			for _, result := range results {
				fmt.Println(ui.Summary(result, err))
			}
		}
		if runOutput != "" && len(results) > 0 {
			if werr := writeResults(runOutput, results); werr != nil {
				return werr
			}
			fmt.Printf("results written to %s\n", runOutput)
		}
		if err != nil {
			return err
		}
		for _, result := range results {
			if !result.Success {
				return fmt.Errorf("task did not complete successfully")
			}
		}
		return nil
	},
}

func writeResults(path string, results []*types.ExecutionResult) error {
	var payload any = results
	if len(results) == 1 {
		payload = results[0]
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func init() {
	runCmd.Flags().StringVarP(&runInstruction, "instruction", "i", "", "task instruction")
	runCmd.Flags().StringVarP(&runTaskFile, "task-file", "f", "", "file with one instruction per line")
	runCmd.Flags().Float64Var(&runBudget, "budget", 0, "override the daily budget limit")
	runCmd.Flags().StringVar(&runMode, "mode", "", "execution mode: cost_saving, balanced, performance")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "write the JSON result to a file")
	runCmd.Flags().StringVar(&runDriver, "driver", "", "action driver: simulated or browser")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "live progress view")
	rootCmd.AddCommand(runCmd)
}
