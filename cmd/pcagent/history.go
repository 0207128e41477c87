package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pcagent/cmd/pcagent/ui"
	"pcagent/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent task executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.New(cfg.StorePath(), cfg.Store.HistoryLimit)
		if err != nil {
			return err
		}
		defer s.Close()

		executions, err := s.RecentExecutions(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(executions) == 0 {
			fmt.Println("no executions recorded yet")
			return nil
		}

		table := ui.NewTable("Recent executions", "When", "Instruction", "Subtasks", "Cost", "Status")
		for _, e := range executions {
			status := "ok"
			if !e.Success {
				status = "failed"
			}
			table.AddRow(
				e.StartedAt.Local().Format("2006-01-02 15:04"),
				ellipsis(e.Instruction, 48),
				fmt.Sprintf("%d", len(e.SubtaskResults)),
				fmt.Sprintf("$%.4f", e.TotalCost),
				status,
			)
		}
		fmt.Println(table.Render())

		stats, err := s.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%d executions, %.0f%% success, $%.2f total spend\n",
			stats.TotalExecutions, stats.SuccessRate*100, stats.TotalCost)
		return nil
	},
}

func ellipsis(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of executions to show")
	rootCmd.AddCommand(historyCmd)
}
