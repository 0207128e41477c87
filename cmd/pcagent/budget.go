package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"pcagent/cmd/pcagent/ui"
	"pcagent/internal/router"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show spend against the configured limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker, err := router.NewBudgetTracker(cfg.Budget, cfg.BudgetStatePath())
		if err != nil {
			return err
		}
		defer tracker.Close()

		status := tracker.Status()
		table := ui.NewTable("Budget status", "Period", "Limit", "Spent", "Remaining")
		table.AddRow("daily", limit(cfg.Budget.DailyLimit),
			fmt.Sprintf("$%.2f", status.DailySpent), remaining(status.DailyRemaining))
		table.AddRow("weekly", limit(cfg.Budget.WeeklyLimit),
			fmt.Sprintf("$%.2f", status.WeeklySpent), remaining(status.WeeklyRemaining))
		table.AddRow("monthly", limit(cfg.Budget.MonthlyLimit),
			fmt.Sprintf("$%.2f", status.MonthlySpent), remaining(status.MonthlyRemaining))
		fmt.Println(table.Render())

		if status.Alert != router.AlertOK {
			fmt.Printf("alert: %s\n", status.Alert)
		}
		if breakdown := tracker.Breakdown(); len(breakdown) > 0 {
			models := ui.NewTable("Spend by model", "Model", "Spent")
			for model, spent := range breakdown {
				models.AddRow(model, fmt.Sprintf("$%.4f", spent))
			}
			fmt.Println(models.Render())
		}
		return nil
	},
}

func limit(v float64) string {
	if v <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("$%.2f", v)
}

func remaining(v float64) string {
	if math.IsInf(v, 1) {
		return "unlimited"
	}
	return fmt.Sprintf("$%.2f", v)
}

func init() {
	rootCmd.AddCommand(budgetCmd)
}
