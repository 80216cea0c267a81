package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/refactory-tech/refactory/internal/domain/transform"
)

var statusCmd = &cobra.Command{
	Use:   "status [plan-id]",
	Short: "Show the state of a plan",
	Long: `Show per-wave and per-batch status of a persisted plan.

Without a plan ID, lists all known plans newest first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	if len(args) == 0 {
		return listPlans(cmd, a)
	}

	plan, err := a.engine.Plan(cmd.Context(), transform.PlanID(args[0]))
	if err != nil {
		return err
	}

	if cfg.Output.Format == "json" {
		return json.NewEncoder(os.Stdout).Encode(planView(plan))
	}

	printTitle(fmt.Sprintf("Plan %s", plan.ID().Short()))
	printSubtle(plan.Codebase())
	fmt.Println()
	for _, wave := range plan.Waves() {
		fmt.Println(styles.Bold.Render(fmt.Sprintf("Wave %d", wave.Order()+1)),
			renderWaveStatus(wave.Status()))
		for _, batch := range wave.Batches() {
			line := fmt.Sprintf("  %s  %s", batch.ID().Short(), renderBatchStatus(batch.Status()))
			if batch.LastReason() != "" {
				line += "  " + styles.Subtle.Render(batch.LastReason())
			}
			fmt.Println(line)
		}
	}
	return nil
}

func listPlans(cmd *cobra.Command, a *app) error {
	plans, err := a.repo.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		printInfo("no plans found")
		return nil
	}

	if cfg.Output.Format == "json" {
		views := make([]planSummary, 0, len(plans))
		for _, plan := range plans {
			views = append(views, planView(plan))
		}
		return json.NewEncoder(os.Stdout).Encode(views)
	}

	for _, plan := range plans {
		fmt.Printf("%s  %s  %d batches  %s\n",
			plan.ID().Short(),
			plan.CreatedAt().Format("2006-01-02 15:04"),
			plan.TotalBatches(),
			styles.Subtle.Render(plan.Codebase()))
	}
	return nil
}

func renderBatchStatus(status transform.BatchStatus) string {
	switch status {
	case transform.StatusCommitted:
		return styles.Success.Render(string(status))
	case transform.StatusRolledBack, transform.StatusFailed:
		return styles.Error.Render(string(status))
	case transform.StatusBlocked, transform.StatusAwaitingApproval:
		return styles.Warning.Render(string(status))
	default:
		return string(status)
	}
}

func renderWaveStatus(status transform.WaveStatus) string {
	switch status {
	case transform.WaveCommitted:
		return styles.Success.Render(string(status))
	case transform.WaveRolledBack:
		return styles.Error.Render(string(status))
	case transform.WaveBlocked:
		return styles.Warning.Render(string(status))
	default:
		return styles.Subtle.Render(string(status))
	}
}
