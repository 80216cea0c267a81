package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/refactory-tech/refactory/internal/domain/transform"
)

var runCmd = &cobra.Command{
	Use:   "run <changeset>",
	Short: "Plan and execute a changeset",
	Long: `Plan the changes in a changeset file and execute the plan batch by batch.

Every batch is checkpointed, applied, verified, tested, and committed or
rolled back. Gated batches wait for 'refactory approve'. Interrupting the
run (Ctrl-C) stops it cleanly between batches; committed work stays.`,
	Args: cobra.ExactArgs(1),
	RunE: runRunCmd,
}

func init() {
	runCmd.Flags().StringVar(&planBranch, "branch", "", "branch committed batches land on")
	runCmd.Flags().StringVar(&planSubmitter, "submitter", "", "submitter recorded on audit transitions (default: current user)")
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	if cfg.Output.Format != "json" {
		a.engine.Subscribe(printEvent)
	}

	plan, err := submitChangeSet(cmd, a, args[0])
	if err != nil {
		return err
	}
	printInfo(fmt.Sprintf("plan %s: %d waves, %d batches, %d files",
		plan.ID().Short(), len(plan.Waves()), plan.TotalBatches(), plan.TotalFiles()))

	// A canceled context (Ctrl-C) becomes an orderly between-batch stop, not
	// an abort: the in-flight batch finishes or rolls back first.
	ctx := cmd.Context()
	execCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() {
		<-ctx.Done()
		if err := a.engine.Cancel(plan.ID()); err == nil {
			printWarning("cancellation requested, stopping after the current batch")
		}
	}()

	execErr := a.engine.Execute(execCtx, plan.ID())

	if cfg.Output.Format == "json" {
		if err := json.NewEncoder(os.Stdout).Encode(planView(plan)); err != nil {
			return err
		}
	} else {
		fmt.Println()
		renderOutcome(a, plan)
	}
	return execErr
}

// printEvent renders engine events as they happen.
func printEvent(event transform.DomainEvent) {
	switch e := event.(type) {
	case *transform.BatchTransitionedEvent:
		switch e.To {
		case transform.StatusCommitted:
			printSuccess(fmt.Sprintf("batch %s committed", e.BatchID.Short()))
		case transform.StatusRolledBack:
			printError(fmt.Sprintf("batch %s rolled back: %s", e.BatchID.Short(), e.Reason))
		case transform.StatusFailed:
			printError(fmt.Sprintf("batch %s failed: %s", e.BatchID.Short(), e.Reason))
		case transform.StatusBlocked:
			printWarning(fmt.Sprintf("batch %s blocked: %s", e.BatchID.Short(), e.Reason))
		case transform.StatusAwaitingApproval:
			printWarning(fmt.Sprintf("batch %s awaiting approval", e.BatchID.Short()))
		}
	case *transform.ApprovalRequestedEvent:
		printWarning(fmt.Sprintf("approval required: refactory approve %s", e.RequestID))
	case *transform.WaveCompletedEvent:
		printInfo(fmt.Sprintf("wave %s %s", e.WaveID.Short(), e.Status))
	}
}

func renderOutcome(a *app, plan *transform.TransformationPlan) {
	snap, ok := a.tracker.Snapshot(plan.ID())
	if !ok {
		return
	}

	committed := snap.BatchCounts[transform.StatusCommitted]
	total := snap.TotalBatches
	switch {
	case snap.Canceled:
		printWarning(fmt.Sprintf("canceled: %d/%d batches committed", committed, total))
	case committed == total:
		printSuccess(fmt.Sprintf("all %d batches committed", total))
	default:
		printWarning(fmt.Sprintf("%d/%d batches committed", committed, total))
		if snap.LastReason != "" {
			printSubtle("last failure: " + snap.LastReason)
		}
	}
}
