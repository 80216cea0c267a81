package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/refactory-tech/refactory/internal/domain/transform"
	"github.com/refactory-tech/refactory/internal/orchestrator"
)

var (
	rollbackBatchID string
	rollbackWaveID  string
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <plan-id>",
	Short: "Revert committed work at batch or wave scope",
	Long: `Restore the files of a committed batch, or of every committed batch in a
wave, from their retained checkpoints.

Checkpoints of committed batches are kept past plan completion, so a batch
can still be reverted after a delayed production error surfaces.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackBatchID, "batch", "", "batch ID to revert")
	rollbackCmd.Flags().StringVar(&rollbackWaveID, "wave", "", "wave ID to revert")
	rollbackCmd.MarkFlagsMutuallyExclusive("batch", "wave")
	rollbackCmd.MarkFlagsOneRequired("batch", "wave")
}

func runRollback(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	scope, id := orchestrator.RollbackBatch, rollbackBatchID
	if rollbackWaveID != "" {
		scope, id = orchestrator.RollbackWave, rollbackWaveID
	}

	result, err := a.engine.Rollback(cmd.Context(), transform.PlanID(args[0]), scope, id)
	if err != nil {
		return err
	}

	if cfg.Output.Format == "json" {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	if len(result.Batches) == 0 {
		printWarning("nothing to revert: no committed batch in scope")
		return nil
	}
	printSuccess(fmt.Sprintf("reverted %d batch(es), %d file(s) restored",
		len(result.Batches), len(result.RestoredFiles)))
	for _, path := range result.RestoredFiles {
		printSubtle("  " + path)
	}
	return nil
}
