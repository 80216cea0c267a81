package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/refactory-tech/refactory/internal/domain/transform"
	"github.com/refactory-tech/refactory/internal/orchestrator"
)

var (
	planBranch    string
	planSubmitter string
)

var planCmd = &cobra.Command{
	Use:   "plan <changeset>",
	Short: "Score a changeset and show the execution plan",
	Long: `Score the changes in a changeset file, fold them into batches and waves,
and print the resulting plan without touching any file.

The plan is persisted; 'refactory status' can inspect it later.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanCmd,
}

func init() {
	planCmd.Flags().StringVar(&planBranch, "branch", "", "branch committed batches land on")
	planCmd.Flags().StringVar(&planSubmitter, "submitter", "", "submitter recorded on audit transitions (default: current user)")
}

func runPlanCmd(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	plan, err := submitChangeSet(cmd, a, args[0])
	if err != nil {
		return err
	}

	if cfg.Output.Format == "json" {
		return json.NewEncoder(os.Stdout).Encode(planView(plan))
	}
	renderPlan(plan)
	return nil
}

// submitChangeSet loads a changeset file and submits it to the engine.
func submitChangeSet(cmd *cobra.Command, a *app, path string) (*transform.TransformationPlan, error) {
	cs, changes, err := loadChangeSet(path, a.root)
	if err != nil {
		return nil, err
	}

	branch := planBranch
	if branch == "" {
		branch = cs.Branch
	}

	return a.engine.Submit(cmd.Context(), orchestrator.Request{
		Codebase:  a.root,
		Branch:    branch,
		Changes:   changes,
		Submitter: submitter(),
	})
}

func submitter() string {
	if planSubmitter != "" {
		return planSubmitter
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

func renderPlan(plan *transform.TransformationPlan) {
	printTitle(fmt.Sprintf("Plan %s", plan.ID().Short()))
	printSubtle(fmt.Sprintf("%d waves, %d batches, %d files",
		len(plan.Waves()), plan.TotalBatches(), plan.TotalFiles()))
	fmt.Println()

	for _, wave := range plan.Waves() {
		mode := "sequential"
		if wave.Disjoint() {
			mode = "disjoint"
		}
		fmt.Println(styles.Bold.Render(fmt.Sprintf("Wave %d", wave.Order()+1)),
			styles.Subtle.Render(fmt.Sprintf("(%s, %d batches)", mode, len(wave.Batches()))))

		for _, batch := range wave.Batches() {
			risk := batch.Risk()
			line := fmt.Sprintf("  %s  risk %.0f (%s)  %d files",
				batch.ID().Short(), risk.Value, risk.Level, len(batch.Files()))
			if batch.Gated() {
				line += "  " + styles.Warning.Render("approval required")
			}
			fmt.Println(line)
			for _, change := range batch.Files() {
				printSubtle(fmt.Sprintf("      %s (%s)", change.Path, change.Kind))
			}
		}
	}
}

// planSummary is the JSON shape of a plan for machine consumption.
type planSummary struct {
	PlanID  string        `json:"plan_id"`
	Waves   []waveSummary `json:"waves"`
	Batches int           `json:"batches"`
	Files   int           `json:"files"`
}

type waveSummary struct {
	WaveID   string         `json:"wave_id"`
	Order    int            `json:"order"`
	Disjoint bool           `json:"disjoint"`
	Status   string         `json:"status"`
	Batches  []batchSummary `json:"batches"`
}

type batchSummary struct {
	BatchID   string   `json:"batch_id"`
	RiskValue float64  `json:"risk_value"`
	RiskLevel string   `json:"risk_level"`
	Gated     bool     `json:"gated"`
	Status    string   `json:"status"`
	Reason    string   `json:"reason,omitempty"`
	Files     []string `json:"files"`
}

func planView(plan *transform.TransformationPlan) planSummary {
	out := planSummary{
		PlanID:  plan.ID().String(),
		Batches: plan.TotalBatches(),
		Files:   plan.TotalFiles(),
	}
	for _, wave := range plan.Waves() {
		wv := waveSummary{
			WaveID:   wave.ID().String(),
			Order:    wave.Order(),
			Disjoint: wave.Disjoint(),
			Status:   string(wave.Status()),
		}
		for _, batch := range wave.Batches() {
			wv.Batches = append(wv.Batches, batchSummary{
				BatchID:   batch.ID().String(),
				RiskValue: batch.Risk().Value,
				RiskLevel: string(batch.Risk().Level),
				Gated:     batch.Gated(),
				Status:    string(batch.Status()),
				Reason:    batch.LastReason(),
				Files:     batch.Paths(),
			})
		}
		out.Waves = append(out.Waves, wv)
	}
	return out
}
