package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/refactory-tech/refactory/internal/approval"
)

var (
	approveReject bool
	approveReason string
	approveActor  string
)

var approveCmd = &cobra.Command{
	Use:   "approve [request-id]",
	Short: "Decide a pending approval request",
	Long: `Approve or reject a high-risk batch waiting at the approval gate.

Without a request ID, lists pending requests. Decisions are shared through
the approval store, so a run waiting in another process picks them up.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApprove,
}

func init() {
	approveCmd.Flags().BoolVar(&approveReject, "reject", false, "reject instead of approve")
	approveCmd.Flags().StringVar(&approveReason, "reason", "", "reason recorded with the decision")
	approveCmd.Flags().StringVar(&approveActor, "actor", "", "deciding actor (default: current user)")
}

func runApprove(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	if len(args) == 0 {
		return listPending(cmd, a)
	}

	actor := approveActor
	if actor == "" {
		actor = submitter()
	}
	if approveReject && approveReason == "" {
		return fmt.Errorf("a rejection needs --reason")
	}

	if err := a.engine.Approve(cmd.Context(), args[0], actor, !approveReject, approveReason); err != nil {
		return err
	}
	if approveReject {
		printSuccess(fmt.Sprintf("request %s rejected", args[0]))
	} else {
		printSuccess(fmt.Sprintf("request %s approved", args[0]))
	}
	return nil
}

func listPending(cmd *cobra.Command, a *app) error {
	pending, err := a.gate.Pending(cmd.Context())
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		printInfo("no pending approval requests")
		return nil
	}

	if cfg.Output.Format == "json" {
		type requestView struct {
			RequestID   string    `json:"request_id"`
			PlanID      string    `json:"plan_id"`
			UnitID      string    `json:"unit_id"`
			RiskValue   float64   `json:"risk_value"`
			RiskLevel   string    `json:"risk_level"`
			Description string    `json:"description"`
			Deadline    time.Time `json:"deadline"`
		}
		views := make([]requestView, 0, len(pending))
		for _, req := range pending {
			views = append(views, requestView{
				RequestID:   req.ID(),
				PlanID:      req.PlanID().String(),
				UnitID:      req.UnitID(),
				RiskValue:   req.Risk().Value,
				RiskLevel:   string(req.Risk().Level),
				Description: req.Description(),
				Deadline:    req.Deadline(),
			})
		}
		return json.NewEncoder(os.Stdout).Encode(views)
	}

	printTitle(fmt.Sprintf("%d pending request(s)", len(pending)))
	for _, req := range pending {
		renderRequest(req)
	}
	return nil
}

func renderRequest(req *approval.Request) {
	fmt.Println()
	fmt.Println(styles.Bold.Render(req.ID()))
	fmt.Printf("  risk:        %.0f (%s)\n", req.Risk().Value, req.Risk().Level)
	fmt.Printf("  deadline:    %s\n", req.Deadline().Format(time.RFC3339))
	if req.Description() != "" {
		fmt.Printf("  description: %s\n", req.Description())
	}
	printSubtle(fmt.Sprintf("  approve with: refactory approve %s", req.ID()))
}
