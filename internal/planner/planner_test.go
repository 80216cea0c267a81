package planner

import (
	"errors"
	"strings"
	"testing"

	"github.com/refactory-tech/refactory/internal/config"
	"github.com/refactory-tech/refactory/internal/domain/transform"
)

// flatScorer returns a fixed low score so batch levels are driven entirely
// by the member changes under test.
type flatScorer struct{}

func (flatScorer) AssessBatch(changes []transform.FileChange) transform.RiskScore {
	return transform.RiskScore{Value: 1, Level: transform.RiskLow}
}

func scored(path string, level transform.RiskLevel, value float64, deps ...string) ScoredChange {
	return ScoredChange{
		Change: transform.FileChange{
			Path:      path,
			Kind:      transform.KindRename,
			Language:  "go",
			Coverage:  0.8,
			DependsOn: deps,
			Before:    []byte("package a\n"),
			After:     []byte("package a\n\nvar x = 1\n"),
		},
		Score: transform.RiskScore{Value: value, Level: level},
	}
}

func withLines(sc ScoredChange, lines int) ScoredChange {
	sc.Change.Before = nil
	sc.Change.After = []byte(strings.Repeat("x\n", lines))
	return sc
}

func newPlanner(maxFiles, maxLines int) *Planner {
	return New(config.PlannerConfig{MaxFilesPerBatch: maxFiles, MaxLinesPerBatch: maxLines}, flatScorer{})
}

func TestPlanEmptyInput(t *testing.T) {
	plan, err := newPlanner(10, 500).Plan("/repo", nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !plan.Empty() {
		t.Fatal("expected an empty plan for empty input")
	}
	if plan.Codebase() != "/repo" {
		t.Fatalf("codebase = %q", plan.Codebase())
	}
}

func TestPlanOrdersByAscendingRisk(t *testing.T) {
	plan, err := newPlanner(10, 500).Plan("/repo", []ScoredChange{
		scored("c.go", transform.RiskLow, 18),
		scored("a.go", transform.RiskLow, 4),
		scored("b.go", transform.RiskLow, 11),
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	waves := plan.Waves()
	if len(waves) != 1 || len(waves[0].Batches()) != 1 {
		t.Fatalf("expected 1 wave with 1 batch, got %d waves", len(waves))
	}
	got := waves[0].Batches()[0].Paths()
	want := []string{"a.go", "b.go", "c.go"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestPlanDependencyOutranksRisk(t *testing.T) {
	// The risky change must go first: something depends on it.
	plan, err := newPlanner(10, 500).Plan("/repo", []ScoredChange{
		scored("leaf.go", transform.RiskLow, 3, "core.go"),
		scored("core.go", transform.RiskHigh, 60),
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	waves := plan.Waves()
	if len(waves) != 2 {
		t.Fatalf("expected 2 waves, got %d", len(waves))
	}
	if got := waves[0].Batches()[0].Paths(); got[0] != "core.go" {
		t.Fatalf("first wave holds %v, want core.go", got)
	}
	if got := waves[1].Batches()[0].Paths(); got[0] != "leaf.go" {
		t.Fatalf("second wave holds %v, want leaf.go", got)
	}
	prereqs := waves[1].Prerequisites()
	if len(prereqs) != 1 || prereqs[0] != waves[0].ID() {
		t.Fatalf("second wave prerequisites = %v, want [%s]", prereqs, waves[0].ID())
	}
}

func TestPlanOutOfSetDependencyIsSatisfied(t *testing.T) {
	// Depending on a file that is not being changed imposes no ordering.
	plan, err := newPlanner(10, 500).Plan("/repo", []ScoredChange{
		scored("a.go", transform.RiskLow, 5, "vendor/lib.go"),
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.TotalBatches() != 1 {
		t.Fatalf("TotalBatches = %d", plan.TotalBatches())
	}
}

func TestPlanRejectsCycle(t *testing.T) {
	_, err := newPlanner(10, 500).Plan("/repo", []ScoredChange{
		scored("a.go", transform.RiskLow, 5, "b.go"),
		scored("b.go", transform.RiskLow, 5, "a.go"),
		scored("free.go", transform.RiskLow, 5),
	})
	if !errors.Is(err, transform.ErrCyclicDependency) {
		t.Fatalf("err = %v, want ErrCyclicDependency", err)
	}
	var cyc *transform.CycleError
	if !errors.As(err, &cyc) {
		t.Fatalf("err = %v, want *CycleError", err)
	}
	if len(cyc.Members) != 2 {
		t.Fatalf("cycle members = %v, want the two cyclic paths", cyc.Members)
	}
}

func TestPlanRejectsDuplicatePath(t *testing.T) {
	_, err := newPlanner(10, 500).Plan("/repo", []ScoredChange{
		scored("a.go", transform.RiskLow, 5),
		scored("a.go", transform.RiskLow, 7),
	})
	if err == nil || !strings.Contains(err.Error(), "duplicate change") {
		t.Fatalf("err = %v, want duplicate path error", err)
	}
}

func TestFoldCapsFilesPerBatch(t *testing.T) {
	plan, err := newPlanner(2, 500).Plan("/repo", []ScoredChange{
		scored("a.go", transform.RiskLow, 1),
		scored("b.go", transform.RiskLow, 2),
		scored("c.go", transform.RiskLow, 3),
		scored("d.go", transform.RiskLow, 4),
		scored("e.go", transform.RiskLow, 5),
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	waves := plan.Waves()
	if len(waves) != 1 {
		t.Fatalf("expected 1 wave, got %d", len(waves))
	}
	var sizes []int
	for _, b := range waves[0].Batches() {
		sizes = append(sizes, len(b.Files()))
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Fatalf("batch sizes = %v, want [2 2 1]", sizes)
	}
}

func TestFoldCapsLinesPerBatch(t *testing.T) {
	plan, err := newPlanner(10, 10).Plan("/repo", []ScoredChange{
		withLines(scored("a.go", transform.RiskLow, 1), 6),
		withLines(scored("b.go", transform.RiskLow, 2), 6),
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.TotalBatches() != 2 {
		t.Fatalf("TotalBatches = %d, want each change in its own batch", plan.TotalBatches())
	}
}

func TestFoldSplitsDependencyEdge(t *testing.T) {
	// A batch applies atomically, so a dependency between two of its files
	// would be unenforceable. The dependent lands in the next wave.
	plan, err := newPlanner(10, 500).Plan("/repo", []ScoredChange{
		scored("base.go", transform.RiskLow, 2),
		scored("user.go", transform.RiskLow, 4, "base.go"),
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	waves := plan.Waves()
	if len(waves) != 2 {
		t.Fatalf("expected 2 waves, got %d", len(waves))
	}
	if plan.TotalBatches() != 2 {
		t.Fatalf("TotalBatches = %d", plan.TotalBatches())
	}
}

func TestFoldKeepsDistantTiersApart(t *testing.T) {
	// Adjacent tiers may share a batch; a wider gap may not.
	plan, err := newPlanner(10, 500).Plan("/repo", []ScoredChange{
		scored("low.go", transform.RiskLow, 5),
		scored("med.go", transform.RiskMedium, 30),
		scored("crit.go", transform.RiskCritical, 90),
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	var sizes []int
	for _, w := range plan.Waves() {
		for _, b := range w.Batches() {
			sizes = append(sizes, len(b.Files()))
		}
	}
	if len(sizes) != 2 || sizes[0] != 2 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want low+medium together, critical alone", sizes)
	}
}

func TestBatchLevelNeverBelowRiskiestMember(t *testing.T) {
	plan, err := newPlanner(10, 500).Plan("/repo", []ScoredChange{
		scored("med.go", transform.RiskMedium, 30),
		scored("high.go", transform.RiskHigh, 55),
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	batch := plan.Waves()[0].Batches()[0]
	if batch.Risk().Level != transform.RiskHigh {
		t.Fatalf("batch level = %s, want HIGH from riskiest member", batch.Risk().Level)
	}
	if !batch.Gated() {
		t.Fatal("a HIGH batch must require manual approval")
	}
	if !batch.Risk().RequiresExtendedTesting {
		t.Fatal("a HIGH batch must require extended testing")
	}
}

func TestGroupCutsWaveAtTierBoundary(t *testing.T) {
	// One file per batch so the tier sequence LOW, LOW, MEDIUM survives
	// folding, then grouping cuts at the tier change.
	plan, err := newPlanner(1, 500).Plan("/repo", []ScoredChange{
		scored("a.go", transform.RiskLow, 2),
		scored("b.go", transform.RiskLow, 4),
		scored("c.go", transform.RiskMedium, 30),
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	waves := plan.Waves()
	if len(waves) != 2 {
		t.Fatalf("expected 2 waves, got %d", len(waves))
	}
	if len(waves[0].Batches()) != 2 || waves[0].Risk() != transform.RiskLow {
		t.Fatalf("first wave: %d batches at %s", len(waves[0].Batches()), waves[0].Risk())
	}
	if len(waves[1].Batches()) != 1 || waves[1].Risk() != transform.RiskMedium {
		t.Fatalf("second wave: %d batches at %s", len(waves[1].Batches()), waves[1].Risk())
	}
	if waves[0].Order() != 0 || waves[1].Order() != 1 {
		t.Fatalf("wave orders = %d, %d", waves[0].Order(), waves[1].Order())
	}
}

func TestWavesAreDisjoint(t *testing.T) {
	plan, err := newPlanner(1, 500).Plan("/repo", []ScoredChange{
		scored("a.go", transform.RiskLow, 2),
		scored("b.go", transform.RiskLow, 4),
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for _, w := range plan.Waves() {
		if !w.Disjoint() {
			t.Fatalf("wave %s not marked disjoint", w.ID())
		}
	}
}
