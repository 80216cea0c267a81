package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refactory-tech/refactory/internal/approval"
	"github.com/refactory-tech/refactory/internal/checkpoint"
	"github.com/refactory-tech/refactory/internal/config"
	"github.com/refactory-tech/refactory/internal/domain/transform"
	"github.com/refactory-tech/refactory/internal/planner"
	"github.com/refactory-tech/refactory/internal/risk"
	"github.com/refactory-tech/refactory/internal/verify"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	run   func(ctx context.Context, paths []string, fullSuite bool, timeout time.Duration) (transform.TestResult, error)
}

func (r *fakeRunner) RunTests(ctx context.Context, paths []string, fullSuite bool, timeout time.Duration) (transform.TestResult, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.run != nil {
		return r.run(ctx, paths, fullSuite, timeout)
	}
	return transform.TestResult{Passed: true, Coverage: 0.8}, nil
}

func passingRunner() *fakeRunner {
	return &fakeRunner{}
}

func failingRunner(failure string) *fakeRunner {
	return &fakeRunner{run: func(context.Context, []string, bool, time.Duration) (transform.TestResult, error) {
		return transform.TestResult{Passed: false, Failures: []string{failure}}, nil
	}}
}

type testHarness struct {
	engine *Engine
	root   string
	gate   *approval.Gate
}

func newHarness(t *testing.T, cfg *config.Config, runner TestRunner) *testHarness {
	t.Helper()

	root := t.TempDir()
	storage := filepath.Join(root, ".refactory")

	cpMgr, err := checkpoint.NewManager(root, storage, nil)
	require.NoError(t, err)

	store, err := approval.NewFileStore(filepath.Join(storage, "approvals"))
	require.NoError(t, err)
	gate := approval.NewGate(cfg.Approval, store, nil, nil)

	assessor := risk.NewAssessor(cfg.Risk)
	eng := NewEngine(
		*cfg, root, assessor,
		planner.New(cfg.Planner, assessor),
		cpMgr,
		verify.NewVerifier(nil),
		gate,
		runner,
		Options{},
	)
	return &testHarness{engine: eng, root: root, gate: gate}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Orchestrator.TestTimeout = 5 * time.Second
	cfg.Approval.Deadline = time.Hour
	cfg.Approval.PollInterval = 10 * time.Millisecond
	return cfg
}

// seed writes a change's pre-state to the working tree and returns the change.
func (h *testHarness) seed(t *testing.T, change transform.FileChange) transform.FileChange {
	t.Helper()

	abs := filepath.Join(h.root, change.Path)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0750))
	require.NoError(t, os.WriteFile(abs, change.Before, 0600))
	return change
}

func (h *testHarness) read(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(h.root, path))
	require.NoError(t, err)
	return string(data)
}

func lowRiskChange(path string) transform.FileChange {
	return transform.FileChange{
		Path:     path,
		Kind:     transform.KindFormatting,
		Language: transform.LanguageGo,
		Before:   []byte("package x\n\nfunc F()  {}\n"),
		After:    []byte("package x\n\nfunc F() {}\n"),
		Coverage: 0.9,
	}
}

func highRiskChange(path string) transform.FileChange {
	return transform.FileChange{
		Path:     path,
		Kind:     transform.KindAPIMigration,
		Language: transform.LanguageGo,
		Before:   []byte("package auth\n\nfunc Login(u, p string) error { return old(u, p) }\n"),
		After:    []byte("package auth\n\nfunc Login(u, p string) error { return v2(u, p) }\n"),
		Coverage: 0.1,
	}
}

func soleBatch(t *testing.T, plan *transform.TransformationPlan) *transform.Batch {
	t.Helper()

	require.Len(t, plan.Waves(), 1)
	require.Len(t, plan.Waves()[0].Batches(), 1)
	return plan.Waves()[0].Batches()[0]
}

func TestSubmitEmptyRequestProducesEmptyPlan(t *testing.T) {
	h := newHarness(t, testConfig(), passingRunner())
	ctx := context.Background()

	plan, err := h.engine.Submit(ctx, Request{Codebase: "repo"})
	require.NoError(t, err)
	assert.True(t, plan.Empty())

	require.NoError(t, h.engine.Execute(ctx, plan.ID()))
}

func TestExecuteCommitsLowRiskPlan(t *testing.T) {
	h := newHarness(t, testConfig(), passingRunner())
	ctx := context.Background()

	a := h.seed(t, lowRiskChange("pkg/a.go"))
	b := h.seed(t, lowRiskChange("pkg/b.go"))

	plan, err := h.engine.Submit(ctx, Request{Codebase: "repo", Changes: []transform.FileChange{a, b}})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, plan.ID()))

	for _, wave := range plan.Waves() {
		assert.Equal(t, transform.WaveCommitted, wave.Status())
	}
	assert.Equal(t, string(a.After), h.read(t, "pkg/a.go"))
	assert.Equal(t, string(b.After), h.read(t, "pkg/b.go"))
}

func TestTestFailureRollsBack(t *testing.T) {
	h := newHarness(t, testConfig(), failingRunner("TestCharge/declined"))
	ctx := context.Background()

	change := h.seed(t, lowRiskChange("pkg/a.go"))

	plan, err := h.engine.Submit(ctx, Request{Codebase: "repo", Changes: []transform.FileChange{change}})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, plan.ID()))

	batch := soleBatch(t, plan)
	assert.Equal(t, transform.StatusRolledBack, batch.Status())
	assert.Contains(t, batch.LastReason(), "TestCharge/declined")

	// Rollback is an exact inverse of apply.
	assert.Equal(t, string(change.Before), h.read(t, "pkg/a.go"))
}

func TestTestTimeoutTreatedAsFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestrator.TestTimeout = 50 * time.Millisecond

	runner := &fakeRunner{run: func(ctx context.Context, _ []string, _ bool, _ time.Duration) (transform.TestResult, error) {
		<-ctx.Done()
		return transform.TestResult{}, ctx.Err()
	}}
	h := newHarness(t, cfg, runner)
	ctx := context.Background()

	change := h.seed(t, lowRiskChange("pkg/a.go"))
	plan, err := h.engine.Submit(ctx, Request{Codebase: "repo", Changes: []transform.FileChange{change}})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, plan.ID()))

	batch := soleBatch(t, plan)
	assert.Equal(t, transform.StatusRolledBack, batch.Status())
	assert.Contains(t, batch.LastReason(), "timed out")
	assert.Equal(t, string(change.Before), h.read(t, "pkg/a.go"))
}

func TestGatedBatchCommitsOnApproval(t *testing.T) {
	h := newHarness(t, testConfig(), passingRunner())
	ctx := context.Background()

	change := h.seed(t, highRiskChange("auth/login.go"))
	plan, err := h.engine.Submit(ctx, Request{Codebase: "repo", Changes: []transform.FileChange{change}})
	require.NoError(t, err)

	batch := soleBatch(t, plan)
	require.True(t, batch.Gated(), "api migration of low-coverage auth code must require approval")

	h.engine.Subscribe(func(event transform.DomainEvent) {
		if e, ok := event.(*transform.ApprovalRequestedEvent); ok {
			go func() {
				_ = h.engine.Approve(context.Background(), e.RequestID, "alex", true, "reviewed")
			}()
		}
	})

	require.NoError(t, h.engine.Execute(ctx, plan.ID()))
	assert.Equal(t, transform.StatusCommitted, batch.Status())
	assert.Equal(t, "alex", batch.ApprovedBy())
	assert.Equal(t, string(change.After), h.read(t, "auth/login.go"))
}

func TestGatedBatchRollsBackOnRejection(t *testing.T) {
	h := newHarness(t, testConfig(), passingRunner())
	ctx := context.Background()

	change := h.seed(t, highRiskChange("auth/login.go"))
	plan, err := h.engine.Submit(ctx, Request{Codebase: "repo", Changes: []transform.FileChange{change}})
	require.NoError(t, err)

	h.engine.Subscribe(func(event transform.DomainEvent) {
		if e, ok := event.(*transform.ApprovalRequestedEvent); ok {
			go func() {
				_ = h.engine.Approve(context.Background(), e.RequestID, "sam", false, "too close to the billing cutover")
			}()
		}
	})

	require.NoError(t, h.engine.Execute(ctx, plan.ID()))

	batch := soleBatch(t, plan)
	assert.Equal(t, transform.StatusRolledBack, batch.Status())
	assert.Contains(t, batch.LastReason(), "REJECTED")
	assert.Contains(t, batch.LastReason(), "sam")
	assert.Equal(t, string(change.Before), h.read(t, "auth/login.go"))
}

func TestApprovalExpiryRollsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Approval.Deadline = 50 * time.Millisecond

	h := newHarness(t, cfg, passingRunner())
	ctx := context.Background()

	change := h.seed(t, highRiskChange("auth/login.go"))
	plan, err := h.engine.Submit(ctx, Request{Codebase: "repo", Changes: []transform.FileChange{change}})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, plan.ID()))

	batch := soleBatch(t, plan)
	assert.Equal(t, transform.StatusRolledBack, batch.Status())
	assert.Equal(t, string(change.Before), h.read(t, "auth/login.go"))
}

func TestMidRunCancellationRollsBackCleanly(t *testing.T) {
	// A caller giving up on Execute must not turn a recoverable test failure
	// into an escalation: the restore runs to completion regardless.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &fakeRunner{run: func(context.Context, []string, bool, time.Duration) (transform.TestResult, error) {
		cancel()
		return transform.TestResult{Passed: false, Failures: []string{"TestCharge/declined"}}, nil
	}}
	h := newHarness(t, testConfig(), runner)

	change := h.seed(t, lowRiskChange("pkg/a.go"))
	plan, err := h.engine.Submit(context.Background(), Request{Codebase: "repo", Changes: []transform.FileChange{change}})
	require.NoError(t, err)

	require.NoError(t, h.engine.Execute(ctx, plan.ID()))

	batch := soleBatch(t, plan)
	assert.Equal(t, transform.StatusRolledBack, batch.Status())
	assert.Contains(t, batch.LastReason(), "TestCharge/declined")
	assert.Equal(t, string(change.Before), h.read(t, "pkg/a.go"))
}

func TestMixedRiskRequestSplitsAndGatesAuthChange(t *testing.T) {
	h := newHarness(t, testConfig(), passingRunner())
	ctx := context.Background()

	fmtA := h.seed(t, lowRiskChange("pkg/a.go"))
	fmtB := h.seed(t, lowRiskChange("pkg/b.go"))
	auth := h.seed(t, highRiskChange("auth/login.go"))

	plan, err := h.engine.Submit(ctx, Request{Codebase: "repo", Changes: []transform.FileChange{auth, fmtA, fmtB}})
	require.NoError(t, err)

	// The auth migration never shares a batch or wave with the formatting
	// changes, and the safe work goes first.
	require.Len(t, plan.Waves(), 2)
	first := plan.Waves()[0].Batches()
	require.Len(t, first, 1)
	assert.ElementsMatch(t, []string{"pkg/a.go", "pkg/b.go"}, first[0].Paths())
	assert.False(t, first[0].Gated())

	second := plan.Waves()[1].Batches()
	require.Len(t, second, 1)
	assert.Equal(t, []string{"auth/login.go"}, second[0].Paths())
	require.True(t, second[0].Gated())

	h.engine.Subscribe(func(event transform.DomainEvent) {
		if e, ok := event.(*transform.ApprovalRequestedEvent); ok {
			go func() {
				_ = h.engine.Approve(context.Background(), e.RequestID, "alex", true, "reviewed")
			}()
		}
	})

	require.NoError(t, h.engine.Execute(ctx, plan.ID()))

	for _, wave := range plan.Waves() {
		assert.Equal(t, transform.WaveCommitted, wave.Status())
	}
	assert.Equal(t, "alex", second[0].ApprovedBy())
	assert.Equal(t, string(auth.After), h.read(t, "auth/login.go"))
}

func TestConsecutiveFailuresBlockWave(t *testing.T) {
	cfg := testConfig()
	cfg.Planner.MaxFilesPerBatch = 1
	cfg.Orchestrator.ConsecutiveFailureLimit = 2

	h := newHarness(t, cfg, failingRunner("TestPipeline"))
	ctx := context.Background()

	changes := []transform.FileChange{
		h.seed(t, lowRiskChange("pkg/a.go")),
		h.seed(t, lowRiskChange("pkg/b.go")),
		h.seed(t, lowRiskChange("pkg/c.go")),
		h.seed(t, lowRiskChange("pkg/d.go")),
	}

	plan, err := h.engine.Submit(ctx, Request{Codebase: "repo", Changes: changes})
	require.NoError(t, err)
	require.Len(t, plan.Waves(), 1)
	require.Len(t, plan.Waves()[0].Batches(), 4)

	require.NoError(t, h.engine.Execute(ctx, plan.ID()))

	statuses := make([]transform.BatchStatus, 0, 4)
	for _, batch := range plan.Waves()[0].Batches() {
		statuses = append(statuses, batch.Status())
	}
	assert.Equal(t, []transform.BatchStatus{
		transform.StatusRolledBack,
		transform.StatusRolledBack,
		transform.StatusBlocked,
		transform.StatusBlocked,
	}, statuses)
	assert.Equal(t, transform.WaveBlocked, plan.Waves()[0].Status())
}

func TestDependentWaveBlockedAfterRollback(t *testing.T) {
	h := newHarness(t, testConfig(), failingRunner("TestBase"))
	ctx := context.Background()

	base := h.seed(t, lowRiskChange("pkg/base.go"))
	dependent := lowRiskChange("pkg/user.go")
	dependent.DependsOn = []string{"pkg/base.go"}
	dependent = h.seed(t, dependent)

	plan, err := h.engine.Submit(ctx, Request{Codebase: "repo", Changes: []transform.FileChange{base, dependent}})
	require.NoError(t, err)
	require.Len(t, plan.Waves(), 2)

	require.NoError(t, h.engine.Execute(ctx, plan.ID()))

	assert.Equal(t, transform.WaveRolledBack, plan.Waves()[0].Status())
	assert.Equal(t, transform.WaveBlocked, plan.Waves()[1].Status())

	// The dependent change never touched the tree.
	assert.Equal(t, string(dependent.Before), h.read(t, "pkg/user.go"))
}

func TestCancelStopsBetweenBatches(t *testing.T) {
	cfg := testConfig()
	cfg.Planner.MaxFilesPerBatch = 1

	h := newHarness(t, cfg, passingRunner())
	ctx := context.Background()

	changes := []transform.FileChange{
		h.seed(t, lowRiskChange("pkg/a.go")),
		h.seed(t, lowRiskChange("pkg/b.go")),
		h.seed(t, lowRiskChange("pkg/c.go")),
	}

	plan, err := h.engine.Submit(ctx, Request{Codebase: "repo", Changes: changes})
	require.NoError(t, err)

	var completed *transform.PlanCompletedEvent
	h.engine.Subscribe(func(event transform.DomainEvent) {
		switch e := event.(type) {
		case *transform.BatchCommittedEvent:
			_ = h.engine.Cancel(e.PlanID)
		case *transform.PlanCompletedEvent:
			completed = e
		}
	})

	require.NoError(t, h.engine.Execute(ctx, plan.ID()))

	var committed, pending int
	for _, batch := range plan.Waves()[0].Batches() {
		switch batch.Status() {
		case transform.StatusCommitted:
			committed++
		case transform.StatusPending:
			pending++
		}
	}
	assert.Equal(t, 1, committed, "cancellation must not roll back the committed prefix")
	assert.Equal(t, 2, pending, "cancellation prevents later batches from starting")
	require.NotNil(t, completed)
	assert.True(t, completed.Canceled)
}

func TestOperatorRollbackOfCommittedBatch(t *testing.T) {
	h := newHarness(t, testConfig(), passingRunner())
	ctx := context.Background()

	change := h.seed(t, lowRiskChange("pkg/a.go"))
	plan, err := h.engine.Submit(ctx, Request{Codebase: "repo", Changes: []transform.FileChange{change}})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, plan.ID()))

	batch := soleBatch(t, plan)
	require.Equal(t, transform.StatusCommitted, batch.Status())
	require.Equal(t, string(change.After), h.read(t, "pkg/a.go"))

	result, err := h.engine.Rollback(ctx, plan.ID(), RollbackBatch, batch.ID().String())
	require.NoError(t, err)
	assert.Equal(t, []transform.BatchID{batch.ID()}, result.Batches)
	assert.Equal(t, string(change.Before), h.read(t, "pkg/a.go"))

	require.NotNil(t, result.Point)
	assert.Equal(t, checkpoint.ScopeBatch, result.Point.Scope())
	assert.Equal(t, result.Point.ID().String(), result.PointID)
	require.Len(t, result.Point.Checkpoints(), 1)
	assert.Equal(t, batch.ID(), result.Point.Checkpoints()[0].BatchID())
}

func TestOperatorRollbackOfWaveRestoresInReverseOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Planner.MaxFilesPerBatch = 1

	h := newHarness(t, cfg, passingRunner())
	ctx := context.Background()

	a := h.seed(t, lowRiskChange("pkg/a.go"))
	b := h.seed(t, lowRiskChange("pkg/b.go"))

	plan, err := h.engine.Submit(ctx, Request{Codebase: "repo", Changes: []transform.FileChange{a, b}})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, plan.ID()))

	wave := plan.Waves()[0]
	require.Len(t, wave.Batches(), 2)

	result, err := h.engine.Rollback(ctx, plan.ID(), RollbackWave, string(wave.ID()))
	require.NoError(t, err)

	// One rollback point over the whole wave, batches reversed.
	require.NotNil(t, result.Point)
	assert.Equal(t, checkpoint.ScopeWave, result.Point.Scope())
	assert.Equal(t, []transform.BatchID{
		wave.Batches()[1].ID(),
		wave.Batches()[0].ID(),
	}, result.Batches)
	assert.Equal(t, string(a.Before), h.read(t, "pkg/a.go"))
	assert.Equal(t, string(b.Before), h.read(t, "pkg/b.go"))
}

func TestBoundedConcurrencyForDisjointBatches(t *testing.T) {
	cfg := testConfig()
	cfg.Planner.MaxFilesPerBatch = 1
	cfg.Orchestrator.MaxConcurrentBatches = 2

	h := newHarness(t, cfg, passingRunner())
	ctx := context.Background()

	changes := []transform.FileChange{
		h.seed(t, lowRiskChange("pkg/a.go")),
		h.seed(t, lowRiskChange("pkg/b.go")),
		h.seed(t, lowRiskChange("pkg/c.go")),
	}

	plan, err := h.engine.Submit(ctx, Request{Codebase: "repo", Changes: changes})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, plan.ID()))

	for _, batch := range plan.Waves()[0].Batches() {
		assert.Equal(t, transform.StatusCommitted, batch.Status())
	}
}
