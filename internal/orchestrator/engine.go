package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/refactory-tech/refactory/internal/approval"
	"github.com/refactory-tech/refactory/internal/checkpoint"
	"github.com/refactory-tech/refactory/internal/config"
	"github.com/refactory-tech/refactory/internal/domain/transform"
	rferrors "github.com/refactory-tech/refactory/internal/errors"
	"github.com/refactory-tech/refactory/internal/fileutil"
	"github.com/refactory-tech/refactory/internal/planner"
	"github.com/refactory-tech/refactory/internal/risk"
	"github.com/refactory-tech/refactory/internal/verify"
)

// ErrPlanHalted indicates plan execution stopped because the engine can no
// longer trust its own state (rollback verification failed) and a human must
// intervene before anything else runs against the codebase.
var ErrPlanHalted = errors.New("plan halted: rollback verification failed")

// Options carries the optional collaborators of an engine. Nil fields
// disable the corresponding capability.
type Options struct {
	VersionControl VersionControl
	Parser         Parser
	Notifier       Notifier
	FeatureFlags   FeatureFlags
	Repository     PlanRepository
	Shims          ShimGenerator
	Logger         *slog.Logger
}

// Engine coordinates risk assessment, planning, and checkpointed batch
// execution for one codebase root. It is the single scheduler: no other
// component starts work.
type Engine struct {
	cfg         config.Config
	root        string
	assessor    *risk.Assessor
	planner     *planner.Planner
	checkpoints *checkpoint.Manager
	verifier    *verify.Verifier
	gate        *approval.Gate

	runner TestRunner
	vcs    VersionControl
	parser Parser
	notify Notifier
	flags  FeatureFlags
	repo   PlanRepository
	shims  ShimGenerator

	logger *slog.Logger
	bus    eventBus
	lease  *codebaseLease

	mu   sync.Mutex
	runs map[transform.PlanID]*planRun
}

type planRun struct {
	plan        *transform.TransformationPlan
	request     Request
	checkpoints map[transform.BatchID]*checkpoint.Checkpoint
	canceled    atomic.Bool
}

// NewEngine creates an orchestration engine rooted at the given codebase
// directory.
func NewEngine(
	cfg config.Config,
	root string,
	assessor *risk.Assessor,
	pl *planner.Planner,
	checkpoints *checkpoint.Manager,
	verifier *verify.Verifier,
	gate *approval.Gate,
	runner TestRunner,
	opts Options,
) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:         cfg,
		root:        root,
		assessor:    assessor,
		planner:     pl,
		checkpoints: checkpoints,
		verifier:    verifier,
		gate:        gate,
		runner:      runner,
		vcs:         opts.VersionControl,
		parser:      opts.Parser,
		notify:      opts.Notifier,
		flags:       opts.FeatureFlags,
		repo:        opts.Repository,
		shims:       opts.Shims,
		logger:      logger.With("component", "orchestrator"),
		lease:       newCodebaseLease(),
		runs:        make(map[transform.PlanID]*planRun),
	}
}

// Subscribe registers a callback for every domain event the engine emits.
func (e *Engine) Subscribe(s Subscriber) {
	e.bus.subscribe(s)
}

// Submit scores the request's changes, plans them into waves and batches,
// and registers the plan for execution. No file is touched.
func (e *Engine) Submit(ctx context.Context, req Request) (*transform.TransformationPlan, error) {
	if req.Codebase == "" {
		return nil, rferrors.Validation("orchestrator.Submit", "request has no codebase")
	}

	scored := make([]planner.ScoredChange, 0, len(req.Changes))
	for _, change := range req.Changes {
		scored = append(scored, planner.ScoredChange{
			Change: change,
			Score:  e.assessor.AssessFile(change),
		})
	}

	plan, err := e.planner.Plan(req.Codebase, scored)
	if err != nil {
		return nil, err
	}

	if e.repo != nil {
		if err := e.repo.Save(ctx, plan); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	e.runs[plan.ID()] = &planRun{
		plan:        plan,
		request:     req,
		checkpoints: make(map[transform.BatchID]*checkpoint.Checkpoint),
	}
	e.mu.Unlock()

	e.bus.publish(&transform.PlanCreatedEvent{
		PlanID:   plan.ID(),
		Codebase: plan.Codebase(),
		Waves:    len(plan.Waves()),
		Batches:  plan.TotalBatches(),
		Files:    plan.TotalFiles(),
		At:       time.Now(),
	})

	e.logger.Info("plan submitted",
		"plan_id", plan.ID().Short(),
		"codebase", plan.Codebase(),
		"waves", len(plan.Waves()),
		"batches", plan.TotalBatches(),
		"files", plan.TotalFiles())
	return plan, nil
}

// Execute drives a submitted plan to completion. It returns ErrPlanHalted
// when a rollback could not be verified; every other failure is recovered
// into a terminal batch or wave state and execution continues or stops
// cleanly.
func (e *Engine) Execute(ctx context.Context, planID transform.PlanID) error {
	run, err := e.run(planID)
	if err != nil {
		return err
	}
	plan := run.plan

	if plan.Empty() {
		e.publishPlanCompleted(plan, false)
		return nil
	}

	var halted error
	for _, wave := range plan.Waves() {
		if run.canceled.Load() {
			break
		}
		if halted != nil || !e.prerequisitesMet(plan, wave) {
			e.blockWave(run, wave, "prerequisite wave did not commit")
			continue
		}

		if err := e.runWave(ctx, run, wave); err != nil {
			if errors.Is(err, ErrPlanHalted) || rferrors.IsKind(err, rferrors.KindRollback) {
				halted = err
				e.escalate(ctx, run, wave, err)
				continue
			}
			return err
		}

		e.bus.publish(&transform.WaveCompletedEvent{
			PlanID: plan.ID(),
			WaveID: wave.ID(),
			Status: wave.Status(),
			At:     time.Now(),
		})

		if wave.Status() == transform.WaveCommitted {
			e.maintainShims(ctx, plan, wave)
			e.rolloutWave(ctx, wave)
		}
	}

	if e.repo != nil {
		if err := e.repo.Save(ctx, plan); err != nil {
			e.logger.Warn("failed to persist finished plan", "error", err)
		}
	}
	// Released checkpoints are retained past plan completion so an operator
	// can still revert a committed batch after a delayed production error;
	// checkpoint.Manager.Prune discards them once the baseline is final.
	e.publishPlanCompleted(plan, run.canceled.Load())
	return halted
}

// Plan returns a submitted plan, falling back to the repository for plans
// from earlier runs. Progress snapshots come from the subscribed tracker.
func (e *Engine) Plan(ctx context.Context, planID transform.PlanID) (*transform.TransformationPlan, error) {
	if run, err := e.run(planID); err == nil {
		return run.plan, nil
	}
	if e.repo != nil {
		return e.repo.FindByID(ctx, planID)
	}
	return nil, transform.ErrPlanNotFound
}

// Approve records an operator decision on an approval request.
func (e *Engine) Approve(ctx context.Context, requestID, actor string, approved bool, reason string) error {
	_, err := e.gate.Decide(ctx, requestID, actor, approved, reason)
	return err
}

// Cancel stops a plan between batches. The committed prefix stays in place.
func (e *Engine) Cancel(planID transform.PlanID) error {
	run, err := e.run(planID)
	if err != nil {
		return err
	}
	run.canceled.Store(true)
	e.logger.Info("plan canceled", "plan_id", planID.Short())
	return nil
}

// Rollback reverts committed work at batch or wave scope through the
// retained checkpoints of committed batches.
func (e *Engine) Rollback(ctx context.Context, planID transform.PlanID, scope RollbackScope, id string) (*RollbackResult, error) {
	// Repository fallback lets an operator roll back a plan executed by an
	// earlier process; the checkpoint store reloads from disk.
	plan, err := e.Plan(ctx, planID)
	if err != nil {
		return nil, err
	}

	var batches []*transform.Batch
	switch scope {
	case RollbackBatch:
		_, batch, err := plan.FindBatch(transform.BatchID(id))
		if err != nil {
			return nil, err
		}
		batches = []*transform.Batch{batch}
	case RollbackWave:
		wave, err := plan.Wave(transform.WaveID(id))
		if err != nil {
			return nil, err
		}
		// Reverse order: later batches may build on earlier ones.
		for i := len(wave.Batches()) - 1; i >= 0; i-- {
			batches = append(batches, wave.Batches()[i])
		}
	default:
		return nil, rferrors.Validation("orchestrator.Rollback", fmt.Sprintf("unknown scope %q", scope))
	}

	// Pair each committed batch with its retained snapshot before touching
	// the tree, then group the snapshots into one rollback point so the
	// restore happens as a unit at the requested granularity.
	var targets []*transform.Batch
	var snapshots []*checkpoint.Checkpoint
	for _, batch := range batches {
		if batch.Status() != transform.StatusCommitted {
			continue
		}
		cp, err := e.checkpoints.ReleasedByBatch(batch.ID())
		if err != nil {
			return nil, rferrors.RollbackWrap(err, "orchestrator.Rollback",
				fmt.Sprintf("no retained snapshot for committed batch %s", batch.ID().Short()))
		}
		targets = append(targets, batch)
		snapshots = append(snapshots, cp)
	}

	result := &RollbackResult{Scope: scope}
	if len(targets) == 0 {
		return result, nil
	}

	point := checkpoint.NewRollbackPoint(pointScope(scope), snapshots)
	result.Point = point
	result.PointID = point.ID().String()

	for i, cp := range point.Checkpoints() {
		batch := targets[i]
		if err := e.checkpoints.RestoreSubset(ctx, cp, batch.Paths()); err != nil {
			return nil, err
		}
		result.Batches = append(result.Batches, batch.ID())
		result.RestoredFiles = append(result.RestoredFiles, batch.Paths()...)

		if e.shims != nil {
			if _, err := e.shims.RegenerateAfterRollback(ctx, plan, batch.ID()); err != nil {
				e.logger.Warn("shim regeneration after rollback failed",
					"batch_id", batch.ID().Short(), "error", err)
			}
		}
	}

	e.logger.Info("operator rollback performed",
		"plan_id", planID.Short(),
		"scope", scope,
		"rollback_point", result.PointID,
		"batches", len(result.Batches),
		"files", len(result.RestoredFiles))
	return result, nil
}

func pointScope(scope RollbackScope) checkpoint.Scope {
	if scope == RollbackWave {
		return checkpoint.ScopeWave
	}
	return checkpoint.ScopeBatch
}

func (e *Engine) run(planID transform.PlanID) (*planRun, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	run, ok := e.runs[planID]
	if !ok {
		return nil, transform.ErrPlanNotFound
	}
	return run, nil
}

func (e *Engine) prerequisitesMet(plan *transform.TransformationPlan, wave *transform.Wave) bool {
	for _, prereq := range wave.Prerequisites() {
		prev, err := plan.Wave(prereq)
		if err != nil || prev.Status() != transform.WaveCommitted {
			return false
		}
	}
	return true
}

func (e *Engine) blockWave(run *planRun, wave *transform.Wave, reason string) {
	for _, batch := range wave.Batches() {
		if batch.Status() != transform.StatusPending {
			continue
		}
		if err := batch.Block(reason); err != nil {
			continue
		}
		e.publishTransition(run, wave, batch, transform.StatusPending, reason)
	}
	e.bus.publish(&transform.WaveCompletedEvent{
		PlanID: run.plan.ID(),
		WaveID: wave.ID(),
		Status: wave.Status(),
		At:     time.Now(),
	})
}

func (e *Engine) runWave(ctx context.Context, run *planRun, wave *transform.Wave) error {
	limit := e.cfg.Orchestrator.MaxConcurrentBatches
	if limit > 1 && wave.Disjoint() {
		return e.runWaveConcurrent(ctx, run, wave, limit)
	}
	return e.runWaveSequential(ctx, run, wave)
}

func (e *Engine) runWaveSequential(ctx context.Context, run *planRun, wave *transform.Wave) error {
	failures := 0
	limit := e.failureLimit()

	for _, batch := range wave.Batches() {
		if run.canceled.Load() {
			return nil
		}
		if failures >= limit {
			if err := batch.Block("consecutive failure limit reached"); err == nil {
				e.publishTransition(run, wave, batch, transform.StatusPending, "consecutive failure limit reached")
			}
			continue
		}

		if err := e.runBatch(ctx, run, wave, batch); err != nil {
			return err
		}
		if batch.Status() == transform.StatusCommitted {
			failures = 0
		} else {
			failures++
		}
	}
	return nil
}

// runWaveConcurrent runs plan-verified disjoint batches with bounded
// concurrency. The failure counter is shared so a burst of failures still
// pauses the wave.
func (e *Engine) runWaveConcurrent(ctx context.Context, run *planRun, wave *transform.Wave, limit int) error {
	var failures atomic.Int32
	failureLimit := int32(e.failureLimit())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, batch := range wave.Batches() {
		batch := batch
		if run.canceled.Load() {
			break
		}
		g.Go(func() error {
			if failures.Load() >= failureLimit {
				if err := batch.Block("consecutive failure limit reached"); err == nil {
					e.publishTransition(run, wave, batch, transform.StatusPending, "consecutive failure limit reached")
				}
				return nil
			}
			if err := e.runBatch(gctx, run, wave, batch); err != nil {
				return err
			}
			if batch.Status() == transform.StatusCommitted {
				failures.Store(0)
			} else {
				failures.Add(1)
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) failureLimit() int {
	if e.cfg.Orchestrator.ConsecutiveFailureLimit > 0 {
		return e.cfg.Orchestrator.ConsecutiveFailureLimit
	}
	return 3
}

// runBatch drives one batch through checkpoint → apply → verify → test →
// (approval) → commit, rolling back on any gate failure. Only a rollback
// that cannot be verified escapes as an error that halts the plan.
func (e *Engine) runBatch(ctx context.Context, run *planRun, wave *transform.Wave, batch *transform.Batch) error {
	log := e.logger.With(
		"plan_id", run.plan.ID().Short(),
		"wave_id", wave.ID().Short(),
		"batch_id", batch.ID().Short(),
		"risk", batch.Risk().Level,
	)
	log.Info("batch starting", "files", len(batch.Files()))

	cp, err := e.checkpoints.Create(ctx, batch.ID(), batch.Paths())
	if err != nil {
		if berr := batch.Block("checkpoint creation failed: " + err.Error()); berr == nil {
			e.publishTransition(run, wave, batch, transform.StatusPending, batch.LastReason())
		}
		log.Error("checkpoint creation failed", "error", err)
		return nil
	}
	run.checkpoints[batch.ID()] = cp

	from := batch.Status()
	if err := batch.MarkCheckpointed(cp.ID().String()); err != nil {
		return err
	}
	e.publishTransition(run, wave, batch, from, "")

	// Single-writer rule: exclusive lease over the codebase from applying
	// through testing.
	if err := e.lease.acquire(ctx, run.request.Codebase); err != nil {
		return e.rollbackBatch(ctx, run, wave, batch, cp, "canceled before applying")
	}
	leased := true
	releaseLease := func() {
		if leased {
			e.lease.release(run.request.Codebase)
			leased = false
		}
	}
	defer releaseLease()

	// Apply.
	from = batch.Status()
	if err := batch.StartApplying(); err != nil {
		return err
	}
	e.publishTransition(run, wave, batch, from, "")

	if err := e.applyChanges(batch); err != nil {
		log.Error("apply failed", "error", err)
		return e.rollbackBatch(ctx, run, wave, batch, cp, "apply failed: "+err.Error())
	}

	// Verify.
	from = batch.Status()
	if err := batch.StartVerifying(); err != nil {
		return err
	}
	e.publishTransition(run, wave, batch, from, "")

	result, err := e.verifyBatch(ctx, batch)
	if err != nil {
		return e.rollbackBatch(ctx, run, wave, batch, cp, "verification aborted: "+err.Error())
	}
	batch.RecordVerification(result)
	if result.HasCritical() {
		log.Warn("critical behavior difference", "differences", len(result.Differences))
		return e.rollbackBatch(ctx, run, wave, batch, cp, criticalSummary(result))
	}

	// Test.
	from = batch.Status()
	if err := batch.StartTesting(); err != nil {
		return err
	}
	e.publishTransition(run, wave, batch, from, "")

	testResult := e.runTests(ctx, batch)
	batch.RecordTestResult(testResult)
	if !testResult.Passed {
		log.Warn("tests failed", "failures", testResult.Failures)
		return e.rollbackBatch(ctx, run, wave, batch, cp, failureSummary(testResult))
	}

	// The lease covers applying through testing; approval can take hours
	// and must not hold up other plans.
	releaseLease()

	actor := run.request.Submitter
	if batch.Gated() {
		approved, by, reason, err := e.awaitApproval(ctx, run, wave, batch)
		if err != nil {
			return e.rollbackBatch(ctx, run, wave, batch, cp, "approval aborted: "+err.Error())
		}
		if !approved {
			return e.rollbackBatch(ctx, run, wave, batch, cp, reason)
		}
		batch.RecordApproval(by)
		actor = by
	}

	// Commit.
	from = batch.Status()
	if err := batch.Commit(actor); err != nil {
		return e.rollbackBatch(ctx, run, wave, batch, cp, "commit refused: "+err.Error())
	}
	if err := e.checkpoints.Release(ctx, cp); err != nil {
		log.Warn("failed to release checkpoint", "error", err)
	}
	e.publishTransition(run, wave, batch, from, "")

	if e.vcs != nil {
		message := fmt.Sprintf("refactory: %s batch %s (%d files, risk %s)",
			run.plan.ID().Short(), batch.ID().Short(), len(batch.Files()), batch.Risk().Level)
		if _, err := e.vcs.Commit(ctx, run.request.Branch, batch.Paths(), message); err != nil {
			log.Warn("version-control commit failed", "error", err)
		}
	}

	e.bus.publish(&transform.BatchCommittedEvent{
		PlanID:  run.plan.ID(),
		WaveID:  wave.ID(),
		BatchID: batch.ID(),
		Files:   len(batch.Files()),
		Risk:    batch.Risk().Level,
		At:      time.Now(),
	})
	log.Info("batch committed")
	return nil
}

func (e *Engine) applyChanges(batch *transform.Batch) error {
	for _, change := range batch.Files() {
		abs := filepath.Join(e.root, change.Path)
		if err := fileutil.AtomicWriteFile(abs, change.After, 0600); err != nil {
			return rferrors.ApplyWrap(err, "orchestrator.apply", "failed to write "+change.Path)
		}
	}
	return nil
}

func (e *Engine) verifyBatch(ctx context.Context, batch *transform.Batch) (transform.VerificationResult, error) {
	pairs := make(map[string]verify.Pair, len(batch.Files()))
	if e.parser != nil {
		for _, change := range batch.Files() {
			before, err := e.parser.Parse(ctx, change.Path, change.Before, change.Language)
			if err != nil {
				e.logger.Debug("parse failed, structural checks skipped",
					"path", change.Path, "error", err)
				continue
			}
			after, err := e.parser.Parse(ctx, change.Path, change.After, change.Language)
			if err != nil {
				e.logger.Debug("parse failed, structural checks skipped",
					"path", change.Path, "error", err)
				continue
			}
			pairs[change.Path] = verify.Pair{Before: before, After: after}
		}
	}
	return e.verifier.VerifyBatch(ctx, batch.Files(), pairs)
}

// runTests invokes the external test runner with a timeout. A timeout or
// runner error is indistinguishable from a test failure on purpose.
func (e *Engine) runTests(ctx context.Context, batch *transform.Batch) transform.TestResult {
	timeout := e.cfg.Orchestrator.TestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := e.runner.RunTests(tctx, batch.Paths(), batch.Risk().RequiresExtendedTesting, timeout)
	if err != nil {
		reason := "test runner error: " + err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = fmt.Sprintf("test run timed out after %s", timeout)
		}
		return transform.TestResult{Passed: false, Failures: []string{reason}, Coverage: -1}
	}
	return result
}

func (e *Engine) awaitApproval(ctx context.Context, run *planRun, wave *transform.Wave, batch *transform.Batch) (bool, string, string, error) {
	desc := fmt.Sprintf("batch %s: %d file(s), risk %s (%.0f)",
		batch.ID().Short(), len(batch.Files()), batch.Risk().Level, batch.Risk().Value)
	req, err := e.gate.Request(ctx, run.plan.ID(), batch.ID().String(), batch.Risk(), desc)
	if err != nil {
		return false, "", "", err
	}

	from := batch.Status()
	if err := batch.AwaitApproval(req.ID()); err != nil {
		return false, "", "", err
	}
	e.publishTransition(run, wave, batch, from, "")
	e.bus.publish(&transform.ApprovalRequestedEvent{
		PlanID:    run.plan.ID(),
		BatchID:   batch.ID(),
		RequestID: req.ID(),
		Risk:      batch.Risk().Level,
		Deadline:  req.Deadline(),
		At:        time.Now(),
	})

	status, err := e.gate.Await(ctx, req.ID())
	if err != nil {
		return false, "", "", err
	}
	if !e.gate.Accepts(status) {
		decided, ferr := e.gate.Find(ctx, req.ID())
		reason := fmt.Sprintf("approval %s", status)
		if ferr == nil && decided.Reason() != "" {
			reason = fmt.Sprintf("approval %s by %s: %s", status, decided.DecidedBy(), decided.Reason())
		}
		return false, "", reason, nil
	}

	by := "expired-auto-approval"
	if decided, ferr := e.gate.Find(ctx, req.ID()); ferr == nil && decided.DecidedBy() != "" {
		by = decided.DecidedBy()
	}
	return true, by, "", nil
}

// rollbackBatch restores the checkpoint and lands the batch in rolled_back.
// A restore that cannot be byte-verified is the one unrecoverable condition:
// the batch is failed and ErrPlanHalted propagates.
func (e *Engine) rollbackBatch(ctx context.Context, run *planRun, wave *transform.Wave, batch *transform.Batch, cp *checkpoint.Checkpoint, reason string) error {
	// The restore must run to completion even when the context that doomed
	// the batch is already canceled; aborting it would leave modified files
	// on disk and turn a recoverable failure into an escalation.
	ctx = context.WithoutCancel(ctx)
	if err := e.checkpoints.Restore(ctx, cp); err != nil {
		from := batch.Status()
		detail := fmt.Sprintf("rollback of batch %s failed: %v (original reason: %s)",
			batch.ID().Short(), err, reason)
		if ferr := batch.MarkFailed(detail); ferr == nil {
			e.publishTransition(run, wave, batch, from, detail)
		}
		e.bus.publish(&transform.RollbackEscalationEvent{
			PlanID:  run.plan.ID(),
			BatchID: batch.ID(),
			Detail:  detail,
			At:      time.Now(),
		})
		e.logger.Error("rollback verification failed, halting plan",
			"batch_id", batch.ID().Short(), "error", err)
		return fmt.Errorf("%w: %s", ErrPlanHalted, detail)
	}
	delete(run.checkpoints, batch.ID())

	from := batch.Status()
	if err := batch.RollBack(reason); err != nil {
		return err
	}
	e.publishTransition(run, wave, batch, from, reason)
	e.bus.publish(&transform.BatchRolledBackEvent{
		PlanID:  run.plan.ID(),
		WaveID:  wave.ID(),
		BatchID: batch.ID(),
		Reason:  reason,
		At:      time.Now(),
	})
	e.logger.Info("batch rolled back", "batch_id", batch.ID().Short(), "reason", reason)
	return nil
}

func (e *Engine) escalate(ctx context.Context, run *planRun, wave *transform.Wave, err error) {
	if e.notify == nil {
		return
	}
	msg := fmt.Sprintf("plan %s halted in wave %s: %v",
		run.plan.ID().Short(), wave.ID().Short(), err)
	if nerr := e.notify.Notify(ctx, e.cfg.Approval.Audience, msg, ""); nerr != nil {
		e.logger.Warn("escalation notification failed", "error", nerr)
	}
}

func (e *Engine) rolloutWave(ctx context.Context, wave *transform.Wave) {
	if e.flags == nil || !e.cfg.FeatureFlags.Enabled {
		return
	}
	key := "refactory-wave-" + wave.ID().Short()
	if err := e.flags.SetRolloutPercentage(ctx, key, e.cfg.FeatureFlags.InitialPercent); err != nil {
		e.logger.Warn("feature-flag rollout failed", "wave_id", wave.ID().Short(), "error", err)
	}
}

// maintainShims retires shims whose last dependent wave just committed and
// generates new ones for renames this wave introduced. Shim failures are
// logged, not escalated: committed work stays committed.
func (e *Engine) maintainShims(ctx context.Context, plan *transform.TransformationPlan, wave *transform.Wave) {
	if e.shims == nil {
		return
	}
	if err := e.shims.RetireForWave(ctx, wave.ID()); err != nil {
		e.logger.Warn("shim retirement failed", "wave_id", wave.ID().Short(), "error", err)
	}
	if _, err := e.shims.GenerateForWave(ctx, plan, wave); err != nil {
		e.logger.Warn("shim generation failed", "wave_id", wave.ID().Short(), "error", err)
	}
}

func (e *Engine) publishTransition(run *planRun, wave *transform.Wave, batch *transform.Batch, from transform.BatchStatus, reason string) {
	e.bus.publish(&transform.BatchTransitionedEvent{
		PlanID:  run.plan.ID(),
		WaveID:  wave.ID(),
		BatchID: batch.ID(),
		From:    from,
		To:      batch.Status(),
		Reason:  reason,
		At:      time.Now(),
	})
}

func (e *Engine) publishPlanCompleted(plan *transform.TransformationPlan, canceled bool) {
	var committed, blocked, rolledBack int
	for _, wave := range plan.Waves() {
		switch wave.Status() {
		case transform.WaveCommitted:
			committed++
		case transform.WaveBlocked:
			blocked++
		case transform.WaveRolledBack:
			rolledBack++
		}
	}
	e.bus.publish(&transform.PlanCompletedEvent{
		PlanID:          plan.ID(),
		CommittedWaves:  committed,
		BlockedWaves:    blocked,
		RolledBackWaves: rolledBack,
		Canceled:        canceled,
		At:              time.Now(),
	})
}

func criticalSummary(result transform.VerificationResult) string {
	for _, d := range result.Differences {
		if d.Blocking() {
			return fmt.Sprintf("critical behavior difference: %s at %s", d.Kind, d.Location)
		}
	}
	return "critical behavior difference"
}

func failureSummary(result transform.TestResult) string {
	if len(result.Failures) == 0 {
		return "tests failed"
	}
	if len(result.Failures) == 1 {
		return "tests failed: " + result.Failures[0]
	}
	return fmt.Sprintf("tests failed: %s (+%d more)", result.Failures[0], len(result.Failures)-1)
}
