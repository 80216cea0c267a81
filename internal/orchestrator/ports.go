// Package orchestrator drives transformation plans end to end: checkpoint,
// apply, verify, test, gate, commit or roll back, batch by batch and wave by
// wave. It is the only component that schedules work.
package orchestrator

import (
	"context"
	"time"

	"github.com/refactory-tech/refactory/internal/checkpoint"
	"github.com/refactory-tech/refactory/internal/compat"
	"github.com/refactory-tech/refactory/internal/domain/transform"
	"github.com/refactory-tech/refactory/internal/verify"
)

// TestRunner executes the test suite or an affected subset with a timeout.
type TestRunner interface {
	RunTests(ctx context.Context, affectedPaths []string, fullSuite bool, timeout time.Duration) (transform.TestResult, error)
}

// VersionControl is the commit/branch surface of the underlying repository.
// Snapshot/restore of working files is the checkpoint manager's job; version
// control only records committed batches.
type VersionControl interface {
	CreateBranch(ctx context.Context, name string) (string, error)
	Commit(ctx context.Context, branch string, files []string, message string) (string, error)
}

// Parser produces the structural summary of one file version.
type Parser interface {
	Parse(ctx context.Context, path string, content []byte, language transform.Language) (*verify.StructuralSummary, error)
}

// Notifier announces plan-level happenings to an external channel.
type Notifier interface {
	Notify(ctx context.Context, audience, message, link string) error
}

// FeatureFlags exposes gradual rollout of committed waves.
type FeatureFlags interface {
	SetRolloutPercentage(ctx context.Context, key string, percent int) error
}

// ShimGenerator maintains compatibility shims so dependent code keeps
// compiling while waves land one at a time.
type ShimGenerator interface {
	GenerateForWave(ctx context.Context, plan *transform.TransformationPlan, wave *transform.Wave) ([]compat.Shim, error)
	RetireForWave(ctx context.Context, waveID transform.WaveID) error
	RegenerateAfterRollback(ctx context.Context, plan *transform.TransformationPlan, batchID transform.BatchID) ([]compat.Shim, error)
}

// PlanRepository persists transformation plans across process restarts.
type PlanRepository interface {
	Save(ctx context.Context, plan *transform.TransformationPlan) error
	FindByID(ctx context.Context, id transform.PlanID) (*transform.TransformationPlan, error)
}

// Request is a caller-submitted set of file-level changes for one codebase.
type Request struct {
	// Codebase identifies the working tree the changes apply to. It keys
	// the active-batch lease.
	Codebase string
	// Branch is the version-control branch committed batches land on.
	Branch string
	// Changes are the proposed file edits, produced upstream.
	Changes []transform.FileChange
	// Submitter is recorded on audit transitions.
	Submitter string
}

// RollbackScope selects the granularity of an operator-requested rollback.
type RollbackScope string

const (
	RollbackBatch RollbackScope = "batch"
	RollbackWave  RollbackScope = "wave"
)

// RollbackResult reports what an operator-requested rollback restored. The
// rollback point groups the retained snapshots that were restored as one unit.
type RollbackResult struct {
	Scope         RollbackScope             `json:"scope"`
	PointID       string                    `json:"rollback_point_id,omitempty"`
	RestoredFiles []string                  `json:"restored_files"`
	Batches       []transform.BatchID       `json:"batches"`
	Point         *checkpoint.RollbackPoint `json:"-"`
}
