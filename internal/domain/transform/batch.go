package transform

import (
	"fmt"
	"time"

	"github.com/felixgeelhaar/statekit"
	"github.com/google/uuid"
)

// TransitionRecord records a batch status transition for audit.
type TransitionRecord struct {
	From   BatchStatus `json:"from"`
	To     BatchStatus `json:"to"`
	Reason string      `json:"reason,omitempty"`
	Actor  string      `json:"actor,omitempty"`
	At     time.Time   `json:"at"`
}

// Batch is the smallest unit that is checkpointed and can be rolled back
// independently. It aggregates file changes with compatible risk and no
// dependency edges between them.
type Batch struct {
	id    BatchID
	order int
	files []FileChange
	risk  RiskScore

	status  BatchStatus
	history []TransitionRecord

	// warnings holds non-blocking behavior differences for the audit trail.
	warnings []BehaviorDifference

	testResult *TestResult
	approved   bool
	approvedBy string
	lastReason string

	createdAt time.Time
	updatedAt time.Time
}

// NewBatch creates a pending batch from an ordered slice of file changes.
// The batch's risk is the maximum of its members, computed by the caller.
func NewBatch(order int, files []FileChange, risk RiskScore) (*Batch, error) {
	if len(files) == 0 {
		return nil, ErrEmptyBatch
	}
	now := time.Now()
	return &Batch{
		id:        BatchID(uuid.NewString()),
		order:     order,
		files:     files,
		risk:      risk,
		status:    StatusPending,
		history:   make([]TransitionRecord, 0, 8),
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ID returns the batch identifier.
func (b *Batch) ID() BatchID { return b.id }

// Order returns the batch's planned position within its wave.
func (b *Batch) Order() int { return b.order }

// Files returns the batch's file changes. Callers must not mutate the slice.
func (b *Batch) Files() []FileChange { return b.files }

// Paths returns the set of file paths the batch touches.
func (b *Batch) Paths() []string {
	paths := make([]string, len(b.files))
	for i, f := range b.files {
		paths[i] = f.Path
	}
	return paths
}

// Risk returns the batch's aggregate risk score.
func (b *Batch) Risk() RiskScore { return b.risk }

// Status returns the current status.
func (b *Batch) Status() BatchStatus { return b.status }

// History returns the transition history for audit.
func (b *Batch) History() []TransitionRecord { return b.history }

// Warnings returns non-blocking behavior differences recorded so far.
func (b *Batch) Warnings() []BehaviorDifference { return b.warnings }

// TestResult returns the recorded test result, or nil before testing.
func (b *Batch) TestResult() *TestResult { return b.testResult }

// LastReason returns the reason attached to the most recent transition.
func (b *Batch) LastReason() string { return b.lastReason }

// CreatedAt returns the creation time.
func (b *Batch) CreatedAt() time.Time { return b.createdAt }

// UpdatedAt returns the last modification time.
func (b *Batch) UpdatedAt() time.Time { return b.updatedAt }

// Gated reports whether the batch requires manual approval before commit.
func (b *Batch) Gated() bool { return b.risk.RequiresManualApproval }

// EstimatedLines returns the summed line-change estimate across files.
func (b *Batch) EstimatedLines() int {
	total := 0
	for _, f := range b.files {
		total += f.LinesChanged()
	}
	return total
}

// Touches reports whether the batch modifies the given path.
func (b *Batch) Touches(path string) bool {
	for _, f := range b.files {
		if f.Path == path {
			return true
		}
	}
	return false
}

// DisjointFrom reports whether the two batches share no file paths.
func (b *Batch) DisjointFrom(other *Batch) bool {
	for _, f := range other.files {
		if b.Touches(f.Path) {
			return false
		}
	}
	return true
}

// transition fires a state-machine event, enforcing the machine's transition
// table and guards, and records the step.
func (b *Batch) transition(event statekit.EventType, reason, actor string) error {
	if err := ValidateTransition(b, event); err != nil {
		return err
	}
	target, err := eventTarget(event)
	if err != nil {
		return err
	}
	b.history = append(b.history, TransitionRecord{
		From:   b.status,
		To:     target,
		Reason: reason,
		Actor:  actor,
		At:     time.Now(),
	})
	b.status = target
	b.lastReason = reason
	b.updatedAt = time.Now()
	return nil
}

// MarkCheckpointed records that the batch's files have been snapshotted.
func (b *Batch) MarkCheckpointed(checkpointID string) error {
	return b.transition(EventCheckpoint, fmt.Sprintf("checkpoint %s created", checkpointID), "")
}

// StartApplying records that the batch's changes are being written.
func (b *Batch) StartApplying() error {
	return b.transition(EventApply, "", "")
}

// StartVerifying records that before/after structures are being compared.
func (b *Batch) StartVerifying() error {
	return b.transition(EventVerify, "", "")
}

// RecordVerification attaches a verification result. Non-blocking differences
// become audit warnings; a critical difference is the caller's cue to roll
// back and must not be swallowed here.
func (b *Batch) RecordVerification(result VerificationResult) {
	b.warnings = append(b.warnings, result.Warnings()...)
	b.updatedAt = time.Now()
}

// StartTesting records that the test runner is executing.
func (b *Batch) StartTesting() error {
	return b.transition(EventTest, "", "")
}

// RecordTestResult attaches the test runner's outcome.
func (b *Batch) RecordTestResult(result TestResult) {
	b.testResult = &result
	b.updatedAt = time.Now()
}

// AwaitApproval suspends the batch pending a human decision. The machine's
// gate guard rejects ungated batches and unpassed tests.
func (b *Batch) AwaitApproval(requestID string) error {
	return b.transition(EventGate, fmt.Sprintf("approval request %s", requestID), "")
}

// Commit marks the batch committed. The machine's commit guard enforces the
// invariants: tests passed and, if gated, the batch was approved.
func (b *Batch) Commit(actor string) error {
	return b.transition(EventCommit, "", actor)
}

// RecordApproval marks the gated batch approved. The decision metadata lives
// on the ApprovalRequest; the aggregate keeps only the deciding actor.
func (b *Batch) RecordApproval(actor string) {
	b.approved = true
	b.approvedBy = actor
	b.updatedAt = time.Now()
}

// Approved reports whether a gated batch has been approved.
func (b *Batch) Approved() bool { return b.approved }

// ApprovedBy returns the actor who approved the batch, if any.
func (b *Batch) ApprovedBy() string { return b.approvedBy }

// RollBack marks the batch rolled back with the given reason.
func (b *Batch) RollBack(reason string) error {
	return b.transition(EventRollBack, reason, "")
}

// MarkFailed marks the batch failed with the given reason.
func (b *Batch) MarkFailed(reason string) error {
	return b.transition(EventFailHard, reason, "")
}

// Block marks a not-yet-started batch blocked.
func (b *Batch) Block(reason string) error {
	return b.transition(EventBlock, reason, "")
}

// Resume returns a blocked batch to pending so an operator can re-run it.
func (b *Batch) Resume(actor string) error {
	return b.transition(EventResume, "resumed by operator", actor)
}
