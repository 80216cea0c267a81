package transform

// BatchStatus represents the current state of a batch in its lifecycle.
// This is a value object; transitions are enforced by the Batch aggregate.
type BatchStatus string

const (
	// StatusPending indicates the batch has not started.
	StatusPending BatchStatus = "pending"
	// StatusCheckpointed indicates the batch's files have been snapshotted.
	StatusCheckpointed BatchStatus = "checkpointed"
	// StatusApplying indicates the batch's changes are being written.
	StatusApplying BatchStatus = "applying"
	// StatusVerifying indicates before/after structures are being compared.
	StatusVerifying BatchStatus = "verifying"
	// StatusTesting indicates the test runner is executing.
	StatusTesting BatchStatus = "testing"
	// StatusAwaitingApproval indicates the batch is suspended pending a
	// human decision.
	StatusAwaitingApproval BatchStatus = "awaiting_approval"
	// StatusCommitted indicates the batch's changes are the new baseline.
	StatusCommitted BatchStatus = "committed"
	// StatusRolledBack indicates the batch's files were restored to their
	// pre-batch content.
	StatusRolledBack BatchStatus = "rolled_back"
	// StatusFailed indicates the batch failed without a clean rollback path.
	StatusFailed BatchStatus = "failed"
	// StatusBlocked indicates the batch never started because its wave was
	// paused after repeated failures or a missing prerequisite.
	StatusBlocked BatchStatus = "blocked"
)

// AllBatchStatuses returns all valid batch statuses.
func AllBatchStatuses() []BatchStatus {
	return []BatchStatus{
		StatusPending,
		StatusCheckpointed,
		StatusApplying,
		StatusVerifying,
		StatusTesting,
		StatusAwaitingApproval,
		StatusCommitted,
		StatusRolledBack,
		StatusFailed,
		StatusBlocked,
	}
}

// String returns the string representation of the status.
func (s BatchStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a valid batch status.
func (s BatchStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusCheckpointed, StatusApplying, StatusVerifying,
		StatusTesting, StatusAwaitingApproval, StatusCommitted,
		StatusRolledBack, StatusFailed, StatusBlocked:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if this is a terminal state.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case StatusCommitted, StatusRolledBack, StatusFailed, StatusBlocked:
		return true
	default:
		return false
	}
}

// InFlight returns true while the batch holds a live checkpoint.
func (s BatchStatus) InFlight() bool {
	switch s {
	case StatusCheckpointed, StatusApplying, StatusVerifying, StatusTesting,
		StatusAwaitingApproval:
		return true
	default:
		return false
	}
}

// CanTransitionTo returns true if transitioning to the target status is valid.
func (s BatchStatus) CanTransitionTo(target BatchStatus) bool {
	for _, valid := range validBatchTransitions()[s] {
		if valid == target {
			return true
		}
	}
	return false
}

// validBatchTransitions defines the batch state machine. Any in-flight state
// may abort to rolled_back because the checkpoint exists from the moment the
// batch leaves pending.
func validBatchTransitions() map[BatchStatus][]BatchStatus {
	return map[BatchStatus][]BatchStatus{
		StatusPending:          {StatusCheckpointed, StatusBlocked},
		StatusCheckpointed:     {StatusApplying, StatusRolledBack, StatusFailed},
		StatusApplying:         {StatusVerifying, StatusRolledBack, StatusFailed},
		StatusVerifying:        {StatusTesting, StatusRolledBack, StatusFailed},
		StatusTesting:          {StatusAwaitingApproval, StatusCommitted, StatusRolledBack, StatusFailed},
		StatusAwaitingApproval: {StatusCommitted, StatusRolledBack, StatusFailed},
		StatusCommitted:        {}, // Terminal
		StatusRolledBack:       {}, // Terminal
		StatusFailed:           {}, // Terminal
		StatusBlocked:          {StatusPending}, // Operator may resume a paused wave
	}
}

// NextValidStatuses returns the valid next statuses from the current one.
func (s BatchStatus) NextValidStatuses() []BatchStatus {
	return validBatchTransitions()[s]
}

// WaveStatus represents the aggregate state of a wave.
type WaveStatus string

const (
	// WavePending indicates the wave has not started.
	WavePending WaveStatus = "pending"
	// WaveRunning indicates at least one batch is past pending.
	WaveRunning WaveStatus = "running"
	// WaveCommitted indicates every batch in the wave committed.
	WaveCommitted WaveStatus = "committed"
	// WaveRolledBack indicates the wave ended with rolled-back batches and
	// no commits outstanding.
	WaveRolledBack WaveStatus = "rolled_back"
	// WaveBlocked indicates the wave was paused after repeated batch
	// failures, or never started because a prerequisite wave did not commit.
	WaveBlocked WaveStatus = "blocked"
)

// String returns the string representation of the wave status.
func (s WaveStatus) String() string {
	return string(s)
}

// IsTerminal returns true for statuses a wave cannot leave on its own.
func (s WaveStatus) IsTerminal() bool {
	switch s {
	case WaveCommitted, WaveRolledBack, WaveBlocked:
		return true
	default:
		return false
	}
}
