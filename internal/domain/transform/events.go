package transform

import (
	"time"
)

// DomainEvent is the interface for all domain events.
type DomainEvent interface {
	EventName() string
	OccurredAt() time.Time
	AggregateID() PlanID
}

// PlanCreatedEvent is emitted when a new transformation plan is created.
type PlanCreatedEvent struct {
	PlanID   PlanID
	Codebase string
	Waves    int
	Batches  int
	Files    int
	At       time.Time
}

func (e *PlanCreatedEvent) EventName() string     { return "plan.created" }
func (e *PlanCreatedEvent) OccurredAt() time.Time { return e.At }
func (e *PlanCreatedEvent) AggregateID() PlanID   { return e.PlanID }

// BatchTransitionedEvent is emitted on any batch status transition.
type BatchTransitionedEvent struct {
	PlanID  PlanID
	WaveID  WaveID
	BatchID BatchID
	From    BatchStatus
	To      BatchStatus
	Reason  string
	At      time.Time
}

func (e *BatchTransitionedEvent) EventName() string     { return "batch.transitioned" }
func (e *BatchTransitionedEvent) OccurredAt() time.Time { return e.At }
func (e *BatchTransitionedEvent) AggregateID() PlanID   { return e.PlanID }

// BatchCommittedEvent is emitted when a batch commits and its checkpoint is
// released.
type BatchCommittedEvent struct {
	PlanID  PlanID
	WaveID  WaveID
	BatchID BatchID
	Files   int
	Risk    RiskLevel
	At      time.Time
}

func (e *BatchCommittedEvent) EventName() string     { return "batch.committed" }
func (e *BatchCommittedEvent) OccurredAt() time.Time { return e.At }
func (e *BatchCommittedEvent) AggregateID() PlanID   { return e.PlanID }

// BatchRolledBackEvent is emitted after a batch's files are restored.
type BatchRolledBackEvent struct {
	PlanID  PlanID
	WaveID  WaveID
	BatchID BatchID
	Reason  string
	At      time.Time
}

func (e *BatchRolledBackEvent) EventName() string     { return "batch.rolled_back" }
func (e *BatchRolledBackEvent) OccurredAt() time.Time { return e.At }
func (e *BatchRolledBackEvent) AggregateID() PlanID   { return e.PlanID }

// ApprovalRequestedEvent is emitted when a gated batch suspends for approval.
type ApprovalRequestedEvent struct {
	PlanID    PlanID
	BatchID   BatchID
	RequestID string
	Risk      RiskLevel
	Deadline  time.Time
	At        time.Time
}

func (e *ApprovalRequestedEvent) EventName() string     { return "approval.requested" }
func (e *ApprovalRequestedEvent) OccurredAt() time.Time { return e.At }
func (e *ApprovalRequestedEvent) AggregateID() PlanID   { return e.PlanID }

// WaveCompletedEvent is emitted when every batch in a wave reaches a terminal
// state.
type WaveCompletedEvent struct {
	PlanID PlanID
	WaveID WaveID
	Status WaveStatus
	At     time.Time
}

func (e *WaveCompletedEvent) EventName() string     { return "wave.completed" }
func (e *WaveCompletedEvent) OccurredAt() time.Time { return e.At }
func (e *WaveCompletedEvent) AggregateID() PlanID   { return e.PlanID }

// PlanCompletedEvent is emitted when the plan run ends, successfully or not.
// Partial completion (some waves committed, later waves blocked) is a normal
// outcome and reported here, not as an error.
type PlanCompletedEvent struct {
	PlanID          PlanID
	CommittedWaves  int
	BlockedWaves    int
	RolledBackWaves int
	Canceled        bool
	At              time.Time
}

func (e *PlanCompletedEvent) EventName() string     { return "plan.completed" }
func (e *PlanCompletedEvent) OccurredAt() time.Time { return e.At }
func (e *PlanCompletedEvent) AggregateID() PlanID   { return e.PlanID }

// RollbackEscalationEvent is emitted when a restore could not be verified.
// This is the one condition the engine treats as an operator-facing incident.
type RollbackEscalationEvent struct {
	PlanID  PlanID
	BatchID BatchID
	Detail  string
	At      time.Time
}

func (e *RollbackEscalationEvent) EventName() string     { return "rollback.escalation" }
func (e *RollbackEscalationEvent) OccurredAt() time.Time { return e.At }
func (e *RollbackEscalationEvent) AggregateID() PlanID   { return e.PlanID }
