package transform

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// BatchContext is the context passed to the batch state machine.
type BatchContext struct {
	Batch *Batch
}

// Event names for the batch state machine.
const (
	EventCheckpoint statekit.EventType = "CHECKPOINT"
	EventApply      statekit.EventType = "APPLY"
	EventVerify     statekit.EventType = "VERIFY"
	EventTest       statekit.EventType = "TEST"
	EventGate       statekit.EventType = "GATE"
	EventCommit     statekit.EventType = "COMMIT"
	EventRollBack   statekit.EventType = "ROLL_BACK"
	EventFailHard   statekit.EventType = "FAIL"
	EventBlock      statekit.EventType = "BLOCK"
	EventResume     statekit.EventType = "RESUME"
)

// Guard names for the batch state machine.
const (
	GuardTestsPassed statekit.GuardType = "testsPassed"
	GuardApproved    statekit.GuardType = "approvedIfGated"
)

// State IDs for the batch state machine.
var (
	StateIDPending          = statekit.StateID(StatusPending)
	StateIDCheckpointed     = statekit.StateID(StatusCheckpointed)
	StateIDApplying         = statekit.StateID(StatusApplying)
	StateIDVerifying        = statekit.StateID(StatusVerifying)
	StateIDTesting          = statekit.StateID(StatusTesting)
	StateIDAwaitingApproval = statekit.StateID(StatusAwaitingApproval)
	StateIDCommitted        = statekit.StateID(StatusCommitted)
	StateIDRolledBack       = statekit.StateID(StatusRolledBack)
	StateIDFailed           = statekit.StateID(StatusFailed)
	StateIDBlocked          = statekit.StateID(StatusBlocked)
)

// BatchMachine wraps the Statekit state machine for batch execution.
type BatchMachine struct {
	interpreter *statekit.Interpreter[BatchContext]
}

// NewBatchMachine creates a new state machine for batch execution.
func NewBatchMachine() (*BatchMachine, error) {
	machine, err := statekit.NewMachine[BatchContext]("transform-batch").
		WithInitial(StateIDPending).
		// Guards
		WithGuard(GuardTestsPassed, guardTestsPassed).
		WithGuard(GuardApproved, guardApprovedIfGated).
		// Pending state
		State(StateIDPending).
		On(EventCheckpoint).Target(StateIDCheckpointed).
		On(EventBlock).Target(StateIDBlocked).
		Done().
		// Checkpointed state
		State(StateIDCheckpointed).
		On(EventApply).Target(StateIDApplying).
		On(EventRollBack).Target(StateIDRolledBack).
		On(EventFailHard).Target(StateIDFailed).
		Done().
		// Applying state (any write error aborts to rolled_back)
		State(StateIDApplying).
		On(EventVerify).Target(StateIDVerifying).
		On(EventRollBack).Target(StateIDRolledBack).
		On(EventFailHard).Target(StateIDFailed).
		Done().
		// Verifying state (a critical difference aborts to rolled_back)
		State(StateIDVerifying).
		On(EventTest).Target(StateIDTesting).
		On(EventRollBack).Target(StateIDRolledBack).
		On(EventFailHard).Target(StateIDFailed).
		Done().
		// Testing state
		State(StateIDTesting).
		On(EventGate).Target(StateIDAwaitingApproval).Guard(GuardTestsPassed).
		On(EventCommit).Target(StateIDCommitted).Guard(GuardTestsPassed).
		On(EventRollBack).Target(StateIDRolledBack).
		On(EventFailHard).Target(StateIDFailed).
		Done().
		// AwaitingApproval state (suspension, not a blocked call)
		State(StateIDAwaitingApproval).
		On(EventCommit).Target(StateIDCommitted).Guard(GuardApproved).
		On(EventRollBack).Target(StateIDRolledBack).
		On(EventFailHard).Target(StateIDFailed).
		Done().
		// Committed state (terminal)
		State(StateIDCommitted).
		Final().
		Done().
		// RolledBack state (terminal)
		State(StateIDRolledBack).
		Final().
		Done().
		// Failed state (terminal)
		State(StateIDFailed).
		Final().
		Done().
		// Blocked state (operator may resume)
		State(StateIDBlocked).
		On(EventResume).Target(StateIDPending).
		Done().
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build state machine: %w", err)
	}

	return &BatchMachine{interpreter: statekit.NewInterpreter(machine)}, nil
}

// Guard implementations - guards take context by value.

func guardTestsPassed(ctx BatchContext, _ statekit.Event) bool {
	if ctx.Batch == nil {
		return false
	}
	result := ctx.Batch.TestResult()
	return result != nil && result.Passed
}

func guardApprovedIfGated(ctx BatchContext, _ statekit.Event) bool {
	if ctx.Batch == nil {
		return false
	}
	if !ctx.Batch.Gated() {
		return true
	}
	return ctx.Batch.ApprovedBy() != ""
}

// Start starts the state machine interpreter.
func (m *BatchMachine) Start() {
	m.interpreter.Start()
}

// Bind attaches the batch the machine's guards evaluate.
func (m *BatchMachine) Bind(batch *Batch) {
	m.interpreter.UpdateContext(func(ctx *BatchContext) { ctx.Batch = batch })
}

// Send sends an event to the interpreter.
func (m *BatchMachine) Send(event statekit.EventType) error {
	if m.interpreter == nil {
		return fmt.Errorf("interpreter not started")
	}
	m.interpreter.Send(statekit.Event{Type: event})
	return nil
}

// CurrentState returns the current state.
func (m *BatchMachine) CurrentState() statekit.StateID {
	if m.interpreter == nil {
		return ""
	}
	return m.interpreter.State().Value
}

// IsDone returns true if the machine is in a final state.
func (m *BatchMachine) IsDone() bool {
	if m.interpreter == nil {
		return false
	}
	return m.interpreter.Done()
}

// eventTarget maps a machine event to the status it lands in. The mapping
// mirrors the machine topology above; an unknown event is a programming error.
func eventTarget(event statekit.EventType) (BatchStatus, error) {
	switch event {
	case EventCheckpoint:
		return StatusCheckpointed, nil
	case EventApply:
		return StatusApplying, nil
	case EventVerify:
		return StatusVerifying, nil
	case EventTest:
		return StatusTesting, nil
	case EventGate:
		return StatusAwaitingApproval, nil
	case EventCommit:
		return StatusCommitted, nil
	case EventRollBack:
		return StatusRolledBack, nil
	case EventFailHard:
		return StatusFailed, nil
	case EventBlock:
		return StatusBlocked, nil
	case EventResume:
		return StatusPending, nil
	default:
		return "", fmt.Errorf("unknown event: %s", event)
	}
}

// ValidateTransition checks whether firing the event on the batch would be a
// legal transition, including the commit and gate guards. Batch.transition
// consults it before mutating the aggregate, so every status change goes
// through the machine's rules.
func ValidateTransition(batch *Batch, event statekit.EventType) error {
	target, err := eventTarget(event)
	if err != nil {
		return err
	}

	if !batch.Status().CanTransitionTo(target) {
		return &StatusTransitionError{Current: batch.Status(), Target: target, BatchID: batch.ID()}
	}

	switch event {
	case EventCommit:
		if res := batch.TestResult(); res == nil || !res.Passed {
			return fmt.Errorf("batch %s: %w", batch.ID().Short(), ErrTestsFailed)
		}
		if batch.Gated() && !batch.Approved() {
			return fmt.Errorf("batch %s: %w", batch.ID().Short(), ErrNotApproved)
		}
	case EventGate:
		if !batch.Gated() {
			return fmt.Errorf("batch %s is not gated: %w", batch.ID().Short(), ErrInvalidStatus)
		}
		if res := batch.TestResult(); res == nil || !res.Passed {
			return fmt.Errorf("batch %s: %w", batch.ID().Short(), ErrTestsFailed)
		}
	}
	return nil
}
