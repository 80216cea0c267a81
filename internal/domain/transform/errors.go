package transform

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for transformation plan operations.
var (
	// ErrInvalidStatus indicates an invalid status for the requested operation.
	ErrInvalidStatus = errors.New("invalid status for this operation")

	// ErrCyclicDependency indicates the file changes form a dependency cycle.
	ErrCyclicDependency = errors.New("file changes form a dependency cycle")

	// ErrEmptyBatch indicates a batch with no file changes.
	ErrEmptyBatch = errors.New("batch must contain at least one file change")

	// ErrTestsFailed indicates the batch's test run failed.
	ErrTestsFailed = errors.New("test run failed")

	// ErrCriticalDifference indicates verification found a critical behavior difference.
	ErrCriticalDifference = errors.New("critical behavior difference detected")

	// ErrNotApproved indicates a gated batch has no approval.
	ErrNotApproved = errors.New("batch requires approval before commitment")

	// ErrPlanNotFound indicates a transformation plan was not found.
	ErrPlanNotFound = errors.New("transformation plan not found")

	// ErrBatchNotFound indicates a batch was not found.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrWaveNotFound indicates a wave was not found.
	ErrWaveNotFound = errors.New("wave not found")

	// ErrPlanCanceled indicates the plan was canceled between batches.
	ErrPlanCanceled = errors.New("transformation plan canceled")

	// ErrOverlappingFiles indicates two batches touch the same file.
	ErrOverlappingFiles = errors.New("batches touch overlapping files")
)

// StatusTransitionError reports an invalid batch status transition.
type StatusTransitionError struct {
	Current BatchStatus
	Target  BatchStatus
	BatchID BatchID
}

// Error implements the error interface.
func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("batch %s: cannot transition from %s to %s",
		e.BatchID.Short(), e.Current, e.Target)
}

// Unwrap returns the underlying sentinel for errors.Is compatibility.
func (e *StatusTransitionError) Unwrap() error {
	return ErrInvalidStatus
}

// CycleError reports a dependency cycle among file changes. The planner
// surfaces it before any file is touched.
type CycleError struct {
	// Members are the paths that participate in the cycle, in detection order.
	Members []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among %d changes: %s",
		len(e.Members), strings.Join(e.Members, " -> "))
}

// Unwrap returns the underlying sentinel.
func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}
