// Package progress aggregates orchestrator events into read-mostly snapshots
// of plan execution. Nothing depends on the tracker; it exists for status
// reporting.
package progress

import (
	"sync"
	"time"

	"github.com/refactory-tech/refactory/internal/domain/transform"
)

// Snapshot is the observable state of one plan's execution.
type Snapshot struct {
	PlanID       transform.PlanID
	Codebase     string
	TotalWaves   int
	TotalBatches int
	TotalFiles   int

	// BatchCounts holds the number of batches currently in each status.
	BatchCounts map[transform.BatchStatus]int

	// CurrentBatch is the batch in flight, empty when none is.
	CurrentBatch  transform.BatchID
	CurrentStatus transform.BatchStatus

	CommittedWaves  int
	BlockedWaves    int
	RolledBackWaves int

	Completed bool
	Canceled  bool
	Escalated bool
	// LastReason is the most recent terminal-transition reason.
	LastReason string

	UpdatedAt time.Time
}

// Done reports whether the plan has finished, successfully or not.
func (s Snapshot) Done() bool {
	return s.Completed
}

type planProgress struct {
	snapshot Snapshot
}

// Tracker subscribes to orchestrator events and keeps one snapshot per plan.
// Safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	plans map[transform.PlanID]*planProgress
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{plans: make(map[transform.PlanID]*planProgress)}
}

// Handle consumes one domain event. It is the subscriber callback registered
// with the orchestrator.
func (t *Tracker) Handle(event transform.DomainEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e := event.(type) {
	case *transform.PlanCreatedEvent:
		counts := make(map[transform.BatchStatus]int)
		counts[transform.StatusPending] = e.Batches
		t.plans[e.PlanID] = &planProgress{snapshot: Snapshot{
			PlanID:       e.PlanID,
			Codebase:     e.Codebase,
			TotalWaves:   e.Waves,
			TotalBatches: e.Batches,
			TotalFiles:   e.Files,
			BatchCounts:  counts,
		}}

	case *transform.BatchTransitionedEvent:
		p := t.plan(e.PlanID)
		if p.snapshot.BatchCounts[e.From] > 0 {
			p.snapshot.BatchCounts[e.From]--
		}
		p.snapshot.BatchCounts[e.To]++
		if e.To.IsTerminal() {
			p.snapshot.CurrentBatch = ""
			p.snapshot.CurrentStatus = ""
			if e.Reason != "" {
				p.snapshot.LastReason = e.Reason
			}
		} else {
			p.snapshot.CurrentBatch = e.BatchID
			p.snapshot.CurrentStatus = e.To
		}

	case *transform.WaveCompletedEvent:
		p := t.plan(e.PlanID)
		switch e.Status {
		case transform.WaveCommitted:
			p.snapshot.CommittedWaves++
		case transform.WaveBlocked:
			p.snapshot.BlockedWaves++
		case transform.WaveRolledBack:
			p.snapshot.RolledBackWaves++
		}

	case *transform.PlanCompletedEvent:
		p := t.plan(e.PlanID)
		p.snapshot.Completed = true
		p.snapshot.Canceled = e.Canceled

	case *transform.RollbackEscalationEvent:
		p := t.plan(e.PlanID)
		p.snapshot.Escalated = true
		p.snapshot.LastReason = e.Detail
	}

	if p, ok := t.plans[event.AggregateID()]; ok {
		p.snapshot.UpdatedAt = event.OccurredAt()
	}
}

// Snapshot returns the current snapshot for a plan.
func (t *Tracker) Snapshot(planID transform.PlanID) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.plans[planID]
	if !ok {
		return Snapshot{}, false
	}

	out := p.snapshot
	out.BatchCounts = make(map[transform.BatchStatus]int, len(p.snapshot.BatchCounts))
	for k, v := range p.snapshot.BatchCounts {
		out.BatchCounts[k] = v
	}
	return out, true
}

// plan returns the progress record for a plan, creating a placeholder if the
// creation event was missed.
func (t *Tracker) plan(id transform.PlanID) *planProgress {
	p, ok := t.plans[id]
	if !ok {
		p = &planProgress{snapshot: Snapshot{
			PlanID:      id,
			BatchCounts: make(map[transform.BatchStatus]int),
		}}
		t.plans[id] = p
	}
	return p
}
