package transform

import (
	"time"

	"github.com/google/uuid"
)

// Wave is an ordered group of batches sharing a dependency tier. A wave only
// begins once all prerequisite waves have committed.
type Wave struct {
	id            WaveID
	order         int
	batches       []*Batch
	prerequisites []WaveID

	// disjoint records the planner's guarantee that no two batches in the
	// wave share a file, which is what permits bounded concurrency. It is
	// established at plan time and never re-checked at runtime.
	disjoint bool
}

// NewWave creates a wave from planned batches.
func NewWave(order int, batches []*Batch, prerequisites []WaveID, disjoint bool) *Wave {
	return &Wave{
		id:            WaveID(uuid.NewString()),
		order:         order,
		batches:       batches,
		prerequisites: prerequisites,
		disjoint:      disjoint,
	}
}

// ID returns the wave identifier.
func (w *Wave) ID() WaveID { return w.id }

// Order returns the wave's position in the plan.
func (w *Wave) Order() int { return w.order }

// Batches returns the wave's batches in planned order.
func (w *Wave) Batches() []*Batch { return w.batches }

// Prerequisites returns the wave IDs that must commit before this wave starts.
func (w *Wave) Prerequisites() []WaveID { return w.prerequisites }

// Disjoint reports the plan-time guarantee that the wave's batches touch
// disjoint file sets.
func (w *Wave) Disjoint() bool { return w.disjoint }

// Risk returns the maximum risk level across the wave's batches.
func (w *Wave) Risk() RiskLevel {
	level := RiskLow
	for _, b := range w.batches {
		level = MaxRiskLevel(level, b.Risk().Level)
	}
	return level
}

// Status derives the wave's aggregate status from its batches.
func (w *Wave) Status() WaveStatus {
	if len(w.batches) == 0 {
		return WaveCommitted
	}
	committed, terminal, started, blocked := 0, 0, 0, 0
	for _, b := range w.batches {
		s := b.Status()
		if s != StatusPending {
			started++
		}
		if s.IsTerminal() {
			terminal++
		}
		switch s {
		case StatusCommitted:
			committed++
		case StatusBlocked:
			blocked++
		}
	}
	switch {
	case committed == len(w.batches):
		return WaveCommitted
	case blocked > 0 && terminal == len(w.batches):
		return WaveBlocked
	case terminal == len(w.batches):
		return WaveRolledBack
	case started > 0:
		return WaveRunning
	default:
		return WavePending
	}
}

// Batch returns the batch with the given ID, or ErrBatchNotFound.
func (w *Wave) Batch(id BatchID) (*Batch, error) {
	for _, b := range w.batches {
		if b.ID() == id {
			return b, nil
		}
	}
	return nil, ErrBatchNotFound
}

// TransformationPlan owns its waves exclusively and is immutable after
// creation; re-planning produces a new plan.
type TransformationPlan struct {
	id        PlanID
	codebase  string
	waves     []*Wave
	createdAt time.Time
}

// NewPlan creates a plan for the given codebase identity.
func NewPlan(codebase string, waves []*Wave) *TransformationPlan {
	return &TransformationPlan{
		id:        PlanID(uuid.NewString()),
		codebase:  codebase,
		waves:     waves,
		createdAt: time.Now(),
	}
}

// ID returns the plan identifier.
func (p *TransformationPlan) ID() PlanID { return p.id }

// Codebase returns the codebase identity the plan applies to.
func (p *TransformationPlan) Codebase() string { return p.codebase }

// Waves returns the plan's waves in execution order.
func (p *TransformationPlan) Waves() []*Wave { return p.waves }

// CreatedAt returns the plan creation time.
func (p *TransformationPlan) CreatedAt() time.Time { return p.createdAt }

// Empty reports whether the plan has no work.
func (p *TransformationPlan) Empty() bool {
	for _, w := range p.waves {
		if len(w.Batches()) > 0 {
			return false
		}
	}
	return true
}

// Wave returns the wave with the given ID, or ErrWaveNotFound.
func (p *TransformationPlan) Wave(id WaveID) (*Wave, error) {
	for _, w := range p.waves {
		if w.ID() == id {
			return w, nil
		}
	}
	return nil, ErrWaveNotFound
}

// FindBatch returns the batch with the given ID from any wave.
func (p *TransformationPlan) FindBatch(id BatchID) (*Wave, *Batch, error) {
	for _, w := range p.waves {
		if b, err := w.Batch(id); err == nil {
			return w, b, nil
		}
	}
	return nil, nil, ErrBatchNotFound
}

// TotalBatches returns the number of batches across all waves.
func (p *TransformationPlan) TotalBatches() int {
	n := 0
	for _, w := range p.waves {
		n += len(w.Batches())
	}
	return n
}

// TotalFiles returns the number of file changes across all batches.
func (p *TransformationPlan) TotalFiles() int {
	n := 0
	for _, w := range p.waves {
		for _, b := range w.Batches() {
			n += len(b.Files())
		}
	}
	return n
}
