package transform

import "time"

// BatchSnapshot carries the persisted state of one batch.
type BatchSnapshot struct {
	ID         BatchID
	Order      int
	Files      []FileChange
	Risk       RiskScore
	Status     BatchStatus
	History    []TransitionRecord
	Warnings   []BehaviorDifference
	TestResult *TestResult
	Approved   bool
	ApprovedBy string
	LastReason string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// WaveSnapshot carries the persisted state of one wave.
type WaveSnapshot struct {
	ID            WaveID
	Order         int
	Prerequisites []WaveID
	Disjoint      bool
	Batches       []BatchSnapshot
}

// PlanSnapshot carries the persisted state of a whole plan.
type PlanSnapshot struct {
	ID        PlanID
	Codebase  string
	CreatedAt time.Time
	Waves     []WaveSnapshot
}

// ReconstructPlan rebuilds a plan from persisted state without emitting
// events or re-running state-machine validation. Repository use only; the
// snapshot is trusted to have come from a previously valid aggregate.
func ReconstructPlan(snap PlanSnapshot) *TransformationPlan {
	waves := make([]*Wave, len(snap.Waves))
	for i, ws := range snap.Waves {
		waves[i] = reconstructWave(ws)
	}
	return &TransformationPlan{
		id:        snap.ID,
		codebase:  snap.Codebase,
		waves:     waves,
		createdAt: snap.CreatedAt,
	}
}

func reconstructWave(snap WaveSnapshot) *Wave {
	batches := make([]*Batch, len(snap.Batches))
	for i, bs := range snap.Batches {
		batches[i] = reconstructBatch(bs)
	}
	return &Wave{
		id:            snap.ID,
		order:         snap.Order,
		batches:       batches,
		prerequisites: snap.Prerequisites,
		disjoint:      snap.Disjoint,
	}
}

func reconstructBatch(snap BatchSnapshot) *Batch {
	return &Batch{
		id:         snap.ID,
		order:      snap.Order,
		files:      snap.Files,
		risk:       snap.Risk,
		status:     snap.Status,
		history:    snap.History,
		warnings:   snap.Warnings,
		testResult: snap.TestResult,
		approved:   snap.Approved,
		approvedBy: snap.ApprovedBy,
		lastReason: snap.LastReason,
		createdAt:  snap.CreatedAt,
		updatedAt:  snap.UpdatedAt,
	}
}
