// Package planner builds transformation plans: dependency-respecting,
// risk-bounded waves of batches.
//
// Ordering is a risk-weighted variant of Kahn's algorithm: among all changes
// whose dependencies are satisfied, the lowest-risk change goes next. The
// ordered sequence is then folded into batches under size and risk
// constraints and grouped into waves at risk-tier and dependency boundaries.
package planner

import (
	"fmt"
	"sort"

	"github.com/refactory-tech/refactory/internal/config"
	"github.com/refactory-tech/refactory/internal/domain/transform"
	rferrors "github.com/refactory-tech/refactory/internal/errors"
)

// ScoredChange pairs a file change with its assessed risk.
type ScoredChange struct {
	Change transform.FileChange
	Score  transform.RiskScore
}

// BatchScorer aggregates the risk of a set of changes into one score. The
// risk assessor satisfies this.
type BatchScorer interface {
	AssessBatch(changes []transform.FileChange) transform.RiskScore
}

// Planner folds scored changes into an executable plan.
type Planner struct {
	cfg    config.PlannerConfig
	scorer BatchScorer
}

// New creates a planner.
func New(cfg config.PlannerConfig, scorer BatchScorer) *Planner {
	return &Planner{cfg: cfg, scorer: scorer}
}

// Plan produces a transformation plan for the codebase. An empty input
// produces an empty plan, not an error. A dependency cycle is a planning
// error surfaced before any file is touched.
func (p *Planner) Plan(codebase string, changes []ScoredChange) (*transform.TransformationPlan, error) {
	const op = "planner.Plan"

	if len(changes) == 0 {
		return transform.NewPlan(codebase, nil), nil
	}

	ordered, err := p.order(changes)
	if err != nil {
		return nil, rferrors.PlanningWrap(err, op, "cannot order changes")
	}

	batches, err := p.fold(ordered)
	if err != nil {
		return nil, rferrors.PlanningWrap(err, op, "cannot fold changes into batches")
	}

	waves := p.group(batches)
	return transform.NewPlan(codebase, waves), nil
}

// order performs the risk-weighted topological sort. Dependencies on paths
// outside the change set are treated as already satisfied: those files are
// not being changed, so nothing here has to precede them.
func (p *Planner) order(changes []ScoredChange) ([]ScoredChange, error) {
	byPath := make(map[string]ScoredChange, len(changes))
	for _, sc := range changes {
		if _, dup := byPath[sc.Change.Path]; dup {
			return nil, fmt.Errorf("duplicate change for path %s", sc.Change.Path)
		}
		byPath[sc.Change.Path] = sc
	}

	inDegree := make(map[string]int, len(changes))
	dependents := make(map[string][]string, len(changes))
	for _, sc := range changes {
		if _, ok := inDegree[sc.Change.Path]; !ok {
			inDegree[sc.Change.Path] = 0
		}
		for _, dep := range sc.Change.DependsOn {
			if _, inSet := byPath[dep]; !inSet {
				continue
			}
			inDegree[sc.Change.Path]++
			dependents[dep] = append(dependents[dep], sc.Change.Path)
		}
	}

	// Ready set kept sorted by risk ascending, path as tiebreaker for
	// deterministic plans.
	ready := make([]string, 0, len(changes))
	for _, sc := range changes {
		if inDegree[sc.Change.Path] == 0 {
			ready = append(ready, sc.Change.Path)
		}
	}
	less := func(a, b string) bool {
		sa, sb := byPath[a].Score.Value, byPath[b].Score.Value
		if sa != sb {
			return sa < sb
		}
		return a < b
	}
	sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })

	ordered := make([]ScoredChange, 0, len(changes))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byPath[next])

		for _, dep := range dependents[next] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				// Insert at the risk-sorted position.
				pos := sort.Search(len(ready), func(i int) bool { return less(dep, ready[i]) })
				ready = append(ready, "")
				copy(ready[pos+1:], ready[pos:])
				ready[pos] = dep
			}
		}
	}

	if len(ordered) < len(changes) {
		return nil, &transform.CycleError{Members: cycleMembers(byPath, inDegree)}
	}
	return ordered, nil
}

// cycleMembers walks the unprocessed remainder to report one concrete cycle
// rather than the whole residue.
func cycleMembers(byPath map[string]ScoredChange, inDegree map[string]int) []string {
	remaining := make(map[string]bool)
	for path, deg := range inDegree {
		if deg > 0 {
			remaining[path] = true
		}
	}

	// Follow in-set dependency links from any remaining node until a node
	// repeats; the walk from the repeat is a cycle.
	var start string
	for path := range remaining {
		if start == "" || path < start {
			start = path // Deterministic entry point
		}
	}

	seen := make(map[string]int)
	var walk []string
	cur := start
	for {
		if idx, ok := seen[cur]; ok {
			return walk[idx:]
		}
		seen[cur] = len(walk)
		walk = append(walk, cur)

		next := ""
		deps := append([]string(nil), byPath[cur].Change.DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if remaining[dep] {
				next = dep
				break
			}
		}
		if next == "" {
			// Shouldn't happen for a genuine cycle; report the walk.
			return walk
		}
		cur = next
	}
}

// fold cuts the ordered sequence into batches under the size caps, the
// no-intra-batch-edge rule and the risk compatibility rule.
func (p *Planner) fold(ordered []ScoredChange) ([]*transform.Batch, error) {
	var batches []*transform.Batch
	var current []ScoredChange

	flush := func() error {
		if len(current) == 0 {
			return nil
		}
		files := make([]transform.FileChange, len(current))
		for i, sc := range current {
			files[i] = sc.Change
		}
		score := p.scorer.AssessBatch(files)
		// The batch's level is never below its riskiest member.
		for _, sc := range current {
			score.Level = transform.MaxRiskLevel(score.Level, sc.Score.Level)
		}
		if score.Level.AtLeast(transform.RiskHigh) {
			score.RequiresManualApproval = true
			score.RequiresExtendedTesting = true
		}
		batch, err := transform.NewBatch(len(batches), files, score)
		if err != nil {
			return err
		}
		batches = append(batches, batch)
		current = nil
		return nil
	}

	for _, sc := range ordered {
		if !p.fits(current, sc) {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		current = append(current, sc)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return batches, nil
}

// fits reports whether the candidate can join the open batch.
func (p *Planner) fits(current []ScoredChange, candidate ScoredChange) bool {
	if len(current) == 0 {
		return true
	}
	if len(current)+1 > p.cfg.MaxFilesPerBatch {
		return false
	}

	lines := candidate.Change.LinesChanged()
	for _, sc := range current {
		lines += sc.Change.LinesChanged()
	}
	if lines > p.cfg.MaxLinesPerBatch {
		return false
	}

	// No dependency edge inside a batch: a batch applies as one unit, so an
	// internal ordering constraint would be meaningless.
	for _, sc := range current {
		for _, dep := range candidate.Change.DependsOn {
			if dep == sc.Change.Path {
				return false
			}
		}
	}

	// Risk compatibility: adjacent tiers may share a batch, a wider gap may
	// not. A LOW file never rides along with a CRITICAL one.
	for _, sc := range current {
		if tierGap(sc.Score.Level, candidate.Score.Level) > 1 {
			return false
		}
	}
	return true
}

// tierGap returns the absolute rank distance between two levels.
func tierGap(a, b transform.RiskLevel) int {
	ranks := map[transform.RiskLevel]int{
		transform.RiskLow:      0,
		transform.RiskMedium:   1,
		transform.RiskHigh:     2,
		transform.RiskCritical: 3,
	}
	gap := ranks[a] - ranks[b]
	if gap < 0 {
		gap = -gap
	}
	return gap
}

// group cuts consecutive batches into waves. A new wave begins when the risk
// tier changes or when a batch depends on a change placed earlier in the
// current wave (a natural dependency boundary). Each wave after the first
// declares the previous wave as a prerequisite.
func (p *Planner) group(batches []*transform.Batch) []*transform.Wave {
	if len(batches) == 0 {
		return nil
	}

	var waves []*transform.Wave
	var currentBatches []*transform.Batch
	currentPaths := make(map[string]bool)

	flush := func() {
		if len(currentBatches) == 0 {
			return
		}
		var prereqs []transform.WaveID
		if len(waves) > 0 {
			prereqs = []transform.WaveID{waves[len(waves)-1].ID()}
		}
		// Each file change appears in exactly one batch, so batches within
		// a wave are disjoint by construction.
		waves = append(waves, transform.NewWave(len(waves), currentBatches, prereqs, true))
		currentBatches = nil
		currentPaths = make(map[string]bool)
	}

	for _, batch := range batches {
		if len(currentBatches) > 0 {
			prevLevel := currentBatches[len(currentBatches)-1].Risk().Level
			if prevLevel != batch.Risk().Level || dependsOnAny(batch, currentPaths) {
				flush()
			}
		}
		currentBatches = append(currentBatches, batch)
		for _, path := range batch.Paths() {
			currentPaths[path] = true
		}
	}
	flush()
	return waves
}

// dependsOnAny reports whether any file in the batch depends on one of the
// given paths.
func dependsOnAny(batch *transform.Batch, paths map[string]bool) bool {
	for _, f := range batch.Files() {
		for _, dep := range f.DependsOn {
			if paths[dep] {
				return true
			}
		}
	}
	return false
}
