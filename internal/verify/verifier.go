package verify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/refactory-tech/refactory/internal/domain/transform"
)

// Verifier compares before/after structural summaries and classifies the
// differences. It holds no state between batches.
type Verifier struct {
	logger *slog.Logger
	differ *diffmatchpatch.DiffMatchPatch
}

// NewVerifier creates a behavior verifier.
func NewVerifier(logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		logger: logger.With("component", "verify"),
		differ: diffmatchpatch.New(),
	}
}

// VerifyBatch verifies every change in a batch against its structural pair
// and attaches a per-file text diff for reporting. Files whose language the
// parser does not support get the text diff only.
func (v *Verifier) VerifyBatch(ctx context.Context, changes []transform.FileChange, pairs map[string]Pair) (transform.VerificationResult, error) {
	result := transform.VerificationResult{
		Diff: make(map[string]string, len(changes)),
	}

	for _, change := range changes {
		if err := ctx.Err(); err != nil {
			return transform.VerificationResult{}, err
		}

		result.Diff[change.Path] = v.textDiff(change)

		pair := pairs[change.Path]
		if pair.Before == nil || pair.After == nil {
			v.logger.Debug("skipping structural checks, no summary",
				"path", change.Path, "language", change.Language)
			continue
		}
		result.Differences = append(result.Differences, v.VerifyChange(change, pair.Before, pair.After)...)
	}

	v.logger.Debug("batch verified",
		"files", len(changes),
		"differences", len(result.Differences),
		"critical", result.HasCritical())
	return result, nil
}

// VerifyChange compares one file's before/after structure under the declared
// transformation kind and returns the classified differences.
func (v *Verifier) VerifyChange(change transform.FileChange, before, after *StructuralSummary) []transform.BehaviorDifference {
	var diffs []transform.BehaviorDifference

	for _, fn := range before.Functions {
		loc := change.Path + ":" + fn.Key()

		current, ok := after.Function(fn.Key())
		if !ok {
			diffs = append(diffs, v.removalDifference(change, fn, loc))
			continue
		}

		if fn.Arity() != current.Arity() {
			diffs = append(diffs, transform.BehaviorDifference{
				Kind:     transform.DiffArityChanged,
				Severity: transform.SeverityCritical,
				Description: fmt.Sprintf("%s changed arity from %d to %d",
					fn.Key(), fn.Arity(), current.Arity()),
				Location: loc,
			})
		} else if renamed := renamedParams(fn, current); len(renamed) > 0 {
			diffs = append(diffs, transform.BehaviorDifference{
				Kind:        transform.DiffParameterRenamed,
				Severity:    transform.SeverityLow,
				Description: fmt.Sprintf("%s renamed parameter(s) %v", fn.Key(), renamed),
				Location:    loc,
			})
		}

		if fn.Returns != current.Returns {
			diffs = append(diffs, transform.BehaviorDifference{
				Kind:     transform.DiffReturnTypeChanged,
				Severity: transform.SeverityHigh,
				Description: fmt.Sprintf("%s changed return category from %s to %s",
					fn.Key(), fn.Returns, current.Returns),
				Location: loc,
			})
		}

		if mustPreserveShape(change.Kind) && shapeChanged(fn, current) {
			diffs = append(diffs, transform.BehaviorDifference{
				Kind:     transform.DiffControlFlowShape,
				Severity: transform.SeverityHigh,
				Description: fmt.Sprintf("%s control-flow shape changed (branches %d→%d, loops %d→%d) under %s transformation",
					fn.Key(), fn.Branches, current.Branches, fn.Loops, current.Loops, change.Kind),
				Location: loc,
			})
		}

		diffs = append(diffs, v.lostSideEffects(change, fn, current, loc)...)
	}

	return diffs
}

func (v *Verifier) removalDifference(change transform.FileChange, fn FunctionSummary, loc string) transform.BehaviorDifference {
	severity := transform.SeverityCritical
	desc := fmt.Sprintf("%s was removed", fn.Key())
	if change.Kind.RemovesDeadCode() {
		severity = transform.SeverityMedium
		desc = fmt.Sprintf("%s removed as dead code", fn.Key())
	}
	return transform.BehaviorDifference{
		Kind:        transform.DiffSignatureRemoved,
		Severity:    severity,
		Description: desc,
		Location:    loc,
	}
}

func (v *Verifier) lostSideEffects(change transform.FileChange, before, after FunctionSummary, loc string) []transform.BehaviorDifference {
	was := before.sideEffects()
	is := after.sideEffects()

	var diffs []transform.BehaviorDifference
	for callee, count := range was {
		if is[callee] >= count {
			continue
		}
		severity := transform.SeverityCritical
		if change.Kind.RemovesDeadCode() {
			severity = transform.SeverityMedium
		}
		diffs = append(diffs, transform.BehaviorDifference{
			Kind:     transform.DiffSideEffectLost,
			Severity: severity,
			Description: fmt.Sprintf("%s dropped side-effecting call to %s (%d before, %d after)",
				before.Key(), callee, count, is[callee]),
			Location: loc,
		})
	}
	return diffs
}

func (v *Verifier) textDiff(change transform.FileChange) string {
	patches := v.differ.PatchMake(string(change.Before), string(change.After))
	return v.differ.PatchToText(patches)
}

// mustPreserveShape reports whether the transformation kind promises not to
// alter branch/loop structure. Extraction, complexity reduction, dead-code
// removal and API migration legitimately reshape control flow.
func mustPreserveShape(kind transform.TransformationKind) bool {
	switch kind {
	case transform.KindFormatting, transform.KindDocumentation,
		transform.KindRename, transform.KindImportCleanup:
		return true
	default:
		return false
	}
}

func shapeChanged(before, after FunctionSummary) bool {
	return before.Branches != after.Branches || before.Loops != after.Loops
}

func renamedParams(before, after FunctionSummary) []string {
	var renamed []string
	for i, p := range before.Params {
		if after.Params[i] != p {
			renamed = append(renamed, p)
		}
	}
	return renamed
}
