// Package transform provides the core domain model for risk-gated code
// transformations. This is the bounded context for planning and applying
// machine-generated source changes with checkpointed rollback.
package transform

import (
	"bytes"
	"strings"
)

// PlanID uniquely identifies a transformation plan.
type PlanID string

// String returns the string representation of the PlanID.
func (id PlanID) String() string {
	return string(id)
}

// Short returns the first 8 characters of the PlanID for display.
func (id PlanID) Short() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// WaveID uniquely identifies a wave within a plan.
type WaveID string

// String returns the string representation of the WaveID.
func (id WaveID) String() string {
	return string(id)
}

// Short returns the first 8 characters of the WaveID for display.
func (id WaveID) Short() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// BatchID uniquely identifies a batch within a wave.
type BatchID string

// String returns the string representation of the BatchID.
func (id BatchID) String() string {
	return string(id)
}

// Short returns the first 8 characters of the BatchID for display.
func (id BatchID) Short() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// TransformationKind classifies what a proposed change does to a file.
// The kind drives the base risk weight: formatting and documentation edits
// are near-free, logic-altering kinds carry real risk.
type TransformationKind string

const (
	KindFormatting         TransformationKind = "formatting"
	KindDocumentation      TransformationKind = "documentation"
	KindRename             TransformationKind = "rename"
	KindImportCleanup      TransformationKind = "import_cleanup"
	KindDeadCodeRemoval    TransformationKind = "dead_code_removal"
	KindFunctionExtraction TransformationKind = "function_extraction"
	KindComplexityReduce   TransformationKind = "complexity_reduction"
	KindAPIMigration       TransformationKind = "api_migration"
)

// String returns the string representation of the kind.
func (k TransformationKind) String() string {
	return string(k)
}

// IsValid returns true if the kind is recognized.
func (k TransformationKind) IsValid() bool {
	switch k {
	case KindFormatting, KindDocumentation, KindRename, KindImportCleanup,
		KindDeadCodeRemoval, KindFunctionExtraction, KindComplexityReduce,
		KindAPIMigration:
		return true
	default:
		return false
	}
}

// RemovesDeadCode reports whether the kind is expected to delete unreachable
// code, which relaxes the side-effect preservation check during verification.
func (k TransformationKind) RemovesDeadCode() bool {
	return k == KindDeadCodeRemoval
}

// Language identifies the source language of a file.
type Language string

const (
	LanguageGo         Language = "go"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguagePython     Language = "python"
)

// StaticallyTyped reports whether the language has static type checking.
// Dynamically typed targets carry extra risk because the compiler catches
// nothing after a bad transformation.
func (l Language) StaticallyTyped() bool {
	switch l {
	case LanguageGo, LanguageTypeScript:
		return true
	default:
		return false
	}
}

// FileChange represents one file's proposed edit. It is produced upstream by
// the analysis/generation step and consumed read-only by this engine.
type FileChange struct {
	// Path is the file path relative to the codebase root.
	Path string

	// Kind classifies the transformation applied to this file.
	Kind TransformationKind

	// Before is the file content prior to the change.
	Before []byte

	// After is the file content the change produces.
	After []byte

	// DependsOn lists paths whose changes must be applied before this one
	// (this file imports or uses a symbol those changes modify).
	DependsOn []string

	// Language is the source language of the file.
	Language Language

	// Coverage is the measured test coverage for this file (0.0-1.0),
	// supplied upstream. Negative means unknown.
	Coverage float64
}

// LinesChanged estimates the size of the edit as the larger of the line
// counts added or removed. Cheap signal only, not a real diff.
func (c FileChange) LinesChanged() int {
	before := strings.Count(string(c.Before), "\n")
	after := strings.Count(string(c.After), "\n")
	delta := after - before
	if delta < 0 {
		delta = -delta
	}
	// A same-length rewrite still changes lines; count at least one line
	// whenever content differs.
	if delta == 0 && !bytes.Equal(c.Before, c.After) {
		return 1
	}
	return delta
}

// RiskLevel buckets a risk score into one of four tiers.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// String returns the string representation of the level.
func (l RiskLevel) String() string {
	return string(l)
}

// rank orders risk levels for comparison.
func (l RiskLevel) rank() int {
	switch l {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether the level is equal to or above other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.rank() >= other.rank()
}

// MaxRiskLevel returns the higher of two levels.
func MaxRiskLevel(a, b RiskLevel) RiskLevel {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// RiskFactor records one contribution to a risk score.
type RiskFactor struct {
	// Name identifies the factor (e.g. "transformation_kind", "coverage").
	Name string

	// Contribution is the number of points this factor added (0-100 scale).
	Contribution float64

	// Description explains the contribution in human terms.
	Description string
}

// RiskScore is the assessed risk of a file change, batch, or wave.
// Deterministic given identical inputs.
type RiskScore struct {
	// Value is the total score on a 0-100 scale.
	Value float64

	// Level is the tier the value maps to.
	Level RiskLevel

	// Factors lists the individual contributions.
	Factors []RiskFactor

	// RequiresManualApproval is true for HIGH and CRITICAL scores.
	RequiresManualApproval bool

	// RequiresExtendedTesting is true for HIGH and CRITICAL scores: the full
	// suite runs instead of the affected subset.
	RequiresExtendedTesting bool
}

// DifferenceSeverity classifies a behavior difference.
type DifferenceSeverity string

const (
	SeverityLow      DifferenceSeverity = "LOW"
	SeverityMedium   DifferenceSeverity = "MEDIUM"
	SeverityHigh     DifferenceSeverity = "HIGH"
	SeverityCritical DifferenceSeverity = "CRITICAL"
)

// DifferenceKind names the class of a detected behavior difference.
type DifferenceKind string

const (
	DiffSignatureRemoved  DifferenceKind = "signature_removed"
	DiffArityChanged      DifferenceKind = "arity_changed"
	DiffReturnTypeChanged DifferenceKind = "return_type_changed"
	DiffControlFlowShape  DifferenceKind = "control_flow_shape"
	DiffSideEffectLost    DifferenceKind = "side_effect_lost"
	DiffParameterRenamed  DifferenceKind = "parameter_renamed"
)

// BehaviorDifference is a detected semantic discrepancy between the pre- and
// post-transformation code. Never persisted independently; always attached to
// a batch's verification result.
type BehaviorDifference struct {
	Kind        DifferenceKind
	Severity    DifferenceSeverity
	Description string
	// Location is the file path (and symbol, when known) of the difference.
	Location string
}

// Blocking reports whether this difference alone prevents commitment.
func (d BehaviorDifference) Blocking() bool {
	return d.Severity == SeverityCritical
}

// VerificationResult aggregates the differences found for a batch.
type VerificationResult struct {
	Differences []BehaviorDifference
	// Diff holds a unified text diff per file for reporting.
	Diff map[string]string
}

// HasCritical reports whether any difference blocks commitment.
func (r VerificationResult) HasCritical() bool {
	for _, d := range r.Differences {
		if d.Blocking() {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking differences for the audit trail.
func (r VerificationResult) Warnings() []BehaviorDifference {
	var out []BehaviorDifference
	for _, d := range r.Differences {
		if !d.Blocking() {
			out = append(out, d)
		}
	}
	return out
}

// TestResult is the outcome of a test-runner invocation.
type TestResult struct {
	Passed   bool
	Failures []string
	// Coverage is the measured coverage of the run (0.0-1.0), negative if
	// the runner did not report one.
	Coverage float64
}
