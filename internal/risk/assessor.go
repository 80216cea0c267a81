// Package risk implements risk assessment for proposed code transformations.
//
// The assessor evaluates static signals to produce a score on a 0-100 scale
// that routes batches through testing and approval. It is a pure function of
// its inputs: identical signals always yield identical scores, which is what
// makes plans reproducible and auditable.
package risk

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/refactory-tech/refactory/internal/config"
	"github.com/refactory-tech/refactory/internal/domain/transform"
)

// Assessor computes risk scores for file changes and batches.
type Assessor struct {
	cfg config.RiskConfig
}

// NewAssessor creates an assessor with the given weight table and cutoffs.
func NewAssessor(cfg config.RiskConfig) *Assessor {
	return &Assessor{cfg: cfg}
}

// NewAssessorWithDefaults creates an assessor with default weights.
func NewAssessorWithDefaults() *Assessor {
	return NewAssessor(DefaultConfig().Risk)
}

// DefaultConfig re-exports the engine defaults for callers that only need
// risk settings.
func DefaultConfig() *config.Config {
	return config.DefaultConfig()
}

// securityPatterns match lexical markers of security-sensitive code: auth,
// payment, crypto, and query construction. A match anywhere in the path or
// content applies the configured security penalty.
var securityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(auth[a-z]*|login|session|credential|password|oauth|jwt|token)\b`),
	regexp.MustCompile(`(?i)\b(payment|billing|invoice|charge|checkout|stripe)\b`),
	regexp.MustCompile(`(?i)\b(crypto[a-z]*|encrypt|decrypt|cipher|hmac|sha\d+|salt)\b`),
	regexp.MustCompile(`(?i)\b(sql|query|prepare[a-z]*statement|exec[a-z]*query)\b`),
}

// SecuritySensitive reports whether the change touches security-sensitive
// code, judged lexically over the path and both content versions.
func SecuritySensitive(change transform.FileChange) bool {
	for _, p := range securityPatterns {
		if p.MatchString(change.Path) || p.Match(change.Before) || p.Match(change.After) {
			return true
		}
	}
	return false
}

// AssessFile scores a single file change.
func (a *Assessor) AssessFile(change transform.FileChange) transform.RiskScore {
	factors := make([]transform.RiskFactor, 0, 4)
	total := 0.0

	// Base weight per transformation kind.
	base := a.cfg.KindWeights[change.Kind.String()]
	total += base
	factors = append(factors, transform.RiskFactor{
		Name:         "transformation_kind",
		Contribution: base,
		Description:  fmt.Sprintf("base weight for %s", change.Kind),
	})

	// Coverage penalty: full below the low threshold, linear in the middle
	// band, none above the high threshold. Unknown coverage counts as zero.
	coverage := change.Coverage
	if coverage < 0 {
		coverage = 0
	}
	if pen := a.coveragePenalty(coverage); pen > 0 {
		total += pen
		factors = append(factors, transform.RiskFactor{
			Name:         "coverage",
			Contribution: pen,
			Description:  fmt.Sprintf("test coverage %.0f%%", coverage*100),
		})
	}

	// Security-sensitive pattern penalty.
	if SecuritySensitive(change) {
		total += a.cfg.SecurityPenalty
		factors = append(factors, transform.RiskFactor{
			Name:         "security_pattern",
			Contribution: a.cfg.SecurityPenalty,
			Description:  "security-sensitive pattern matched",
		})
	}

	// Dynamic-language penalty: nothing catches a bad edit after the fact.
	if !change.Language.StaticallyTyped() {
		total += a.cfg.DynamicLanguagePenalty
		factors = append(factors, transform.RiskFactor{
			Name:         "dynamic_language",
			Contribution: a.cfg.DynamicLanguagePenalty,
			Description:  fmt.Sprintf("%s lacks static typing", change.Language),
		})
	}

	return a.finalize(total, factors)
}

// AssessBatch scores an aggregate of file changes. The per-file signals are
// re-evaluated over the whole set, plus a files-affected penalty.
func (a *Assessor) AssessBatch(changes []transform.FileChange) transform.RiskScore {
	if len(changes) == 0 {
		return a.finalize(0, nil)
	}

	factors := make([]transform.RiskFactor, 0, 5)
	total := 0.0

	// Base weight: the riskiest kind in the set dominates.
	base := 0.0
	baseKind := changes[0].Kind
	for _, c := range changes {
		if w := a.cfg.KindWeights[c.Kind.String()]; w > base {
			base = w
			baseKind = c.Kind
		}
	}
	total += base
	factors = append(factors, transform.RiskFactor{
		Name:         "transformation_kind",
		Contribution: base,
		Description:  fmt.Sprintf("base weight for %s", baseKind),
	})

	// Files-affected penalty, capped.
	filePen := float64(len(changes)-1) * a.cfg.FilePenalty
	if filePen > a.cfg.FilePenaltyCap {
		filePen = a.cfg.FilePenaltyCap
	}
	if filePen > 0 {
		total += filePen
		factors = append(factors, transform.RiskFactor{
			Name:         "files_affected",
			Contribution: filePen,
			Description:  fmt.Sprintf("%d files affected", len(changes)),
		})
	}

	// Coverage penalty from the worst-covered file.
	worst := 1.0
	for _, c := range changes {
		cov := c.Coverage
		if cov < 0 {
			cov = 0
		}
		if cov < worst {
			worst = cov
		}
	}
	if pen := a.coveragePenalty(worst); pen > 0 {
		total += pen
		factors = append(factors, transform.RiskFactor{
			Name:         "coverage",
			Contribution: pen,
			Description:  fmt.Sprintf("lowest test coverage %.0f%%", worst*100),
		})
	}

	// Security and language penalties apply once if any member triggers them.
	for _, c := range changes {
		if SecuritySensitive(c) {
			total += a.cfg.SecurityPenalty
			factors = append(factors, transform.RiskFactor{
				Name:         "security_pattern",
				Contribution: a.cfg.SecurityPenalty,
				Description:  fmt.Sprintf("security-sensitive pattern in %s", c.Path),
			})
			break
		}
	}
	for _, c := range changes {
		if !c.Language.StaticallyTyped() {
			total += a.cfg.DynamicLanguagePenalty
			factors = append(factors, transform.RiskFactor{
				Name:         "dynamic_language",
				Contribution: a.cfg.DynamicLanguagePenalty,
				Description:  fmt.Sprintf("%s lacks static typing", c.Language),
			})
			break
		}
	}

	return a.finalize(total, factors)
}

// coveragePenalty maps a coverage fraction to a penalty: full below the low
// threshold, linearly decreasing in the middle band, zero above the high
// threshold.
func (a *Assessor) coveragePenalty(coverage float64) float64 {
	switch {
	case coverage <= a.cfg.LowCoverage:
		return a.cfg.CoveragePenalty
	case coverage >= a.cfg.HighCoverage:
		return 0
	default:
		band := a.cfg.HighCoverage - a.cfg.LowCoverage
		return a.cfg.CoveragePenalty * (a.cfg.HighCoverage - coverage) / band
	}
}

// finalize clamps the score, maps it to a level, and sorts factors by
// descending contribution for stable output.
func (a *Assessor) finalize(total float64, factors []transform.RiskFactor) transform.RiskScore {
	total = clamp(total, 0, 100)

	level := a.scoreLevel(total)
	gated := level == transform.RiskHigh || level == transform.RiskCritical

	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Contribution > factors[j].Contribution
	})

	return transform.RiskScore{
		Value:                   total,
		Level:                   level,
		Factors:                 factors,
		RequiresManualApproval:  gated,
		RequiresExtendedTesting: gated,
	}
}

// scoreLevel converts a score to a risk level using the configured cutoffs.
func (a *Assessor) scoreLevel(score float64) transform.RiskLevel {
	switch {
	case score >= a.cfg.CriticalCutoff:
		return transform.RiskCritical
	case score >= a.cfg.HighCutoff:
		return transform.RiskHigh
	case score >= a.cfg.MediumCutoff:
		return transform.RiskMedium
	default:
		return transform.RiskLow
	}
}

// clamp restricts a value to a range.
func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
