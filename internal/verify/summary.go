// Package verify checks behavior preservation between the pre- and
// post-transformation structure of a file. It consumes structural summaries
// produced by a parser capability and classifies every discrepancy by
// severity; only critical discrepancies block a batch from committing.
package verify

import (
	"github.com/refactory-tech/refactory/internal/domain/transform"
)

// ReturnCategory classifies the return shape of a function. Categories are
// deliberately coarse so they survive cosmetic rewrites: a rename from
// `error` to a wrapped error type stays in the error category.
type ReturnCategory string

const (
	ReturnNone     ReturnCategory = "none"
	ReturnValue    ReturnCategory = "value"
	ReturnError    ReturnCategory = "error"
	ReturnMultiple ReturnCategory = "multiple"
)

// Call is one call site inside a function body. SideEffect marks calls the
// parser considers observable from outside the function (I/O, mutation of
// shared state, process control).
type Call struct {
	Callee     string
	SideEffect bool
}

// FunctionSummary is the structural digest of one function or method.
type FunctionSummary struct {
	Name     string
	Receiver string
	Params   []string
	Returns  ReturnCategory
	Branches int
	Loops    int
	Calls    []Call
}

// Arity returns the declared parameter count.
func (f FunctionSummary) Arity() int {
	return len(f.Params)
}

// Key identifies the function within its file, qualified by receiver for
// methods.
func (f FunctionSummary) Key() string {
	if f.Receiver == "" {
		return f.Name
	}
	return f.Receiver + "." + f.Name
}

// sideEffects returns the multiset of side-effecting callees.
func (f FunctionSummary) sideEffects() map[string]int {
	effects := make(map[string]int)
	for _, c := range f.Calls {
		if c.SideEffect {
			effects[c.Callee]++
		}
	}
	return effects
}

// StructuralSummary is the parsed structure of one file version.
type StructuralSummary struct {
	Path      string
	Language  transform.Language
	Functions []FunctionSummary
}

// Function looks up a function summary by key.
func (s *StructuralSummary) Function(key string) (FunctionSummary, bool) {
	for _, f := range s.Functions {
		if f.Key() == key {
			return f, true
		}
	}
	return FunctionSummary{}, false
}

// Pair holds the before and after summaries of a single file. Either side
// may be nil when the parser does not support the file's language; the
// verifier then skips structural checks for that file.
type Pair struct {
	Before *StructuralSummary
	After  *StructuralSummary
}
