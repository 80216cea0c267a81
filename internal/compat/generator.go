// Package compat generates forwarding shims when a committed wave renames
// exported symbols that code in later waves still references. Shims let
// waves land independently instead of forcing one atomic cutover; each shim
// is tagged deprecated and removed once the last dependent wave commits.
package compat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/refactory-tech/refactory/internal/config"
	"github.com/refactory-tech/refactory/internal/domain/transform"
	rferrors "github.com/refactory-tech/refactory/internal/errors"
	"github.com/refactory-tech/refactory/internal/fileutil"
	"github.com/refactory-tech/refactory/internal/verify"
)

// Parser is the structural-summary capability the generator needs. Satisfied
// by the tree-sitter adapter.
type Parser interface {
	Parse(ctx context.Context, path string, content []byte, language transform.Language) (*verify.StructuralSummary, error)
}

// Shim records one generated forwarding stub.
type Shim struct {
	// OldSymbol is the name dependent code still references.
	OldSymbol string `json:"old_symbol"`
	// NewSymbol is the name the wave introduced.
	NewSymbol string `json:"new_symbol"`
	// SourcePath is the transformed file the symbols live in.
	SourcePath string `json:"source_path"`
	// ShimPath is where the forwarding stub was written.
	ShimPath string `json:"shim_path"`
	// RemovalWave is the wave whose commit makes the shim removable: the
	// last wave containing code that depends on the renamed file.
	RemovalWave transform.WaveID `json:"removal_wave"`
	Language    transform.Language `json:"language"`
}

// Generator detects renames in committed waves and maintains the shim set.
type Generator struct {
	cfg    config.CompatConfig
	root   string
	parser Parser
	logger *slog.Logger

	mu    sync.Mutex
	shims []Shim
}

// NewGenerator creates a shim generator for the codebase rooted at root.
// Returns nil when the layer is disabled or no parser is available, so the
// result can be passed straight to the orchestrator.
func NewGenerator(cfg config.CompatConfig, root string, parser Parser, logger *slog.Logger) *Generator {
	if !cfg.Enabled || parser == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{
		cfg:    cfg,
		root:   root,
		parser: parser,
		logger: logger.With("component", "compat"),
	}
	if err := g.loadManifest(); err != nil {
		g.logger.Warn("failed to load shim manifest, starting empty", "error", err)
	}
	return g
}

// GenerateForWave inspects a committed wave for renamed functions that later
// waves still depend on, writes forwarding shims for them, and records each
// shim with the wave whose commit retires it.
func (g *Generator) GenerateForWave(ctx context.Context, plan *transform.TransformationPlan, wave *transform.Wave) ([]Shim, error) {
	var created []Shim

	for _, batch := range wave.Batches() {
		if batch.Status() != transform.StatusCommitted {
			continue
		}
		for _, change := range batch.Files() {
			if !renameCandidate(change.Kind) {
				continue
			}
			removalWave, ok := lastDependentWave(plan, wave, change.Path)
			if !ok {
				// Nothing outside the wave references this file; no
				// shim needed.
				continue
			}

			renames, err := g.detectRenames(ctx, change)
			if err != nil {
				g.logger.Warn("rename detection failed, skipping shims",
					"path", change.Path, "error", err)
				continue
			}
			for old, renamed := range renames {
				shim, err := g.writeShim(change, old, renamed, removalWave)
				if err != nil {
					return created, err
				}
				created = append(created, shim)
			}
		}
	}

	if len(created) > 0 {
		g.mu.Lock()
		g.shims = append(g.shims, created...)
		err := g.saveManifestLocked()
		g.mu.Unlock()
		if err != nil {
			return created, err
		}
		g.logger.Info("forwarding shims generated",
			"wave_id", wave.ID().Short(), "count", len(created))
	}
	return created, nil
}

// RetireForWave deletes the shims whose removal wave has committed. Called
// by the orchestrator after every wave commit.
func (g *Generator) RetireForWave(ctx context.Context, waveID transform.WaveID) error {
	_ = ctx

	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := g.shims[:0]
	removed := 0
	for _, shim := range g.shims {
		if shim.RemovalWave != waveID {
			remaining = append(remaining, shim)
			continue
		}
		if err := removeFile(filepath.Join(g.root, shim.ShimPath)); err != nil {
			return rferrors.IOWrap(err, "compat.RetireForWave",
				fmt.Sprintf("failed to remove shim %s", shim.ShimPath))
		}
		removed++
	}
	g.shims = remaining

	if removed > 0 {
		g.logger.Info("retired shims", "wave_id", waveID.Short(), "count", removed)
		return g.saveManifestLocked()
	}
	return nil
}

// RegenerateAfterRollback emits reverse shims after an operator partially
// rolls back a committed batch: the restored file no longer defines the new
// symbols, but code that migrated in the meantime references them. Behavior
// is explicitly configurable; when disabled the rollback leaves dependents
// to their own devices.
func (g *Generator) RegenerateAfterRollback(ctx context.Context, plan *transform.TransformationPlan, batchID transform.BatchID) ([]Shim, error) {
	if !g.cfg.RegenerateOnPartialRollback {
		return nil, nil
	}

	wave, batch, err := plan.FindBatch(batchID)
	if err != nil {
		return nil, err
	}

	var created []Shim
	for _, change := range batch.Files() {
		if !renameCandidate(change.Kind) {
			continue
		}
		renames, err := g.detectRenames(ctx, change)
		if err != nil {
			continue
		}
		// Reverse direction: the new name forwards to the restored old one.
		for old, renamed := range renames {
			shim, err := g.writeShim(change, renamed, old, wave.ID())
			if err != nil {
				return created, err
			}
			created = append(created, shim)
		}
	}

	if len(created) > 0 {
		g.mu.Lock()
		g.shims = append(g.shims, created...)
		err := g.saveManifestLocked()
		g.mu.Unlock()
		if err != nil {
			return created, err
		}
	}
	return created, nil
}

// Shims returns the currently recorded shims.
func (g *Generator) Shims() []Shim {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Shim, len(g.shims))
	copy(out, g.shims)
	return out
}

// renameCandidate reports whether the kind can move an exported symbol.
func renameCandidate(kind transform.TransformationKind) bool {
	switch kind {
	case transform.KindRename, transform.KindFunctionExtraction, transform.KindAPIMigration:
		return true
	default:
		return false
	}
}

// lastDependentWave finds the latest wave after the committed one containing
// a change that depends on the given path.
func lastDependentWave(plan *transform.TransformationPlan, committed *transform.Wave, path string) (transform.WaveID, bool) {
	var found transform.WaveID
	ok := false
	for _, wave := range plan.Waves() {
		if wave.Order() <= committed.Order() {
			continue
		}
		for _, batch := range wave.Batches() {
			for _, change := range batch.Files() {
				for _, dep := range change.DependsOn {
					if dep == path {
						found, ok = wave.ID(), true
					}
				}
			}
		}
	}
	return found, ok
}

// detectRenames pairs functions that disappeared from the before summary
// with functions the after summary introduced. Pairing requires matching
// arity and return category; ambiguous cases are dropped rather than
// guessed.
func (g *Generator) detectRenames(ctx context.Context, change transform.FileChange) (map[string]string, error) {
	before, err := g.parser.Parse(ctx, change.Path, change.Before, change.Language)
	if err != nil {
		return nil, err
	}
	after, err := g.parser.Parse(ctx, change.Path, change.After, change.Language)
	if err != nil {
		return nil, err
	}

	var removed, added []verify.FunctionSummary
	for _, fn := range before.Functions {
		if fn.Receiver != "" || !exported(fn.Name, change.Language) {
			continue
		}
		if _, ok := after.Function(fn.Key()); !ok {
			removed = append(removed, fn)
		}
	}
	for _, fn := range after.Functions {
		if fn.Receiver != "" || !exported(fn.Name, change.Language) {
			continue
		}
		if _, ok := before.Function(fn.Key()); !ok {
			added = append(added, fn)
		}
	}

	renames := make(map[string]string)
	for _, old := range removed {
		var match string
		count := 0
		for _, candidate := range added {
			if candidate.Arity() == old.Arity() && candidate.Returns == old.Returns {
				match = candidate.Name
				count++
			}
		}
		if count == 1 {
			renames[old.Name] = match
		}
	}
	return renames, nil
}

// exported reports whether a symbol is part of the file's public surface.
// Go capitalizes; the underscore convention covers the dynamic languages.
func exported(name string, language transform.Language) bool {
	if name == "" {
		return false
	}
	if language == transform.LanguageGo {
		return name[0] >= 'A' && name[0] <= 'Z'
	}
	return !strings.HasPrefix(name, "_")
}

var packagePattern = regexp.MustCompile(`(?m)^package\s+(\w+)`)

// writeShim renders and writes the forwarding stub beside the source file.
func (g *Generator) writeShim(change transform.FileChange, oldName, newName string, removalWave transform.WaveID) (Shim, error) {
	const op = "compat.writeShim"

	shimPath := shimPathFor(change.Path)
	content, err := renderShim(change, oldName, newName, removalWave)
	if err != nil {
		return Shim{}, err
	}

	abs := filepath.Join(g.root, shimPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0700); err != nil {
		return Shim{}, rferrors.IOWrap(err, op, fmt.Sprintf("failed to create directory for %s", shimPath))
	}
	if err := fileutil.AtomicWriteFile(abs, []byte(content), 0600); err != nil {
		return Shim{}, rferrors.IOWrap(err, op, fmt.Sprintf("failed to write shim %s", shimPath))
	}

	return Shim{
		OldSymbol:   oldName,
		NewSymbol:   newName,
		SourcePath:  change.Path,
		ShimPath:    shimPath,
		RemovalWave: removalWave,
		Language:    change.Language,
	}, nil
}

// shimPathFor places the stub next to its source: pkg/user.go becomes
// pkg/user_compat.go.
func shimPathFor(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_compat" + ext
}

// renderShim produces the language-specific forwarding text. Function-value
// aliasing avoids reconstructing signatures.
func renderShim(change transform.FileChange, oldName, newName string, removalWave transform.WaveID) (string, error) {
	note := fmt.Sprintf("scheduled for removal once wave %s commits", removalWave.Short())

	switch change.Language {
	case transform.LanguageGo:
		m := packagePattern.FindSubmatch(change.After)
		if m == nil {
			return "", rferrors.Parse("compat.renderShim", change.Path+" has no package clause")
		}
		return fmt.Sprintf(`package %s

// Deprecated: %s was renamed to %s; %s.
var %s = %s
`, string(m[1]), oldName, newName, note, oldName, newName), nil

	case transform.LanguagePython:
		module := strings.TrimSuffix(filepath.Base(change.Path), ".py")
		return fmt.Sprintf(`"""Deprecated forwarding alias: %s was renamed to %s; %s."""

from .%s import %s as %s
`, oldName, newName, note, module, newName, oldName), nil

	case transform.LanguageJavaScript, transform.LanguageTypeScript:
		module := strings.TrimSuffix(filepath.Base(change.Path), filepath.Ext(change.Path))
		return fmt.Sprintf(`// Deprecated: %s was renamed to %s; %s.
export { %s as %s } from "./%s";
`, oldName, newName, note, newName, oldName, module), nil

	default:
		return "", rferrors.Parse("compat.renderShim", fmt.Sprintf("unsupported language %q", change.Language))
	}
}
