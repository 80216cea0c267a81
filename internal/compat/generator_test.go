package compat

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refactory-tech/refactory/internal/config"
	"github.com/refactory-tech/refactory/internal/domain/transform"
	"github.com/refactory-tech/refactory/internal/verify"
)

// stubParser maps file content to canned summaries so tests control rename
// detection without a real grammar.
type stubParser struct {
	summaries map[string]*verify.StructuralSummary
}

func (p *stubParser) Parse(_ context.Context, path string, content []byte, language transform.Language) (*verify.StructuralSummary, error) {
	s, ok := p.summaries[string(content)]
	if !ok {
		return &verify.StructuralSummary{Path: path, Language: language}, nil
	}
	return s, nil
}

func fn(name string, params int, returns verify.ReturnCategory) verify.FunctionSummary {
	ps := make([]string, params)
	for i := range ps {
		ps[i] = "p"
	}
	return verify.FunctionSummary{Name: name, Params: ps, Returns: returns}
}

const (
	beforeSrc = "package user\n\nfunc FetchUser(id string) (User, error) { return load(id) }\n"
	afterSrc  = "package user\n\nfunc LookupUser(id string) (User, error) { return load(id) }\n"
)

func renameParser() *stubParser {
	return &stubParser{summaries: map[string]*verify.StructuralSummary{
		beforeSrc: {Functions: []verify.FunctionSummary{fn("FetchUser", 1, verify.ReturnMultiple)}},
		afterSrc:  {Functions: []verify.FunctionSummary{fn("LookupUser", 1, verify.ReturnMultiple)}},
	}}
}

func committedBatch(t *testing.T, changes ...transform.FileChange) *transform.Batch {
	t.Helper()
	batch, err := transform.NewBatch(0, changes, transform.RiskScore{Value: 10, Level: transform.RiskLow})
	require.NoError(t, err)
	require.NoError(t, batch.MarkCheckpointed("cp-1"))
	require.NoError(t, batch.StartApplying())
	require.NoError(t, batch.StartVerifying())
	require.NoError(t, batch.StartTesting())
	batch.RecordTestResult(transform.TestResult{Passed: true})
	require.NoError(t, batch.Commit("system"))
	return batch
}

// renamePlan builds two waves: wave one renames FetchUser in pkg/user.go,
// wave two holds a change that depends on that file.
func renamePlan(t *testing.T) (*transform.TransformationPlan, *transform.Wave, *transform.Wave) {
	t.Helper()

	renamed := transform.FileChange{
		Path:     "pkg/user.go",
		Kind:     transform.KindRename,
		Before:   []byte(beforeSrc),
		After:    []byte(afterSrc),
		Language: transform.LanguageGo,
	}
	dependent := transform.FileChange{
		Path:      "pkg/handler.go",
		Kind:      transform.KindAPIMigration,
		Before:    []byte("package handler\n"),
		After:     []byte("package handler\n\n// updated\n"),
		DependsOn: []string{"pkg/user.go"},
		Language:  transform.LanguageGo,
	}

	first := transform.NewWave(0, []*transform.Batch{committedBatch(t, renamed)}, nil, true)
	depBatch, err := transform.NewBatch(0, []transform.FileChange{dependent}, transform.RiskScore{Value: 10, Level: transform.RiskLow})
	require.NoError(t, err)
	second := transform.NewWave(1, []*transform.Batch{depBatch}, []transform.WaveID{first.ID()}, true)

	return transform.NewPlan("repo", []*transform.Wave{first, second}), first, second
}

func newGenerator(t *testing.T, parser Parser) (*Generator, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig().Compat
	cfg.Enabled = true
	gen := NewGenerator(cfg, root, parser, nil)
	require.NotNil(t, gen)
	return gen, root
}

func TestGenerateForWaveWritesGoShim(t *testing.T) {
	gen, root := newGenerator(t, renameParser())
	plan, first, second := renamePlan(t)

	shims, err := gen.GenerateForWave(context.Background(), plan, first)
	require.NoError(t, err)
	require.Len(t, shims, 1)

	shim := shims[0]
	assert.Equal(t, "FetchUser", shim.OldSymbol)
	assert.Equal(t, "LookupUser", shim.NewSymbol)
	assert.Equal(t, "pkg/user_compat.go", shim.ShimPath)
	assert.Equal(t, second.ID(), shim.RemovalWave)

	content, err := os.ReadFile(filepath.Join(root, shim.ShimPath))
	require.NoError(t, err)
	assert.Contains(t, string(content), "package user")
	assert.Contains(t, string(content), "var FetchUser = LookupUser")
	assert.Contains(t, string(content), "Deprecated:")
}

func TestGenerateForWaveSkipsWithoutDependents(t *testing.T) {
	gen, _ := newGenerator(t, renameParser())

	renamed := transform.FileChange{
		Path:     "pkg/user.go",
		Kind:     transform.KindRename,
		Before:   []byte(beforeSrc),
		After:    []byte(afterSrc),
		Language: transform.LanguageGo,
	}
	wave := transform.NewWave(0, []*transform.Batch{committedBatch(t, renamed)}, nil, true)
	plan := transform.NewPlan("repo", []*transform.Wave{wave})

	shims, err := gen.GenerateForWave(context.Background(), plan, wave)
	require.NoError(t, err)
	assert.Empty(t, shims)
}

func TestGenerateForWaveIgnoresAmbiguousMatches(t *testing.T) {
	// Two added functions with identical shape make the pairing ambiguous;
	// no shim should be guessed.
	parser := &stubParser{summaries: map[string]*verify.StructuralSummary{
		beforeSrc: {Functions: []verify.FunctionSummary{fn("FetchUser", 1, verify.ReturnMultiple)}},
		afterSrc: {Functions: []verify.FunctionSummary{
			fn("LookupUser", 1, verify.ReturnMultiple),
			fn("FindUser", 1, verify.ReturnMultiple),
		}},
	}}
	gen, _ := newGenerator(t, parser)
	plan, first, _ := renamePlan(t)

	shims, err := gen.GenerateForWave(context.Background(), plan, first)
	require.NoError(t, err)
	assert.Empty(t, shims)
}

func TestRetireForWaveDeletesShims(t *testing.T) {
	gen, root := newGenerator(t, renameParser())
	plan, first, second := renamePlan(t)

	shims, err := gen.GenerateForWave(context.Background(), plan, first)
	require.NoError(t, err)
	require.Len(t, shims, 1)
	shimFile := filepath.Join(root, shims[0].ShimPath)
	require.FileExists(t, shimFile)

	require.NoError(t, gen.RetireForWave(context.Background(), second.ID()))
	assert.NoFileExists(t, shimFile)
	assert.Empty(t, gen.Shims())
}

func TestRetireForWaveKeepsUnrelatedShims(t *testing.T) {
	gen, root := newGenerator(t, renameParser())
	plan, first, _ := renamePlan(t)

	shims, err := gen.GenerateForWave(context.Background(), plan, first)
	require.NoError(t, err)
	require.Len(t, shims, 1)

	require.NoError(t, gen.RetireForWave(context.Background(), first.ID()))
	assert.FileExists(t, filepath.Join(root, shims[0].ShimPath))
	assert.Len(t, gen.Shims(), 1)
}

func TestManifestSurvivesRestart(t *testing.T) {
	gen, root := newGenerator(t, renameParser())
	plan, first, second := renamePlan(t)

	_, err := gen.GenerateForWave(context.Background(), plan, first)
	require.NoError(t, err)

	cfg := config.DefaultConfig().Compat
	cfg.Enabled = true
	reopened := NewGenerator(cfg, root, renameParser(), nil)
	require.NotNil(t, reopened)
	require.Len(t, reopened.Shims(), 1)
	assert.Equal(t, second.ID(), reopened.Shims()[0].RemovalWave)
}

func TestRegenerateAfterRollbackDisabledByDefault(t *testing.T) {
	gen, _ := newGenerator(t, renameParser())
	plan, first, _ := renamePlan(t)
	batch := first.Batches()[0]

	shims, err := gen.RegenerateAfterRollback(context.Background(), plan, batch.ID())
	require.NoError(t, err)
	assert.Empty(t, shims)
}

func TestRegenerateAfterRollbackEmitsReverseShim(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig().Compat
	cfg.Enabled = true
	cfg.RegenerateOnPartialRollback = true
	gen := NewGenerator(cfg, root, renameParser(), nil)
	require.NotNil(t, gen)

	plan, first, _ := renamePlan(t)
	batch := first.Batches()[0]

	shims, err := gen.RegenerateAfterRollback(context.Background(), plan, batch.ID())
	require.NoError(t, err)
	require.Len(t, shims, 1)
	assert.Equal(t, "LookupUser", shims[0].OldSymbol)
	assert.Equal(t, "FetchUser", shims[0].NewSymbol)

	content, err := os.ReadFile(filepath.Join(root, shims[0].ShimPath))
	require.NoError(t, err)
	assert.Contains(t, string(content), "var LookupUser = FetchUser")
}

func TestPythonAndJavaScriptShimForms(t *testing.T) {
	cases := []struct {
		language transform.Language
		path     string
		want     string
	}{
		{transform.LanguagePython, "app/user.py", "from .user import lookup_user as fetch_user"},
		{transform.LanguageJavaScript, "src/user.js", `export { lookupUser as fetchUser } from "./user";`},
		{transform.LanguageTypeScript, "src/user.ts", `export { lookupUser as fetchUser } from "./user";`},
	}
	for _, tc := range cases {
		change := transform.FileChange{Path: tc.path, Language: tc.language, After: []byte("x")}
		old := "fetch_user"
		renamed := "lookup_user"
		if tc.language != transform.LanguagePython {
			old, renamed = "fetchUser", "lookupUser"
		}
		content, err := renderShim(change, old, renamed, transform.WaveID("w-1"))
		require.NoError(t, err, tc.path)
		assert.Contains(t, content, tc.want, tc.path)
	}
}

func TestNewGeneratorDisabled(t *testing.T) {
	cfg := config.DefaultConfig().Compat
	cfg.Enabled = false
	assert.Nil(t, NewGenerator(cfg, t.TempDir(), renameParser(), nil))
	cfg.Enabled = true
	assert.Nil(t, NewGenerator(cfg, t.TempDir(), nil, nil))
}
