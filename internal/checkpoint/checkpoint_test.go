package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/refactory-tech/refactory/internal/domain/transform"
	rferrors "github.com/refactory-tech/refactory/internal/errors"
)

func newTestManager(t *testing.T) (*Manager, string, string) {
	t.Helper()

	root := t.TempDir()
	storage := t.TempDir()

	m, err := NewManager(root, storage, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m, root, storage
}

func writeFile(t *testing.T, root, path string, content []byte) {
	t.Helper()

	abs := filepath.Join(root, path)
	if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(abs, content, 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func readFile(t *testing.T, root, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(root, path))
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	return data
}

func TestCreateRestoreRoundTrip(t *testing.T) {
	m, root, _ := newTestManager(t)
	ctx := context.Background()

	original := []byte("package svc\n\nfunc Handle() {}\n")
	writeFile(t, root, "svc/handler.go", original)

	cp, err := m.Create(ctx, transform.BatchID("batch-1"), []string{"svc/handler.go"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !cp.Covers("svc/handler.go") {
		t.Error("checkpoint should cover svc/handler.go")
	}

	writeFile(t, root, "svc/handler.go", []byte("package svc\n\nfunc Handle() { panic(\"broken\") }\n"))

	if err := m.Restore(ctx, cp); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	got := readFile(t, root, "svc/handler.go")
	if string(got) != string(original) {
		t.Errorf("restored content = %q, want %q", got, original)
	}

	if _, err := m.Checkpoint(cp.ID()); !errors.Is(err, ErrCheckpointNotFound) {
		t.Errorf("checkpoint should be consumed after restore, got err = %v", err)
	}
}

func TestRestoreRemovesCreatedFiles(t *testing.T) {
	m, root, _ := newTestManager(t)
	ctx := context.Background()

	cp, err := m.Create(ctx, transform.BatchID("batch-1"), []string{"pkg/new_file.go"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	writeFile(t, root, "pkg/new_file.go", []byte("package pkg\n"))

	if err := m.Restore(ctx, cp); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "pkg/new_file.go")); !os.IsNotExist(err) {
		t.Errorf("file created by the batch should be removed on restore, stat err = %v", err)
	}
}

func TestRestoreSubset(t *testing.T) {
	m, root, _ := newTestManager(t)
	ctx := context.Background()

	writeFile(t, root, "a.go", []byte("package a // v1\n"))
	writeFile(t, root, "b.go", []byte("package b // v1\n"))

	cp, err := m.Create(ctx, transform.BatchID("batch-1"), []string{"a.go", "b.go"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	writeFile(t, root, "a.go", []byte("package a // v2\n"))
	writeFile(t, root, "b.go", []byte("package b // v2\n"))

	if err := m.RestoreSubset(ctx, cp, []string{"a.go"}); err != nil {
		t.Fatalf("RestoreSubset() error = %v", err)
	}

	if got := readFile(t, root, "a.go"); string(got) != "package a // v1\n" {
		t.Errorf("a.go = %q, want v1 content", got)
	}
	if got := readFile(t, root, "b.go"); string(got) != "package b // v2\n" {
		t.Errorf("b.go = %q, want v2 content left in place", got)
	}

	// Partial restore leaves the checkpoint usable for further subsets.
	if _, err := m.Checkpoint(cp.ID()); err != nil {
		t.Errorf("checkpoint should survive a subset restore, got err = %v", err)
	}
}

func TestRestoreSubsetRejectsUncoveredPath(t *testing.T) {
	m, root, _ := newTestManager(t)
	ctx := context.Background()

	writeFile(t, root, "a.go", []byte("package a\n"))

	cp, err := m.Create(ctx, transform.BatchID("batch-1"), []string{"a.go"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err = m.RestoreSubset(ctx, cp, []string{"other.go"})
	if !rferrors.IsKind(err, rferrors.KindValidation) {
		t.Errorf("RestoreSubset() error = %v, want validation kind", err)
	}
}

func TestReleasePreventsRestore(t *testing.T) {
	m, root, _ := newTestManager(t)
	ctx := context.Background()

	writeFile(t, root, "a.go", []byte("package a\n"))

	cp, err := m.Create(ctx, transform.BatchID("batch-1"), []string{"a.go"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := m.Release(ctx, cp); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if !cp.Released() {
		t.Error("checkpoint should be marked released")
	}

	err = m.Restore(ctx, cp)
	if !rferrors.IsKind(err, rferrors.KindRollback) {
		t.Errorf("Restore() after release error = %v, want rollback kind", err)
	}
	if rferrors.IsRecoverable(err) {
		t.Error("rollback errors must not be recoverable")
	}
}

func TestSharedBlobSurvivesRelease(t *testing.T) {
	m, root, _ := newTestManager(t)
	ctx := context.Background()

	shared := []byte("package shared\n")
	writeFile(t, root, "x/shared.go", shared)

	first, err := m.Create(ctx, transform.BatchID("batch-1"), []string{"x/shared.go"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	second, err := m.Create(ctx, transform.BatchID("batch-2"), []string{"x/shared.go"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := m.Release(ctx, first); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	writeFile(t, root, "x/shared.go", []byte("package shared // mutated\n"))

	if err := m.Restore(ctx, second); err != nil {
		t.Fatalf("Restore() after sibling release error = %v", err)
	}
	if got := readFile(t, root, "x/shared.go"); string(got) != string(shared) {
		t.Errorf("restored content = %q, want %q", got, shared)
	}
}

func TestReleasedCheckpointSupportsSubsetRestore(t *testing.T) {
	m, root, _ := newTestManager(t)
	ctx := context.Background()

	original := []byte("package pay\n\nfunc Charge() {}\n")
	writeFile(t, root, "pay/charge.go", original)

	cp, err := m.Create(ctx, transform.BatchID("batch-1"), []string{"pay/charge.go"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := m.Release(ctx, cp); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	// A delayed production error surfaces after commit; the operator reverts
	// the file through the retained snapshot.
	writeFile(t, root, "pay/charge.go", []byte("package pay\n\nfunc Charge() { boom() }\n"))

	retained, err := m.ReleasedByBatch(transform.BatchID("batch-1"))
	if err != nil {
		t.Fatalf("ReleasedByBatch() error = %v", err)
	}
	if err := m.RestoreSubset(ctx, retained, []string{"pay/charge.go"}); err != nil {
		t.Fatalf("RestoreSubset() on released checkpoint error = %v", err)
	}
	if got := readFile(t, root, "pay/charge.go"); string(got) != string(original) {
		t.Errorf("restored content = %q, want %q", got, original)
	}

	if err := m.Prune(ctx); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if _, err := m.ReleasedByBatch(transform.BatchID("batch-1")); !errors.Is(err, ErrCheckpointNotFound) {
		t.Errorf("released checkpoint should be gone after prune, err = %v", err)
	}
}

func TestReloadAfterRestart(t *testing.T) {
	m, root, storage := newTestManager(t)
	ctx := context.Background()

	original := []byte("package a\n")
	writeFile(t, root, "a.go", original)

	cp, err := m.Create(ctx, transform.BatchID("batch-1"), []string{"a.go"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	writeFile(t, root, "a.go", []byte("package a // changed\n"))

	reloaded, err := NewManager(root, storage, nil)
	if err != nil {
		t.Fatalf("NewManager() reload error = %v", err)
	}

	found, err := reloaded.Checkpoint(cp.ID())
	if err != nil {
		t.Fatalf("Checkpoint() after reload error = %v", err)
	}
	if found.BatchID() != cp.BatchID() {
		t.Errorf("reloaded batch ID = %s, want %s", found.BatchID(), cp.BatchID())
	}

	if err := reloaded.Restore(ctx, found); err != nil {
		t.Fatalf("Restore() after reload error = %v", err)
	}
	if got := readFile(t, root, "a.go"); string(got) != string(original) {
		t.Errorf("restored content = %q, want %q", got, original)
	}
}

func TestRollbackPointGroupsCheckpoints(t *testing.T) {
	m, root, _ := newTestManager(t)
	ctx := context.Background()

	writeFile(t, root, "a.go", []byte("package a\n"))
	writeFile(t, root, "b.go", []byte("package b\n"))

	first, err := m.Create(ctx, transform.BatchID("batch-1"), []string{"a.go"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	second, err := m.Create(ctx, transform.BatchID("batch-2"), []string{"b.go"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	point := NewRollbackPoint(ScopeWave, []*Checkpoint{first, second})
	if point.Scope() != ScopeWave {
		t.Errorf("Scope() = %s, want %s", point.Scope(), ScopeWave)
	}
	if got := len(point.Checkpoints()); got != 2 {
		t.Errorf("len(Checkpoints()) = %d, want 2", got)
	}
}
