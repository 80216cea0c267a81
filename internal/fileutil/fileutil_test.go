package fileutil

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAtomicWriteFileRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content []byte
	}{
		{name: "manifest", content: []byte(`{"id":"cp-1","files":["pkg/a.go"]}`)},
		{name: "empty blob", content: []byte{}},
		{name: "binary blob", content: []byte{0x00, 0x1f, 0x8b, 0xff}},
		{name: "source file", content: []byte("package a\n\nfunc F() {}\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "blob")
			if err := AtomicWriteFile(path, tt.content, 0600); err != nil {
				t.Fatalf("AtomicWriteFile: %v", err)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read back: %v", err)
			}
			if !bytes.Equal(data, tt.content) {
				t.Fatalf("content mismatch: got %d bytes, want %d", len(data), len(tt.content))
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("stat: %v", err)
			}
			if info.Mode().Perm() != 0600 {
				t.Fatalf("permissions = %o, want 0600", info.Mode().Perm())
			}
		})
	}
}

// A restore rewrites a file that apply just modified; the write must replace
// the content wholesale, not append or mix.
func TestAtomicWriteFileRestoreCycle(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.go")
	before := []byte("package a\n\nfunc F()  {}\n")
	after := []byte("package a\n\nfunc F() {}\n")

	if err := AtomicWriteFile(path, before, 0600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := AtomicWriteFile(path, after, 0600); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := AtomicWriteFile(path, before, 0600); err != nil {
		t.Fatalf("restore: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(data, before) {
		t.Fatalf("restore left %q, want %q", data, before)
	}
}

func TestAtomicWriteFileLeavesNoTempOnSuccess(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := AtomicWriteFile(filepath.Join(dir, "manifest.json"), []byte("{}"), 0600); err != nil {
		t.Fatalf("AtomicWriteFile: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "manifest.json" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Fatalf("directory holds %v, want only manifest.json", names)
	}
}

func TestAtomicWriteFileMissingParent(t *testing.T) {
	t.Parallel()

	// The caller owns directory creation; the write itself must not invent
	// parents.
	err := AtomicWriteFile(filepath.Join(t.TempDir(), "missing", "blob"), []byte("x"), 0600)
	if err == nil {
		t.Fatal("expected an error for a missing parent directory")
	}
}

func TestReadFileLimitedEnforcesCap(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "manifest.json")
	payload := []byte(`{"shims":[` + strings.Repeat(`{"old":"A","new":"B"},`, 100) + `{}]}`)
	if err := os.WriteFile(path, payload, 0600); err != nil {
		t.Fatalf("seed: %v", err)
	}

	data, err := ReadFileLimited(path, int64(len(payload)))
	if err != nil {
		t.Fatalf("read at exact cap: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatal("content mismatch at exact cap")
	}

	if _, err := ReadFileLimited(path, int64(len(payload))-1); err == nil {
		t.Fatal("expected an error one byte under the cap")
	} else if !strings.Contains(err.Error(), "exceeds maximum") {
		t.Fatalf("err = %v, want size-limit error", err)
	}
}

func TestReadFileLimitedMissingFile(t *testing.T) {
	t.Parallel()

	_, err := ReadFileLimited(filepath.Join(t.TempDir(), "gone.json"), 100)
	if !os.IsNotExist(err) {
		t.Fatalf("err = %v, want os.IsNotExist", err)
	}
}

func TestConcurrentAtomicWritersLeaveOneIntactVersion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")

	const writers = 8
	done := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func(id int) {
			payload := bytes.Repeat([]byte{byte('a' + id)}, 256)
			done <- AtomicWriteFile(path, payload, 0600)
		}(i)
	}
	for i := 0; i < writers; i++ {
		if err := <-done; err != nil {
			t.Errorf("writer failed: %v", err)
		}
	}

	data, err := ReadFileLimited(path, 1024)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(data) != 256 {
		t.Fatalf("len = %d, want one writer's full payload", len(data))
	}
	for _, b := range data {
		if b != data[0] {
			t.Fatal("payloads interleaved; atomic rename must publish exactly one version")
		}
	}
}
