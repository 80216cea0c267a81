package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/refactory-tech/refactory/internal/domain/transform"
	rferrors "github.com/refactory-tech/refactory/internal/errors"
	"github.com/refactory-tech/refactory/internal/fileutil"
)

// maxManifestSize bounds checkpoint manifest files (2MB).
const maxManifestSize = 2 << 20

// Manager owns the checkpoint store for one codebase. It snapshots the exact
// files a batch will touch, restores them with byte-for-byte verification,
// and prunes blobs once no live checkpoint references them.
//
// The store is append-only while a batch is in flight: checkpoints are only
// removed on release (commit) or consumption (rollback).
type Manager struct {
	root   string
	blobs  *blobStore
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	live     map[ID]*Checkpoint
	released map[ID]*Checkpoint
}

// NewManager creates a checkpoint manager for the codebase rooted at root,
// storing snapshots under storageDir. Previously persisted checkpoints are
// reloaded so an interrupted run can still be rolled back.
func NewManager(root, storageDir string, logger *slog.Logger) (*Manager, error) {
	blobs, err := newBlobStore(filepath.Join(storageDir, "blobs"))
	if err != nil {
		return nil, err
	}

	manifestDir := filepath.Join(storageDir, "checkpoints")
	if err := os.MkdirAll(manifestDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		root:     root,
		blobs:    blobs,
		dir:      manifestDir,
		logger:   logger.With("component", "checkpoint"),
		live:     make(map[ID]*Checkpoint),
		released: make(map[ID]*Checkpoint),
	}
	if err := m.reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Create snapshots the given files for a batch and returns the checkpoint.
// Files that do not yet exist are recorded as absent so a restore removes
// them again.
func (m *Manager) Create(ctx context.Context, batchID transform.BatchID, paths []string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	cp := &Checkpoint{
		id:        NewID(),
		batchID:   batchID,
		createdAt: time.Now(),
	}

	for _, path := range sorted {
		entry, err := m.snapshotFile(path)
		if err != nil {
			return nil, rferrors.IOWrap(err, "checkpoint.Create", fmt.Sprintf("failed to snapshot %s", path))
		}
		cp.entries = append(cp.entries, entry)
	}

	if err := m.persist(cp); err != nil {
		return nil, rferrors.IOWrap(err, "checkpoint.Create", "failed to persist checkpoint manifest")
	}
	m.live[cp.id] = cp

	m.logger.Debug("checkpoint created",
		"checkpoint_id", cp.id,
		"batch_id", cp.batchID.Short(),
		"files", len(cp.entries))
	return cp, nil
}

// Restore rewrites every file in the checkpoint back to its snapshot and
// verifies byte equality. On success the checkpoint is consumed. A
// verification mismatch is fatal and surfaces as a non-recoverable rollback
// error so the operator is escalated to, never silently ignored.
func (m *Manager) Restore(ctx context.Context, cp *Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.live[cp.ID()]
	if !ok {
		if cp.Released() {
			return rferrors.Rollback("checkpoint.Restore", ErrCheckpointReleased.Error()).
				WithDetail("checkpoint_id", cp.ID().String())
		}
		return rferrors.RollbackWrap(ErrCheckpointNotFound, "checkpoint.Restore", "cannot restore")
	}

	if err := m.restoreEntries(stored, stored.entries); err != nil {
		return err
	}

	if err := m.consume(stored); err != nil {
		return rferrors.IOWrap(err, "checkpoint.Restore", "failed to consume checkpoint")
	}

	m.logger.Info("checkpoint restored",
		"checkpoint_id", stored.id,
		"batch_id", stored.batchID.Short(),
		"files", len(stored.entries))
	return nil
}

// RestoreSubset reverts only the named files from the checkpoint. It is the
// partial-rollback path for already-committed batches, so it also accepts
// released checkpoints and leaves them intact for further subset restores.
func (m *Manager) RestoreSubset(ctx context.Context, cp *Checkpoint, paths []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.live[cp.ID()]
	if !ok {
		stored, ok = m.released[cp.ID()]
	}
	if !ok {
		return rferrors.RollbackWrap(ErrCheckpointNotFound, "checkpoint.RestoreSubset", "cannot restore")
	}

	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[p] = true
	}

	subset := make([]fileEntry, 0, len(paths))
	for _, e := range stored.entries {
		if want[e.path] {
			subset = append(subset, e)
			delete(want, e.path)
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for p := range want {
			missing = append(missing, p)
		}
		sort.Strings(missing)
		return rferrors.Validation("checkpoint.RestoreSubset",
			fmt.Sprintf("path %s is not covered by checkpoint %s", missing[0], stored.id))
	}

	if err := m.restoreEntries(stored, subset); err != nil {
		return err
	}

	m.logger.Info("checkpoint subset restored",
		"checkpoint_id", stored.id,
		"batch_id", stored.batchID.Short(),
		"files", len(subset))
	return nil
}

// Release retires a checkpoint after its batch commits. A released
// checkpoint is no longer restorable by the automatic rollback path, but its
// snapshot is retained until Prune so an operator can still revert files of
// a committed batch through RestoreSubset.
func (m *Manager) Release(ctx context.Context, cp *Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.live[cp.ID()]
	if !ok {
		return fmt.Errorf("release checkpoint %s: %w", cp.ID(), ErrCheckpointNotFound)
	}

	delete(m.live, stored.id)
	stored.released = true
	cp.released = true
	m.released[stored.id] = stored

	if err := m.persist(stored); err != nil {
		return rferrors.IOWrap(err, "checkpoint.Release", "failed to persist released checkpoint")
	}

	m.logger.Debug("checkpoint released",
		"checkpoint_id", stored.id,
		"batch_id", stored.batchID.Short())
	return nil
}

// ReleasedByBatch returns the retained checkpoint of a committed batch.
func (m *Manager) ReleasedByBatch(batchID transform.BatchID) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cp := range m.released {
		if cp.batchID == batchID {
			return cp, nil
		}
	}
	return nil, ErrCheckpointNotFound
}

// Prune drops all released checkpoints and their now-unreferenced blobs.
// Called when a plan finishes and the committed baseline is final.
func (m *Manager) Prune(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, cp := range m.released {
		delete(m.released, id)
		if err := m.consume(cp); err != nil {
			return rferrors.IOWrap(err, "checkpoint.Prune", "failed to prune released checkpoint")
		}
	}
	return nil
}

// Checkpoint returns a live checkpoint by ID.
func (m *Manager) Checkpoint(id ID) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.live[id]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return cp, nil
}

// Live returns the checkpoints that have been neither released nor consumed,
// ordered by creation time.
func (m *Manager) Live() []*Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	cps := make([]*Checkpoint, 0, len(m.live))
	for _, cp := range m.live {
		cps = append(cps, cp)
	}
	sort.Slice(cps, func(i, j int) bool { return cps[i].createdAt.Before(cps[j].createdAt) })
	return cps
}

func (m *Manager) snapshotFile(path string) (fileEntry, error) {
	abs := filepath.Join(m.root, path)

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return fileEntry{path: path, absent: true}, nil
	}
	if err != nil {
		return fileEntry{}, err
	}

	data, err := fileutil.ReadFileLimited(abs, maxBlobSize)
	if err != nil {
		return fileEntry{}, err
	}

	digest, err := m.blobs.put(data)
	if err != nil {
		return fileEntry{}, err
	}
	return fileEntry{path: path, blob: digest, mode: info.Mode().Perm()}, nil
}

// restoreEntries writes the snapshot back and verifies every file matches
// byte for byte. Must be called with the lock held.
func (m *Manager) restoreEntries(cp *Checkpoint, entries []fileEntry) error {
	for _, e := range entries {
		if err := m.restoreEntry(e); err != nil {
			return rferrors.IOWrap(err, "checkpoint.restore", fmt.Sprintf("failed to restore %s", e.path))
		}
	}

	var mismatched []string
	for _, e := range entries {
		ok, err := m.verifyEntry(e)
		if err != nil {
			return rferrors.IOWrap(err, "checkpoint.restore", fmt.Sprintf("failed to verify %s", e.path))
		}
		if !ok {
			mismatched = append(mismatched, e.path)
		}
	}

	if len(mismatched) > 0 {
		verr := &VerificationError{CheckpointID: cp.id, Paths: mismatched}
		m.logger.Error("rollback verification failed",
			"checkpoint_id", cp.id,
			"batch_id", cp.batchID.Short(),
			"paths", mismatched)
		return rferrors.RollbackWrap(verr, "checkpoint.restore", "restored files differ from snapshot").
			WithDetail("paths", mismatched)
	}
	return nil
}

func (m *Manager) restoreEntry(e fileEntry) error {
	abs := filepath.Join(m.root, e.path)

	if e.absent {
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	data, err := m.blobs.get(e.blob)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
		return err
	}
	mode := e.mode
	if mode == 0 {
		mode = 0600
	}
	return fileutil.AtomicWriteFile(abs, data, mode)
}

func (m *Manager) verifyEntry(e fileEntry) (bool, error) {
	abs := filepath.Join(m.root, e.path)

	if e.absent {
		_, err := os.Stat(abs)
		if os.IsNotExist(err) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return false, nil
	}

	restored, err := os.ReadFile(abs) // #nosec G304 -- path derives from the checkpoint manifest
	if err != nil {
		return false, err
	}
	want, err := m.blobs.get(e.blob)
	if err != nil {
		return false, err
	}
	return bytes.Equal(restored, want), nil
}

// consume removes a checkpoint and prunes blobs no other retained checkpoint
// still references. Must be called with the lock held.
func (m *Manager) consume(cp *Checkpoint) error {
	delete(m.live, cp.id)

	referenced := make(map[string]bool)
	for _, other := range m.live {
		for _, e := range other.entries {
			if e.blob != "" {
				referenced[e.blob] = true
			}
		}
	}
	for _, other := range m.released {
		for _, e := range other.entries {
			if e.blob != "" {
				referenced[e.blob] = true
			}
		}
	}
	for _, e := range cp.entries {
		if e.blob == "" || referenced[e.blob] {
			continue
		}
		if err := m.blobs.remove(e.blob); err != nil {
			return err
		}
	}

	if err := os.Remove(m.manifestPath(cp.id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// checkpointDTO is the persisted form of a checkpoint manifest.
type checkpointDTO struct {
	ID        string         `json:"id"`
	BatchID   string         `json:"batch_id"`
	CreatedAt string         `json:"created_at"`
	Released  bool           `json:"released,omitempty"`
	Files     []fileEntryDTO `json:"files"`
}

type fileEntryDTO struct {
	Path   string `json:"path"`
	Blob   string `json:"blob,omitempty"`
	Mode   uint32 `json:"mode,omitempty"`
	Absent bool   `json:"absent,omitempty"`
}

func (m *Manager) manifestPath(id ID) string {
	return filepath.Join(m.dir, string(id)+".json")
}

func (m *Manager) persist(cp *Checkpoint) error {
	dto := checkpointDTO{
		ID:        string(cp.id),
		BatchID:   string(cp.batchID),
		CreatedAt: cp.createdAt.UTC().Format(time.RFC3339Nano),
		Released:  cp.released,
	}
	for _, e := range cp.entries {
		dto.Files = append(dto.Files, fileEntryDTO{
			Path:   e.path,
			Blob:   e.blob,
			Mode:   uint32(e.mode),
			Absent: e.absent,
		})
	}

	data, err := json.MarshalIndent(dto, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint manifest: %w", err)
	}
	return fileutil.AtomicWriteFile(m.manifestPath(cp.id), data, 0600)
}

// reload restores the live set from persisted manifests so rollback survives
// a process restart.
func (m *Manager) reload() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := fileutil.ReadFileLimited(filepath.Join(m.dir, entry.Name()), maxManifestSize)
		if err != nil {
			return fmt.Errorf("failed to read checkpoint manifest %s: %w", entry.Name(), err)
		}

		var dto checkpointDTO
		if err := json.Unmarshal(data, &dto); err != nil {
			return fmt.Errorf("failed to unmarshal checkpoint manifest %s: %w", entry.Name(), err)
		}

		cp := &Checkpoint{
			id:       ID(dto.ID),
			batchID:  transform.BatchID(dto.BatchID),
			released: dto.Released,
		}
		if t, err := time.Parse(time.RFC3339Nano, dto.CreatedAt); err == nil {
			cp.createdAt = t
		}
		for _, f := range dto.Files {
			cp.entries = append(cp.entries, fileEntry{
				path:   f.Path,
				blob:   f.Blob,
				mode:   fs.FileMode(f.Mode),
				absent: f.Absent,
			})
		}
		if cp.released {
			m.released[cp.id] = cp
		} else {
			m.live[cp.id] = cp
		}
	}
	return nil
}
