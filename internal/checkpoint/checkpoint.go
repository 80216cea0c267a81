// Package checkpoint provides snapshot and restore primitives for batch
// execution. Snapshots live in a content-addressed blob store keyed by
// SHA-256 digest, so successive batches touching overlapping files share
// storage instead of duplicating it.
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"

	"github.com/refactory-tech/refactory/internal/domain/transform"
)

// Sentinel errors for checkpoint operations.
var (
	// ErrCheckpointNotFound indicates the requested checkpoint does not exist
	// or has already been consumed.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrCheckpointReleased indicates a restore was attempted against a
	// checkpoint that was released when its batch committed.
	ErrCheckpointReleased = errors.New("checkpoint already released")

	// ErrRestoreVerification indicates a restored file did not match its
	// snapshot byte for byte. This is fatal and requires operator attention.
	ErrRestoreVerification = errors.New("rollback verification failed")
)

// VerificationError reports the files that failed byte-equality verification
// after a restore.
type VerificationError struct {
	CheckpointID ID
	Paths        []string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("rollback verification failed for checkpoint %s: %d file(s) differ from snapshot", e.CheckpointID, len(e.Paths))
}

func (e *VerificationError) Unwrap() error {
	return ErrRestoreVerification
}

// ID uniquely identifies a checkpoint.
type ID string

// NewID generates a new checkpoint identifier.
func NewID() ID {
	return ID(uuid.New().String())
}

func (id ID) String() string {
	return string(id)
}

// fileEntry records the pre-batch state of a single file. An empty blob
// digest means the file did not exist when the snapshot was taken, so a
// restore deletes it.
type fileEntry struct {
	path   string
	blob   string
	mode   fs.FileMode
	absent bool
}

// Checkpoint is a restorable snapshot of exactly the files a batch touches.
// It is created before the batch enters applying, released on commit, and
// consumed on rollback.
type Checkpoint struct {
	id        ID
	batchID   transform.BatchID
	entries   []fileEntry
	createdAt time.Time
	released  bool
}

// ID returns the checkpoint identifier.
func (c *Checkpoint) ID() ID { return c.id }

// BatchID returns the batch this checkpoint protects.
func (c *Checkpoint) BatchID() transform.BatchID { return c.batchID }

// CreatedAt returns when the snapshot was taken.
func (c *Checkpoint) CreatedAt() time.Time { return c.createdAt }

// Released reports whether the checkpoint was released on commit.
func (c *Checkpoint) Released() bool { return c.released }

// SnapshotRef returns the opaque reference to the stored snapshot.
func (c *Checkpoint) SnapshotRef() string { return string(c.id) }

// Paths returns the files covered by this checkpoint.
func (c *Checkpoint) Paths() []string {
	paths := make([]string, len(c.entries))
	for i, e := range c.entries {
		paths[i] = e.path
	}
	return paths
}

// Covers reports whether the checkpoint includes the given path.
func (c *Checkpoint) Covers(path string) bool {
	for _, e := range c.entries {
		if e.path == path {
			return true
		}
	}
	return false
}

// Scope identifies the granularity of a rollback point.
type Scope string

// Rollback scopes, from narrowest to widest.
const (
	ScopeFile  Scope = "FILE"
	ScopeBatch Scope = "BATCH"
	ScopeWave  Scope = "WAVE"
)

// RollbackPoint groups checkpoints so they can be restored together at a
// chosen granularity. A wave-scoped point holds one checkpoint per batch in
// the wave; restoring it reverses the wave in reverse batch order.
type RollbackPoint struct {
	id          ID
	scope       Scope
	checkpoints []*Checkpoint
	createdAt   time.Time
}

// NewRollbackPoint creates a rollback point over the given checkpoints.
func NewRollbackPoint(scope Scope, checkpoints []*Checkpoint) *RollbackPoint {
	cps := make([]*Checkpoint, len(checkpoints))
	copy(cps, checkpoints)
	return &RollbackPoint{
		id:          NewID(),
		scope:       scope,
		checkpoints: cps,
		createdAt:   time.Now(),
	}
}

// ID returns the rollback point identifier.
func (p *RollbackPoint) ID() ID { return p.id }

// Scope returns the rollback granularity.
func (p *RollbackPoint) Scope() Scope { return p.scope }

// CreatedAt returns when the rollback boundary was established.
func (p *RollbackPoint) CreatedAt() time.Time { return p.createdAt }

// Checkpoints returns the member checkpoints in creation order.
func (p *RollbackPoint) Checkpoints() []*Checkpoint {
	cps := make([]*Checkpoint, len(p.checkpoints))
	copy(cps, p.checkpoints)
	return cps
}
