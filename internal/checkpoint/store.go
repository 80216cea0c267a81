package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/refactory-tech/refactory/internal/fileutil"
)

// maxBlobSize bounds how large a snapshotted source file may be (16MB).
const maxBlobSize = 16 << 20

// blobStore is a content-addressed file store. Blobs are named by the hex
// SHA-256 of their contents, which gives deduplication for free: writing the
// same content twice is a no-op.
type blobStore struct {
	dir string
}

func newBlobStore(dir string) (*blobStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create blob store directory: %w", err)
	}
	return &blobStore{dir: dir}, nil
}

func (s *blobStore) path(digest string) string {
	return filepath.Join(s.dir, digest)
}

// put stores data and returns its digest. Existing blobs are left untouched.
func (s *blobStore) put(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	blobPath := s.path(digest)
	if _, err := os.Stat(blobPath); err == nil {
		return digest, nil
	}

	if err := fileutil.AtomicWriteFile(blobPath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write blob %s: %w", digest, err)
	}
	return digest, nil
}

// get retrieves a blob by digest.
func (s *blobStore) get(digest string) ([]byte, error) {
	data, err := fileutil.ReadFileLimited(s.path(digest), maxBlobSize)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", digest, ErrCheckpointNotFound)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", digest, err)
	}
	return data, nil
}

// remove deletes a blob. Missing blobs are not an error.
func (s *blobStore) remove(digest string) error {
	if err := os.Remove(s.path(digest)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove blob %s: %w", digest, err)
	}
	return nil
}
