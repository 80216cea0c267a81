package compat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	rferrors "github.com/refactory-tech/refactory/internal/errors"
	"github.com/refactory-tech/refactory/internal/fileutil"
)

const (
	manifestName    = "shims.json"
	maxManifestSize = 1 << 20
)

// manifest is the on-disk record of live shims. It survives process
// restarts so retirement still happens when the dependent wave commits in a
// later run.
type manifest struct {
	Shims []Shim `json:"shims"`
}

func (g *Generator) manifestPath() string {
	return filepath.Join(g.root, g.cfg.ShimDir, manifestName)
}

// loadManifest restores previously generated shims. A missing manifest is
// a fresh start, not an error.
func (g *Generator) loadManifest() error {
	const op = "compat.loadManifest"

	data, err := fileutil.ReadFileLimited(g.manifestPath(), maxManifestSize)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return rferrors.IOWrap(err, op, "failed to read shim manifest")
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return rferrors.IOWrap(err, op, "failed to parse shim manifest")
	}

	g.mu.Lock()
	g.shims = m.Shims
	g.mu.Unlock()
	return nil
}

// saveManifestLocked writes the manifest. Callers hold g.mu.
func (g *Generator) saveManifestLocked() error {
	const op = "compat.saveManifest"

	dir := filepath.Join(g.root, g.cfg.ShimDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return rferrors.IOWrap(err, op, fmt.Sprintf("failed to create %s", g.cfg.ShimDir))
	}

	data, err := json.MarshalIndent(manifest{Shims: g.shims}, "", "  ")
	if err != nil {
		return rferrors.IOWrap(err, op, "failed to marshal shim manifest")
	}
	return fileutil.AtomicWriteFile(g.manifestPath(), data, 0600)
}

// removeFile deletes a shim file, tolerating one that is already gone.
func removeFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
