package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a repository with one commit so HEAD resolves.
func initRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed\n"), 0600))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@localhost", When: time.Now()},
	})
	require.NoError(t, err)

	return dir
}

func TestOpenRejectsNonRepository(t *testing.T) {
	_, err := Open(t.TempDir())
	require.Error(t, err)
}

func TestCreateBranchAtHead(t *testing.T) {
	dir := initRepo(t)
	repo, err := Open(dir)
	require.NoError(t, err)

	head, err := repo.Head()
	require.NoError(t, err)

	hash, err := repo.CreateBranch(context.Background(), "refactor/cleanup")
	require.NoError(t, err)
	assert.Equal(t, head, hash)

	// Creating the same branch again checks it out without error.
	_, err = repo.CreateBranch(context.Background(), "refactor/cleanup")
	require.NoError(t, err)
}

func TestCommitStagesAndRecordsFiles(t *testing.T) {
	dir := initRepo(t)
	repo, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0600))

	hash, err := repo.Commit(context.Background(), "refactor/cleanup", []string{"main.go"}, "apply formatting batch")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, hash, head)
}

func TestCommitWithNoChangesReturnsHead(t *testing.T) {
	dir := initRepo(t)
	repo, err := Open(dir)
	require.NoError(t, err)

	before, err := repo.Head()
	require.NoError(t, err)

	hash, err := repo.Commit(context.Background(), "", []string{"README.md"}, "no-op batch")
	require.NoError(t, err)
	assert.Equal(t, before, hash)
}
