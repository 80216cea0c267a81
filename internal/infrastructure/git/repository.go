// Package git records committed transformation batches in the underlying
// repository history using go-git. Snapshot and restore of working files is
// handled elsewhere; this adapter only writes branches and commits.
package git

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	rferrors "github.com/refactory-tech/refactory/internal/errors"
)

// defaultLocalTimeout bounds local git operations so a wedged object store
// cannot stall batch execution.
const defaultLocalTimeout = 30 * time.Second

// committerName and committerEmail identify engine-authored commits in the
// repository history.
const (
	committerName  = "refactory"
	committerEmail = "refactory@localhost"
)

// Repository adapts a local git repository to the orchestrator's
// version-control port.
type Repository struct {
	repo     *git.Repository
	worktree *git.Worktree
}

// Open opens the repository containing the given working tree.
func Open(path string) (*Repository, error) {
	const op = "git.Open"

	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, rferrors.VCSWrap(err, op, "failed to open repository")
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, rferrors.VCSWrap(err, op, "failed to get worktree")
	}

	return &Repository{repo: repo, worktree: worktree}, nil
}

// CreateBranch creates the named branch at the current HEAD and checks it
// out, keeping working tree modifications. Returns the HEAD hash the branch
// was created at. An existing branch is checked out instead.
func (r *Repository) CreateBranch(ctx context.Context, name string) (string, error) {
	const op = "git.CreateBranch"

	ctx, cancel := withLocalTimeout(ctx)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return "", rferrors.VCSWrap(err, op, "context canceled")
	}

	head, err := r.repo.Head()
	if err != nil {
		return "", rferrors.VCSWrap(err, op, "failed to resolve HEAD")
	}

	ref := plumbing.NewBranchReferenceName(name)
	opts := &git.CheckoutOptions{Branch: ref, Keep: true}
	if _, err := r.repo.Reference(ref, true); err != nil {
		opts.Create = true
		opts.Hash = head.Hash()
	}
	if err := r.worktree.Checkout(opts); err != nil {
		return "", rferrors.VCSWrap(err, op, fmt.Sprintf("failed to check out branch %q", name))
	}

	return head.Hash().String(), nil
}

// Commit stages the given files and commits them to the named branch,
// returning the commit hash. The branch is created at HEAD if it does not
// exist yet.
func (r *Repository) Commit(ctx context.Context, branch string, files []string, message string) (string, error) {
	const op = "git.Commit"

	ctx, cancel := withLocalTimeout(ctx)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return "", rferrors.VCSWrap(err, op, "context canceled")
	}

	if branch != "" {
		if _, err := r.CreateBranch(ctx, branch); err != nil {
			return "", err
		}
	}

	for _, file := range files {
		if _, err := r.worktree.Add(file); err != nil {
			return "", rferrors.VCSWrap(err, op, fmt.Sprintf("failed to stage %s", file))
		}
	}

	status, err := r.worktree.Status()
	if err != nil {
		return "", rferrors.VCSWrap(err, op, "failed to get worktree status")
	}
	if status.IsClean() {
		// Nothing staged: the batch produced content identical to HEAD.
		head, err := r.repo.Head()
		if err != nil {
			return "", rferrors.VCSWrap(err, op, "failed to resolve HEAD")
		}
		return head.Hash().String(), nil
	}

	hash, err := r.worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  committerName,
			Email: committerEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", rferrors.VCSWrap(err, op, "failed to commit")
	}

	return hash.String(), nil
}

// Head returns the current HEAD commit hash.
func (r *Repository) Head() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", rferrors.VCSWrap(err, "git.Head", "failed to resolve HEAD")
	}
	return head.Hash().String(), nil
}

// withLocalTimeout applies the local-operation timeout unless the caller's
// deadline is already shorter.
func withLocalTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok {
		if time.Until(deadline) < defaultLocalTimeout {
			return ctx, func() {}
		}
	}
	return context.WithTimeout(ctx, defaultLocalTimeout)
}
