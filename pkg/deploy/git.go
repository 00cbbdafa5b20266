package deploy

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// VersionControl is the reversible-change boundary the engine commits
// through. A commit hash is the handle used for rollback.
type VersionControl interface {
	// StageAll stages every change in the working tree.
	StageAll() error
	// Commit records the staged changes and returns the commit hash.
	Commit(message string) (string, error)
	// Head returns the current revision.
	Head() (string, error)
	// PreviousCommit returns the parent of the given commit.
	PreviousCommit(hash string) (string, error)
	// ResetHard discards the working tree back to the given commit.
	ResetHard(hash string) error
}

// GitRepo implements VersionControl over a local repository using
// go-git.
type GitRepo struct {
	path string
}

func OpenGitRepo(path string) (*GitRepo, error) {
	if _, err := git.PlainOpen(path); err != nil {
		return nil, fmt.Errorf("opening repo %s: %w", path, err)
	}
	return &GitRepo{path: path}, nil
}

func (g *GitRepo) open() (*git.Repository, *git.Worktree, error) {
	repo, err := git.PlainOpen(g.path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening repo: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, nil, fmt.Errorf("getting worktree: %w", err)
	}
	return repo, wt, nil
}

func (g *GitRepo) StageAll() error {
	_, wt, err := g.open()
	if err != nil {
		return err
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("staging changes: %w", err)
	}
	return nil
}

func (g *GitRepo) Commit(message string) (string, error) {
	_, wt, err := g.open()
	if err != nil {
		return "", err
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "vigil",
			Email: "vigil@localhost",
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	return hash.String(), nil
}

func (g *GitRepo) Head() (string, error) {
	repo, _, err := g.open()
	if err != nil {
		return "", err
	}
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

func (g *GitRepo) PreviousCommit(hash string) (string, error) {
	repo, _, err := g.open()
	if err != nil {
		return "", err
	}
	commit, err := repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return "", fmt.Errorf("resolving commit %s: %w", hash, err)
	}
	parent, err := commit.Parent(0)
	if err != nil {
		return "", fmt.Errorf("resolving parent of %s: %w", hash, err)
	}
	return parent.Hash.String(), nil
}

func (g *GitRepo) ResetHard(hash string) error {
	_, wt, err := g.open()
	if err != nil {
		return err
	}
	if err := wt.Reset(&git.ResetOptions{
		Mode:   git.HardReset,
		Commit: plumbing.NewHash(hash),
	}); err != nil {
		return fmt.Errorf("hard reset to %s: %w", hash, err)
	}
	return nil
}
