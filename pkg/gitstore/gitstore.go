// Package gitstore implements the publisher's object store on a Git
// repository through go-git, so published commits are ordinary Git
// commits with SHA-1 object names.
package gitstore

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/memory"
	"k8s.io/klog/v2"

	"github.com/odvcencio/dirpush/pkg/store"
)

// DefaultMaxBlobBytes bounds a single blob accepted by CreateBlob.
const DefaultMaxBlobBytes = 100 << 20

// Store is a Git repository exposed as a store.Store.
type Store struct {
	repo *git.Repository

	// MaxBlobBytes rejects larger blobs with store.ErrBlobTooLarge.
	// Zero means DefaultMaxBlobBytes.
	MaxBlobBytes int64

	// mu serializes storer access. The in-memory storer is a plain map
	// and refs are compared before they are swapped.
	mu sync.Mutex
}

// InitOptions controls repository creation.
type InitOptions struct {
	// DefaultBranch is the branch HEAD points at. Defaults to "main".
	DefaultBranch string
	// AutoInit creates an empty root commit on DefaultBranch.
	AutoInit bool
	// Author is recorded on the root commit.
	Author string
}

// Init creates a bare Git repository at dir.
func Init(dir string, opts InitOptions) (*Store, error) {
	branch, err := defaultBranch(opts)
	if err != nil {
		return nil, err
	}
	r, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		Bare:        true,
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(branch)},
	})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryAlreadyExists) {
			return nil, fmt.Errorf("init %s: %w", dir, store.ErrRepoExists)
		}
		return nil, fmt.Errorf("init %s: %w", dir, err)
	}
	return newStore(r, branch, opts)
}

// InitMemory creates a repository held in memory.
func InitMemory(opts InitOptions) (*Store, error) {
	branch, err := defaultBranch(opts)
	if err != nil {
		return nil, err
	}
	r, err := git.InitWithOptions(memory.NewStorage(), nil, git.InitOptions{
		DefaultBranch: plumbing.NewBranchReferenceName(branch),
	})
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	return newStore(r, branch, opts)
}

// Open opens the Git repository at dir, or fails with
// store.ErrRepoNotFound.
func Open(dir string) (*Store, error) {
	r, err := git.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("open %s: %w", dir, store.ErrRepoNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	return &Store{repo: r}, nil
}

func newStore(r *git.Repository, branch string, opts InitOptions) (*Store, error) {
	s := &Store{repo: r}
	if opts.AutoInit {
		h, err := s.initialCommit(branch, opts.Author)
		if err != nil {
			return nil, fmt.Errorf("init: %w", err)
		}
		klog.V(1).Infof("initialized %s at %s", branch, h.Short())
	}
	return s, nil
}

func defaultBranch(opts InitOptions) (string, error) {
	branch := strings.TrimSpace(opts.DefaultBranch)
	if branch == "" {
		branch = "main"
	}
	if err := store.ValidateBranch(branch); err != nil {
		return "", fmt.Errorf("init: %w: %v", store.ErrInvalid, err)
	}
	return branch, nil
}

// DefaultBranch returns the branch HEAD points at, or "main" when HEAD is
// unreadable.
func (s *Store) DefaultBranch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	head, err := s.repo.Storer.Reference(plumbing.HEAD)
	if err != nil || head.Type() != plumbing.SymbolicReference || !head.Target().IsBranch() {
		return "main"
	}
	return head.Target().Short()
}

func (s *Store) maxBlobBytes() int64 {
	if s.MaxBlobBytes > 0 {
		return s.MaxBlobBytes
	}
	return DefaultMaxBlobBytes
}

// isConflict reports whether err is go-git's failed compare-and-swap.
func isConflict(err error) bool {
	return errors.Is(err, storage.ErrReferenceHasChanged)
}
