// Package repo is a bare, file-backed object repository. It stores blobs,
// trees and commits in a content-addressed object store and keeps branch
// refs as files that only move through lockfile compare-and-swap.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

// DefaultMaxBlobBytes bounds a single blob accepted by CreateBlob.
const DefaultMaxBlobBytes = 100 << 20

// Repo represents an opened bare repository.
type Repo struct {
	Dir   string        // repository root: HEAD, objects/, refs/, logs/
	Store *object.Store // content-addressed object store

	// MaxBlobBytes rejects larger blobs with store.ErrBlobTooLarge.
	// Zero means DefaultMaxBlobBytes.
	MaxBlobBytes int64
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

// Init creates a new repository at dir. The directory may exist but must
// not already hold a repository.
func Init(dir string, opts InitOptions) (*Repo, error) {
	branch := strings.TrimSpace(opts.DefaultBranch)
	if branch == "" {
		branch = "main"
	}
	if err := store.ValidateBranch(branch); err != nil {
		return nil, fmt.Errorf("init: %w: %v", store.ErrInvalid, err)
	}

	headPath := filepath.Join(dir, "HEAD")
	if _, err := os.Stat(headPath); err == nil {
		return nil, fmt.Errorf("init %s: %w", dir, store.ErrRepoExists)
	}

	dirs := []string{
		filepath.Join(dir, "objects"),
		filepath.Join(dir, "refs", "heads"),
		filepath.Join(dir, "logs", "refs", "heads"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("init: mkdir %s: %w", d, err)
		}
	}

	if err := os.WriteFile(headPath, []byte("ref: "+store.BranchRef(branch)+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("init: write HEAD: %w", err)
	}

	r := &Repo{
		Dir:   dir,
		Store: object.NewStore(dir),
	}
	if opts.AutoInit {
		if _, err := r.initialCommit(branch, opts.Author); err != nil {
			return nil, fmt.Errorf("init: %w", err)
		}
	}
	return r, nil
}

// Open opens the repository rooted at dir.
func Open(dir string) (*Repo, error) {
	info, err := os.Stat(filepath.Join(dir, "HEAD"))
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("open %s: %w", dir, store.ErrRepoNotFound)
	}
	return &Repo{
		Dir:   dir,
		Store: object.NewStore(dir),
	}, nil
}

// Head returns the ref HEAD points at, e.g. "refs/heads/main".
func (r *Repo) Head() (string, error) {
	data, err := os.ReadFile(filepath.Join(r.Dir, "HEAD"))
	if err != nil {
		return "", fmt.Errorf("head: %w", err)
	}
	content := strings.TrimRight(string(data), "\n")
	if !strings.HasPrefix(content, "ref: ") {
		return "", fmt.Errorf("head: detached HEAD %q", content)
	}
	return strings.TrimPrefix(content, "ref: "), nil
}

// DefaultBranch returns the branch HEAD points at, or "main" when HEAD is
// unreadable.
func (r *Repo) DefaultBranch() string {
	head, err := r.Head()
	if err != nil {
		return "main"
	}
	return strings.TrimPrefix(head, "refs/heads/")
}

func (r *Repo) maxBlobBytes() int64 {
	if r.MaxBlobBytes > 0 {
		return r.MaxBlobBytes
	}
	return DefaultMaxBlobBytes
}
