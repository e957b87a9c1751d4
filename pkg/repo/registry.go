package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/odvcencio/dirpush/pkg/store"
)

// Registry keeps repositories under root/<owner>/<name>.
type Registry struct {
	root string

	// MaxBlobBytes is applied to every repository the registry hands out.
	MaxBlobBytes int64
	// Author is recorded on root commits written by auto-init.
	Author string

	mu sync.Mutex // serializes Create
}

// NewRegistry returns a Registry rooted at root.
func NewRegistry(root string) *Registry {
	return &Registry{root: root}
}

// Path returns the directory holding owner/name.
func (g *Registry) Path(owner, name string) (string, error) {
	if err := store.ValidateRepoName(owner, name); err != nil {
		return "", err
	}
	return filepath.Join(g.root, owner, name), nil
}

// Open returns the repository owner/name, or store.ErrRepoNotFound.
func (g *Registry) Open(owner, name string) (*Repo, error) {
	dir, err := g.Path(owner, name)
	if err != nil {
		return nil, err
	}
	r, err := Open(dir)
	if err != nil {
		return nil, err
	}
	r.MaxBlobBytes = g.MaxBlobBytes
	return r, nil
}

// Create initializes owner/name, or fails with store.ErrRepoExists.
func (g *Registry) Create(owner, name string, opts InitOptions) (*Repo, error) {
	dir, err := g.Path(owner, name)
	if err != nil {
		return nil, err
	}
	if opts.Author == "" {
		opts.Author = g.Author
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}
	r, err := Init(dir, opts)
	if err != nil {
		return nil, err
	}
	r.MaxBlobBytes = g.MaxBlobBytes
	return r, nil
}

// OpenStore adapts Open to the transport's registry contract.
func (g *Registry) OpenStore(_ context.Context, owner, name string) (store.Store, error) {
	r, err := g.Open(owner, name)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CreateStore adapts Create to the transport's registry contract.
func (g *Registry) CreateStore(_ context.Context, owner, name, defaultBranch string, autoInit bool) (store.Store, error) {
	r, err := g.Create(owner, name, InitOptions{DefaultBranch: defaultBranch, AutoInit: autoInit})
	if err != nil {
		return nil, err
	}
	return r, nil
}
