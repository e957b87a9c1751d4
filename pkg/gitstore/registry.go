package gitstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/odvcencio/dirpush/pkg/store"
)

// Registry keeps bare Git repositories under root/<owner>/<name>.git.
type Registry struct {
	root string

	// MaxBlobBytes is applied to every repository the registry hands out.
	MaxBlobBytes int64
	// Author is recorded on root commits written by auto-init.
	Author string

	mu   sync.Mutex // guards open and serializes Create
	open map[string]*Store
}

// NewRegistry returns a Registry rooted at root.
func NewRegistry(root string) *Registry {
	return &Registry{root: root, open: make(map[string]*Store)}
}

// Path returns the directory holding owner/name.
func (g *Registry) Path(owner, name string) (string, error) {
	if err := store.ValidateRepoName(owner, name); err != nil {
		return "", err
	}
	return filepath.Join(g.root, owner, name+".git"), nil
}

// Open returns the repository owner/name, or store.ErrRepoNotFound.
// Repositories stay open so that every caller shares one Store.
func (g *Registry) Open(owner, name string) (*Store, error) {
	dir, err := g.Path(owner, name)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.open[dir]; ok {
		return s, nil
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("open %s/%s: %w", owner, name, store.ErrRepoNotFound)
		}
		return nil, err
	}
	s, err := Open(dir)
	if err != nil {
		return nil, err
	}
	s.MaxBlobBytes = g.MaxBlobBytes
	g.open[dir] = s
	return s, nil
}

// Create initializes owner/name, or fails with store.ErrRepoExists.
func (g *Registry) Create(owner, name string, opts InitOptions) (*Store, error) {
	dir, err := g.Path(owner, name)
	if err != nil {
		return nil, err
	}
	if opts.Author == "" {
		opts.Author = g.Author
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := Init(dir, opts)
	if err != nil {
		return nil, err
	}
	s.MaxBlobBytes = g.MaxBlobBytes
	g.open[dir] = s
	return s, nil
}

// OpenStore adapts Open to the transport's registry contract.
func (g *Registry) OpenStore(_ context.Context, owner, name string) (store.Store, error) {
	s, err := g.Open(owner, name)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CreateStore adapts Create to the transport's registry contract.
func (g *Registry) CreateStore(_ context.Context, owner, name, defaultBranch string, autoInit bool) (store.Store, error) {
	s, err := g.Create(owner, name, InitOptions{DefaultBranch: defaultBranch, AutoInit: autoInit})
	if err != nil {
		return nil, err
	}
	return s, nil
}
