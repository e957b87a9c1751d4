package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/klog/v2"

	"github.com/odvcencio/dirpush/pkg/config"
	"github.com/odvcencio/dirpush/pkg/gitstore"
	"github.com/odvcencio/dirpush/pkg/remote"
	"github.com/odvcencio/dirpush/pkg/repo"
	"github.com/odvcencio/dirpush/pkg/store"
)

// target is the store a command works against.
type target struct {
	store store.Store
	desc  string
}

func looksLikeRemoteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// openTarget resolves s.Remote: an http(s) URL is a remote API endpoint,
// anything else a local repository directory of kind s.Backend. With
// create set, a missing repository is created with branch as its default.
func openTarget(ctx context.Context, s *config.File, create bool) (*target, error) {
	raw := strings.TrimSpace(s.Remote)
	if raw == "" {
		return nil, fmt.Errorf("no remote configured (use --remote or set remote in %s)", config.FileName)
	}

	if looksLikeRemoteURL(raw) {
		client, err := remote.NewClientWithOptions(raw, remote.ClientOptions{Token: s.Token})
		if err != nil {
			return nil, err
		}
		if create {
			created, err := client.EnsureRepository(ctx, s.Branch)
			if err != nil {
				return nil, err
			}
			if created {
				klog.Infof("created remote repository %s/%s", client.Endpoint().Owner, client.Endpoint().Repo)
			}
		}
		return &target{store: client, desc: client.Endpoint().BaseURL}, nil
	}

	dir, err := filepath.Abs(strings.TrimPrefix(raw, "file://"))
	if err != nil {
		return nil, fmt.Errorf("resolve remote path: %w", err)
	}
	st, err := openLocal(dir, s.Backend)
	if errors.Is(err, store.ErrRepoNotFound) && create {
		st, err = initLocal(dir, s.Backend, s.Branch, s.Author, true)
		if err == nil {
			klog.Infof("created %s repository at %s", backendName(s.Backend), dir)
		}
	}
	if err != nil {
		return nil, err
	}
	return &target{store: st, desc: dir}, nil
}

func backendName(b string) string {
	if b == "" {
		return config.BackendGot
	}
	return b
}

func openLocal(dir, backend string) (store.Store, error) {
	if backendName(backend) == config.BackendGit {
		s, err := gitstore.Open(dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	r, err := repo.Open(dir)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func initLocal(dir, backend, branch, author string, autoInit bool) (store.Store, error) {
	if backendName(backend) == config.BackendGit {
		s, err := gitstore.Init(dir, gitstore.InitOptions{DefaultBranch: branch, AutoInit: autoInit, Author: author})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	r, err := repo.Init(dir, repo.InitOptions{DefaultBranch: branch, AutoInit: autoInit, Author: author})
	if err != nil {
		return nil, err
	}
	return r, nil
}
