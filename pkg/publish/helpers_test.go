package publish

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/repo"
	"github.com/odvcencio/dirpush/pkg/store"
)

// recordingStore wraps a repository, counting calls and letting tests
// inject failures or run hooks.
type recordingStore struct {
	*repo.Repo

	mu    sync.Mutex
	calls map[string]int

	failBlob     func(content []byte) error
	beforeUpdate func()
}

func newRecordingStore(r *repo.Repo) *recordingStore {
	return &recordingStore{Repo: r, calls: make(map[string]int)}
}

func (s *recordingStore) count(name string) {
	s.mu.Lock()
	s.calls[name]++
	s.mu.Unlock()
}

func (s *recordingStore) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *recordingStore) CreateBlob(ctx context.Context, content []byte, enc object.Encoding) (object.Hash, error) {
	s.count("CreateBlob")
	if s.failBlob != nil {
		if err := s.failBlob(content); err != nil {
			return "", err
		}
	}
	return s.Repo.CreateBlob(ctx, content, enc)
}

func (s *recordingStore) CreateTree(ctx context.Context, entries []store.TreeEntry, base object.Hash) (object.Hash, error) {
	s.count("CreateTree")
	return s.Repo.CreateTree(ctx, entries, base)
}

func (s *recordingStore) CreateCommit(ctx context.Context, req store.CommitRequest) (object.Hash, error) {
	s.count("CreateCommit")
	return s.Repo.CreateCommit(ctx, req)
}

func (s *recordingStore) UpdateRef(ctx context.Context, branch string, newHash, expectedOld object.Hash) error {
	s.count("UpdateRef")
	if s.beforeUpdate != nil {
		s.beforeUpdate()
	}
	return s.Repo.UpdateRef(ctx, branch, newHash, expectedOld)
}

// newRemote returns a repository whose main branch holds a single commit
// C0 with the given files.
func newRemote(t *testing.T, files map[string]string) (*repo.Repo, object.Hash) {
	t.Helper()
	r, err := repo.Init(t.TempDir(), repo.InitOptions{AutoInit: true, Author: "remote"})
	if err != nil {
		t.Fatalf("repo.Init: %v", err)
	}
	ctx := context.Background()
	root, err := r.GetRef(ctx, "main")
	if err != nil {
		t.Fatalf("GetRef: %v", err)
	}
	if len(files) == 0 {
		return r, root
	}

	var entries []store.TreeEntry
	for p, content := range files {
		h, err := r.CreateBlob(ctx, []byte(content), object.EncodingUTF8)
		if err != nil {
			t.Fatalf("CreateBlob: %v", err)
		}
		entries = append(entries, FileEntry(p, h))
	}
	rootCommit, err := r.GetCommit(ctx, root)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	tree, err := r.CreateTree(ctx, entries, rootCommit.TreeHash)
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	c0, err := r.CreateCommit(ctx, store.CommitRequest{Message: "C0", Tree: tree, Parents: []object.Hash{root}, Author: "remote"})
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	if err := r.UpdateRef(ctx, "main", c0, root); err != nil {
		t.Fatalf("UpdateRef: %v", err)
	}
	return r, c0
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return dir
}

// treeFiles maps every file of the commit's tree to its blob.
func treeFiles(t *testing.T, r *repo.Repo, commit object.Hash) map[string]object.Hash {
	t.Helper()
	c, err := r.GetCommit(context.Background(), commit)
	if err != nil {
		t.Fatalf("GetCommit(%s): %v", commit, err)
	}
	entries, err := r.ReadTree(context.Background(), c.TreeHash)
	if err != nil {
		t.Fatalf("ReadTree: %v", err)
	}
	out := make(map[string]object.Hash, len(entries))
	for _, e := range entries {
		out[e.Path] = e.Hash
	}
	return out
}

func blobHash(content string) object.Hash {
	return object.HashObject(object.TypeBlob, []byte(content))
}

func mustRef(t *testing.T, st store.Store, branch string) object.Hash {
	t.Helper()
	h, err := st.GetRef(context.Background(), branch)
	if err != nil {
		t.Fatalf("GetRef(%s): %v", branch, err)
	}
	return h
}
