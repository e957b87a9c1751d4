package repo

import (
	"context"
	"os"
	"testing"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

func initRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := Init(t.TempDir(), InitOptions{AutoInit: true, Author: "test-author"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r
}

func mustBlob(t *testing.T, r *Repo, content string) object.Hash {
	t.Helper()
	h, err := r.CreateBlob(context.Background(), []byte(content), object.EncodingUTF8)
	if err != nil {
		t.Fatalf("CreateBlob(%q): %v", content, err)
	}
	return h
}

func mustTree(t *testing.T, r *Repo, base object.Hash, entries ...store.TreeEntry) object.Hash {
	t.Helper()
	h, err := r.CreateTree(context.Background(), entries, base)
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	return h
}

func mustCommit(t *testing.T, r *Repo, tree object.Hash, parents ...object.Hash) object.Hash {
	t.Helper()
	h, err := r.CreateCommit(context.Background(), store.CommitRequest{
		Message: "test commit",
		Tree:    tree,
		Parents: parents,
		Author:  "test-author",
	})
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	return h
}

func assertDir(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected directory %q to exist: %v", path, err)
	}
	if !info.IsDir() {
		t.Fatalf("expected %q to be a directory", path)
	}
}

func assertFile(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected file %q to exist: %v", path, err)
	}
	if info.IsDir() {
		t.Fatalf("expected %q to be a file, got directory", path)
	}
}
