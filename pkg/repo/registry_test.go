package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/odvcencio/dirpush/pkg/store"
)

func TestRegistry(t *testing.T) {
	root := t.TempDir()
	g := NewRegistry(root)
	g.Author = "server"
	ctx := context.Background()

	if _, err := g.OpenStore(ctx, "acme", "site"); !errors.Is(err, store.ErrRepoNotFound) {
		t.Fatalf("OpenStore(missing) err = %v, want ErrRepoNotFound", err)
	}

	st, err := g.CreateStore(ctx, "acme", "site", "main", true)
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	if _, err := st.GetRef(ctx, "main"); err != nil {
		t.Fatalf("GetRef after auto-init: %v", err)
	}
	assertFile(t, filepath.Join(root, "acme", "site", "HEAD"))

	if _, err := g.CreateStore(ctx, "acme", "site", "main", false); !errors.Is(err, store.ErrRepoExists) {
		t.Fatalf("second CreateStore err = %v, want ErrRepoExists", err)
	}
	r, err := g.Open("acme", "site")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tip, err := r.GetRef(ctx, "main")
	if err != nil {
		t.Fatalf("GetRef: %v", err)
	}
	c, err := r.GetCommit(ctx, tip)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	if c.Author != "server" {
		t.Fatalf("root commit author = %q, want server", c.Author)
	}
}

func TestRegistry_RejectsBadNames(t *testing.T) {
	g := NewRegistry(t.TempDir())
	for _, name := range [][2]string{{"..", "x"}, {"a", "../b"}, {"", "x"}, {"a", ".hidden"}, {"a/b", "c"}} {
		if _, err := g.Path(name[0], name[1]); !errors.Is(err, store.ErrInvalid) {
			t.Errorf("Path(%q, %q) err = %v, want ErrInvalid", name[0], name[1], err)
		}
	}
}
