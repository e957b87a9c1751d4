package repo

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

func TestCreateBlob(t *testing.T) {
	r := initRepo(t)
	ctx := context.Background()

	text, err := r.CreateBlob(ctx, []byte("hello"), object.EncodingUTF8)
	if err != nil {
		t.Fatalf("CreateBlob(text): %v", err)
	}
	if want := object.HashObject(object.TypeBlob, []byte("hello")); text != want {
		t.Fatalf("CreateBlob hash = %s, want %s", text, want)
	}
	same, err := r.CreateBlob(ctx, []byte("hello"), object.EncodingBase64)
	if err != nil {
		t.Fatalf("CreateBlob(base64): %v", err)
	}
	if same != text {
		t.Fatalf("hash depends on encoding: %s != %s", same, text)
	}

	bin := []byte{0x00, 0xff, 0x10}
	h, err := r.CreateBlob(ctx, bin, object.EncodingBase64)
	if err != nil {
		t.Fatalf("CreateBlob(binary): %v", err)
	}
	got, err := r.Store.ReadBlob(h)
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if !bytes.Equal(got.Data, bin) {
		t.Fatalf("blob data = %v, want %v", got.Data, bin)
	}
}

func TestCreateBlob_Errors(t *testing.T) {
	r := initRepo(t)
	r.MaxBlobBytes = 4
	ctx := context.Background()

	if _, err := r.CreateBlob(ctx, []byte("too large"), object.EncodingUTF8); !errors.Is(err, store.ErrBlobTooLarge) {
		t.Fatalf("oversized blob err = %v, want ErrBlobTooLarge", err)
	}
	if _, err := r.CreateBlob(ctx, []byte{0xff}, object.EncodingUTF8); !errors.Is(err, store.ErrEncoding) {
		t.Fatalf("invalid utf-8 err = %v, want ErrEncoding", err)
	}
	if _, err := r.CreateBlob(ctx, []byte("x"), "latin1"); !errors.Is(err, store.ErrEncoding) {
		t.Fatalf("unknown encoding err = %v, want ErrEncoding", err)
	}
}

func TestCreateCommit_ValidatesReferences(t *testing.T) {
	r := initRepo(t)
	ctx := context.Background()
	tip, err := r.GetRef(ctx, "main")
	if err != nil {
		t.Fatalf("GetRef: %v", err)
	}
	blob := mustBlob(t, r, "x")
	tree := mustTree(t, r, "", file("x", blob))

	if _, err := r.CreateCommit(ctx, store.CommitRequest{Tree: blob, Parents: []object.Hash{tip}}); !errors.Is(err, store.ErrObjectNotFound) {
		t.Fatalf("blob as tree err = %v, want ErrObjectNotFound", err)
	}
	if _, err := r.CreateCommit(ctx, store.CommitRequest{Tree: tree, Parents: []object.Hash{tree}}); !errors.Is(err, store.ErrObjectNotFound) {
		t.Fatalf("tree as parent err = %v, want ErrObjectNotFound", err)
	}

	h := mustCommit(t, r, tree, tip)
	c, err := r.GetCommit(ctx, h)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	if c.TreeHash != tree || len(c.Parents) != 1 || c.Parents[0] != tip || c.Timestamp == 0 {
		t.Fatalf("commit = %+v", c)
	}

	if _, err := r.GetCommit(ctx, tree); !errors.Is(err, store.ErrObjectNotFound) {
		t.Fatalf("GetCommit(tree) err = %v, want ErrObjectNotFound", err)
	}
}

func TestUpdateRef(t *testing.T) {
	r := initRepo(t)
	ctx := context.Background()
	tip, err := r.GetRef(ctx, "main")
	if err != nil {
		t.Fatalf("GetRef: %v", err)
	}
	blob := mustBlob(t, r, "x")
	tree := mustTree(t, r, "", file("x", blob))
	c1 := mustCommit(t, r, tree, tip)
	c2 := mustCommit(t, r, tree, tip)

	if err := r.UpdateRef(ctx, "main", c1, tip); err != nil {
		t.Fatalf("UpdateRef(c1): %v", err)
	}
	if err := r.UpdateRef(ctx, "main", c2, tip); !errors.Is(err, store.ErrRefConflict) {
		t.Fatalf("stale UpdateRef err = %v, want ErrRefConflict", err)
	}
	if got, _ := r.GetRef(ctx, "main"); got != c1 {
		t.Fatalf("main = %s, want %s", got, c1)
	}
	if err := r.UpdateRef(ctx, "missing", c1, tip); !errors.Is(err, store.ErrRefNotFound) {
		t.Fatalf("UpdateRef(missing) err = %v, want ErrRefNotFound", err)
	}
	if err := r.UpdateRef(ctx, "main", tree, c1); !errors.Is(err, store.ErrObjectNotFound) {
		t.Fatalf("UpdateRef(tree) err = %v, want ErrObjectNotFound", err)
	}
	if _, err := r.GetRef(ctx, "missing"); !errors.Is(err, store.ErrRefNotFound) {
		t.Fatalf("GetRef(missing) err = %v, want ErrRefNotFound", err)
	}
}

func TestUpdateRef_UnwritableReflog(t *testing.T) {
	r := initRepo(t)
	ctx := context.Background()
	tip, err := r.GetRef(ctx, "main")
	if err != nil {
		t.Fatalf("GetRef: %v", err)
	}
	c1 := mustCommit(t, r, mustTree(t, r, "", file("x", mustBlob(t, r, "x"))), tip)

	// A directory where the log file belongs makes the append fail.
	logPath := r.reflogPath(store.BranchRef("main"))
	if err := os.RemoveAll(logPath); err != nil {
		t.Fatalf("remove reflog: %v", err)
	}
	if err := os.MkdirAll(logPath, 0o755); err != nil {
		t.Fatalf("mkdir reflog: %v", err)
	}
	if err := r.UpdateRefCAS(store.BranchRef("main"), c1, tip, "raw"); !errors.Is(err, ErrRefUpdatedButReflogAppendFailed) {
		t.Fatalf("UpdateRefCAS err = %v, want ErrRefUpdatedButReflogAppendFailed", err)
	}

	c2 := mustCommit(t, r, mustTree(t, r, "", file("y", mustBlob(t, r, "y"))), c1)
	if err := r.UpdateRef(ctx, "main", c2, c1); err != nil {
		t.Fatalf("UpdateRef with unwritable reflog: %v", err)
	}
	if got, _ := r.GetRef(ctx, "main"); got != c2 {
		t.Fatalf("main = %s, want %s", got, c2)
	}
}

func TestReadTree(t *testing.T) {
	r := initRepo(t)
	a := mustBlob(t, r, "a")
	h := mustTree(t, r, "", file("z", a), file("d/a", a))

	entries, err := r.ReadTree(context.Background(), h)
	if err != nil {
		t.Fatalf("ReadTree: %v", err)
	}
	if len(entries) != 2 || entries[0].Path != "d/a" || entries[1].Path != "z" {
		t.Fatalf("ReadTree = %+v", entries)
	}
	if entries[0].Type != object.TypeBlob || entries[0].Hash != a {
		t.Fatalf("entry = %+v", entries[0])
	}
}

func TestCanceledContext(t *testing.T) {
	r := initRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.CreateBlob(ctx, []byte("x"), object.EncodingUTF8); !errors.Is(err, context.Canceled) {
		t.Fatalf("CreateBlob err = %v, want context.Canceled", err)
	}
}
