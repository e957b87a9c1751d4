package repo

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"k8s.io/klog/v2"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

var (
	_ store.Store      = (*Repo)(nil)
	_ store.RefCreator = (*Repo)(nil)
	_ store.TreeReader = (*Repo)(nil)
)

// GetRef implements store.Store.
func (r *Repo) GetRef(ctx context.Context, branch string) (object.Hash, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := store.ValidateBranch(branch); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	return r.ResolveRef(store.BranchRef(branch))
}

// GetCommit implements store.Store.
func (r *Repo) GetCommit(ctx context.Context, h object.Hash) (*object.CommitObj, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.ReadCommit(h)
}

// CreateBlob implements store.Store. The stored bytes, and therefore the
// hash, do not depend on the transfer encoding.
func (r *Repo) CreateBlob(ctx context.Context, content []byte, enc object.Encoding) (object.Hash, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if int64(len(content)) > r.maxBlobBytes() {
		return "", fmt.Errorf("create blob: %w (%d bytes, limit %d)", store.ErrBlobTooLarge, len(content), r.maxBlobBytes())
	}
	switch enc {
	case object.EncodingUTF8:
		if !utf8.Valid(content) {
			return "", fmt.Errorf("create blob: %w: not valid utf-8", store.ErrEncoding)
		}
	case object.EncodingBase64:
	default:
		return "", fmt.Errorf("create blob: %w: unsupported encoding %q", store.ErrEncoding, enc)
	}
	h, err := r.Store.WriteBlob(&object.Blob{Data: content})
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	return h, nil
}

// CreateTree implements store.Store.
func (r *Repo) CreateTree(ctx context.Context, entries []store.TreeEntry, baseTree object.Hash) (object.Hash, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h, err := r.OverlayTree(baseTree, entries)
	if err != nil {
		return "", fmt.Errorf("create tree: %w", err)
	}
	return h, nil
}

// CreateCommit implements store.Store.
func (r *Repo) CreateCommit(ctx context.Context, req store.CommitRequest) (object.Hash, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h, err := r.WriteCommit(req.Commit())
	if err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}
	return h, nil
}

// UpdateRef implements store.Store.
func (r *Repo) UpdateRef(ctx context.Context, branch string, newHash, expectedOld object.Hash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateBranch(branch); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	if expectedOld == "" {
		return fmt.Errorf("update ref %q: %w: expected old value required", branch, store.ErrInvalid)
	}
	if err := r.expectType(newHash, object.TypeCommit); err != nil {
		return fmt.Errorf("update ref %q: %w", branch, err)
	}
	return reflogBestEffort(r.UpdateRefCAS(store.BranchRef(branch), newHash, expectedOld, "push"))
}

// CreateRef implements store.RefCreator.
func (r *Repo) CreateRef(ctx context.Context, branch string, h object.Hash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateBranch(branch); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	if err := r.expectType(h, object.TypeCommit); err != nil {
		return fmt.Errorf("create ref %q: %w", branch, err)
	}
	return reflogBestEffort(r.UpdateRefCAS(store.BranchRef(branch), h, "", "create"))
}

// reflogBestEffort reports a ref that moved without its reflog entry as a
// successful update.
func reflogBestEffort(err error) error {
	var rerr *RefUpdateReflogError
	if errors.As(err, &rerr) {
		klog.Warningf("%s moved %s -> %s but the reflog was not written: %v", rerr.Ref, rerr.OldHash.Short(), rerr.NewHash.Short(), rerr.Err)
		return nil
	}
	return err
}

// ReadTree implements store.TreeReader.
func (r *Repo) ReadTree(ctx context.Context, h object.Hash) ([]store.TreeEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files, err := r.FlattenTree(h)
	if err != nil {
		return nil, err
	}
	out := make([]store.TreeEntry, len(files))
	for i, f := range files {
		out[i] = store.TreeEntry{Path: f.Path, Mode: f.Mode, Type: object.TypeBlob, Hash: f.Hash}
	}
	return out, nil
}
