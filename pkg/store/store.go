// Package store defines the object-store contract the publisher drives:
// content blobs, trees layered on a base tree, commits, and branch refs
// that only move through compare-and-swap.
package store

import (
	"context"
	"errors"

	"github.com/odvcencio/dirpush/pkg/object"
)

var (
	ErrRefNotFound    = errors.New("ref not found")
	ErrRefConflict    = errors.New("ref compare-and-swap conflict")
	ErrRefExists      = errors.New("ref already exists")
	ErrObjectNotFound = errors.New("object not found")
	ErrBlobTooLarge   = errors.New("blob too large")
	ErrEncoding       = errors.New("content not representable in encoding")
	ErrInvalid        = errors.New("invalid request")
	ErrRepoNotFound   = errors.New("repository not found")
	ErrRepoExists     = errors.New("repository already exists")
)

// Store is a remote object store addressed by branch name and object hash.
type Store interface {
	// GetRef returns the commit hash at refs/heads/<branch>, or
	// ErrRefNotFound.
	GetRef(ctx context.Context, branch string) (object.Hash, error)
	// GetCommit returns the commit with the given hash, or ErrObjectNotFound.
	GetCommit(ctx context.Context, h object.Hash) (*object.CommitObj, error)
	// CreateBlob stores content and returns its content address.
	CreateBlob(ctx context.Context, content []byte, enc object.Encoding) (object.Hash, error)
	// CreateTree overlays entries on baseTree and returns the new root tree.
	// An empty baseTree starts from an empty tree.
	CreateTree(ctx context.Context, entries []TreeEntry, baseTree object.Hash) (object.Hash, error)
	CreateCommit(ctx context.Context, req CommitRequest) (object.Hash, error)
	// UpdateRef moves refs/heads/<branch> from expectedOld to newHash, or
	// fails with ErrRefConflict when the ref holds anything else.
	UpdateRef(ctx context.Context, branch string, newHash, expectedOld object.Hash) error
}

// RefCreator is implemented by stores that can create a branch that does
// not exist yet.
type RefCreator interface {
	// CreateRef fails with ErrRefExists when the branch is already present.
	CreateRef(ctx context.Context, branch string, h object.Hash) error
}

// TreeReader is implemented by stores that can list a tree's files.
type TreeReader interface {
	// ReadTree returns every file reachable from tree h with full slash
	// separated paths, sorted by path.
	ReadTree(ctx context.Context, h object.Hash) ([]TreeEntry, error)
}

// TreeEntry places a blob at Path. An entry with an empty Hash removes
// Path from the base tree.
type TreeEntry struct {
	Path string
	Mode string
	Type object.ObjectType
	Hash object.Hash
}

// IsDeletion reports whether the entry removes its path.
func (e TreeEntry) IsDeletion() bool {
	return e.Hash == ""
}

// CommitRequest describes a commit to create.
type CommitRequest struct {
	Message   string
	Tree      object.Hash
	Parents   []object.Hash
	Author    string
	Timestamp int64
	Signature string
}

// Commit converts the request into the object model.
func (r CommitRequest) Commit() *object.CommitObj {
	parents := make([]object.Hash, len(r.Parents))
	copy(parents, r.Parents)
	return &object.CommitObj{
		TreeHash:  r.Tree,
		Parents:   parents,
		Author:    r.Author,
		Timestamp: r.Timestamp,
		Signature: r.Signature,
		Message:   r.Message,
	}
}
