package repo

import (
	"fmt"
	"time"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

// InitialCommitMessage is the message of the root commit written by
// AutoInit.
const InitialCommitMessage = "Initial commit"

// WriteCommit validates that the tree and every parent exist, then writes
// the commit. A zero timestamp is replaced with the current time.
func (r *Repo) WriteCommit(c *object.CommitObj) (object.Hash, error) {
	if err := r.expectType(c.TreeHash, object.TypeTree); err != nil {
		return "", fmt.Errorf("commit tree: %w", err)
	}
	for _, p := range c.Parents {
		if err := r.expectType(p, object.TypeCommit); err != nil {
			return "", fmt.Errorf("commit parent: %w", err)
		}
	}
	if c.Timestamp == 0 {
		c.Timestamp = time.Now().Unix()
	}
	h, err := r.Store.WriteCommit(c)
	if err != nil {
		return "", fmt.Errorf("write commit: %w", err)
	}
	return h, nil
}

// ReadCommit reads a commit, mapping a missing object to
// store.ErrObjectNotFound.
func (r *Repo) ReadCommit(h object.Hash) (*object.CommitObj, error) {
	if err := r.expectType(h, object.TypeCommit); err != nil {
		return nil, err
	}
	return r.Store.ReadCommit(h)
}

// initialCommit writes an empty root tree and a parentless commit and
// points branch at it.
func (r *Repo) initialCommit(branch, author string) (object.Hash, error) {
	tree, err := r.Store.WriteTree(&object.TreeObj{})
	if err != nil {
		return "", fmt.Errorf("initial commit: %w", err)
	}
	h, err := r.WriteCommit(&object.CommitObj{
		TreeHash: tree,
		Author:   author,
		Message:  InitialCommitMessage,
	})
	if err != nil {
		return "", fmt.Errorf("initial commit: %w", err)
	}
	if err := r.UpdateRefCAS(store.BranchRef(branch), h, "", "init"); err != nil {
		return "", fmt.Errorf("initial commit: %w", err)
	}
	return h, nil
}
