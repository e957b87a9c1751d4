package publish

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/odvcencio/dirpush/pkg/store"
)

// InitialCommitMessage is the message of the root commit EnsureBranch
// writes.
const InitialCommitMessage = "Initial commit"

// EnsureBranch makes sure branch exists so that a sync has a parent to
// build on. A missing branch gets a parentless commit of an empty tree.
// It reports whether the branch was created. Losing a creation race to
// another writer is not an error.
func EnsureBranch(ctx context.Context, st store.Store, branch, author string) (bool, error) {
	if _, err := st.GetRef(ctx, branch); err == nil {
		return false, nil
	} else if !errors.Is(err, store.ErrRefNotFound) {
		return false, fmt.Errorf("ensure branch %s: %w", branch, err)
	}

	creator, ok := st.(store.RefCreator)
	if !ok {
		return false, fmt.Errorf("ensure branch %s: %w: store cannot create branches", branch, ErrBranchNotFound)
	}

	// An empty overlay on no base is the empty tree.
	tree, err := st.CreateTree(ctx, nil, "")
	if err != nil {
		return false, fmt.Errorf("ensure branch %s: empty tree: %w", branch, err)
	}
	commit, err := st.CreateCommit(ctx, store.CommitRequest{
		Message: InitialCommitMessage,
		Tree:    tree,
		Author:  author,
	})
	if err != nil {
		return false, fmt.Errorf("ensure branch %s: root commit: %w", branch, err)
	}
	if err := creator.CreateRef(ctx, branch, commit); err != nil {
		if errors.Is(err, store.ErrRefExists) {
			return false, nil
		}
		return false, fmt.Errorf("ensure branch %s: %w", branch, err)
	}
	klog.V(1).Infof("created branch %s at %s", branch, commit.Short())
	return true, nil
}
