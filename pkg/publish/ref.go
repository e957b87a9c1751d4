package publish

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

// RefAdvancer moves branch refs with compare-and-swap.
type RefAdvancer struct {
	Store store.Store
}

// AdvanceRef points branch at newCommit if it still holds expectedPrior.
// A moved branch fails with ErrRefConflict and is never retried here. A
// deleted branch fails with ErrBranchNotFound; any other failure matches
// ErrRefUpdate and carries the store's cause.
func (a *RefAdvancer) AdvanceRef(ctx context.Context, branch string, expectedPrior, newCommit object.Hash) error {
	if expectedPrior == "" {
		return kindError(ErrRefUpdate, fmt.Errorf("expected prior commit is required"))
	}
	err := a.Store.UpdateRef(ctx, branch, newCommit, expectedPrior)
	if err != nil {
		if errors.Is(err, store.ErrRefConflict) {
			return fmt.Errorf("%w: %s moved away from %s: %w", ErrRefConflict, branch, expectedPrior.Short(), err)
		}
		if errors.Is(err, store.ErrRefNotFound) {
			return fmt.Errorf("%w: %s was deleted: %w", ErrBranchNotFound, branch, err)
		}
		return kindError(ErrRefUpdate, fmt.Errorf("update %s: %w", branch, err))
	}
	klog.V(1).Infof("advanced %s from %s to %s", branch, expectedPrior.Short(), newCommit.Short())
	return nil
}
