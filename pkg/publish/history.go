package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

// LogEntry is one commit of a branch's history.
type LogEntry struct {
	Hash   object.Hash
	Commit *object.CommitObj
}

// History returns up to limit commits of branch, newest first, following
// first parents. A limit of zero walks to the root.
func History(ctx context.Context, st store.Store, branch string, limit int) ([]LogEntry, error) {
	h, err := st.GetRef(ctx, branch)
	if err != nil {
		if errors.Is(err, store.ErrRefNotFound) {
			return nil, fmt.Errorf("%w: %s: %w", ErrBranchNotFound, branch, err)
		}
		return nil, err
	}

	var entries []LogEntry
	for limit <= 0 || len(entries) < limit {
		c, err := st.GetCommit(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("history: read commit %s: %w", h.Short(), err)
		}
		entries = append(entries, LogEntry{Hash: h, Commit: c})
		if len(c.Parents) == 0 {
			break
		}
		h = c.Parents[0]
	}
	return entries, nil
}
