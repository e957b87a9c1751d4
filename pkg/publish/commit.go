package publish

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

// CommitPublisher creates single-parent commits.
type CommitPublisher struct {
	Store  store.Store
	Author string
	Signer Signer
	Now    func() time.Time
}

// PublishCommit creates a commit of tree with parent as its only parent.
// All failures match ErrCommitCreate.
func (p *CommitPublisher) PublishCommit(ctx context.Context, message string, tree, parent object.Hash) (object.Hash, error) {
	if tree == "" || parent == "" {
		return "", kindError(ErrCommitCreate, fmt.Errorf("tree and parent are required"))
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	req := store.CommitRequest{
		Message:   message,
		Tree:      tree,
		Parents:   []object.Hash{parent},
		Author:    p.Author,
		Timestamp: now().Unix(),
	}
	if p.Signer != nil {
		sig, err := p.Signer(object.CommitSigningPayload(req.Commit()))
		if err != nil {
			return "", kindError(ErrCommitCreate, fmt.Errorf("sign commit: %w", err))
		}
		req.Signature = sig
	}

	h, err := p.Store.CreateCommit(ctx, req)
	if err != nil {
		return "", kindError(ErrCommitCreate, err)
	}
	klog.V(1).Infof("created commit %s (tree %s, parent %s)", h.Short(), tree.Short(), parent.Short())
	return h, nil
}
