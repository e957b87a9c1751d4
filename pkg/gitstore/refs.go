package gitstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"k8s.io/klog/v2"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

// InitialCommitMessage is the message of the root commit written by
// AutoInit.
const InitialCommitMessage = "Initial commit"

var (
	_ store.Store      = (*Store)(nil)
	_ store.RefCreator = (*Store)(nil)
	_ store.TreeReader = (*Store)(nil)
)

// GetRef implements store.Store.
func (s *Store) GetRef(ctx context.Context, branch string) (object.Hash, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := branchRefName(branch)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, err := s.branchRef(name)
	if err != nil {
		return "", err
	}
	return fromGitHash(ref.Hash()), nil
}

// UpdateRef implements store.Store.
func (s *Store) UpdateRef(ctx context.Context, branch string, newHash, expectedOld object.Hash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := branchRefName(branch)
	if err != nil {
		return err
	}
	if expectedOld == "" {
		return fmt.Errorf("update ref %q: %w: expected old value required", branch, store.ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	target, err := s.expectObject(plumbing.CommitObject, newHash)
	if err != nil {
		return fmt.Errorf("update ref %q: %w", branch, err)
	}
	current, err := s.branchRef(name)
	if err != nil {
		return fmt.Errorf("update ref %q: %w", branch, err)
	}
	if fromGitHash(current.Hash()) != expectedOld {
		return fmt.Errorf("update ref %q: %w (expected %s, found %s)", branch, store.ErrRefConflict, expectedOld, current.Hash())
	}

	err = s.repo.Storer.CheckAndSetReference(plumbing.NewHashReference(name, target), current)
	if err != nil {
		if isConflict(err) {
			return fmt.Errorf("update ref %q: %w: %v", branch, store.ErrRefConflict, err)
		}
		return fmt.Errorf("update ref %q: %w", branch, err)
	}
	klog.V(2).Infof("git ref %s: %s -> %s", name, expectedOld, newHash)
	return nil
}

// CreateRef implements store.RefCreator.
func (s *Store) CreateRef(ctx context.Context, branch string, h object.Hash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := branchRefName(branch)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	target, err := s.expectObject(plumbing.CommitObject, h)
	if err != nil {
		return fmt.Errorf("create ref %q: %w", branch, err)
	}
	return s.createRef(name, target)
}

// createRef points name at target if it does not exist yet. Callers hold
// s.mu.
func (s *Store) createRef(name plumbing.ReferenceName, target plumbing.Hash) error {
	if current, err := s.repo.Storer.Reference(name); err == nil {
		return fmt.Errorf("create ref %q: %w (found %s)", name, store.ErrRefExists, current.Hash())
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("create ref %q: %w", name, err)
	}
	if err := s.repo.Storer.CheckAndSetReference(plumbing.NewHashReference(name, target), nil); err != nil {
		return fmt.Errorf("create ref %q: %w", name, err)
	}
	return nil
}

// branchRef reads a branch, mapping a missing ref to store.ErrRefNotFound.
// Callers hold s.mu.
func (s *Store) branchRef(name plumbing.ReferenceName) (*plumbing.Reference, error) {
	ref, err := s.repo.Storer.Reference(name)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, fmt.Errorf("%s: %w", name, store.ErrRefNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if ref.Type() != plumbing.HashReference {
		return nil, fmt.Errorf("%s: %w: symbolic ref", name, store.ErrInvalid)
	}
	return ref, nil
}

func branchRefName(branch string) (plumbing.ReferenceName, error) {
	if err := store.ValidateBranch(branch); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	return plumbing.NewBranchReferenceName(branch), nil
}

// initialCommit writes an empty root tree and a parentless commit and
// points branch at it.
func (s *Store) initialCommit(branch, author string) (object.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, err := s.writeTrees(nil)
	if err != nil {
		return "", fmt.Errorf("initial commit: %w", err)
	}
	h, err := s.writeCommit(store.CommitRequest{
		Message: InitialCommitMessage,
		Tree:    fromGitHash(tree),
		Author:  author,
	})
	if err != nil {
		return "", fmt.Errorf("initial commit: %w", err)
	}
	gh, _ := toGitHash(h)
	if err := s.createRef(plumbing.NewBranchReferenceName(branch), gh); err != nil {
		return "", fmt.Errorf("initial commit: %w", err)
	}
	return h, nil
}
