package publish

import (
	"errors"
	"fmt"

	"github.com/odvcencio/dirpush/pkg/store"
)

// Kind sentinels. Every error returned by Sync is a *SyncError that
// matches exactly one of these through errors.Is.
var (
	ErrBranchNotFound = errors.New("branch not found")
	ErrContentUpload  = errors.New("content upload failed")
	ErrTreeBuild      = errors.New("tree build failed")
	ErrCommitCreate   = errors.New("commit create failed")
	ErrRefConflict    = errors.New("ref conflict")
	ErrRefUpdate      = errors.New("ref update failed")
)

// Validation errors, wrapped in ErrTreeBuild by BuildTree.
var (
	ErrEmptyTree     = errors.New("no tree entries")
	ErrDuplicatePath = errors.New("duplicate path")
	ErrInvalidPath   = errors.New("invalid path")
)

// State is a step of a sync.
type State int

const (
	StateIdle State = iota
	StateTipRead
	StateContentAddressed
	StateTreeBuilt
	StateCommitPublished
	StateRefAdvanced
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTipRead:
		return "tip-read"
	case StateContentAddressed:
		return "content-addressed"
	case StateTreeBuilt:
		return "tree-built"
	case StateCommitPublished:
		return "commit-published"
	case StateRefAdvanced:
		return "ref-advanced"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// kind returns the sentinel for a failure that happened while leaving
// state s.
func (s State) kind() error {
	switch s {
	case StateIdle:
		return ErrBranchNotFound
	case StateTipRead:
		return ErrContentUpload
	case StateContentAddressed:
		return ErrTreeBuild
	case StateTreeBuilt:
		return ErrCommitCreate
	case StateCommitPublished:
		return ErrRefUpdate
	default:
		return nil
	}
}

// SyncError is the single failure result of a sync. Step is the last state
// reached before the failure; Kind is the failure's sentinel.
type SyncError struct {
	Step   State
	Branch string
	Kind   error
	Err    error
}

func (e *SyncError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("sync %q failed after %s: %v", e.Branch, e.Step, e.Err)
}

func (e *SyncError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *SyncError) Is(target error) bool {
	return e != nil && e.Kind != nil && target == e.Kind
}

// IsRetryable reports whether restarting the whole sync from the tip read
// may succeed. Only a lost compare-and-swap race qualifies; the branch was
// left untouched.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRefConflict) && errors.Is(err, store.ErrRefConflict)
}

var kinds = []error{ErrBranchNotFound, ErrContentUpload, ErrTreeBuild, ErrCommitCreate, ErrRefConflict, ErrRefUpdate}

// kindOf returns the sentinel err carries, or fallback.
func kindOf(err, fallback error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return fallback
}

// kindError tags err with kind unless it already carries it.
func kindError(kind, err error) error {
	if err == nil || errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
