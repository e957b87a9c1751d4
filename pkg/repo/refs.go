package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

var ErrRefCASMismatch = fmt.Errorf("ref compare-and-swap mismatch: %w", store.ErrRefConflict)
var ErrRefUpdatedButReflogAppendFailed = errors.New("ref updated but reflog append failed")

// RefCASError reports a compare-and-swap whose expected old value did not
// match the ref. An empty Expected means the ref was required to be absent;
// an empty Found means it was absent.
type RefCASError struct {
	Ref      string
	Expected object.Hash
	Found    object.Hash
}

func (e *RefCASError) Error() string {
	switch {
	case e.Expected == "":
		return fmt.Sprintf("update ref %q: %s (found %s)", e.Ref, store.ErrRefExists, e.Found)
	case e.Found == "":
		return fmt.Sprintf("update ref %q: %s", e.Ref, store.ErrRefNotFound)
	default:
		return fmt.Sprintf("update ref %q: %s (expected %s, found %s)", e.Ref, ErrRefCASMismatch, e.Expected, e.Found)
	}
}

func (e *RefCASError) Is(target error) bool {
	switch target {
	case store.ErrRefExists:
		return e.Expected == ""
	case store.ErrRefNotFound:
		return e.Expected != "" && e.Found == ""
	case ErrRefCASMismatch, store.ErrRefConflict:
		return e.Expected != "" && e.Found != ""
	}
	return false
}

// RefUpdateReflogError indicates the ref file update succeeded, but appending
// the corresponding reflog entry failed.
type RefUpdateReflogError struct {
	Ref     string
	OldHash object.Hash
	NewHash object.Hash
	Err     error
}

func (e *RefUpdateReflogError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf(
		"update ref %q: %s (old=%s new=%s): %v",
		e.Ref,
		ErrRefUpdatedButReflogAppendFailed,
		e.OldHash,
		e.NewHash,
		e.Err,
	)
}

func (e *RefUpdateReflogError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *RefUpdateReflogError) Is(target error) bool {
	return target == ErrRefUpdatedButReflogAppendFailed
}

const (
	refLockRetryDelay = 5 * time.Millisecond
	refLockWaitLimit  = 2 * time.Second
)

// ResolveRef reads a full ref name such as "refs/heads/main". A missing
// ref yields store.ErrRefNotFound.
func (r *Repo) ResolveRef(name string) (object.Hash, error) {
	h, err := readRefHash(filepath.Join(r.Dir, filepath.FromSlash(name)))
	if err != nil {
		return "", fmt.Errorf("resolve ref %q: %w", name, err)
	}
	if h == "" {
		return "", fmt.Errorf("resolve ref %q: %w", name, store.ErrRefNotFound)
	}
	return h, nil
}

// UpdateRefCAS writes h to the named ref using lockfile + rename atomic
// semantics, but only when the ref currently holds expectedOld. An empty
// expectedOld requires the ref to be absent. Mismatches return a
// *RefCASError.
//
// Reflog append happens after the ref rename; if reflog append fails, the ref
// update remains committed and a RefUpdateReflogError is returned.
func (r *Repo) UpdateRefCAS(name string, h, expectedOld object.Hash, reason string) error {
	refPath := filepath.Join(r.Dir, filepath.FromSlash(name))

	dir := filepath.Dir(refPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("update ref %q: mkdir: %w", name, err)
	}

	lockPath := refPath + ".lock"
	lockFile, err := acquireRefLock(lockPath)
	if err != nil {
		return fmt.Errorf("update ref %q: lock: %w", name, err)
	}
	cleanupLock := true
	defer func() {
		if lockFile != nil {
			_ = lockFile.Close()
		}
		if cleanupLock {
			_ = os.Remove(lockPath)
		}
	}()

	oldHash, err := readRefHash(refPath)
	if err != nil {
		return fmt.Errorf("update ref %q: read old hash: %w", name, err)
	}
	if oldHash != expectedOld {
		return &RefCASError{Ref: name, Expected: expectedOld, Found: oldHash}
	}

	if _, err := lockFile.WriteString(string(h) + "\n"); err != nil {
		return fmt.Errorf("update ref %q: write: %w", name, err)
	}
	if err := lockFile.Sync(); err != nil {
		return fmt.Errorf("update ref %q: sync: %w", name, err)
	}
	if err := lockFile.Close(); err != nil {
		lockFile = nil
		return fmt.Errorf("update ref %q: close: %w", name, err)
	}
	lockFile = nil

	if err := os.Rename(lockPath, refPath); err != nil {
		return fmt.Errorf("update ref %q: rename: %w", name, err)
	}
	cleanupLock = false

	if err := r.appendReflog(name, oldHash, h, reason); err != nil {
		return &RefUpdateReflogError{
			Ref:     name,
			OldHash: oldHash,
			NewHash: h,
			Err:     err,
		}
	}

	return nil
}

// ListRefs lists references under refs/. Names are returned relative to
// the refs root, e.g. "heads/main".
func (r *Repo) ListRefs(prefix string) (map[string]object.Hash, error) {
	root := filepath.Join(r.Dir, "refs")
	dir := root
	if strings.TrimSpace(prefix) != "" {
		dir = filepath.Join(root, filepath.FromSlash(prefix))
	}

	refs := make(map[string]object.Hash)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(path, ".lock") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		h, err := readRefHash(path)
		if err != nil {
			return err
		}
		refs[filepath.ToSlash(rel)] = h
		return nil
	})
	if os.IsNotExist(err) {
		return refs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return refs, nil
}

func acquireRefLock(lockPath string) (*os.File, error) {
	deadline := time.Now().Add(refLockWaitLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if os.IsExist(err) {
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("timeout waiting for lock %q", lockPath)
			}
			time.Sleep(refLockRetryDelay)
			continue
		}
		return nil, err
	}
}

func readRefHash(refPath string) (object.Hash, error) {
	data, err := os.ReadFile(refPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return object.Hash(strings.TrimSpace(string(data))), nil
}
