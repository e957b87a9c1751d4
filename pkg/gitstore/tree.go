package gitstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	gitobject "github.com/go-git/go-git/v5/plumbing/object"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

// CreateTree implements store.Store. Entries are layered on baseTree the
// same way the file-backed repository does it; an empty baseTree starts
// from the empty tree.
func (s *Store) CreateTree(ctx context.Context, entries []store.TreeEntry, baseTree object.Hash) (object.Hash, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	changes, err := store.NormalizeEntries(entries)
	if err != nil {
		return "", fmt.Errorf("create tree: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range changes {
		if e.IsDeletion() {
			continue
		}
		if _, err := s.expectObject(plumbing.BlobObject, e.Hash); err != nil {
			return "", fmt.Errorf("create tree: %s: %w", e.Path, err)
		}
	}

	files := make(map[string]store.TreeEntry)
	if baseTree != "" {
		files, err = s.flatten(baseTree)
		if err != nil {
			return "", fmt.Errorf("create tree: base tree %s: %w", baseTree, err)
		}
	}
	store.Overlay(files, changes)

	h, err := s.writeTrees(files)
	if err != nil {
		return "", fmt.Errorf("create tree: %w", err)
	}
	return fromGitHash(h), nil
}

// ReadTree implements store.TreeReader.
func (s *Store) ReadTree(ctx context.Context, h object.Hash) ([]store.TreeEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	files, err := s.flatten(h)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]store.TreeEntry, 0, len(files))
	for _, e := range files {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// flatten lists every non-directory entry below tree h. Callers hold s.mu.
func (s *Store) flatten(h object.Hash) (map[string]store.TreeEntry, error) {
	gh, err := s.expectObject(plumbing.TreeObject, h)
	if err != nil {
		return nil, err
	}
	t, err := gitobject.GetTree(s.repo.Storer, gh)
	if err != nil {
		return nil, fmt.Errorf("read tree %s: %w", h, err)
	}

	files := make(map[string]store.TreeEntry)
	w := gitobject.NewTreeWalker(t, true, nil)
	defer w.Close()
	for {
		name, e, err := w.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("walk tree %s: %w", h, err)
		}
		if e.Mode == filemode.Dir {
			continue
		}
		files[name] = store.TreeEntry{
			Path: name,
			Mode: modeString(e.Mode),
			Type: entryType(e.Mode),
			Hash: fromGitHash(e.Hash),
		}
	}
	return files, nil
}

func modeString(m filemode.FileMode) string {
	switch m {
	case filemode.Regular, filemode.Deprecated:
		return object.TreeModeFile
	case filemode.Executable:
		return object.TreeModeExecutable
	}
	return strconv.FormatUint(uint64(m), 8)
}

func entryType(m filemode.FileMode) object.ObjectType {
	if m == filemode.Submodule {
		return object.TypeCommit
	}
	return object.TypeBlob
}

// writeTrees stores the tree hierarchy holding files and returns the root
// tree. Callers hold s.mu.
func (s *Store) writeTrees(files map[string]store.TreeEntry) (plumbing.Hash, error) {
	trees := map[string]*gitobject.Tree{"": {}}
	for _, f := range files {
		mode, err := filemode.New(f.Mode)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("%s: mode %q: %w", f.Path, f.Mode, err)
		}
		gh, err := toGitHash(f.Hash)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("%s: %w", f.Path, err)
		}
		dir, name := split(f.Path)
		t := ensureTree(trees, dir)
		t.Entries = append(t.Entries, gitobject.TreeEntry{Name: name, Mode: mode, Hash: gh})
	}
	return s.storeTrees(trees, "")
}

// ensureTree returns the tree for dir, creating it and its ancestors.
func ensureTree(trees map[string]*gitobject.Tree, dir string) *gitobject.Tree {
	if t, ok := trees[dir]; ok {
		return t
	}
	parentDir, base := split(dir)
	parent := ensureTree(trees, parentDir)
	parent.Entries = append(parent.Entries, gitobject.TreeEntry{Name: base, Mode: filemode.Dir})

	t := &gitobject.Tree{}
	trees[dir] = t
	return t
}

// storeTrees writes the tree at treePath after all of its subtrees.
func (s *Store) storeTrees(trees map[string]*gitobject.Tree, treePath string) (plumbing.Hash, error) {
	t, ok := trees[treePath]
	if !ok {
		return plumbing.ZeroHash, fmt.Errorf("missing tree %q", treePath)
	}

	entries := t.Entries
	sort.Slice(entries, func(i, j int) bool {
		return entrySortKey(&entries[i]) < entrySortKey(&entries[j])
	})
	for i := range entries {
		e := &entries[i]
		if e.Mode != filemode.Dir || !e.Hash.IsZero() {
			continue
		}
		h, err := s.storeTrees(trees, path.Join(treePath, e.Name))
		if err != nil {
			return plumbing.ZeroHash, err
		}
		e.Hash = h
	}

	eo := s.repo.Storer.NewEncodedObject()
	if err := t.Encode(eo); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode tree %q: %w", treePath, err)
	}
	h, err := s.repo.Storer.SetEncodedObject(eo)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store tree %q: %w", treePath, err)
	}
	return h, nil
}

// Git sorts tree entries as though directories end in '/'.
func entrySortKey(e *gitobject.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

// split returns the directory and file name of p. Top-level paths have an
// empty directory.
func split(p string) (string, string) {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[:i], p[i+1:]
	}
	return "", p
}
