package repo

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

// TreeFileEntry represents a single file in a flattened tree.
type TreeFileEntry struct {
	Path string
	Mode string
	Hash object.Hash
}

// FlattenTree walks a tree object recursively, returning all file entries
// with their full paths (using forward slashes), sorted by path.
func (r *Repo) FlattenTree(h object.Hash) ([]TreeFileEntry, error) {
	result, err := r.flattenTreeRec(h, "")
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

func (r *Repo) flattenTreeRec(h object.Hash, prefix string) ([]TreeFileEntry, error) {
	treeObj, err := r.readTree(h)
	if err != nil {
		return nil, fmt.Errorf("flatten tree: %w", err)
	}

	var result []TreeFileEntry
	for _, entry := range treeObj.Entries {
		fullPath := entry.Name
		if prefix != "" {
			fullPath = path.Join(prefix, entry.Name)
		}

		if entry.IsDir() {
			sub, err := r.flattenTreeRec(entry.Hash, fullPath)
			if err != nil {
				return nil, err
			}
			result = append(result, sub...)
		} else {
			result = append(result, TreeFileEntry{
				Path: fullPath,
				Mode: entry.Mode,
				Hash: entry.Hash,
			})
		}
	}
	return result, nil
}

// OverlayTree applies entries on top of the tree at base and writes the
// resulting tree hierarchy, returning the new root hash. Paths not named
// by entries are inherited from base; entries with an empty hash remove a
// file or a whole directory. A file entry replaces any base file or
// directory it collides with. An empty base starts from an empty tree.
func (r *Repo) OverlayTree(base object.Hash, entries []store.TreeEntry) (object.Hash, error) {
	changes, err := store.NormalizeEntries(entries)
	if err != nil {
		return "", err
	}
	for _, e := range changes {
		if e.IsDeletion() {
			continue
		}
		if err := r.expectType(e.Hash, object.TypeBlob); err != nil {
			return "", fmt.Errorf("%s: %w", e.Path, err)
		}
	}

	files := make(map[string]store.TreeEntry)
	if base != "" {
		baseFiles, err := r.FlattenTree(base)
		if err != nil {
			return "", fmt.Errorf("base tree %s: %w", base, err)
		}
		for _, f := range baseFiles {
			files[f.Path] = store.TreeEntry{Path: f.Path, Mode: f.Mode, Type: object.TypeBlob, Hash: f.Hash}
		}
	}
	store.Overlay(files, changes)

	return r.writeTreeDir(files, "")
}

// writeTreeDir writes the tree for prefix from all, whose keys are paths
// relative to prefix, after all of its subtrees.
func (r *Repo) writeTreeDir(all map[string]store.TreeEntry, prefix string) (object.Hash, error) {
	var entries []object.TreeEntry
	subdirs := make(map[string]map[string]store.TreeEntry)
	for rel, entry := range all {
		name, rest, nested := strings.Cut(rel, "/")
		if !nested {
			entries = append(entries, object.TreeEntry{Name: name, Mode: entry.Mode, Hash: entry.Hash})
			continue
		}
		if subdirs[name] == nil {
			subdirs[name] = make(map[string]store.TreeEntry)
		}
		subdirs[name][rest] = entry
	}

	for name, children := range subdirs {
		childPrefix := path.Join(prefix, name)
		subHash, err := r.writeTreeDir(children, childPrefix)
		if err != nil {
			return "", fmt.Errorf("build tree %q: %w", childPrefix, err)
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: object.TreeModeDir, Hash: subHash})
	}

	h, err := r.Store.WriteTree(&object.TreeObj{Entries: entries})
	if err != nil {
		return "", fmt.Errorf("write tree (prefix=%q): %w", prefix, err)
	}
	return h, nil
}

func (r *Repo) readTree(h object.Hash) (*object.TreeObj, error) {
	if err := r.expectType(h, object.TypeTree); err != nil {
		return nil, err
	}
	return r.Store.ReadTree(h)
}

// expectType maps a missing object, or one of the wrong type, to
// store.ErrObjectNotFound.
func (r *Repo) expectType(h object.Hash, want object.ObjectType) error {
	got, err := r.Store.TypeOf(h)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s %s: %w", want, h, store.ErrObjectNotFound)
		}
		return err
	}
	if got != want {
		return fmt.Errorf("%s %s: %w (is a %s)", want, h, store.ErrObjectNotFound, got)
	}
	return nil
}
