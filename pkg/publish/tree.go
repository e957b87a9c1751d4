package publish

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

// TreeBuilder creates trees layered on a base tree.
type TreeBuilder struct {
	Store store.Store
}

// FileEntry returns the tree entry publishing blob h at path. Published
// files are always regular, non-executable blobs.
func FileEntry(path string, h object.Hash) store.TreeEntry {
	return store.TreeEntry{Path: path, Mode: object.TreeModeFile, Type: object.TypeBlob, Hash: h}
}

// DeleteEntry returns a marker removing path from the base tree.
func DeleteEntry(path string) store.TreeEntry {
	return store.TreeEntry{Path: path, Mode: object.TreeModeFile, Type: object.TypeBlob}
}

// BuildTree overlays entries on baseTree. Entries must be non-empty with
// unique, clean relative paths. All failures match ErrTreeBuild.
func (b *TreeBuilder) BuildTree(ctx context.Context, entries []store.TreeEntry, baseTree object.Hash) (object.Hash, error) {
	if err := checkEntries(entries); err != nil {
		return "", kindError(ErrTreeBuild, err)
	}
	h, err := b.Store.CreateTree(ctx, entries, baseTree)
	if err != nil {
		return "", kindError(ErrTreeBuild, fmt.Errorf("create tree on %s: %w", baseTree.Short(), err))
	}
	klog.V(1).Infof("built tree %s from %d entries on base %s", h.Short(), len(entries), baseTree.Short())
	return h, nil
}

func checkEntries(entries []store.TreeEntry) error {
	if len(entries) == 0 {
		return ErrEmptyTree
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		clean, err := store.CleanPath(e.Path)
		if err != nil || clean != e.Path {
			return fmt.Errorf("%w: %q", ErrInvalidPath, e.Path)
		}
		if _, dup := seen[e.Path]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicatePath, e.Path)
		}
		seen[e.Path] = struct{}{}
		if e.Mode != object.TreeModeFile {
			return fmt.Errorf("%w: %q has mode %q", ErrInvalidPath, e.Path, e.Mode)
		}
	}
	return nil
}
