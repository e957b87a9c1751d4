package store

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/odvcencio/dirpush/pkg/object"
)

// NormalizeEntries validates a CreateTree request and returns the entries
// with cleaned paths and defaulted modes, sorted by path. Whether the named
// blobs exist is left to the backend.
func NormalizeEntries(entries []TreeEntry) ([]TreeEntry, error) {
	out := make([]TreeEntry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		p, err := CleanPath(e.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("%w: duplicate path %q", ErrInvalid, p)
		}
		seen[p] = struct{}{}

		if e.Type != "" && e.Type != object.TypeBlob {
			return nil, fmt.Errorf("%w: %s: unsupported entry type %q", ErrInvalid, p, e.Type)
		}
		mode := e.Mode
		switch mode {
		case "":
			mode = object.TreeModeFile
		case object.TreeModeFile, object.TreeModeExecutable:
		default:
			return nil, fmt.Errorf("%w: %s: unsupported mode %q", ErrInvalid, p, mode)
		}
		out = append(out, TreeEntry{Path: p, Mode: mode, Type: object.TypeBlob, Hash: e.Hash})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	for i := range out {
		if out[i].IsDeletion() {
			continue
		}
		for j := i + 1; j < len(out) && strings.HasPrefix(out[j].Path, out[i].Path); j++ {
			if strings.HasPrefix(out[j].Path, out[i].Path+"/") && !out[j].IsDeletion() {
				return nil, fmt.Errorf("%w: %q is both a file and a directory", ErrInvalid, out[i].Path)
			}
		}
	}
	return out, nil
}

// Overlay applies normalized changes to files, a flattened tree keyed by
// path. Deletions drop a file or a whole directory; a file replaces any
// file or directory it collides with. Only a change landing on a directory
// scans files for its contents.
func Overlay(files map[string]TreeEntry, changes []TreeEntry) {
	// dirs holds every directory that has held a file. Entries are never
	// removed, so a stale one only costs an empty scan.
	dirs := make(map[string]struct{}, len(files)/4)
	for p := range files {
		addParents(dirs, p)
	}
	for _, e := range changes {
		delete(files, e.Path)
		if _, isDir := dirs[e.Path]; isDir {
			removeDir(files, e.Path)
		}
		if e.IsDeletion() {
			continue
		}
		for dir := path.Dir(e.Path); dir != "."; dir = path.Dir(dir) {
			delete(files, dir)
		}
		addParents(dirs, e.Path)
		files[e.Path] = e
	}
}

// addParents records the directories above p. Chains are always recorded
// whole, so the walk stops at the first known directory.
func addParents(dirs map[string]struct{}, p string) {
	for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
		if _, ok := dirs[dir]; ok {
			return
		}
		dirs[dir] = struct{}{}
	}
}

func removeDir(files map[string]TreeEntry, dir string) {
	prefix := dir + "/"
	for k := range files {
		if strings.HasPrefix(k, prefix) {
			delete(files, k)
		}
	}
}
