// Package fileset enumerates the files under a sync root.
package fileset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"k8s.io/klog/v2"
)

// List returns the root-relative, slash separated paths of every regular
// file under root that neither the root's ignore files nor the extra
// patterns exclude, sorted.
func List(root string, extra ...string) ([]string, error) {
	m, err := NewMatcher(root, extra...)
	if err != nil {
		return nil, err
	}
	return ListMatching(root, m)
}

// ListMatching is List with an explicit Matcher. A nil Matcher excludes
// nothing beyond the builtin directories.
func ListMatching(root string, m *Matcher) ([]string, error) {
	if m == nil {
		m = NewMatcherFromPatterns()
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("list files: %s is not a directory", root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if m.Match(rel, true) {
				klog.V(2).Infof("skipping ignored directory %s", rel)
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			klog.V(2).Infof("skipping non-regular file %s (%s)", rel, d.Type())
			return nil
		}
		if m.IsIgnored(rel) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}
