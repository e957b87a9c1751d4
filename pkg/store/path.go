package store

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]*$`)

// BranchRef returns the full ref name for a branch.
func BranchRef(branch string) string {
	return "refs/heads/" + branch
}

// ValidateBranch rejects branch names that would escape refs/heads.
func ValidateBranch(branch string) error {
	if strings.TrimSpace(branch) == "" {
		return fmt.Errorf("branch name is empty")
	}
	if strings.HasPrefix(branch, "/") || strings.HasSuffix(branch, "/") || strings.HasSuffix(branch, ".lock") || strings.Contains(branch, "..") {
		return fmt.Errorf("invalid branch name %q", branch)
	}
	for _, part := range strings.Split(branch, "/") {
		if part == "" || part == "." || part == ".." || strings.HasPrefix(part, ".") {
			return fmt.Errorf("invalid branch name %q", branch)
		}
	}
	if strings.ContainsAny(branch, " ~^:?*[\\\x00") {
		return fmt.Errorf("invalid branch name %q", branch)
	}
	return nil
}

// CleanPath validates a tree entry path: relative, slash separated and
// free of empty, "." and ".." segments.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") || strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("invalid path %q", p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("invalid path %q", p)
		}
	}
	return path.Clean(p), nil
}

// ValidateRepoName checks an owner or repository name segment.
func ValidateRepoName(owner, name string) error {
	for _, part := range []string{owner, name} {
		if !repoNamePattern.MatchString(part) || strings.Contains(part, "..") {
			return fmt.Errorf("%w: invalid repository name %q", ErrInvalid, owner+"/"+name)
		}
	}
	return nil
}
