package fileset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// IgnoreFiles are read from the sync root, in order. Later files take
// precedence over earlier ones.
var IgnoreFiles = []string{".gitignore", ".dirpushignore"}

// alwaysIgnored are directory names skipped at any depth.
var alwaysIgnored = []string{".git", ".dirpush"}

// Matcher decides whether a root-relative path is excluded from a sync.
type Matcher struct {
	patterns []ignorePattern

	dirSegmentPatterns  map[string][]int
	dirPathPatterns     map[string][]int
	dirWildcardPatterns []int
	exactBasePatterns   map[string][]int
	exactPathPatterns   map[string][]int
	wildcardBasePattern []int
	wildcardPathPattern []int
}

type ignorePattern struct {
	pattern  string
	negated  bool
	dirOnly  bool
	hasSlash bool // match against the full path instead of the base name
	regex    *regexp.Regexp
}

// NewMatcher builds a Matcher for the sync root. Missing ignore files are
// not an error; unreadable ones are. Extra lines are applied after the
// ignore files.
func NewMatcher(root string, extra ...string) (*Matcher, error) {
	m := &Matcher{}
	for _, name := range alwaysIgnored {
		m.patterns = append(m.patterns, ignorePattern{pattern: name})
	}
	for _, name := range IgnoreFiles {
		if err := m.load(filepath.Join(root, name)); err != nil {
			return nil, err
		}
	}
	for _, line := range extra {
		if p := parseLine(line); p != nil {
			m.patterns = append(m.patterns, *p)
		}
	}
	m.compile()
	return m, nil
}

// NewMatcherFromPatterns builds a Matcher from ignore lines without reading
// the filesystem. The builtin directory exclusions still apply.
func NewMatcherFromPatterns(lines ...string) *Matcher {
	m := &Matcher{}
	for _, name := range alwaysIgnored {
		m.patterns = append(m.patterns, ignorePattern{pattern: name})
	}
	for _, line := range lines {
		if p := parseLine(line); p != nil {
			m.patterns = append(m.patterns, *p)
		}
	}
	m.compile()
	return m
}

func (m *Matcher) load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read ignore file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if p := parseLine(scanner.Text()); p != nil {
			m.patterns = append(m.patterns, *p)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ignore file %s: %w", path, err)
	}
	return nil
}

// parseLine parses a single ignore-file line. Returns nil if the
// line is empty or a comment.
func parseLine(line string) *ignorePattern {
	// Trim trailing whitespace.
	line = strings.TrimRight(line, " \t")

	// Empty lines are skipped.
	if line == "" {
		return nil
	}

	// Comment lines are skipped.
	if strings.HasPrefix(line, "#") {
		return nil
	}

	p := &ignorePattern{}

	// Negation: lines starting with ! un-ignore a pattern.
	if strings.HasPrefix(line, "!") {
		p.negated = true
		line = line[1:]
	}

	// Directory-only: lines ending with / match directories only.
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimRight(line, "/")
	}

	// If the pattern contains a slash, match against the full relative path.
	// A leading slash only anchors the pattern at the root.
	p.hasSlash = strings.Contains(line, "/")
	line = strings.TrimPrefix(line, "/")
	if line == "" {
		return nil
	}

	p.pattern = line
	if strings.Contains(line, "**") {
		if re, err := regexp.Compile(globToRegex(line)); err == nil {
			p.regex = re
		}
	}
	return p
}

// IsIgnored reports whether a root-relative, slash separated file path is
// excluded. The last matching pattern wins.
func (m *Matcher) IsIgnored(path string) bool {
	return m.Match(path, false)
}

// Match reports whether path is excluded. Directory-only patterns apply to
// path itself only when isDir is set. A path under an excluded directory is
// excluded regardless of later negations, as in Git.
func (m *Matcher) Match(path string, isDir bool) bool {
	segments := strings.Split(filepath.ToSlash(path), "/")
	for i := range segments {
		last := i == len(segments)-1
		ignored := m.matchLevel(strings.Join(segments[:i+1], "/"), segments[i], !last || isDir)
		if ignored || last {
			return ignored
		}
	}
	return false
}

func (m *Matcher) matchLevel(path, base string, isDir bool) bool {
	lastMatch := -1
	ignored := false
	apply := func(idx int) {
		if idx > lastMatch {
			lastMatch = idx
			ignored = !m.patterns[idx].negated
		}
	}
	applyAll := func(patterns []int) {
		for _, idx := range patterns {
			apply(idx)
		}
	}

	if isDir {
		applyAll(m.dirSegmentPatterns[base])
		applyAll(m.dirPathPatterns[path])
		for _, idx := range m.dirWildcardPatterns {
			if m.patterns[idx].match(m.patterns[idx].target(path, base)) {
				apply(idx)
			}
		}
	}

	// Exact literals are resolved via maps.
	applyAll(m.exactPathPatterns[path])
	applyAll(m.exactBasePatterns[base])

	// Wildcards still require matching checks but are pre-separated by target.
	for _, idx := range m.wildcardPathPattern {
		if m.patterns[idx].match(path) {
			apply(idx)
		}
	}
	for _, idx := range m.wildcardBasePattern {
		if m.patterns[idx].match(base) {
			apply(idx)
		}
	}
	return ignored
}

func (m *Matcher) compile() {
	m.dirSegmentPatterns = make(map[string][]int)
	m.dirPathPatterns = make(map[string][]int)
	m.exactBasePatterns = make(map[string][]int)
	m.exactPathPatterns = make(map[string][]int)
	m.dirWildcardPatterns = nil
	m.wildcardBasePattern = nil
	m.wildcardPathPattern = nil

	for idx := range m.patterns {
		p := m.patterns[idx]

		if p.dirOnly {
			switch {
			case p.regex != nil || !isLiteralPattern(p.pattern):
				m.dirWildcardPatterns = append(m.dirWildcardPatterns, idx)
			case p.hasSlash:
				m.dirPathPatterns[p.pattern] = append(m.dirPathPatterns[p.pattern], idx)
			default:
				m.dirSegmentPatterns[p.pattern] = append(m.dirSegmentPatterns[p.pattern], idx)
			}
			continue
		}

		switch {
		case p.regex != nil || !isLiteralPattern(p.pattern):
			if p.hasSlash {
				m.wildcardPathPattern = append(m.wildcardPathPattern, idx)
			} else {
				m.wildcardBasePattern = append(m.wildcardBasePattern, idx)
			}
		case p.hasSlash:
			m.exactPathPatterns[p.pattern] = append(m.exactPathPatterns[p.pattern], idx)
		default:
			m.exactBasePatterns[p.pattern] = append(m.exactBasePatterns[p.pattern], idx)
		}
	}
}

func isLiteralPattern(pattern string) bool {
	return !strings.ContainsAny(pattern, "*?[")
}

func (p *ignorePattern) target(path, base string) string {
	if p.hasSlash {
		return path
	}
	return base
}

func (p *ignorePattern) match(target string) bool {
	if p.regex != nil {
		return p.regex.MatchString(target)
	}
	matched, _ := filepath.Match(p.pattern, target)
	return matched
}

func globToRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		if ch == '*' {
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					// Globstar directory segment: match zero or more path segments.
					b.WriteString("(?:.*/)?")
					i += 2
				} else {
					b.WriteString(".*")
					i++
				}
				continue
			}
			b.WriteString("[^/]*")
			continue
		}
		if ch == '?' {
			b.WriteString("[^/]")
			continue
		}
		if strings.ContainsRune(`.+()|[]{}^$\\`, rune(ch)) {
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
	}
	b.WriteString("$")
	return b.String()
}
