package object

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Canonical encodings. A blob is its bytes. A tree is one
// "mode hash\tname" line per entry, sorted by name. A commit is a block of
// "key value" header lines, a blank line, then the message verbatim.

const (
	headerTree      = "tree"
	headerParent    = "parent"
	headerAuthor    = "author"
	headerTimestamp = "timestamp"
	headerSignature = "signature"
)

func MarshalBlob(b *Blob) []byte { return bytes.Clone(b.Data) }

func UnmarshalBlob(data []byte) (*Blob, error) {
	return &Blob{Data: bytes.Clone(data)}, nil
}

// MarshalTree encodes tr with entries sorted by name. An empty mode is
// written as TreeModeFile.
func MarshalTree(tr *TreeObj) []byte {
	entries := slices.Clone(tr.Entries)
	slices.SortFunc(entries, func(a, b TreeEntry) int { return strings.Compare(a.Name, b.Name) })

	var b strings.Builder
	for _, e := range entries {
		mode := e.Mode
		if strings.TrimSpace(mode) == "" {
			mode = TreeModeFile
		}
		b.WriteString(mode)
		b.WriteByte(' ')
		b.WriteString(string(e.Hash))
		b.WriteByte('\t')
		b.WriteString(e.Name)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// UnmarshalTree decodes a tree, rejecting unknown modes, path separators
// in names, and entries out of canonical order.
func UnmarshalTree(data []byte) (*TreeObj, error) {
	tr := &TreeObj{}
	prev := ""
	for line := range bytes.Lines(data) {
		line = bytes.TrimSuffix(line, []byte{'\n'})
		if len(line) == 0 {
			continue
		}
		head, name, ok := bytes.Cut(line, []byte{'\t'})
		mode, hash, ok2 := bytes.Cut(head, []byte{' '})
		if !ok || !ok2 || len(name) == 0 || len(hash) == 0 {
			return nil, fmt.Errorf("unmarshal tree: malformed entry %q", line)
		}
		switch m := string(mode); m {
		case TreeModeDir, TreeModeFile, TreeModeExecutable:
		default:
			return nil, fmt.Errorf("unmarshal tree: unknown mode %q", m)
		}
		if bytes.ContainsRune(name, '/') {
			return nil, fmt.Errorf("unmarshal tree: entry name %q contains a separator", name)
		}
		if len(tr.Entries) > 0 && string(name) <= prev {
			return nil, fmt.Errorf("unmarshal tree: entry %q out of order", name)
		}
		prev = string(name)
		tr.Entries = append(tr.Entries, TreeEntry{Name: prev, Mode: string(mode), Hash: Hash(hash)})
	}
	return tr, nil
}

// MarshalCommit encodes c. Newlines inside header values are folded to
// spaces so that they cannot forge extra headers.
func MarshalCommit(c *CommitObj) []byte {
	var b strings.Builder
	header := func(key, val string) {
		b.WriteString(key)
		b.WriteByte(' ')
		b.WriteString(strings.ReplaceAll(val, "\n", " "))
		b.WriteByte('\n')
	}
	header(headerTree, string(c.TreeHash))
	for _, p := range c.Parents {
		header(headerParent, string(p))
	}
	header(headerAuthor, c.Author)
	header(headerTimestamp, strconv.FormatInt(c.Timestamp, 10))
	if strings.TrimSpace(c.Signature) != "" {
		header(headerSignature, c.Signature)
	}
	b.WriteByte('\n')
	b.WriteString(c.Message)
	return []byte(b.String())
}

// UnmarshalCommit decodes a commit. The tree header is required and may
// appear once.
func UnmarshalCommit(data []byte) (*CommitObj, error) {
	head, msg, ok := bytes.Cut(data, []byte("\n\n"))
	if !ok {
		return nil, fmt.Errorf("unmarshal commit: missing header/message separator")
	}
	c := &CommitObj{Message: string(msg)}
	sawTree := false
	for _, line := range strings.Split(string(head), "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal commit: malformed header line %q", line)
		}
		switch key {
		case headerTree:
			if sawTree {
				return nil, fmt.Errorf("unmarshal commit: duplicate tree header")
			}
			sawTree = true
			c.TreeHash = Hash(val)
		case headerParent:
			c.Parents = append(c.Parents, Hash(val))
		case headerAuthor:
			c.Author = val
		case headerTimestamp:
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: bad timestamp %q: %w", val, err)
			}
			c.Timestamp = ts
		case headerSignature:
			c.Signature = val
		default:
			return nil, fmt.Errorf("unmarshal commit: unknown header key %q", key)
		}
	}
	if !sawTree {
		return nil, fmt.Errorf("unmarshal commit: missing tree header")
	}
	return c, nil
}

// CommitSigningPayload returns the bytes a commit signature covers: the
// commit encoded without its signature header.
func CommitSigningPayload(c *CommitObj) []byte {
	if c == nil {
		return nil
	}
	unsigned := *c
	unsigned.Signature = ""
	return MarshalCommit(&unsigned)
}
