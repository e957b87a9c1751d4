package object

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/odvcencio/dirpush/pkg/compression"
)

// Store keeps loose objects under root/objects/ab/cdef0123... Each file
// holds the envelope "type len\0content", zstd-compressed when that makes
// it smaller.
type Store struct {
	root string
}

// NewStore returns a Store rooted at root. The objects/ directory is
// created on first write.
func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) path(h Hash) string {
	return filepath.Join(s.root, "objects", string(h[:2]), string(h[2:]))
}

// wellFormed rejects anything that could escape the fan-out layout.
func wellFormed(h Hash) bool {
	if len(h) < 4 {
		return false
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Has reports whether h is stored.
func (s *Store) Has(h Hash) bool {
	if !wellFormed(h) {
		return false
	}
	_, err := os.Stat(s.path(h))
	return err == nil
}

// TypeOf returns the type of a stored object.
func (s *Store) TypeOf(h Hash) (ObjectType, error) {
	objType, _, err := s.Read(h)
	return objType, err
}

// Write stores data as an object of the given type and returns its hash.
// Writing an object that already exists is a no-op.
func (s *Store) Write(objType ObjectType, data []byte) (Hash, error) {
	h := HashObject(objType, data)
	if s.Has(h) {
		return h, nil
	}
	codec, err := compression.Shared()
	if err != nil {
		return "", fmt.Errorf("object write %s: %w", h, err)
	}
	raw := append([]byte(fmt.Sprintf("%s %d\x00", objType, len(data))), data...)
	if err := writeFileAtomic(s.path(h), codec.Compress(raw)); err != nil {
		return "", fmt.Errorf("object write %s: %w", h, err)
	}
	return h, nil
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it into place, so readers never see a partial object.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

// Read returns the type and content of h. A missing or malformed hash
// yields an error matching os.ErrNotExist. Content that no longer hashes
// to h is reported as corrupt.
func (s *Store) Read(h Hash) (ObjectType, []byte, error) {
	if !wellFormed(h) {
		return "", nil, fmt.Errorf("object read %q: %w", h, os.ErrNotExist)
	}
	raw, err := os.ReadFile(s.path(h))
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: %w", h, err)
	}
	codec, err := compression.Shared()
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: %w", h, err)
	}
	if raw, err = codec.Decompress(raw); err != nil {
		return "", nil, fmt.Errorf("object read %s: %w", h, err)
	}
	objType, content, err := parseEnvelope(raw)
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: %w", h, err)
	}
	if HashObject(objType, content) != h {
		return "", nil, fmt.Errorf("object read %s: corrupt object (content hash mismatch)", h)
	}
	return objType, content, nil
}

func parseEnvelope(raw []byte) (ObjectType, []byte, error) {
	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		return "", nil, fmt.Errorf("invalid format (no NUL)")
	}
	header, content := raw[:nul], raw[nul+1:]
	typ, size, ok := bytes.Cut(header, []byte{' '})
	if !ok {
		return "", nil, fmt.Errorf("invalid header %q", header)
	}
	n, err := strconv.Atoi(string(size))
	if err != nil {
		return "", nil, fmt.Errorf("invalid length %q: %w", size, err)
	}
	if n != len(content) {
		return "", nil, fmt.Errorf("length mismatch (header=%d, actual=%d)", n, len(content))
	}
	return ObjectType(typ), content, nil
}

func readAs[T any](s *Store, h Hash, want ObjectType, decode func([]byte) (*T, error)) (*T, error) {
	objType, data, err := s.Read(h)
	if err != nil {
		return nil, err
	}
	if objType != want {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", h, objType, want)
	}
	return decode(data)
}

func (s *Store) WriteBlob(b *Blob) (Hash, error) { return s.Write(TypeBlob, MarshalBlob(b)) }

func (s *Store) ReadBlob(h Hash) (*Blob, error) { return readAs(s, h, TypeBlob, UnmarshalBlob) }

func (s *Store) WriteTree(tr *TreeObj) (Hash, error) { return s.Write(TypeTree, MarshalTree(tr)) }

func (s *Store) ReadTree(h Hash) (*TreeObj, error) { return readAs(s, h, TypeTree, UnmarshalTree) }

func (s *Store) WriteCommit(c *CommitObj) (Hash, error) {
	return s.Write(TypeCommit, MarshalCommit(c))
}

func (s *Store) ReadCommit(h Hash) (*CommitObj, error) {
	return readAs(s, h, TypeCommit, UnmarshalCommit)
}
