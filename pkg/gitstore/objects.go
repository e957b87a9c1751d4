package gitstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-git/go-git/v5/plumbing"
	gitobject "github.com/go-git/go-git/v5/plumbing/object"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

// toGitHash parses h, mapping malformed names to store.ErrObjectNotFound.
func toGitHash(h object.Hash) (plumbing.Hash, error) {
	if !plumbing.IsHash(string(h)) {
		return plumbing.ZeroHash, fmt.Errorf("object %q: %w", h, store.ErrObjectNotFound)
	}
	return plumbing.NewHash(string(h)), nil
}

func fromGitHash(h plumbing.Hash) object.Hash {
	return object.Hash(h.String())
}

// expectObject checks that h names an object of type t. Callers hold s.mu.
func (s *Store) expectObject(t plumbing.ObjectType, h object.Hash) (plumbing.Hash, error) {
	gh, err := toGitHash(h)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := s.repo.Storer.EncodedObject(t, gh); err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return plumbing.ZeroHash, fmt.Errorf("%s %s: %w", t, h, store.ErrObjectNotFound)
		}
		return plumbing.ZeroHash, err
	}
	return gh, nil
}

// CreateBlob implements store.Store.
func (s *Store) CreateBlob(ctx context.Context, content []byte, enc object.Encoding) (object.Hash, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if int64(len(content)) > s.maxBlobBytes() {
		return "", fmt.Errorf("create blob: %w (%d bytes, limit %d)", store.ErrBlobTooLarge, len(content), s.maxBlobBytes())
	}
	switch enc {
	case object.EncodingUTF8:
		if !utf8.Valid(content) {
			return "", fmt.Errorf("create blob: %w: not valid utf-8", store.ErrEncoding)
		}
	case object.EncodingBase64:
	default:
		return "", fmt.Errorf("create blob: %w: unsupported encoding %q", store.ErrEncoding, enc)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	eo := s.repo.Storer.NewEncodedObject()
	eo.SetType(plumbing.BlobObject)
	eo.SetSize(int64(len(content)))
	w, err := eo.Writer()
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	_, err = w.Write(content)
	w.Close()
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	h, err := s.repo.Storer.SetEncodedObject(eo)
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	return fromGitHash(h), nil
}

// GetCommit implements store.Store.
func (s *Store) GetCommit(ctx context.Context, h object.Hash) (*object.CommitObj, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gh, err := toGitHash(h)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := gitobject.GetCommit(s.repo.Storer, gh)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("commit %s: %w", h, store.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("read commit %s: %w", h, err)
	}

	out := &object.CommitObj{
		TreeHash:  fromGitHash(c.TreeHash),
		Author:    authorString(c.Author),
		Timestamp: c.Author.When.Unix(),
		Signature: strings.TrimSuffix(c.PGPSignature, "\n"),
		Message:   c.Message,
	}
	for _, p := range c.ParentHashes {
		out.Parents = append(out.Parents, fromGitHash(p))
	}
	return out, nil
}

// CreateCommit implements store.Store. The tree and every parent must
// exist. A zero timestamp is replaced with the current time.
func (s *Store) CreateCommit(ctx context.Context, req store.CommitRequest) (object.Hash, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeCommit(req)
}

func (s *Store) writeCommit(req store.CommitRequest) (object.Hash, error) {
	tree, err := s.expectObject(plumbing.TreeObject, req.Tree)
	if err != nil {
		return "", fmt.Errorf("create commit: tree: %w", err)
	}
	parents := make([]plumbing.Hash, 0, len(req.Parents))
	for _, p := range req.Parents {
		gp, err := s.expectObject(plumbing.CommitObject, p)
		if err != nil {
			return "", fmt.Errorf("create commit: parent: %w", err)
		}
		parents = append(parents, gp)
	}

	when := time.Now()
	if req.Timestamp != 0 {
		when = time.Unix(req.Timestamp, 0)
	}
	sig := signature(req.Author, when)
	c := &gitobject.Commit{
		Author:       sig,
		Committer:    sig,
		PGPSignature: req.Signature,
		Message:      req.Message,
		TreeHash:     tree,
		ParentHashes: parents,
	}

	eo := s.repo.Storer.NewEncodedObject()
	if err := c.Encode(eo); err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}
	h, err := s.repo.Storer.SetEncodedObject(eo)
	if err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}
	return fromGitHash(h), nil
}

// signature splits a "Name <email>" author into a Git signature.
func signature(author string, when time.Time) gitobject.Signature {
	name, email := strings.TrimSpace(author), ""
	if i := strings.LastIndex(name, "<"); i >= 0 && strings.HasSuffix(name, ">") {
		email = name[i+1 : len(name)-1]
		name = strings.TrimSpace(name[:i])
	}
	return gitobject.Signature{Name: name, Email: email, When: when}
}

func authorString(sig gitobject.Signature) string {
	if sig.Email == "" {
		return sig.Name
	}
	return fmt.Sprintf("%s <%s>", sig.Name, sig.Email)
}
