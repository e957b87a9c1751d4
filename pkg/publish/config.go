package publish

import (
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

const (
	DefaultMessage      = "Auto generated"
	DefaultBranch       = "main"
	DefaultConcurrency  = 8
	DefaultMaxBlobBytes = 16 << 20
)

// EncodingMode selects how file content is sent to the store.
type EncodingMode string

const (
	// EncodingAuto sends text as utf-8 and anything else as base64.
	EncodingAuto EncodingMode = "auto"
	// EncodingText always sends utf-8; binary files fail the sync.
	EncodingText EncodingMode = "text"
	// EncodingBinary always sends base64.
	EncodingBinary EncodingMode = "binary"
)

// ParseEncodingMode accepts "auto", "text" and "binary". Empty means auto.
func ParseEncodingMode(raw string) (EncodingMode, error) {
	switch EncodingMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", EncodingAuto:
		return EncodingAuto, nil
	case EncodingText:
		return EncodingText, nil
	case EncodingBinary:
		return EncodingBinary, nil
	default:
		return "", fmt.Errorf("unknown encoding mode %q (want auto, text or binary)", raw)
	}
}

// Select returns the encoding used for data under mode m.
func (m EncodingMode) Select(data []byte) object.Encoding {
	switch m {
	case EncodingText:
		return object.EncodingUTF8
	case EncodingBinary:
		return object.EncodingBase64
	default:
		return object.DetectEncoding(data)
	}
}

// Signer signs the canonical unsigned commit payload.
type Signer func(payload []byte) (string, error)

// Config is everything one sync needs. It is passed at call time; nothing
// is read from process-wide state.
type Config struct {
	Store  store.Store
	Root   string // local directory to publish
	Branch string

	Message string
	Author  string
	Signer  Signer

	// Concurrency bounds parallel blob uploads. Zero means
	// DefaultConcurrency.
	Concurrency  int
	Encoding     EncodingMode
	MaxBlobBytes int64

	// Prune removes base tree files that are absent locally. The store must
	// implement store.TreeReader.
	Prune bool

	// Exclude holds extra ignore patterns, in .gitignore syntax, applied
	// when enumerating Root.
	Exclude []string

	// Files, when non-nil, replaces enumeration of Root. Paths are relative
	// to Root and slash separated.
	Files []string

	// Now stamps commits. Defaults to time.Now.
	Now func() time.Time

	// OnState observes every state transition.
	OnState func(State)
	// OnFile is called after each file has been addressed. It may be
	// called concurrently.
	OnFile func(path string, h object.Hash)
	// OnFiles is called once with the number of files to address.
	OnFiles func(n int)
}

func (c Config) withDefaults() Config {
	if c.Branch == "" {
		c.Branch = DefaultBranch
	}
	if c.Message == "" {
		c.Message = DefaultMessage
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Encoding == "" {
		c.Encoding = EncodingAuto
	}
	if c.MaxBlobBytes <= 0 {
		c.MaxBlobBytes = DefaultMaxBlobBytes
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

func (c Config) validate() error {
	if c.Store == nil {
		return fmt.Errorf("publish: no store configured")
	}
	if strings.TrimSpace(c.Root) == "" && c.Files == nil {
		return fmt.Errorf("publish: no root directory configured")
	}
	if err := store.ValidateBranch(c.Branch); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if _, err := ParseEncodingMode(string(c.Encoding)); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if c.Prune {
		if _, ok := c.Store.(store.TreeReader); !ok {
			return fmt.Errorf("publish: prune requested but store cannot list trees")
		}
	}
	return nil
}
