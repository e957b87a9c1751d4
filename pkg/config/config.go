// Package config reads dirpush.toml, the per-directory sync settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/odvcencio/dirpush/pkg/publish"
	"github.com/odvcencio/dirpush/pkg/store"
)

// FileName is looked up in the sync root when no config path is given.
const FileName = "dirpush.toml"

// Backends accepted by [server] backend.
const (
	BackendGot = "got"
	BackendGit = "git"
)

// File mirrors dirpush.toml. Zero values mean "not set" so that flags and
// environment variables can fill them.
type File struct {
	Remote       string   `toml:"remote,omitempty"`
	Backend      string   `toml:"backend,omitempty"` // for a local directory remote
	Branch       string   `toml:"branch,omitempty"`
	Root         string   `toml:"root,omitempty"`
	Message      string   `toml:"message,omitempty"`
	Author       string   `toml:"author,omitempty"`
	Token        string   `toml:"token,omitempty"`
	Concurrency  int      `toml:"concurrency,omitempty"`
	Encoding     string   `toml:"encoding,omitempty"`
	Prune        bool     `toml:"prune,omitempty"`
	Create       bool     `toml:"create,omitempty"`
	Retries      int      `toml:"retries,omitempty"`
	MaxBlobBytes int64    `toml:"max_blob_bytes,omitempty"`
	Exclude      []string `toml:"exclude,omitempty"`

	Signing Signing `toml:"signing,omitempty"`
	Server  Server  `toml:"server,omitempty"`
}

// Signing configures SSH commit signatures.
type Signing struct {
	Enabled bool   `toml:"enabled,omitempty"`
	Key     string `toml:"key,omitempty"` // private key path; defaults to ~/.ssh/id_*
}

// Server configures "dirpush serve".
type Server struct {
	Addr    string `toml:"addr,omitempty"`
	Root    string `toml:"root,omitempty"`
	Backend string `toml:"backend,omitempty"`
	Token   string `toml:"token,omitempty"`
}

// Load decodes the file at path. Unknown keys are an error.
func Load(path string) (*File, error) {
	var f File
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("load config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return &f, nil
}

// Find loads dir/dirpush.toml. A missing file yields an empty File and an
// empty path.
func Find(dir string) (*File, string, error) {
	path := filepath.Join(dir, FileName)
	f, err := Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &File{}, "", nil
		}
		return nil, "", err
	}
	return f, path, nil
}

// Validate checks the values that are set.
func (f *File) Validate() error {
	if f.Branch != "" {
		if err := store.ValidateBranch(f.Branch); err != nil {
			return err
		}
	}
	if f.Encoding != "" {
		if _, err := publish.ParseEncodingMode(f.Encoding); err != nil {
			return err
		}
	}
	if f.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	if f.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if f.MaxBlobBytes < 0 {
		return fmt.Errorf("max_blob_bytes must not be negative")
	}
	if err := ValidateBackend(f.Backend); err != nil {
		return err
	}
	if err := ValidateBackend(f.Server.Backend); err != nil {
		return fmt.Errorf("server %w", err)
	}
	return nil
}

// ValidateBackend accepts BackendGot, BackendGit or empty.
func ValidateBackend(b string) error {
	switch b {
	case "", BackendGot, BackendGit:
		return nil
	}
	return fmt.Errorf("backend %q: want %q or %q", b, BackendGot, BackendGit)
}

// Write encodes f to path, replacing any existing file.
func Write(path string, f *File) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dirpush-toml-*")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	tmpName := tmp.Name()
	if err := toml.NewEncoder(tmp).Encode(f); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}
