package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/crypto/ssh"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/publish"
)

// sshSignature is a commit signature in the form
// "sshsig-v1:<format>:<base64 public key>:<base64 signature blob>".
type sshSignature struct {
	key ssh.PublicKey
	sig *ssh.Signature
}

const sshSignatureTag = "sshsig-v1"

var errUnsupportedSignature = errors.New("unsupported signature format")

func (s sshSignature) String() string {
	enc := base64.StdEncoding
	return strings.Join([]string{
		sshSignatureTag,
		s.sig.Format,
		enc.EncodeToString(s.key.Marshal()),
		enc.EncodeToString(s.sig.Blob),
	}, ":")
}

func parseSSHSignature(v string) (sshSignature, error) {
	tag, rest, _ := strings.Cut(v, ":")
	if tag != sshSignatureTag {
		return sshSignature{}, errUnsupportedSignature
	}
	format, rest, _ := strings.Cut(rest, ":")
	keyB64, blobB64, ok := strings.Cut(rest, ":")
	if !ok || format == "" {
		return sshSignature{}, errUnsupportedSignature
	}
	keyRaw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return sshSignature{}, fmt.Errorf("decode public key: %w", err)
	}
	key, err := ssh.ParsePublicKey(keyRaw)
	if err != nil {
		return sshSignature{}, fmt.Errorf("parse public key: %w", err)
	}
	blob, err := base64.StdEncoding.DecodeString(blobB64)
	if err != nil {
		return sshSignature{}, fmt.Errorf("decode signature: %w", err)
	}
	return sshSignature{key: key, sig: &ssh.Signature{Format: format, Blob: blob}}, nil
}

// newSSHCommitSigner loads the private key at keyPath, or the first default
// key in ~/.ssh, and returns a signer plus the path it used.
func newSSHCommitSigner(keyPath string) (publish.Signer, string, error) {
	keyPath, err := signingKeyPath(keyPath)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, "", fmt.Errorf("read signing key %q: %w", keyPath, err)
	}
	key, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, "", fmt.Errorf("parse signing key %q: %w", keyPath, err)
	}

	sign := func(payload []byte) (string, error) {
		sig, err := key.Sign(rand.Reader, payload)
		if err != nil {
			return "", fmt.Errorf("ssh sign: %w", err)
		}
		return sshSignature{key: key.PublicKey(), sig: sig}.String(), nil
	}
	return sign, keyPath, nil
}

// verifyCommitSignature checks c's signature over its signing payload and
// returns the signing key.
func verifyCommitSignature(c *object.CommitObj) (ssh.PublicKey, error) {
	s, err := parseSSHSignature(c.Signature)
	if err != nil {
		return nil, err
	}
	if err := s.key.Verify(object.CommitSigningPayload(c), s.sig); err != nil {
		return nil, err
	}
	return s.key, nil
}

var defaultSigningKeys = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

func signingKeyPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	home, homeErr := os.UserHomeDir()
	if p == "" {
		if homeErr != nil {
			return "", fmt.Errorf("resolve home dir: %w", homeErr)
		}
		found, ok := lo.Find(defaultSigningKeys, func(name string) bool {
			st, err := os.Stat(filepath.Join(home, ".ssh", name))
			return err == nil && !st.IsDir()
		})
		if !ok {
			return "", fmt.Errorf("no default SSH private key in ~/.ssh (%s)", strings.Join(defaultSigningKeys, ", "))
		}
		return filepath.Join(home, ".ssh", found), nil
	}
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if homeErr != nil {
			return "", fmt.Errorf("resolve home dir: %w", homeErr)
		}
		p = filepath.Join(home, rest)
	}
	return filepath.Abs(p)
}
