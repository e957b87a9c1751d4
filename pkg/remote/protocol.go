package remote

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

const (
	// ProtocolVersion is the current API version.
	ProtocolVersion = "1"

	headerProtocol = "Dirpush-Protocol"
)

// Error codes carried in RemoteError.Code.
const (
	CodeRefNotFound    = "ref_not_found"
	CodeRefConflict    = "ref_conflict"
	CodeRefExists      = "ref_exists"
	CodeObjectNotFound = "object_not_found"
	CodeBlobTooLarge   = "blob_too_large"
	CodeEncoding       = "bad_encoding"
	CodeInvalid        = "invalid_request"
	CodeRepoNotFound   = "repo_not_found"
	CodeRepoExists     = "repo_exists"
	CodeUnauthorized   = "unauthorized"
	CodeInternal       = "internal"
)

var codeSentinels = map[string]error{
	CodeRefNotFound:    store.ErrRefNotFound,
	CodeRefConflict:    store.ErrRefConflict,
	CodeRefExists:      store.ErrRefExists,
	CodeObjectNotFound: store.ErrObjectNotFound,
	CodeBlobTooLarge:   store.ErrBlobTooLarge,
	CodeEncoding:       store.ErrEncoding,
	CodeInvalid:        store.ErrInvalid,
	CodeRepoNotFound:   store.ErrRepoNotFound,
	CodeRepoExists:     store.ErrRepoExists,
}

// ValidateHash checks that a hash is 40 (SHA-1) or 64 (SHA-256) lowercase
// hex characters.
func ValidateHash(h object.Hash) error {
	s := strings.TrimSpace(string(h))
	if s == "" {
		return fmt.Errorf("hash is empty")
	}
	if len(s) != 40 && len(s) != 64 {
		return fmt.Errorf("hash length %d, expected 40 or 64", len(s))
	}
	if strings.ToLower(s) != s {
		return fmt.Errorf("hash %q is not lowercase", s)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return fmt.Errorf("hash contains non-hex characters: %w", err)
	}
	return nil
}

// RemoteError is a structured error from the remote server. It matches
// the store sentinel named by its code.
type RemoteError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s): %s", e.Message, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *RemoteError) Unwrap() error {
	if e == nil {
		return nil
	}
	return codeSentinels[e.Code]
}

// tryParseRemoteError attempts to parse a JSON error response body.
func tryParseRemoteError(status int, body []byte) *RemoteError {
	var re RemoteError
	if err := json.Unmarshal(body, &re); err != nil {
		return nil
	}
	if re.Message == "" && re.Code == "" {
		return nil
	}
	re.Status = status
	return &re
}

// errorStatus maps a store error to its HTTP status and error code. Unknown
// objects are 404 when addressed by the URL and 422 when named in a body.
func errorStatus(err error, inBody bool) (int, string) {
	switch {
	case errors.Is(err, store.ErrRepoNotFound):
		return http.StatusNotFound, CodeRepoNotFound
	case errors.Is(err, store.ErrRefNotFound):
		return http.StatusNotFound, CodeRefNotFound
	case errors.Is(err, store.ErrObjectNotFound):
		if inBody {
			return http.StatusUnprocessableEntity, CodeObjectNotFound
		}
		return http.StatusNotFound, CodeObjectNotFound
	case errors.Is(err, store.ErrRefConflict):
		return http.StatusConflict, CodeRefConflict
	case errors.Is(err, store.ErrRefExists):
		return http.StatusUnprocessableEntity, CodeRefExists
	case errors.Is(err, store.ErrRepoExists):
		return http.StatusUnprocessableEntity, CodeRepoExists
	case errors.Is(err, store.ErrBlobTooLarge):
		return http.StatusRequestEntityTooLarge, CodeBlobTooLarge
	case errors.Is(err, store.ErrEncoding):
		return http.StatusUnprocessableEntity, CodeEncoding
	case errors.Is(err, store.ErrInvalid):
		return http.StatusUnprocessableEntity, CodeInvalid
	}
	return http.StatusInternalServerError, CodeInternal
}

// Wire types shared by Client and Handler.

// RepositoryInfo describes a remote repository.
type RepositoryInfo struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	DefaultBranch string `json:"default_branch"`
}

type createRepoRequest struct {
	AutoInit      bool   `json:"auto_init"`
	DefaultBranch string `json:"default_branch,omitempty"`
}

type shaRef struct {
	SHA string `json:"sha"`
}

type refResponse struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA  string `json:"sha"`
		Type string `json:"type"`
	} `json:"object"`
}

type commitResponse struct {
	SHA       string   `json:"sha"`
	Tree      shaRef   `json:"tree"`
	Parents   []shaRef `json:"parents"`
	Message   string   `json:"message"`
	Author    string   `json:"author"`
	Timestamp int64    `json:"timestamp"`
	Signature string   `json:"signature,omitempty"`
}

type createBlobRequest struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type treeEntryWire struct {
	Path string  `json:"path"`
	Mode string  `json:"mode"`
	Type string  `json:"type"`
	SHA  *string `json:"sha"`
}

type createTreeRequest struct {
	BaseTree string          `json:"base_tree,omitempty"`
	Tree     []treeEntryWire `json:"tree"`
}

type treeResponse struct {
	SHA  string          `json:"sha"`
	Tree []treeEntryWire `json:"tree"`
}

type createCommitRequest struct {
	Message   string   `json:"message"`
	Tree      string   `json:"tree"`
	Parents   []string `json:"parents"`
	Author    string   `json:"author,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
	Signature string   `json:"signature,omitempty"`
}

type createRefRequest struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

type updateRefRequest struct {
	SHA         string `json:"sha"`
	ExpectedSHA string `json:"expected_sha"`
}
