// Package remote carries the object store over HTTP. Client implements
// store.Store against a git data REST API shaped after GitHub's, and
// Handler serves any registry of stores over the same API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/odvcencio/dirpush/pkg/compression"
	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

// compressThreshold is the JSON payload size above which bodies travel
// zstd-compressed.
const compressThreshold = 1 << 10

// ClientOptions configures the remote client.
type ClientOptions struct {
	Timeout     time.Duration // HTTP client timeout (default 60s)
	MaxAttempts int           // attempts for idempotent requests (default 3)
	RetryDelay  time.Duration // first retry backoff (default 1s)
	// Token is sent as a Bearer token. It overrides DIRPUSH_TOKEN and
	// GITHUB_TOKEN.
	Token string
	// HTTPClient replaces the default client; Timeout is then ignored.
	HTTPClient *http.Client
}

// Response limits per endpoint type.
const (
	responseLimitDefault = 2 << 20  // 2MB
	responseLimitTree    = 64 << 20 // 64MB
)

// Client is a store.Store backed by a remote repository.
type Client struct {
	endpoint   Endpoint
	httpClient *http.Client
	token      string
	user       string
	pass       string
	retry      retryPolicy
	codec      *compression.Codec
}

var (
	_ store.Store      = (*Client)(nil)
	_ store.RefCreator = (*Client)(nil)
	_ store.TreeReader = (*Client)(nil)
)

// NewClient creates a remote client with default options.
//
// Auth resolution order:
// 1) ClientOptions.Token, DIRPUSH_TOKEN, GITHUB_TOKEN (Bearer)
// 2) DIRPUSH_USERNAME + DIRPUSH_PASSWORD (Basic)
// 3) URL userinfo (Basic)
func NewClient(remoteURL string) (*Client, error) {
	return NewClientWithOptions(remoteURL, ClientOptions{})
}

// NewClientWithOptions creates a remote client with configurable options.
// Zero-value or negative fields in opts receive defaults.
func NewClientWithOptions(remoteURL string, opts ClientOptions) (*Client, error) {
	endpoint, err := ParseEndpoint(remoteURL)
	if err != nil {
		return nil, err
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	token := strings.TrimSpace(opts.Token)
	for _, env := range []string{"DIRPUSH_TOKEN", "GITHUB_TOKEN"} {
		if token != "" {
			break
		}
		token = strings.TrimSpace(os.Getenv(env))
	}
	user := strings.TrimSpace(os.Getenv("DIRPUSH_USERNAME"))
	pass := os.Getenv("DIRPUSH_PASSWORD")
	if token == "" && user == "" && endpoint.user != "" {
		user = endpoint.user
		pass = endpoint.pass
	}

	codec, err := compression.Shared()
	if err != nil {
		return nil, err
	}

	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		token:      token,
		user:       user,
		pass:       pass,
		retry:      retryPolicy{attempts: opts.MaxAttempts, delay: opts.RetryDelay},
		codec:      codec,
	}, nil
}

// Endpoint returns the parsed endpoint metadata.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// Repository returns the remote repository, or store.ErrRepoNotFound.
func (c *Client) Repository(ctx context.Context) (RepositoryInfo, error) {
	var info RepositoryInfo
	err := c.doJSON(ctx, request{method: http.MethodGet, want: http.StatusOK, notFound: CodeRepoNotFound}, &info)
	return info, err
}

// CreateRepository creates the remote repository. With autoInit the
// default branch gets an empty root commit.
func (c *Client) CreateRepository(ctx context.Context, defaultBranch string, autoInit bool) error {
	return c.doJSON(ctx, request{
		method: http.MethodPost,
		body:   createRepoRequest{AutoInit: autoInit, DefaultBranch: defaultBranch},
		want:   http.StatusCreated,
	}, nil)
}

// EnsureRepository creates the remote repository with an initialized
// default branch when it does not exist yet, and reports whether it did.
func (c *Client) EnsureRepository(ctx context.Context, defaultBranch string) (bool, error) {
	if _, err := c.Repository(ctx); err == nil {
		return false, nil
	} else if !errors.Is(err, store.ErrRepoNotFound) {
		return false, err
	}
	if err := c.CreateRepository(ctx, defaultBranch, true); err != nil {
		if errors.Is(err, store.ErrRepoExists) {
			return false, nil
		}
		return false, err
	}
	klog.V(1).Infof("created repository %s/%s", c.endpoint.Owner, c.endpoint.Repo)
	return true, nil
}

// GetRef implements store.Store.
func (c *Client) GetRef(ctx context.Context, branch string) (object.Hash, error) {
	if err := store.ValidateBranch(branch); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	var resp refResponse
	err := c.doJSON(ctx, request{
		method:   http.MethodGet,
		path:     "/git/ref/heads/" + branch,
		want:     http.StatusOK,
		notFound: CodeRefNotFound,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("get ref %s: %w", branch, err)
	}
	return parseHash(resp.Object.SHA)
}

// GetCommit implements store.Store.
func (c *Client) GetCommit(ctx context.Context, h object.Hash) (*object.CommitObj, error) {
	if err := ValidateHash(h); err != nil {
		return nil, fmt.Errorf("commit %q: %w: %v", h, store.ErrObjectNotFound, err)
	}
	var resp commitResponse
	err := c.doJSON(ctx, request{
		method:   http.MethodGet,
		path:     "/git/commits/" + string(h),
		want:     http.StatusOK,
		notFound: CodeObjectNotFound,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("get commit %s: %w", h.Short(), err)
	}

	tree, err := parseHash(resp.Tree.SHA)
	if err != nil {
		return nil, fmt.Errorf("commit %s tree: %w", h.Short(), err)
	}
	out := &object.CommitObj{
		TreeHash:  tree,
		Author:    resp.Author,
		Timestamp: resp.Timestamp,
		Signature: resp.Signature,
		Message:   resp.Message,
	}
	for _, p := range resp.Parents {
		ph, err := parseHash(p.SHA)
		if err != nil {
			return nil, fmt.Errorf("commit %s parent: %w", h.Short(), err)
		}
		out.Parents = append(out.Parents, ph)
	}
	return out, nil
}

// CreateBlob implements store.Store. Text content travels as a JSON
// string, everything else base64 encoded.
func (c *Client) CreateBlob(ctx context.Context, content []byte, enc object.Encoding) (object.Hash, error) {
	encoded, err := object.EncodeContent(content, enc)
	if err != nil {
		return "", fmt.Errorf("create blob: %w: %v", store.ErrEncoding, err)
	}
	req := createBlobRequest{Content: encoded, Encoding: string(enc)}
	return c.create(ctx, "/git/blobs", req, "create blob")
}

// CreateTree implements store.Store.
func (c *Client) CreateTree(ctx context.Context, entries []store.TreeEntry, baseTree object.Hash) (object.Hash, error) {
	req := createTreeRequest{
		BaseTree: string(baseTree),
		Tree:     make([]treeEntryWire, 0, len(entries)),
	}
	for _, e := range entries {
		w := treeEntryWire{Path: e.Path, Mode: e.Mode, Type: string(e.Type)}
		if w.Mode == "" {
			w.Mode = object.TreeModeFile
		}
		if w.Type == "" {
			w.Type = string(object.TypeBlob)
		}
		if !e.IsDeletion() {
			sha := string(e.Hash)
			w.SHA = &sha
		}
		req.Tree = append(req.Tree, w)
	}
	return c.create(ctx, "/git/trees", req, "create tree")
}

// CreateCommit implements store.Store.
func (c *Client) CreateCommit(ctx context.Context, cr store.CommitRequest) (object.Hash, error) {
	req := createCommitRequest{
		Message:   cr.Message,
		Tree:      string(cr.Tree),
		Parents:   make([]string, 0, len(cr.Parents)),
		Author:    cr.Author,
		Timestamp: cr.Timestamp,
		Signature: cr.Signature,
	}
	for _, p := range cr.Parents {
		req.Parents = append(req.Parents, string(p))
	}
	return c.create(ctx, "/git/commits", req, "create commit")
}

// UpdateRef implements store.Store. Ref updates are never retried: a
// replayed compare-and-swap would report its own success as a conflict.
func (c *Client) UpdateRef(ctx context.Context, branch string, newHash, expectedOld object.Hash) error {
	if err := store.ValidateBranch(branch); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	err := c.doJSON(ctx, request{
		method:   http.MethodPatch,
		path:     "/git/refs/heads/" + branch,
		body:     updateRefRequest{SHA: string(newHash), ExpectedSHA: string(expectedOld)},
		want:     http.StatusOK,
		notFound: CodeRefNotFound,
		once:     true,
	}, nil)
	if err != nil {
		return fmt.Errorf("update ref %s: %w", branch, err)
	}
	return nil
}

// CreateRef implements store.RefCreator.
func (c *Client) CreateRef(ctx context.Context, branch string, h object.Hash) error {
	if err := store.ValidateBranch(branch); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	err := c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   "/git/refs",
		body:   createRefRequest{Ref: store.BranchRef(branch), SHA: string(h)},
		want:   http.StatusCreated,
		once:   true,
	}, nil)
	if err != nil {
		return fmt.Errorf("create ref %s: %w", branch, err)
	}
	return nil
}

// ReadTree implements store.TreeReader.
func (c *Client) ReadTree(ctx context.Context, h object.Hash) ([]store.TreeEntry, error) {
	if err := ValidateHash(h); err != nil {
		return nil, fmt.Errorf("tree %q: %w: %v", h, store.ErrObjectNotFound, err)
	}
	var resp treeResponse
	err := c.doJSON(ctx, request{
		method:   http.MethodGet,
		path:     "/git/trees/" + string(h) + "?recursive=1",
		want:     http.StatusOK,
		notFound: CodeObjectNotFound,
		limit:    responseLimitTree,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("read tree %s: %w", h.Short(), err)
	}

	out := make([]store.TreeEntry, 0, len(resp.Tree))
	for _, e := range resp.Tree {
		if e.Type == string(object.TypeTree) || e.SHA == nil {
			continue
		}
		eh, err := parseHash(*e.SHA)
		if err != nil {
			return nil, fmt.Errorf("tree %s entry %q: %w", h.Short(), e.Path, err)
		}
		out = append(out, store.TreeEntry{Path: e.Path, Mode: e.Mode, Type: object.ObjectType(e.Type), Hash: eh})
	}
	return out, nil
}

// create posts body to path and returns the "sha" of the 201 response.
func (c *Client) create(ctx context.Context, path string, body any, what string) (object.Hash, error) {
	var resp shaRef
	err := c.doJSON(ctx, request{
		method:   http.MethodPost,
		path:     path,
		body:     body,
		want:     http.StatusCreated,
		notFound: CodeObjectNotFound,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("%s: %w", what, err)
	}
	return parseHash(resp.SHA)
}

type request struct {
	method   string
	path     string // below the repository URL
	body     any
	want     int
	notFound string // error code for a bare 404
	limit    int64
	once     bool // not safe to replay
}

func (c *Client) doJSON(ctx context.Context, r request, out any) error {
	var body io.Reader
	var encoding string
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return err
		}
		if len(payload) > compressThreshold {
			if compressed := c.codec.Compress(payload); compression.IsFrame(compressed) {
				payload, encoding = compressed, "zstd"
			}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint.BaseURL+r.path, body)
	if err != nil {
		return err
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "zstd")

	limit := r.limit
	if limit <= 0 {
		limit = responseLimitDefault
	}
	policy := c.retry
	if r.once {
		policy.attempts = 1
	}
	respBody, err := c.doWithLimit(req, r.want, limit, policy, r.notFound)
	if err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", r.method, req.URL.Path, err)
	}
	return nil
}

func (c *Client) doWithLimit(req *http.Request, expectedStatus int, maxBytes int64, policy retryPolicy, notFound string) ([]byte, error) {
	c.applyAuth(req)
	resp, err := policy.do(c.httpClient, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if readErr != nil {
		return nil, readErr
	}
	if compression.Accepts(resp.Header.Get("Content-Encoding")) {
		body, err = c.codec.Decompress(body)
		if err != nil {
			return nil, fmt.Errorf("decompress %s %s response: %w", req.Method, req.URL.Path, err)
		}
	}
	klog.V(2).Infof("%s %s: %d (%d bytes)", req.Method, req.URL.Path, resp.StatusCode, len(body))

	if resp.StatusCode != expectedStatus {
		if re := tryParseRemoteError(resp.StatusCode, body); re != nil {
			return nil, re
		}
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &RemoteError{
			Status:  resp.StatusCode,
			Code:    fallbackCode(resp.StatusCode, notFound),
			Message: fmt.Sprintf("remote request failed (%s %s)", req.Method, req.URL.Path),
			Detail:  msg,
		}
	}

	// Validate content type on success responses before returning body.
	ct := resp.Header.Get("Content-Type")
	if len(body) > 0 && ct != "" && !strings.HasPrefix(ct, "application/json") {
		return nil, fmt.Errorf("unexpected content type %q (expected application/json) from %s %s (status %d)",
			ct, req.Method, req.URL.Path, resp.StatusCode)
	}
	return body, nil
}

// fallbackCode picks an error code for a response without a JSON error.
func fallbackCode(status int, notFound string) string {
	switch status {
	case http.StatusNotFound:
		return notFound
	case http.StatusConflict:
		return CodeRefConflict
	case http.StatusRequestEntityTooLarge:
		return CodeBlobTooLarge
	case http.StatusUnauthorized, http.StatusForbidden:
		return CodeUnauthorized
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return CodeInvalid
	}
	return CodeInternal
}

func (c *Client) applyAuth(req *http.Request) {
	req.Header.Set(headerProtocol, ProtocolVersion)

	if strings.TrimSpace(c.token) != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	if strings.TrimSpace(c.user) != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
}

func parseHash(raw string) (object.Hash, error) {
	h := object.Hash(strings.TrimSpace(raw))
	if err := ValidateHash(h); err != nil {
		return "", fmt.Errorf("invalid hash in response: %w", err)
	}
	return h, nil
}
