package remote

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"k8s.io/klog/v2"

	"github.com/odvcencio/dirpush/pkg/compression"
	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

// DefaultMaxBodyBytes bounds request bodies after decompression. It fits a
// 100MB blob in base64.
const DefaultMaxBodyBytes = 160 << 20

// Registry resolves repositories for the handler.
type Registry interface {
	OpenStore(ctx context.Context, owner, name string) (store.Store, error)
	CreateStore(ctx context.Context, owner, name, defaultBranch string, autoInit bool) (store.Store, error)
}

// defaultBrancher is implemented by stores that track a default branch.
type defaultBrancher interface {
	DefaultBranch() string
}

// Handler serves the git data API for every repository in a Registry.
type Handler struct {
	mux          *http.ServeMux
	registry     Registry
	token        string
	maxBodyBytes int64
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	// Token, when set, is required as a Bearer token on every request.
	Token        string
	MaxBodyBytes int64
}

// NewHandler returns a handler serving repositories from reg.
func NewHandler(reg Registry, opts HandlerOptions) *Handler {
	h := &Handler{
		mux:          http.NewServeMux(),
		registry:     reg,
		token:        opts.Token,
		maxBodyBytes: opts.MaxBodyBytes,
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = DefaultMaxBodyBytes
	}

	const repo = "/repos/{owner}/{repo}"
	h.mux.HandleFunc("GET "+repo, h.getRepository)
	h.mux.HandleFunc("POST "+repo, h.createRepository)
	h.mux.HandleFunc("GET "+repo+"/git/ref/heads/{branch...}", h.withStore(h.getRef))
	h.mux.HandleFunc("PATCH "+repo+"/git/refs/heads/{branch...}", h.withStore(h.updateRef))
	h.mux.HandleFunc("POST "+repo+"/git/refs", h.withStore(h.createRef))
	h.mux.HandleFunc("POST "+repo+"/git/blobs", h.withStore(h.createBlob))
	h.mux.HandleFunc("POST "+repo+"/git/trees", h.withStore(h.createTree))
	h.mux.HandleFunc("GET "+repo+"/git/trees/{sha}", h.withStore(h.getTree))
	h.mux.HandleFunc("POST "+repo+"/git/commits", h.withStore(h.createCommit))
	h.mux.HandleFunc("GET "+repo+"/git/commits/{sha}", h.withStore(h.getCommit))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="dirpush"`)
		writeJSON(w, r, http.StatusUnauthorized, &RemoteError{Code: CodeUnauthorized, Message: "missing or invalid token"})
		return
	}
	if v := r.Header.Get(headerProtocol); v != "" && v != ProtocolVersion {
		writeJSON(w, r, http.StatusBadRequest, &RemoteError{
			Code:    CodeInvalid,
			Message: fmt.Sprintf("unsupported protocol version %q", v),
		})
		return
	}
	w.Header().Set(headerProtocol, ProtocolVersion)
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(h.token)) == 1
}

type storeHandler func(w http.ResponseWriter, r *http.Request, s store.Store)

func (h *Handler) withStore(fn storeHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := h.registry.OpenStore(r.Context(), r.PathValue("owner"), r.PathValue("repo"))
		if err != nil {
			writeError(w, r, err, false)
			return
		}
		fn(w, r, s)
	}
}

func (h *Handler) getRepository(w http.ResponseWriter, r *http.Request) {
	owner, name := r.PathValue("owner"), r.PathValue("repo")
	s, err := h.registry.OpenStore(r.Context(), owner, name)
	if err != nil {
		writeError(w, r, err, false)
		return
	}
	writeJSON(w, r, http.StatusOK, repositoryInfo(owner, name, s))
}

func (h *Handler) createRepository(w http.ResponseWriter, r *http.Request) {
	var req createRepoRequest
	if !h.decode(w, r, &req) {
		return
	}
	owner, name := r.PathValue("owner"), r.PathValue("repo")
	if req.DefaultBranch != "" {
		if err := store.ValidateBranch(req.DefaultBranch); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", store.ErrInvalid, err), true)
			return
		}
	}
	s, err := h.registry.CreateStore(r.Context(), owner, name, req.DefaultBranch, req.AutoInit)
	if err != nil {
		writeError(w, r, err, true)
		return
	}
	klog.V(1).Infof("created repository %s/%s (auto_init=%t)", owner, name, req.AutoInit)
	writeJSON(w, r, http.StatusCreated, repositoryInfo(owner, name, s))
}

func repositoryInfo(owner, name string, s store.Store) RepositoryInfo {
	info := RepositoryInfo{Owner: owner, Name: name}
	if db, ok := s.(defaultBrancher); ok {
		info.DefaultBranch = db.DefaultBranch()
	}
	return info
}

func (h *Handler) getRef(w http.ResponseWriter, r *http.Request, s store.Store) {
	branch := r.PathValue("branch")
	if err := store.ValidateBranch(branch); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", store.ErrInvalid, err), false)
		return
	}
	tip, err := s.GetRef(r.Context(), branch)
	if err != nil {
		writeError(w, r, err, false)
		return
	}
	var resp refResponse
	resp.Ref = store.BranchRef(branch)
	resp.Object.SHA = string(tip)
	resp.Object.Type = string(object.TypeCommit)
	writeJSON(w, r, http.StatusOK, resp)
}

func (h *Handler) updateRef(w http.ResponseWriter, r *http.Request, s store.Store) {
	branch := r.PathValue("branch")
	if err := store.ValidateBranch(branch); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", store.ErrInvalid, err), false)
		return
	}
	var req updateRefRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := requireHashes(req.SHA, req.ExpectedSHA); err != nil {
		writeError(w, r, err, true)
		return
	}
	if err := s.UpdateRef(r.Context(), branch, object.Hash(req.SHA), object.Hash(req.ExpectedSHA)); err != nil {
		writeError(w, r, err, true)
		return
	}
	klog.V(1).Infof("%s/%s: %s %s -> %s", r.PathValue("owner"), r.PathValue("repo"),
		branch, object.Hash(req.ExpectedSHA).Short(), object.Hash(req.SHA).Short())
	var resp refResponse
	resp.Ref = store.BranchRef(branch)
	resp.Object.SHA = req.SHA
	resp.Object.Type = string(object.TypeCommit)
	writeJSON(w, r, http.StatusOK, resp)
}

func (h *Handler) createRef(w http.ResponseWriter, r *http.Request, s store.Store) {
	rc, ok := s.(store.RefCreator)
	if !ok {
		writeJSON(w, r, http.StatusNotImplemented, &RemoteError{Code: CodeInternal, Message: "ref creation not supported"})
		return
	}
	var req createRefRequest
	if !h.decode(w, r, &req) {
		return
	}
	branch, ok := strings.CutPrefix(req.Ref, "refs/heads/")
	if !ok {
		writeError(w, r, fmt.Errorf("%w: ref %q is not a branch", store.ErrInvalid, req.Ref), true)
		return
	}
	if err := store.ValidateBranch(branch); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", store.ErrInvalid, err), true)
		return
	}
	if err := requireHashes(req.SHA); err != nil {
		writeError(w, r, err, true)
		return
	}
	if err := rc.CreateRef(r.Context(), branch, object.Hash(req.SHA)); err != nil {
		writeError(w, r, err, true)
		return
	}
	var resp refResponse
	resp.Ref = req.Ref
	resp.Object.SHA = req.SHA
	resp.Object.Type = string(object.TypeCommit)
	writeJSON(w, r, http.StatusCreated, resp)
}

func (h *Handler) createBlob(w http.ResponseWriter, r *http.Request, s store.Store) {
	var req createBlobRequest
	if !h.decode(w, r, &req) {
		return
	}
	enc, err := object.ParseEncoding(req.Encoding)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", store.ErrEncoding, err), true)
		return
	}
	content, err := object.DecodeContent(req.Content, enc)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", store.ErrEncoding, err), true)
		return
	}
	h2, err := s.CreateBlob(r.Context(), content, enc)
	if err != nil {
		writeError(w, r, err, true)
		return
	}
	klog.V(2).Infof("%s/%s: blob %s (%d bytes)", r.PathValue("owner"), r.PathValue("repo"), h2.Short(), len(content))
	writeJSON(w, r, http.StatusCreated, shaRef{SHA: string(h2)})
}

func (h *Handler) createTree(w http.ResponseWriter, r *http.Request, s store.Store) {
	var req createTreeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.BaseTree != "" {
		if err := requireHashes(req.BaseTree); err != nil {
			writeError(w, r, err, true)
			return
		}
	}
	entries := make([]store.TreeEntry, 0, len(req.Tree))
	for _, e := range req.Tree {
		entry := store.TreeEntry{Path: e.Path, Mode: e.Mode, Type: object.ObjectType(e.Type)}
		if e.SHA != nil {
			if err := requireHashes(*e.SHA); err != nil {
				writeError(w, r, fmt.Errorf("entry %q: %w", e.Path, err), true)
				return
			}
			entry.Hash = object.Hash(*e.SHA)
		}
		entries = append(entries, entry)
	}
	tree, err := s.CreateTree(r.Context(), entries, object.Hash(req.BaseTree))
	if err != nil {
		writeError(w, r, err, true)
		return
	}
	writeJSON(w, r, http.StatusCreated, treeResponse{SHA: string(tree), Tree: []treeEntryWire{}})
}

func (h *Handler) getTree(w http.ResponseWriter, r *http.Request, s store.Store) {
	tr, ok := s.(store.TreeReader)
	if !ok {
		writeJSON(w, r, http.StatusNotImplemented, &RemoteError{Code: CodeInternal, Message: "tree listing not supported"})
		return
	}
	sha := object.Hash(r.PathValue("sha"))
	if err := ValidateHash(sha); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", store.ErrObjectNotFound, err), false)
		return
	}
	entries, err := tr.ReadTree(r.Context(), sha)
	if err != nil {
		writeError(w, r, err, false)
		return
	}
	resp := treeResponse{SHA: string(sha), Tree: make([]treeEntryWire, 0, len(entries))}
	for _, e := range entries {
		hash := string(e.Hash)
		resp.Tree = append(resp.Tree, treeEntryWire{Path: e.Path, Mode: e.Mode, Type: string(e.Type), SHA: &hash})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (h *Handler) createCommit(w http.ResponseWriter, r *http.Request, s store.Store) {
	var req createCommitRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := requireHashes(append([]string{req.Tree}, req.Parents...)...); err != nil {
		writeError(w, r, err, true)
		return
	}
	cr := store.CommitRequest{
		Message:   req.Message,
		Tree:      object.Hash(req.Tree),
		Author:    req.Author,
		Timestamp: req.Timestamp,
		Signature: req.Signature,
	}
	for _, p := range req.Parents {
		cr.Parents = append(cr.Parents, object.Hash(p))
	}
	c, err := s.CreateCommit(r.Context(), cr)
	if err != nil {
		writeError(w, r, err, true)
		return
	}
	writeJSON(w, r, http.StatusCreated, shaRef{SHA: string(c)})
}

func (h *Handler) getCommit(w http.ResponseWriter, r *http.Request, s store.Store) {
	sha := object.Hash(r.PathValue("sha"))
	if err := ValidateHash(sha); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", store.ErrObjectNotFound, err), false)
		return
	}
	c, err := s.GetCommit(r.Context(), sha)
	if err != nil {
		writeError(w, r, err, false)
		return
	}
	resp := commitResponse{
		SHA:       string(sha),
		Tree:      shaRef{SHA: string(c.TreeHash)},
		Parents:   make([]shaRef, 0, len(c.Parents)),
		Message:   c.Message,
		Author:    c.Author,
		Timestamp: c.Timestamp,
		Signature: c.Signature,
	}
	for _, p := range c.Parents {
		resp.Parents = append(resp.Parents, shaRef{SHA: string(p)})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// decode reads a JSON request body, transparently zstd-decoded, and writes
// a 422 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	var body io.Reader = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if compression.Accepts(r.Header.Get("Content-Encoding")) {
		zr, err := compression.NewReader(body)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", store.ErrInvalid, err), true)
			return false
		}
		defer zr.Close()
		body = io.LimitReader(zr, h.maxBodyBytes+1)
	}
	data, err := io.ReadAll(body)
	if err == nil && int64(len(data)) > h.maxBodyBytes {
		err = fmt.Errorf("request body exceeds %d bytes", h.maxBodyBytes)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || int64(len(data)) > h.maxBodyBytes {
			writeError(w, r, fmt.Errorf("%w: %v", store.ErrBlobTooLarge, err), true)
			return false
		}
		writeError(w, r, fmt.Errorf("%w: read body: %v", store.ErrInvalid, err), true)
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		writeError(w, r, fmt.Errorf("%w: decode body: %v", store.ErrInvalid, err), true)
		return false
	}
	return true
}

// requireHashes rejects malformed object names before they reach a store.
func requireHashes(hashes ...string) error {
	for _, h := range hashes {
		if err := ValidateHash(object.Hash(h)); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalid, err)
		}
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, err error, inBody bool) {
	status, code := errorStatus(err, inBody)
	if status >= http.StatusInternalServerError {
		klog.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		klog.V(2).Infof("%s %s: %d %v", r.Method, r.URL.Path, status, err)
	}
	writeJSON(w, r, status, &RemoteError{Code: code, Message: http.StatusText(status), Detail: err.Error()})
}

// writeJSON writes v, zstd-compressed when the client accepts it and the
// payload is large enough to benefit.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		klog.Errorf("encode %s %s response: %v", r.Method, r.URL.Path, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if len(payload) > compressThreshold && compression.Accepts(r.Header.Get("Accept-Encoding")) {
		if codec, err := compression.Shared(); err == nil {
			if compressed := codec.Compress(payload); compression.IsFrame(compressed) {
				payload = compressed
				w.Header().Set("Content-Encoding", "zstd")
			}
		}
	}
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
