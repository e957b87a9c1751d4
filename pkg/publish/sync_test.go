package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

func TestSync_ExampleScenario(t *testing.T) {
	r, c0 := newRemote(t, map[string]string{"README.md": "# site\n"})
	root := writeTree(t, map[string]string{
		"README.md":   "# site\n",
		"config.json": `{"a":1}`,
	})
	before := treeFiles(t, r, c0)

	res, err := Sync(context.Background(), Config{Store: r, Root: root, Branch: "main", Author: "bot"})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	c1 := res.Commit
	if got := mustRef(t, r, "main"); got != c1 {
		t.Fatalf("main = %s, want %s", got, c1)
	}
	if res.Parent.Commit != c0 {
		t.Fatalf("result parent = %s, want %s", res.Parent.Commit, c0)
	}

	commit, err := r.GetCommit(context.Background(), c1)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	if diff := cmp.Diff([]object.Hash{c0}, commit.Parents); diff != "" {
		t.Fatalf("C1 parents (-want +got):\n%s", diff)
	}
	if commit.Message != DefaultMessage || commit.Author != "bot" {
		t.Fatalf("C1 = %+v", commit)
	}

	want := map[string]object.Hash{
		"README.md":   before["README.md"],
		"config.json": blobHash(`{"a":1}`),
	}
	if diff := cmp.Diff(want, treeFiles(t, r, c1)); diff != "" {
		t.Fatalf("T1 mismatch (-want +got):\n%s", diff)
	}

	res2, err := Sync(context.Background(), Config{Store: r, Root: root, Branch: "main", Author: "bot"})
	if err != nil {
		t.Fatalf("Sync (re-run): %v", err)
	}
	if res2.Commit == c1 {
		t.Fatal("re-run did not create a new commit")
	}
	c2, err := r.GetCommit(context.Background(), res2.Commit)
	if err != nil {
		t.Fatalf("GetCommit(C2): %v", err)
	}
	if len(c2.Parents) != 1 || c2.Parents[0] != c1 {
		t.Fatalf("C2 parents = %v, want [%s]", c2.Parents, c1)
	}
	if diff := cmp.Diff(want, treeFiles(t, r, res2.Commit)); diff != "" {
		t.Fatalf("T2 mismatch (-want +got):\n%s", diff)
	}
	if res2.Tree != res.Tree {
		t.Fatalf("content-addressed trees differ: %s != %s", res2.Tree, res.Tree)
	}
}

func TestSync_OverlayKeepsUnlistedFiles(t *testing.T) {
	r, c0 := newRemote(t, map[string]string{
		"README.md":     "old",
		"docs/guide.md": "guide",
		"CNAME":         "example.com",
	})
	base := treeFiles(t, r, c0)
	root := writeTree(t, map[string]string{"README.md": "new", "docs/api.md": "api"})

	res, err := Sync(context.Background(), Config{Store: r, Root: root})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	want := map[string]object.Hash{
		"README.md":     blobHash("new"),
		"docs/api.md":   blobHash("api"),
		"docs/guide.md": base["docs/guide.md"],
		"CNAME":         base["CNAME"],
	}
	if diff := cmp.Diff(want, treeFiles(t, r, res.Commit)); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestSync_Prune(t *testing.T) {
	r, _ := newRemote(t, map[string]string{"keep.txt": "k", "stale.txt": "s", "old/dir.txt": "d"})
	root := writeTree(t, map[string]string{"keep.txt": "k2"})

	res, err := Sync(context.Background(), Config{Store: r, Root: root, Prune: true})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if diff := cmp.Diff([]string{"old/dir.txt", "stale.txt"}, res.Deleted); diff != "" {
		t.Fatalf("Deleted mismatch (-want +got):\n%s", diff)
	}
	want := map[string]object.Hash{"keep.txt": blobHash("k2")}
	if diff := cmp.Diff(want, treeFiles(t, r, res.Commit)); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestSync_AllOrNothingOnContentFailure(t *testing.T) {
	r, c0 := newRemote(t, map[string]string{"README.md": "x"})
	st := newRecordingStore(r)
	uploadErr := errors.New("connection reset")
	st.failBlob = func(content []byte) error {
		if string(content) == "bad" {
			return uploadErr
		}
		return nil
	}
	files := map[string]string{"bad.txt": "bad"}
	for i := 0; i < 20; i++ {
		files[string(rune('a'+i))+".txt"] = "good"
	}
	root := writeTree(t, files)

	var states []State
	_, err := Sync(context.Background(), Config{
		Store:       st,
		Root:        root,
		Concurrency: 4,
		OnState:     func(s State) { states = append(states, s) },
	})

	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("Sync err = %v, want *SyncError", err)
	}
	if !errors.Is(err, ErrContentUpload) || !errors.Is(err, uploadErr) {
		t.Fatalf("Sync err = %v, want ErrContentUpload wrapping the cause", err)
	}
	if syncErr.Step != StateTipRead {
		t.Fatalf("failed step = %s, want %s", syncErr.Step, StateTipRead)
	}
	if errors.Is(err, ErrTreeBuild) || errors.Is(err, ErrRefConflict) || IsRetryable(err) {
		t.Fatalf("Sync err = %v matches the wrong kind", err)
	}
	for _, name := range []string{"CreateTree", "CreateCommit", "UpdateRef"} {
		if n := st.Calls(name); n != 0 {
			t.Errorf("%s called %d times after content failure", name, n)
		}
	}
	if got := mustRef(t, r, "main"); got != c0 {
		t.Fatalf("main = %s, want untouched %s", got, c0)
	}
	if diff := cmp.Diff([]State{StateIdle, StateTipRead, StateFailed}, states); diff != "" {
		t.Fatalf("states (-want +got):\n%s", diff)
	}
}

func TestSync_ExternalAdvanceConflicts(t *testing.T) {
	r, c0 := newRemote(t, map[string]string{"README.md": "x"})
	st := newRecordingStore(r)

	var external object.Hash
	st.beforeUpdate = func() {
		ctx := context.Background()
		c, err := r.GetCommit(ctx, c0)
		if err != nil {
			t.Errorf("GetCommit: %v", err)
			return
		}
		external, err = r.CreateCommit(ctx, store.CommitRequest{Message: "external", Tree: c.TreeHash, Parents: []object.Hash{c0}, Author: "other"})
		if err != nil {
			t.Errorf("CreateCommit: %v", err)
			return
		}
		if err := r.UpdateRef(ctx, "main", external, c0); err != nil {
			t.Errorf("external UpdateRef: %v", err)
		}
	}
	root := writeTree(t, map[string]string{"README.md": "mine"})

	_, err := Sync(context.Background(), Config{Store: st, Root: root})
	if !errors.Is(err, ErrRefConflict) {
		t.Fatalf("Sync err = %v, want ErrRefConflict", err)
	}
	if !IsRetryable(err) {
		t.Fatalf("IsRetryable(%v) = false", err)
	}
	var syncErr *SyncError
	if !errors.As(err, &syncErr) || syncErr.Step != StateCommitPublished {
		t.Fatalf("Sync err = %#v, want failure after commit-published", err)
	}
	if got := mustRef(t, r, "main"); got != external {
		t.Fatalf("main = %s, want external commit %s", got, external)
	}
}

func TestSync_RefMovedWithoutReflog(t *testing.T) {
	r, c0 := newRemote(t, map[string]string{"README.md": "x"})
	logPath := filepath.Join(r.Dir, "logs", "refs", "heads", "main")
	if err := os.RemoveAll(logPath); err != nil {
		t.Fatalf("remove reflog: %v", err)
	}
	if err := os.MkdirAll(logPath, 0o755); err != nil {
		t.Fatalf("mkdir reflog: %v", err)
	}
	root := writeTree(t, map[string]string{"README.md": "mine"})

	res, err := Sync(context.Background(), Config{Store: r, Root: root})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Parent.Commit != c0 {
		t.Fatalf("parent = %s, want %s", res.Parent.Commit, c0)
	}
	if got := mustRef(t, r, "main"); got != res.Commit {
		t.Fatalf("main = %s, want %s", got, res.Commit)
	}
}

// failingRefStore rejects every ref update with err.
type failingRefStore struct {
	*recordingStore
	err error
}

func (s *failingRefStore) UpdateRef(ctx context.Context, branch string, newHash, expectedOld object.Hash) error {
	return s.err
}

func TestSync_RefUpdateFailureIsNotAConflict(t *testing.T) {
	r, c0 := newRemote(t, map[string]string{"README.md": "x"})
	st := &failingRefStore{recordingStore: newRecordingStore(r), err: errors.New("503 service unavailable")}
	root := writeTree(t, map[string]string{"README.md": "mine"})

	_, err := Sync(context.Background(), Config{Store: st, Root: root})
	if !errors.Is(err, ErrRefUpdate) {
		t.Fatalf("Sync err = %v, want ErrRefUpdate", err)
	}
	if errors.Is(err, ErrRefConflict) || IsRetryable(err) {
		t.Fatalf("Sync err = %v reported as a conflict", err)
	}
	var syncErr *SyncError
	if !errors.As(err, &syncErr) || syncErr.Step != StateCommitPublished {
		t.Fatalf("Sync err = %#v, want failure after commit-published", err)
	}
	if got := mustRef(t, r, "main"); got != c0 {
		t.Fatalf("main = %s, want untouched %s", got, c0)
	}
}

// barrierStore holds every UpdateRef until n callers have arrived.
type barrierStore struct {
	*recordingStore
	wg *sync.WaitGroup
}

func (s *barrierStore) UpdateRef(ctx context.Context, branch string, newHash, expectedOld object.Hash) error {
	s.wg.Done()
	s.wg.Wait()
	return s.recordingStore.UpdateRef(ctx, branch, newHash, expectedOld)
}

func TestSync_ConcurrentSyncsSingleWinner(t *testing.T) {
	r, c0 := newRemote(t, map[string]string{"README.md": "x"})
	const syncs = 2
	var arrive sync.WaitGroup
	arrive.Add(syncs)
	st := &barrierStore{recordingStore: newRecordingStore(r), wg: &arrive}

	roots := []string{
		writeTree(t, map[string]string{"a.txt": "from a"}),
		writeTree(t, map[string]string{"b.txt": "from b"}),
	}
	results := make([]*Result, syncs)
	errs := make([]error, syncs)
	var wg sync.WaitGroup
	for i := 0; i < syncs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = Sync(context.Background(), Config{Store: st, Root: roots[i]})
		}()
	}
	wg.Wait()

	winners, conflicts := 0, 0
	var winner object.Hash
	for i := range errs {
		switch {
		case errs[i] == nil:
			winners++
			winner = results[i].Commit
			if results[i].Parent.Commit != c0 {
				t.Errorf("winner parent = %s, want %s", results[i].Parent.Commit, c0)
			}
		case errors.Is(errs[i], ErrRefConflict):
			conflicts++
		default:
			t.Fatalf("sync %d: unexpected error %v", i, errs[i])
		}
	}
	if winners != 1 || conflicts != 1 {
		t.Fatalf("winners=%d conflicts=%d, want 1 and 1", winners, conflicts)
	}
	if got := mustRef(t, r, "main"); got != winner {
		t.Fatalf("main = %s, want winner %s", got, winner)
	}
}

func TestSync_BranchNotFound(t *testing.T) {
	r, _ := newRemote(t, nil)
	st := newRecordingStore(r)
	root := writeTree(t, map[string]string{"a": "a"})

	_, err := Sync(context.Background(), Config{Store: st, Root: root, Branch: "gh-pages"})
	if !errors.Is(err, ErrBranchNotFound) || !errors.Is(err, store.ErrRefNotFound) {
		t.Fatalf("Sync err = %v, want ErrBranchNotFound", err)
	}
	var syncErr *SyncError
	if !errors.As(err, &syncErr) || syncErr.Step != StateIdle || syncErr.Branch != "gh-pages" {
		t.Fatalf("Sync err = %#v", err)
	}
	if n := st.Calls("CreateBlob"); n != 0 {
		t.Fatalf("CreateBlob called %d times", n)
	}
}

func TestSync_EmptyRoot(t *testing.T) {
	r, c0 := newRemote(t, nil)
	_, err := Sync(context.Background(), Config{Store: r, Root: t.TempDir()})
	if !errors.Is(err, ErrTreeBuild) || !errors.Is(err, ErrEmptyTree) {
		t.Fatalf("Sync err = %v, want ErrTreeBuild wrapping ErrEmptyTree", err)
	}
	var syncErr *SyncError
	if !errors.As(err, &syncErr) || syncErr.Step != StateContentAddressed {
		t.Fatalf("Sync err = %#v, want failure after content-addressed", err)
	}
	if got := mustRef(t, r, "main"); got != c0 {
		t.Fatalf("main moved to %s", got)
	}
}

func TestSync_StatesAndHooks(t *testing.T) {
	r, _ := newRemote(t, nil)
	root := writeTree(t, map[string]string{"index.html": "<p>hi</p>", "img/logo.png": "\x89PNG\r\n\x1a\n\x00"})

	var (
		mu     sync.Mutex
		states []State
		seen   = map[string]object.Hash{}
		total  int
	)
	s, err := NewSyncer(Config{
		Store:   r,
		Root:    root,
		Message: "publish site",
		Now:     func() time.Time { return time.Unix(1700000000, 0) },
		OnState: func(st State) { states = append(states, st) },
		OnFiles: func(n int) { total = n },
		OnFile: func(p string, h object.Hash) {
			mu.Lock()
			seen[p] = h
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("NewSyncer: %v", err)
	}
	res, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	wantStates := []State{StateIdle, StateTipRead, StateContentAddressed, StateTreeBuilt, StateCommitPublished, StateRefAdvanced}
	if diff := cmp.Diff(wantStates, states); diff != "" {
		t.Fatalf("states (-want +got):\n%s", diff)
	}
	if s.State() != StateRefAdvanced {
		t.Fatalf("State() = %s", s.State())
	}
	if total != 2 {
		t.Fatalf("OnFiles = %d, want 2", total)
	}
	if diff := cmp.Diff(res.Files, seen); diff != "" {
		t.Fatalf("OnFile mismatch (-result +hook):\n%s", diff)
	}
	c, err := r.GetCommit(context.Background(), res.Commit)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	if c.Timestamp != 1700000000 || c.Message != "publish site" {
		t.Fatalf("commit = %+v", c)
	}
}

func TestSync_ExplicitFiles(t *testing.T) {
	r, _ := newRemote(t, nil)
	root := writeTree(t, map[string]string{"a.txt": "a", "b.txt": "b"})

	res, err := Sync(context.Background(), Config{Store: r, Root: root, Files: []string{"b.txt", "b.txt"}})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if diff := cmp.Diff(map[string]object.Hash{"b.txt": blobHash("b")}, res.Files); diff != "" {
		t.Fatalf("Files mismatch (-want +got):\n%s", diff)
	}

	_, err = Sync(context.Background(), Config{Store: r, Root: root, Files: []string{"../etc/passwd"}})
	if !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("Sync err = %v, want ErrInvalidPath", err)
	}
}

func TestNewSyncer_Validation(t *testing.T) {
	r, _ := newRemote(t, nil)
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no store", cfg: Config{Root: "."}},
		{name: "no root", cfg: Config{Store: r}},
		{name: "bad branch", cfg: Config{Store: r, Root: ".", Branch: "a..b/../c"}},
		{name: "bad encoding", cfg: Config{Store: r, Root: ".", Encoding: "utf-16"}},
		{name: "prune without tree reader", cfg: Config{Store: storeOnly{r}, Root: ".", Prune: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewSyncer(tc.cfg); err == nil {
				t.Fatal("NewSyncer succeeded, want error")
			}
		})
	}
}

// storeOnly hides every optional capability of the wrapped store.
type storeOnly struct {
	store.Store
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "content", err: &SyncError{Kind: ErrContentUpload, Err: errors.New("x")}, want: false},
		{name: "cas conflict", err: &SyncError{Kind: ErrRefConflict, Err: store.ErrRefConflict}, want: true},
		{name: "ref transport failure", err: &SyncError{Kind: ErrRefUpdate, Err: errors.New("503")}, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Fatalf("IsRetryable = %v, want %v", got, tc.want)
			}
		})
	}
}
