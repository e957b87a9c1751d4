// Package publish publishes a local directory as one new commit on a
// branch: it reads the branch tip, uploads every file as a blob, overlays
// the files on the tip's tree, commits with the tip as sole parent, and
// advances the branch with compare-and-swap.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
	"k8s.io/klog/v2"

	"github.com/odvcencio/dirpush/pkg/fileset"
	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

// Tip is the branch state captured at the start of a sync.
type Tip struct {
	Commit object.Hash
	Tree   object.Hash
}

// Result describes a successful sync.
type Result struct {
	Branch  string
	Parent  Tip
	Commit  object.Hash
	Tree    object.Hash
	Files   map[string]object.Hash // path -> blob
	Deleted []string               // paths pruned from the base tree
}

// Syncer runs syncs for one Config.
type Syncer struct {
	cfg   Config
	state State
}

// NewSyncer validates cfg and fills its defaults.
func NewSyncer(cfg Config) (*Syncer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Syncer{cfg: cfg}, nil
}

// Sync publishes cfg.Root as one commit on cfg.Branch.
func Sync(ctx context.Context, cfg Config) (*Result, error) {
	s, err := NewSyncer(cfg)
	if err != nil {
		return nil, err
	}
	return s.Sync(ctx)
}

// State returns the state the last sync stopped in.
func (s *Syncer) State() State {
	return s.state
}

// Sync runs one sync. Either the branch ends up at the new commit, or the
// returned *SyncError reports the step that failed and the branch is
// untouched. Objects created before a failure are left behind.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	cfg := s.cfg
	s.transition(StateIdle)

	tip, err := s.ReadTip(ctx)
	if err != nil {
		return nil, s.fail(err)
	}
	s.transition(StateTipRead)
	klog.V(1).Infof("sync %s: tip %s (tree %s)", cfg.Branch, tip.Commit.Short(), tip.Tree.Short())

	paths, err := s.listFiles()
	if err != nil {
		return nil, s.fail(kindError(ErrContentUpload, err))
	}
	blobs, err := s.addressAll(ctx, paths)
	if err != nil {
		return nil, s.fail(err)
	}
	s.transition(StateContentAddressed)

	entries := make([]store.TreeEntry, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, FileEntry(p, blobs[p]))
	}
	var deleted []string
	if cfg.Prune {
		deleted, err = s.prunedPaths(ctx, tip.Tree, paths)
		if err != nil {
			return nil, s.fail(kindError(ErrTreeBuild, err))
		}
		for _, p := range deleted {
			entries = append(entries, DeleteEntry(p))
		}
	}
	tb := &TreeBuilder{Store: cfg.Store}
	tree, err := tb.BuildTree(ctx, entries, tip.Tree)
	if err != nil {
		return nil, s.fail(err)
	}
	s.transition(StateTreeBuilt)

	cp := &CommitPublisher{Store: cfg.Store, Author: cfg.Author, Signer: cfg.Signer, Now: cfg.Now}
	commit, err := cp.PublishCommit(ctx, cfg.Message, tree, tip.Commit)
	if err != nil {
		return nil, s.fail(err)
	}
	s.transition(StateCommitPublished)

	ra := &RefAdvancer{Store: cfg.Store}
	if err := ra.AdvanceRef(ctx, cfg.Branch, tip.Commit, commit); err != nil {
		return nil, s.fail(err)
	}
	s.transition(StateRefAdvanced)

	return &Result{
		Branch:  cfg.Branch,
		Parent:  tip,
		Commit:  commit,
		Tree:    tree,
		Files:   blobs,
		Deleted: deleted,
	}, nil
}

// ReadTip reads the branch head and its tree.
func (s *Syncer) ReadTip(ctx context.Context) (Tip, error) {
	st, branch := s.cfg.Store, s.cfg.Branch
	h, err := st.GetRef(ctx, branch)
	if err != nil {
		if errors.Is(err, store.ErrRefNotFound) {
			return Tip{}, fmt.Errorf("%w: %s: %w", ErrBranchNotFound, branch, err)
		}
		return Tip{}, kindError(ErrBranchNotFound, fmt.Errorf("read %s: %w", branch, err))
	}
	c, err := st.GetCommit(ctx, h)
	if err != nil {
		return Tip{}, kindError(ErrBranchNotFound, fmt.Errorf("read tip commit %s of %s: %w", h.Short(), branch, err))
	}
	return Tip{Commit: h, Tree: c.TreeHash}, nil
}

func (s *Syncer) listFiles() ([]string, error) {
	var paths []string
	if s.cfg.Files != nil {
		paths = lo.Uniq(s.cfg.Files)
	} else {
		listed, err := fileset.List(s.cfg.Root, s.cfg.Exclude...)
		if err != nil {
			return nil, err
		}
		paths = listed
	}
	sort.Strings(paths)
	for _, p := range paths {
		if clean, err := store.CleanPath(p); err != nil || clean != p {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return paths, nil
}

// addressAll uploads every path with bounded parallelism. The first failure
// cancels the remaining uploads and is returned.
func (s *Syncer) addressAll(ctx context.Context, paths []string) (map[string]object.Hash, error) {
	cfg := s.cfg
	if cfg.OnFiles != nil {
		cfg.OnFiles(len(paths))
	}
	a := &Addressor{Store: cfg.Store, Encoding: cfg.Encoding, MaxBlobBytes: cfg.MaxBlobBytes}

	var mu sync.Mutex
	blobs := make(map[string]object.Hash, len(paths))

	p := pool.New().WithMaxGoroutines(cfg.Concurrency).WithContext(ctx).WithCancelOnError().WithFirstError()
	for _, path := range paths {
		p.Go(func(ctx context.Context) error {
			h, err := a.AddressFile(ctx, cfg.Root, path)
			if err != nil {
				return err
			}
			mu.Lock()
			blobs[path] = h
			mu.Unlock()
			if cfg.OnFile != nil {
				cfg.OnFile(path, h)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return blobs, nil
}

// prunedPaths returns base tree files missing from the local file set.
func (s *Syncer) prunedPaths(ctx context.Context, baseTree object.Hash, local []string) ([]string, error) {
	reader := s.cfg.Store.(store.TreeReader)
	base, err := reader.ReadTree(ctx, baseTree)
	if err != nil {
		return nil, fmt.Errorf("list base tree %s: %w", baseTree.Short(), err)
	}
	basePaths := lo.Map(base, func(e store.TreeEntry, _ int) string { return e.Path })
	_, missing := lo.Difference(local, basePaths)
	sort.Strings(missing)
	if len(missing) > 0 {
		klog.V(1).Infof("pruning %d files absent locally", len(missing))
	}
	return missing, nil
}

func (s *Syncer) transition(next State) {
	s.state = next
	if s.cfg.OnState != nil {
		s.cfg.OnState(next)
	}
}

func (s *Syncer) fail(err error) error {
	step := s.state
	s.transition(StateFailed)
	klog.V(1).Infof("sync %s failed after %s: %v", s.cfg.Branch, step, err)
	return &SyncError{
		Step:   step,
		Branch: s.cfg.Branch,
		Kind:   kindOf(err, step.kind()),
		Err:    err,
	}
}
