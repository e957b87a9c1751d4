package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

// zeroHash stands in for "no commit" in reflog lines.
var zeroHash = strings.Repeat("0", 64)

// ReflogEntry records one ref movement.
type ReflogEntry struct {
	Ref       string
	OldHash   object.Hash // empty when the ref was created
	NewHash   object.Hash
	Timestamp int64
	Reason    string
}

// String renders e as one reflog line: "old new unix-seconds reason".
func (e ReflogEntry) String() string {
	return fmt.Sprintf("%s %s %d %s", orZero(e.OldHash), orZero(e.NewHash), e.Timestamp, e.Reason)
}

func orZero(h object.Hash) string {
	if h == "" {
		return zeroHash
	}
	return string(h)
}

func parseReflogLine(ref, line string) (ReflogEntry, bool) {
	fields := strings.SplitN(line, " ", 4)
	if len(fields) != 4 {
		return ReflogEntry{}, false
	}
	ts, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return ReflogEntry{}, false
	}
	fromZero := func(s string) object.Hash {
		if s == zeroHash {
			return ""
		}
		return object.Hash(s)
	}
	return ReflogEntry{
		Ref:       ref,
		OldHash:   fromZero(fields[0]),
		NewHash:   fromZero(fields[1]),
		Timestamp: ts,
		Reason:    fields[3],
	}, true
}

func (r *Repo) reflogPath(ref string) string {
	return filepath.Join(r.Dir, "logs", filepath.FromSlash(ref))
}

// appendReflog is called with the ref lock held.
func (r *Repo) appendReflog(ref string, oldHash, newHash object.Hash, reason string) error {
	reason = strings.Join(strings.Fields(reason), " ")
	if reason == "" {
		reason = "update"
	}
	entry := ReflogEntry{Ref: ref, OldHash: oldHash, NewHash: newHash, Timestamp: time.Now().Unix(), Reason: reason}

	path := r.reflogPath(ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("reflog: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reflog: %w", err)
	}
	_, werr := f.WriteString(entry.String() + "\n")
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("reflog: %w", werr)
	}
	return nil
}

// ReadReflog returns the movements of a branch (or full ref name), newest
// first. A limit of zero returns every entry. Unparseable lines are
// skipped.
func (r *Repo) ReadReflog(ref string, limit int) ([]ReflogEntry, error) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, "refs/") {
		ref = store.BranchRef(ref)
	}
	data, err := os.ReadFile(r.reflogPath(ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read reflog: %w", err)
	}

	var entries []ReflogEntry
	for line := range strings.Lines(string(data)) {
		if e, ok := parseReflogLine(ref, strings.TrimSpace(line)); ok {
			entries = append(entries, e)
		}
	}
	slices.Reverse(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
