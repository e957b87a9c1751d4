package main

import (
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/publish"
)

// uploadProgress renders one bar per sync attempt while files are
// addressed.
type uploadProgress struct {
	p *mpb.Progress

	mu  sync.Mutex
	bar *mpb.Bar
}

func newUploadProgress(w io.Writer) *uploadProgress {
	return &uploadProgress{p: mpb.New(mpb.WithOutput(w), mpb.WithWidth(40))}
}

// attach wires the bar to cfg's file callbacks.
func (u *uploadProgress) attach(cfg *publish.Config) {
	cfg.OnFiles = func(n int) {
		u.mu.Lock()
		defer u.mu.Unlock()
		if u.bar != nil && !u.bar.Completed() {
			u.bar.Abort(true)
		}
		name := "uploading"
		u.bar = u.p.New(int64(n),
			mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("]"),
			mpb.PrependDecorators(
				decor.Name(name, decor.WC{W: len(name) + 2, C: decor.DindentRight}),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.CountersNoUnit(" (%d/%d)", decor.WCSyncSpace),
			),
		)
	}
	cfg.OnFile = func(string, object.Hash) {
		u.mu.Lock()
		bar := u.bar
		u.mu.Unlock()
		if bar != nil {
			bar.Increment()
		}
	}
}

// wait stops an unfinished bar and flushes the output.
func (u *uploadProgress) wait() {
	u.mu.Lock()
	if u.bar != nil && !u.bar.Completed() {
		u.bar.Abort(false)
	}
	u.mu.Unlock()
	u.p.Wait()
}
