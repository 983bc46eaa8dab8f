// Package uiprogress is the default pkgstream.Progress: an mpb bar in the
// same style this project's teacher uses for whole-file downloads, advanced
// to the current download offset on every callback instead of being driven
// by io.Copy.
package uiprogress

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/AuthurNero/pkgj/pkg/pkgstream"
)

// Bar reports pkgstream progress through a single mpb bar. It is not safe
// for concurrent use; pkgstream drives it from one goroutine per Session.
type Bar struct {
	p       *mpb.Progress
	bar     *mpb.Bar
	current int64
	status  string
}

// New creates a Bar sized to total bytes. A total of zero creates the bar
// with a total of 1; UpdateProgress does not change the bar's total.
func New(total uint64) *Bar {
	b := &Bar{
		p: mpb.New(
			mpb.WithWidth(60),
			mpb.WithRefreshRate(180*time.Millisecond),
		),
	}
	b.makeBar(int64(total))
	return b
}

func (b *Bar) makeBar(total int64) {
	if total <= 0 {
		total = 1
	}
	b.bar = b.p.New(total,
		mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("|"),
		mpb.PrependDecorators(
			decor.CountersKibiByte("\t% .2f / % .2f"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done "),
			decor.Name(" ] "),
			decor.AverageSpeed(decor.SizeB1024(0), "% .2f", decor.WCSyncWidth),
		),
	)
}

// UpdateProgress implements pkgstream.Progress.
func (b *Bar) UpdateProgress(s *pkgstream.Session) {
	offset := int64(s.DownloadOffset())
	if offset > b.current {
		b.bar.IncrInt64(offset - b.current)
		b.current = offset
	}
}

// UpdateStatus implements pkgstream.Progress.
func (b *Bar) UpdateStatus(text string) {
	b.status = text
	fmt.Fprintln(b.p, text)
}

// Done marks the bar complete and waits for the renderer to flush.
func (b *Bar) Done() {
	b.bar.SetTotal(b.bar.Current(), true)
	b.p.Wait()
}

// FormatBytes is a thin wrapper around go-humanize so callers don't import
// it directly just to print a size.
func FormatBytes(n uint64) string {
	return humanize.Bytes(n)
}
