package loader

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// progress tracks loaded rows. A nil *progress does nothing.
type progress struct {
	bar *progressbar.ProgressBar
	out io.Writer
}

// newProgress returns a row counter drawing on w, or nil when w is nil. A
// total of 0 or less draws a spinner instead of a bar.
func newProgress(w io.Writer, total int64) *progress {
	if w == nil {
		return nil
	}
	if total <= 0 {
		total = -1
	}
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Loading rows"),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionEnableColorCodes(true),
	)
	return &progress{bar: bar, out: w}
}

func (p *progress) add(rows int) {
	if p == nil {
		return
	}
	_ = p.bar.Add(rows)
}

func (p *progress) finish() {
	if p == nil {
		return
	}
	_ = p.bar.Finish()
	_, _ = io.WriteString(p.out, "\n")
}
