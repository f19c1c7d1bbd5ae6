package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Reporter is a single-line progress report for environments without a
// terminal (CI logs, pipes), covering the run as a whole rather than one
// bar per item.
type Reporter struct {
	bar *progressbar.ProgressBar
	out io.Writer
}

// NewReporter creates a reporter writing to stderr.
func NewReporter() *Reporter {
	return &Reporter{out: os.Stderr}
}

// Start initializes the overall bar with total bytes and a description.
func (p *Reporter) Start(total int64, description string) {
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// SetTotal adjusts the total once the engine has enumerated everything.
func (p *Reporter) SetTotal(total int64) {
	if p.bar != nil {
		p.bar.ChangeMax64(total)
	}
}

// Update moves the bar to the current byte count.
func (p *Reporter) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the bar.
func (p *Reporter) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error prints an error below the bar.
func (p *Reporter) Error(err error) {
	if err != nil {
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}
