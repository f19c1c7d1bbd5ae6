// Package progress renders the upload queue and its derived metrics in the
// terminal: one mpb bar per queued item when stdout is a tty, a plain
// progressbar fallback otherwise.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/ferryhq/ferry/internal/metrics"
	"github.com/ferryhq/ferry/internal/queue"
)

// QueueView manages one progress bar per queued item. Speed and ETA are
// not mpb's own EWMA figures: the decorators read the metrics store, so
// the display shows exactly what the estimator computed.
type QueueView struct {
	progress   *mpb.Progress
	isTerminal bool

	queue   *queue.Store
	metrics *metrics.Store

	mu   sync.Mutex
	bars map[string]*itemBar
}

type itemBar struct {
	bar    *mpb.Bar
	itemID string
	// latest holds the item copy the decorators render from; the bar
	// refresh goroutine reads it concurrently with Refresh writes.
	mu     sync.Mutex
	latest queue.Item
}

// NewQueueView creates a view over the given stores.
func NewQueueView(q *queue.Store, m *metrics.Store) *QueueView {
	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))

	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(os.Stdout),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(80),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &QueueView{
		progress:   p,
		isTerminal: isTerminal,
		queue:      q,
		metrics:    m,
		bars:       make(map[string]*itemBar),
	}
}

// IsTerminal reports whether bars are actually rendering.
func (v *QueueView) IsTerminal() bool {
	return v.isTerminal
}

// Writer returns a writer that prints above the live bars, so log lines
// do not tear the rendering.
func (v *QueueView) Writer() io.Writer {
	if v.isTerminal {
		return v.progress
	}
	return os.Stderr
}

// Refresh synchronizes the bars with the current queue contents. Call it
// on the same cadence as the metrics tick.
func (v *QueueView) Refresh() {
	items := v.queue.Items()

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, item := range items {
		ib, ok := v.bars[item.ID]
		if !ok {
			ib = v.addBar(item)
			v.bars[item.ID] = ib
		}

		ib.mu.Lock()
		ib.latest = item
		ib.mu.Unlock()

		if ib.bar == nil {
			continue
		}
		total := item.TotalBytes
		if total > 0 {
			ib.bar.SetTotal(total, false)
		}
		current := item.BytesSent
		if current > total {
			current = total
		}
		if item.Status == queue.StatusDone {
			current = total
			ib.bar.SetTotal(total, true)
		}
		ib.bar.SetCurrent(current)
		if item.Status.Terminal() && !ib.bar.Completed() {
			ib.bar.Abort(false)
		}
	}
}

// Wait blocks until every bar has completed or aborted.
func (v *QueueView) Wait() {
	v.progress.Wait()
}

func (v *QueueView) addBar(item queue.Item) *itemBar {
	ib := &itemBar{itemID: item.ID, latest: item}
	if !v.isTerminal {
		return ib
	}

	name := truncatePath(item.SourcePath, 2)
	total := item.TotalBytes
	if total <= 0 {
		total = 1 // placeholder until the engine reports a size
	}

	ib.bar = v.progress.New(total,
		mpb.BarStyle().
			Lbound("[").
			Filler("█").
			Tip("█").
			Padding("░").
			Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(decor.Statistics) string {
				it := ib.snapshot()
				return fmt.Sprintf("%-9s %s", it.Status, name)
			}, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Any(func(decor.Statistics) string {
				return v.rateLabel(ib)
			}, decor.WCSyncSpace),
		),
	)
	return ib
}

func (ib *itemBar) snapshot() queue.Item {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.latest
}

// rateLabel formats the estimator's view of one item.
func (v *QueueView) rateLabel(ib *itemBar) string {
	it := ib.snapshot()
	if it.Status == queue.StatusDone {
		return "done"
	}
	if it.Status == queue.StatusFailed {
		msg := it.Message
		if msg == "" {
			msg = "failed"
		}
		return msg
	}
	if v.metrics.IsPaused(ib.itemID) || it.Status == queue.StatusPaused {
		return "paused"
	}

	t, ok := v.metrics.Transfer(ib.itemID)
	if !ok || t.SpeedBPS <= 0 {
		return "--"
	}
	label := fmt.Sprintf("%s/s", humanize.IBytes(uint64(t.SpeedBPS)))
	if t.ETASeconds != nil {
		label += "  ETA " + formatETA(*t.ETASeconds)
	}
	return label
}

// formatETA renders seconds as a compact duration (45s, 3m10s, 1h04m).
func formatETA(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds) * time.Second
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", seconds)
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh%02dm", seconds/3600, (seconds%3600)/60)
	}
}

// truncatePath keeps the last n path components for readable labels.
func truncatePath(path string, n int) string {
	parts := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\'
	})
	if len(parts) <= n {
		return path
	}
	return ".../" + strings.Join(parts[len(parts)-n:], "/")
}
