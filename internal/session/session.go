// Package session wires the queue and metrics stores to an upload engine.
// One goroutine drains the engine's event stream into the stores, another
// drives the periodic estimation tick. Both stop with the session; stopping
// halts recomputation but clears nothing.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/ferryhq/ferry/internal/constants"
	"github.com/ferryhq/ferry/internal/engine"
	"github.com/ferryhq/ferry/internal/events"
	"github.com/ferryhq/ferry/internal/logging"
	"github.com/ferryhq/ferry/internal/metrics"
	"github.com/ferryhq/ferry/internal/queue"
)

// Session coordinates one upload workspace: the queue of items, their
// derived metrics, and the engine executing transfers. All user-facing
// mutations go through it; presentation layers read through its selectors.
type Session struct {
	bus     *events.EventBus
	queue   *queue.Store
	metrics *metrics.Store
	eng     engine.Engine
	log     *logging.Logger

	tickInterval time.Duration

	mu          sync.Mutex
	started     bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
	lastSummary *events.Summary
	lastBanner  string
	lastNotice  string

	completedCh chan events.Summary
}

// New creates a session over the given collaborators. A zero tickInterval
// falls back to the recommended 500 ms cadence.
func New(bus *events.EventBus, q *queue.Store, m *metrics.Store, eng engine.Engine, log *logging.Logger, tickInterval time.Duration) *Session {
	if tickInterval <= 0 {
		tickInterval = constants.TickInterval
	}
	return &Session{
		bus:          bus,
		queue:        q,
		metrics:      m,
		eng:          eng,
		log:          log,
		tickInterval: tickInterval,
		completedCh:  make(chan events.Summary, 1),
	}
}

// Completed returns a channel that receives the summary of each finished
// run. The send happens only after every event preceding the completion has
// been applied to the stores, so item statuses are final by the time a
// receive returns. Readers racing a run restart may miss an intermediate
// summary; the latest one is always available through LastSummary.
func (s *Session) Completed() <-chan events.Summary { return s.completedCh }

// Queue exposes the underlying queue store for read-only selectors.
func (s *Session) Queue() *queue.Store { return s.queue }

// Metrics exposes the underlying metrics store for read-only selectors.
func (s *Session) Metrics() *metrics.Store { return s.metrics }

// Start launches the event loop and the tick loop. Idempotent.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})

	eventCh := s.bus.SubscribeAll()

	s.wg.Add(2)
	go s.eventLoop(eventCh)
	go s.tickLoop()
}

// Stop halts both loops. Queue items and metrics survive a stop; only
// recomputation and event application cease.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Session) eventLoop(ch <-chan events.Event) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			s.bus.UnsubscribeAll(ch)
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.apply(ev)
		}
	}
}

func (s *Session) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.TickOnce(now)
		}
	}
}

// TickOnce runs a single estimation pass over the current queue contents.
// The tick loop calls it on its cadence; tests call it directly with a
// controlled clock.
func (s *Session) TickOnce(now time.Time) {
	items := s.queue.Items()
	snapshots := make([]metrics.Snapshot, len(items))
	for i, it := range items {
		snapshots[i] = metrics.Snapshot{
			ID:         it.ID,
			Status:     it.Status,
			BytesSent:  it.BytesSent,
			TotalBytes: it.TotalBytes,
		}
	}
	s.metrics.Tick(now, snapshots)
}

// apply routes one engine event into the stores. Last write wins; events
// for ids no longer in the queue fall through as no-ops.
func (s *Session) apply(ev events.Event) {
	switch e := ev.(type) {
	case *events.ItemStatusEvent:
		status := queue.Status(e.Status)
		opts := make([]queue.StatusOption, 0, 2)
		if e.Message != nil {
			opts = append(opts, queue.WithMessage(*e.Message))
		} else {
			opts = append(opts, queue.ClearMessage())
		}
		if e.WorkerLabel != nil {
			opts = append(opts, queue.WithWorkerLabel(*e.WorkerLabel))
		} else {
			opts = append(opts, queue.ClearWorkerLabel())
		}
		s.queue.SetItemStatus(e.ItemID, status, opts...)

	case *events.ItemProgressEvent:
		s.queue.SetItemProgress(e.ItemID, e.BytesSent, e.TotalBytes)

	case *events.FileProgressEvent:
		// The event carries its emission time; sampling at receipt time
		// instead would skew per-file rates whenever the channel backlogs.
		now := e.Timestamp()
		if now.IsZero() {
			now = time.Now()
		}
		s.metrics.RecordFileProgress(now, e.ItemID, e.FilePath, e.BytesSent, e.TotalBytes, e.WorkerLabel)

	case *events.FileListEvent:
		files := make([]metrics.FileEntry, len(e.Files))
		for i, f := range e.Files {
			files[i] = metrics.FileEntry{FilePath: f.FilePath, TotalBytes: f.TotalBytes}
		}
		s.metrics.RecordFileList(e.ItemID, files)

	case *events.CompletedEvent:
		s.mu.Lock()
		summary := e.Summary
		s.lastSummary = &summary
		s.mu.Unlock()
		// Drop any unconsumed summary so a waiter sees the latest run.
		select {
		case <-s.completedCh:
		default:
		}
		s.completedCh <- summary
		if s.log != nil {
			s.log.Info().
				Int("total", e.Summary.Total).
				Int("succeeded", e.Summary.Succeeded).
				Int("failed", e.Summary.Failed).
				Msg("upload completed")
		}

	case *events.QueueChangedEvent:
		s.metrics.ClearRemoved(e.RemainingIDs)

	case *events.ErrorBannerEvent:
		s.mu.Lock()
		s.lastBanner = e.Message
		s.mu.Unlock()
		if s.log != nil {
			s.log.Error().
				Str("stage", e.Stage).
				Str("worker", e.WorkerLabel).
				Msg(e.Message)
		}

	case *events.NoticeEvent:
		s.mu.Lock()
		s.lastNotice = e.Message
		s.mu.Unlock()
		if s.log != nil {
			s.log.Info().Msg(e.Message)
		}
	}
}

// AddPaths classifies the given paths through the engine and appends them
// to the queue. Paths already queued are skipped by the store's dedup.
func (s *Session) AddPaths(paths []string) []queue.Item {
	classified := s.eng.Classify(paths)
	entries := make([]queue.Entry, 0, len(classified))
	for _, c := range classified {
		entries = append(entries, queue.Entry{Path: c.Path, Kind: c.Kind})
	}
	return s.queue.AddItems(entries)
}

// StartUpload resets every queued item's upload state, wipes stale
// per-file tracking, and asks the engine to start a run. Resetting first
// keeps an earlier run's counters from showing through while the engine
// spins up.
func (s *Session) StartUpload(ctx context.Context, destinationID string) error {
	ids := s.queue.IDs()
	s.queue.ResetUploadState(ids)
	s.metrics.ClearFileProgress(ids)
	return s.eng.Start(ctx, s.queue.Items(), destinationID)
}

// PauseItem flips the local pause flag and then tells the engine. The flag
// is set first so the display freezes immediately regardless of how long
// the engine takes to comply; if the command fails the flag still stands,
// matching the local-pause-wins rule.
func (s *Session) PauseItem(id string, paused bool) {
	s.metrics.SetPaused(id, paused)
	if err := s.eng.Pause([]string{id}, paused); err != nil && s.log != nil {
		s.log.Warn().Str("item", id).Err(err).Msg("pause command rejected")
	}
}

// PauseAll pauses or resumes every queued item.
func (s *Session) PauseAll(paused bool) {
	if paused {
		s.metrics.PauseAll(s.queue.IDs())
	} else {
		s.metrics.ResumeAll()
	}
	if err := s.eng.Pause(nil, paused); err != nil && s.log != nil {
		s.log.Warn().Err(err).Msg("pause command rejected")
	}
}

// CancelAll asks the engine to abort the current run.
func (s *Session) CancelAll() {
	if err := s.eng.Cancel(nil); err != nil && s.log != nil {
		s.log.Warn().Err(err).Msg("cancel command rejected")
	}
}

// RemovePath removes one item and garbage-collects its derived state.
func (s *Session) RemovePath(path string) {
	s.queue.Remove(path)
	s.metrics.ClearRemoved(s.queue.IDs())
}

// ClearQueue wipes the queue and all derived state.
func (s *Session) ClearQueue() {
	s.queue.Clear()
	s.metrics.ClearRemoved(nil)
}

// LastSummary returns the summary of the most recently completed run.
func (s *Session) LastSummary() (events.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSummary == nil {
		return events.Summary{}, false
	}
	return *s.lastSummary, true
}

// LastBanner returns the most recent run-level error message.
func (s *Session) LastBanner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBanner
}

// LastNotice returns the most recent informational message.
func (s *Session) LastNotice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastNotice
}
