package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ferryhq/ferry/internal/constants"
	"github.com/ferryhq/ferry/internal/events"
	"github.com/ferryhq/ferry/internal/logging"
	"github.com/ferryhq/ferry/internal/pathutil"
	"github.com/ferryhq/ferry/internal/queue"
)

// SimConfig tunes the simulated engine.
type SimConfig struct {
	// MaxConcurrent is the number of parallel upload workers, clamped
	// to [1, constants.MaxConcurrentCeiling].
	MaxConcurrent int

	// ChunkSize is the size of each simulated upload chunk. Values are
	// aligned down to constants.ChunkAlign like a real resumable upload.
	ChunkSize int64

	// ThroughputBPS paces each worker at roughly this many bytes per
	// second. Zero or negative runs unpaced (useful in tests).
	ThroughputBPS int64

	// WorkerLabels are handed out round-robin as the credential label
	// attached to progress and status events.
	WorkerLabels []string

	// FailSubstring makes any item whose path contains it fail, so
	// failure paths can be exercised without a real backend.
	FailSubstring string
}

// Sim is an in-process upload engine that emits the full event vocabulary
// with synthetic byte progress. It performs no network or filesystem I/O:
// file listings and sizes are derived deterministically from the path, so
// the same inputs always produce the same run shape.
//
// Structure follows the production engine: items are prepared one at a
// time and their file tasks streamed into a bounded worker pool; workers
// drain the channel, honoring pause and cancel between chunks.
type Sim struct {
	bus *events.EventBus
	log *logging.Logger
	cfg SimConfig

	mu          sync.Mutex
	running     bool
	pauseAll    bool
	pausedItems map[string]bool
	canceled    map[string]bool
	cancelRun   bool

	nextWorker atomic.Uint64
}

type uploadTask struct {
	itemID     string
	itemPath   string
	itemKind   queue.Kind
	filePath   string
	totalBytes int64
}

// NewSim creates a simulated engine publishing on bus.
func NewSim(bus *events.EventBus, log *logging.Logger, cfg SimConfig) *Sim {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = constants.DefaultMaxConcurrent
	}
	if cfg.MaxConcurrent > constants.MaxConcurrentCeiling {
		cfg.MaxConcurrent = constants.MaxConcurrentCeiling
	}
	if cfg.ChunkSize < constants.ChunkAlign {
		cfg.ChunkSize = constants.DefaultChunkSize
	}
	cfg.ChunkSize -= cfg.ChunkSize % constants.ChunkAlign
	if len(cfg.WorkerLabels) == 0 {
		cfg.WorkerLabels = []string{"worker-1@sim"}
	}
	return &Sim{
		bus:         bus,
		log:         log,
		cfg:         cfg,
		pausedItems: make(map[string]bool),
		canceled:    make(map[string]bool),
	}
}

// Start launches a run over the given items. Returns immediately; the run
// proceeds on background goroutines and reports through the event bus.
func (s *Sim) Start(ctx context.Context, items []queue.Item, destinationID string) error {
	if destinationID == "" {
		return errors.New("no destination folder selected")
	}
	if len(items) == 0 {
		return errors.New("queue is empty")
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("an upload run is already in progress")
	}
	s.running = true
	s.cancelRun = false
	s.canceled = make(map[string]bool)
	s.mu.Unlock()

	// Items are copied so the run is immune to later queue mutations.
	snapshot := make([]queue.Item, len(items))
	copy(snapshot, items)

	go s.run(ctx, snapshot, destinationID)
	return nil
}

// Pause holds or releases items. An empty id list applies to the run.
func (s *Sim) Pause(ids []string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) == 0 {
		s.pauseAll = paused
		return nil
	}
	for _, id := range ids {
		if paused {
			s.pausedItems[id] = true
		} else {
			delete(s.pausedItems, id)
		}
	}
	return nil
}

// Cancel aborts items. An empty id list aborts the whole run.
func (s *Sim) Cancel(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) == 0 {
		s.cancelRun = true
		return nil
	}
	for _, id := range ids {
		s.canceled[id] = true
	}
	return nil
}

// Classify determines kinds without touching the filesystem: a trailing
// separator or an extension-less base name reads as a folder.
func (s *Sim) Classify(paths []string) []Classified {
	out := make([]Classified, 0, len(paths))
	for _, p := range paths {
		kind := queue.KindFile
		trimmed := pathutil.TrimTrailingSeparators(p)
		if trimmed != p || !pathutil.HasExtension(trimmed) {
			kind = queue.KindFolder
		}
		out = append(out, Classified{Path: trimmed, Kind: kind})
	}
	return out
}

// ListFiles enumerates the synthetic files of a path, matching what a run
// over the same path will report.
func (s *Sim) ListFiles(path string, kind queue.Kind) ([]events.FileEntry, error) {
	if path == "" {
		return nil, errors.New("empty path")
	}
	if kind == queue.KindFolder {
		return synthFolderFiles(path), nil
	}
	return []events.FileEntry{{FilePath: path, TotalBytes: synthSize(path)}}, nil
}

func (s *Sim) run(ctx context.Context, items []queue.Item, destinationID string) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.bus.PublishNotice(fmt.Sprintf("Uploading %d item(s) to %s", len(items), destinationID))

	var (
		stateMu    sync.Mutex
		itemTotals = make(map[string]int64)
		itemSent   = make(map[string]int64)
		itemFailed = make(map[string]string)
	)

	tasks := make(chan uploadTask, s.cfg.MaxConcurrent*2)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.MaxConcurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				if s.runCanceled(ctx) || s.itemCanceled(task.itemID) {
					stateMu.Lock()
					if _, has := itemFailed[task.itemID]; !has {
						itemFailed[task.itemID] = "Upload canceled"
					}
					stateMu.Unlock()
					continue
				}
				label := s.pickWorkerLabel()
				err := s.uploadOneFile(ctx, task, label, &stateMu, itemTotals, itemSent)
				if err != nil {
					stateMu.Lock()
					_, had := itemFailed[task.itemID]
					if !had {
						itemFailed[task.itemID] = fmt.Sprintf("%s: %s", label, err)
					}
					stateMu.Unlock()
					if !had {
						s.bus.PublishItemStatus(task.itemID, task.itemPath, string(task.itemKind),
							string(queue.StatusFailed), ptr(err.Error()), ptr(label))
						s.bus.Publish(&events.ErrorBannerEvent{
							BaseEvent:   events.BaseEvent{EventType: events.EventErrorBanner, Time: time.Now()},
							Message:     err.Error(),
							Stage:       "upload",
							WorkerLabel: label,
						})
					}
				}
			}
		}()
	}

	for _, item := range items {
		if s.runCanceled(ctx) {
			break
		}

		s.bus.PublishItemStatus(item.ID, item.SourcePath, string(item.Kind),
			string(queue.StatusPreparing), nil, ptr(s.cfg.WorkerLabels[0]))

		files, err := s.ListFiles(item.SourcePath, item.Kind)
		if err != nil {
			stateMu.Lock()
			itemFailed[item.ID] = err.Error()
			stateMu.Unlock()
			continue
		}
		s.bus.Publish(&events.FileListEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventFileList, Time: time.Now()},
			ItemID:    item.ID,
			Files:     files,
		})

		var total int64
		for _, f := range files {
			total += f.TotalBytes
		}
		stateMu.Lock()
		itemTotals[item.ID] = total
		itemSent[item.ID] = 0
		stateMu.Unlock()

		// Preparing is over once tasks are built; report uploading, or
		// paused when a hold is already in place.
		initial := queue.StatusUploading
		if s.itemBlocked(item.ID) {
			initial = queue.StatusPaused
		}
		s.bus.PublishItemStatus(item.ID, item.SourcePath, string(item.Kind),
			string(initial), nil, nil)

		for _, f := range files {
			if s.runCanceled(ctx) {
				break
			}
			tasks <- uploadTask{
				itemID:     item.ID,
				itemPath:   item.SourcePath,
				itemKind:   item.Kind,
				filePath:   f.FilePath,
				totalBytes: f.TotalBytes,
			}
		}
	}

	close(tasks)
	wg.Wait()

	// Finalize per-item statuses and the run summary.
	summary := events.Summary{Total: len(items)}
	stateMu.Lock()
	failed := make(map[string]string, len(itemFailed))
	for id, msg := range itemFailed {
		failed[id] = msg
	}
	stateMu.Unlock()

	for _, item := range items {
		if msg, bad := failed[item.ID]; bad {
			summary.Failed++
			s.bus.PublishItemStatus(item.ID, item.SourcePath, string(item.Kind),
				string(queue.StatusFailed), ptr(msg), nil)
		} else {
			summary.Succeeded++
			s.bus.PublishItemStatus(item.ID, item.SourcePath, string(item.Kind),
				string(queue.StatusDone), nil, nil)
		}
	}

	s.bus.Publish(&events.CompletedEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventCompleted, Time: time.Now()},
		Summary:   summary,
	})

	if s.log != nil {
		s.log.Info().
			Int("total", summary.Total).
			Int("succeeded", summary.Succeeded).
			Int("failed", summary.Failed).
			Msg("upload run finished")
	}
}

func (s *Sim) uploadOneFile(ctx context.Context, task uploadTask, label string,
	stateMu *sync.Mutex, itemTotals, itemSent map[string]int64) error {

	if s.cfg.FailSubstring != "" && strings.Contains(task.itemPath, s.cfg.FailSubstring) {
		return fmt.Errorf("simulated failure uploading %s", task.filePath)
	}

	var offset int64
	for offset < task.totalBytes {
		if s.runCanceled(ctx) || s.itemCanceled(task.itemID) {
			return errors.New("Upload canceled")
		}
		if err := s.waitIfPaused(ctx, task.itemID); err != nil {
			return err
		}

		chunk := s.cfg.ChunkSize
		if remaining := task.totalBytes - offset; chunk > remaining {
			chunk = remaining
		}
		if s.cfg.ThroughputBPS > 0 {
			pace := time.Duration(float64(chunk) / float64(s.cfg.ThroughputBPS) * float64(time.Second))
			select {
			case <-ctx.Done():
				return errors.New("Upload canceled")
			case <-time.After(pace):
			}
		}
		offset += chunk

		stateMu.Lock()
		itemSent[task.itemID] += chunk
		sent := itemSent[task.itemID]
		total := itemTotals[task.itemID]
		stateMu.Unlock()

		if sent > total {
			sent = total
		}
		s.bus.PublishItemProgress(task.itemID, task.itemPath, sent, total)
		s.bus.PublishFileProgress(task.itemID, task.filePath, offset, task.totalBytes, label)
	}
	return nil
}

func (s *Sim) waitIfPaused(ctx context.Context, itemID string) error {
	for s.itemBlocked(itemID) {
		if s.runCanceled(ctx) || s.itemCanceled(itemID) {
			return errors.New("Upload canceled")
		}
		select {
		case <-ctx.Done():
			return errors.New("Upload canceled")
		case <-time.After(25 * time.Millisecond):
		}
	}
	return nil
}

func (s *Sim) itemBlocked(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseAll || s.pausedItems[itemID]
}

func (s *Sim) itemCanceled(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled[itemID]
}

func (s *Sim) runCanceled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRun
}

func (s *Sim) pickWorkerLabel() string {
	n := s.nextWorker.Add(1) - 1
	return s.cfg.WorkerLabels[int(n)%len(s.cfg.WorkerLabels)]
}

// synthFolderFiles derives a deterministic file listing from the folder
// path: the same folder always enumerates the same files and sizes.
func synthFolderFiles(path string) []events.FileEntry {
	h := pathHash(path)
	count := int(2 + h%4)
	files := make([]events.FileEntry, 0, count)
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("%s/part-%02d.bin", pathutil.TrimTrailingSeparators(path), i+1)
		files = append(files, events.FileEntry{
			FilePath:   name,
			TotalBytes: synthSize(name),
		})
	}
	return files
}

// synthSize derives a stable pseudo-size in [256 KiB, ~16 MiB] from a path.
func synthSize(path string) int64 {
	h := pathHash(path)
	return int64(constants.ChunkAlign) + int64(h%(16*1024*1024))
}

func pathHash(path string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	return h.Sum64()
}

func ptr(s string) *string {
	return &s
}
