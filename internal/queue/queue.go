package queue

import (
	"sync"
	"time"

	"github.com/ferryhq/ferry/internal/events"
)

// Stats holds per-status counts over the queue.
type Stats struct {
	Queued    int
	Preparing int
	Uploading int
	Paused    int
	Done      int
	Failed    int
}

// Total returns the total number of items in the queue.
func (s Stats) Total() int {
	return s.Queued + s.Preparing + s.Uploading + s.Paused + s.Done + s.Failed
}

// Store is the single source of truth for upload item identity and status.
// It observes transfers, it does not execute them: the engine pushes status
// and progress events, user actions add and remove items, and presentation
// layers read copies through the selectors.
//
// Every operation is a total function: unknown ids and duplicate paths are
// no-ops, malformed byte counts are clamped, nothing panics.
type Store struct {
	mu     sync.RWMutex
	items  []*Item          // All items in insertion order
	byID   map[string]*Item // Index by id
	byPath map[string]*Item // Index by source path, backs dedup

	bus *events.EventBus // Optional; mutations publish QueueChanged
}

// NewStore creates an empty queue store. The bus may be nil; when present,
// add/remove/clear mutations publish QueueChangedEvent carrying the
// remaining ids so derived per-item state can be garbage collected.
func NewStore(bus *events.EventBus) *Store {
	return &Store{
		items:  make([]*Item, 0),
		byID:   make(map[string]*Item),
		byPath: make(map[string]*Item),
		bus:    bus,
	}
}

// StatusOption customizes a SetItemStatus call. Without options the stored
// message and worker label are preserved across the transition.
type StatusOption func(*statusUpdate)

type statusUpdate struct {
	message     *string
	hasMessage  bool
	workerLabel *string
	hasLabel    bool
}

// WithMessage sets the diagnostic message alongside the status change.
func WithMessage(msg string) StatusOption {
	return func(u *statusUpdate) {
		u.message = &msg
		u.hasMessage = true
	}
}

// ClearMessage wipes any stored diagnostic message.
func ClearMessage() StatusOption {
	return func(u *statusUpdate) {
		u.message = nil
		u.hasMessage = true
	}
}

// WithWorkerLabel records which backend credential handled the item.
func WithWorkerLabel(label string) StatusOption {
	return func(u *statusUpdate) {
		u.workerLabel = &label
		u.hasLabel = true
	}
}

// ClearWorkerLabel wipes any stored worker label.
func ClearWorkerLabel() StatusOption {
	return func(u *statusUpdate) {
		u.workerLabel = nil
		u.hasLabel = true
	}
}

// AddItems appends the given entries, skipping any path already present.
// Dedup is evaluated against live state under the lock, so rapid successive
// calls never introduce duplicates. Relative input order is preserved.
// Returns copies of the accepted items.
func (s *Store) AddItems(entries []Entry) []Item {
	now := time.Now()

	s.mu.Lock()
	accepted := make([]Item, 0, len(entries))
	for _, e := range entries {
		if e.Path == "" {
			continue
		}
		if _, dup := s.byPath[e.Path]; dup {
			continue
		}
		kind := e.Kind
		if kind != KindFolder {
			kind = KindFile
		}
		item := &Item{
			ID:         generateItemID(e.Path),
			SourcePath: e.Path,
			Kind:       kind,
			AddedAt:    now,
			Status:     StatusQueued,
		}
		s.items = append(s.items, item)
		s.byID[item.ID] = item
		s.byPath[item.SourcePath] = item
		accepted = append(accepted, *item)
	}
	if len(accepted) > 0 {
		s.publishChangedLocked()
	}
	s.mu.Unlock()

	return accepted
}

// AddFiles adds the given paths as file items.
func (s *Store) AddFiles(paths []string) []Item {
	return s.addWithKind(paths, KindFile)
}

// AddFolders adds the given paths as folder items.
func (s *Store) AddFolders(paths []string) []Item {
	return s.addWithKind(paths, KindFolder)
}

func (s *Store) addWithKind(paths []string, kind Kind) []Item {
	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, Entry{Path: p, Kind: kind})
	}
	return s.AddItems(entries)
}

// SetItemStatus transitions an item's status. Unknown ids and invalid
// statuses are ignored. Terminal items (done, failed) only change through
// ResetUploadState or removal; a terminal-to-terminal transition is allowed
// so a late failure can still attach its message.
func (s *Store) SetItemStatus(id string, status Status, opts ...StatusOption) {
	if !status.Valid() {
		return
	}

	var u statusUpdate
	for _, opt := range opts {
		opt(&u)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.byID[id]
	if !ok {
		return
	}
	if item.Status.Terminal() && !status.Terminal() {
		return
	}

	item.Status = status
	if u.hasMessage {
		if u.message != nil {
			item.Message = *u.message
		} else {
			item.Message = ""
		}
	}
	if u.hasLabel {
		if u.workerLabel != nil {
			item.WorkerLabel = *u.workerLabel
		} else {
			item.WorkerLabel = ""
		}
	}
}

// SetItemProgress overwrites an item's byte counters. Status is never
// inferred from byte counts; transitions arrive as separate events.
// Negative counts clamp to zero. BytesSent may exceed TotalBytes
// transiently; the overage is kept raw and clamped at display time.
func (s *Store) SetItemProgress(id string, bytesSent, totalBytes int64) {
	if bytesSent < 0 {
		bytesSent = 0
	}
	if totalBytes < 0 {
		totalBytes = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.byID[id]
	if !ok {
		return
	}
	item.BytesSent = bytesSent
	item.TotalBytes = totalBytes
}

// ResetUploadState returns the listed items to queued and wipes their byte
// counters, message and worker label. Called before a (re)start so stale
// progress from an earlier run never shows through.
func (s *Store) ResetUploadState(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		item, ok := s.byID[id]
		if !ok {
			continue
		}
		item.Status = StatusQueued
		item.BytesSent = 0
		item.TotalBytes = 0
		item.Message = ""
		item.WorkerLabel = ""
	}
}

// Remove deletes the item with the given source path, if present.
func (s *Store) Remove(path string) {
	s.mu.Lock()
	item, ok := s.byPath[path]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.byPath, path)
	delete(s.byID, item.ID)
	filtered := s.items[:0]
	for _, it := range s.items {
		if it.ID != item.ID {
			filtered = append(filtered, it)
		}
	}
	s.items = filtered
	s.publishChangedLocked()
	s.mu.Unlock()
}

// Clear wipes the whole queue.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = make([]*Item, 0)
	s.byID = make(map[string]*Item)
	s.byPath = make(map[string]*Item)
	s.publishChangedLocked()
	s.mu.Unlock()
}

// Items returns a copy of all items in insertion order.
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Item, len(s.items))
	for i, it := range s.items {
		result[i] = *it
	}
	return result
}

// Item returns a copy of the item with the given id.
func (s *Store) Item(id string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.byID[id]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// IDs returns all item ids in insertion order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idsLocked()
}

// ContainsPath reports whether an item with the given source path exists.
func (s *Store) ContainsPath(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byPath[path]
	return ok
}

// Len returns the number of queued items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Stats returns per-status counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{}
	for _, it := range s.items {
		switch it.Status {
		case StatusQueued:
			stats.Queued++
		case StatusPreparing:
			stats.Preparing++
		case StatusUploading:
			stats.Uploading++
		case StatusPaused:
			stats.Paused++
		case StatusDone:
			stats.Done++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats
}

func (s *Store) idsLocked() []string {
	ids := make([]string, len(s.items))
	for i, it := range s.items {
		ids[i] = it.ID
	}
	return ids
}

// publishChangedLocked emits a QueueChangedEvent carrying the remaining ids.
// Called with the store lock held: the bus never blocks on publish, and
// keeping mutation and publication in one critical section means subscribers
// see change events in the same order the mutations were applied.
func (s *Store) publishChangedLocked() {
	if s.bus == nil {
		return
	}
	s.bus.Publish(&events.QueueChangedEvent{
		BaseEvent:    events.BaseEvent{EventType: events.EventQueueChanged, Time: time.Now()},
		RemainingIDs: s.idsLocked(),
	})
}
