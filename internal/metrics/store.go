// Package metrics derives non-authoritative throughput and ETA estimates
// for queued upload items from periodic byte-count samples. The backend
// gives no estimation help: everything here is computed client-side from
// the raw counters the queue store mirrors, plus a local clock.
//
// Nothing in this package is persisted. Entries live exactly as long as
// the item they describe; ClearRemoved must run after any queue mutation
// that can remove items.
package metrics

import (
	"math"
	"sync"
	"time"

	"github.com/ferryhq/ferry/internal/constants"
	"github.com/ferryhq/ferry/internal/queue"
)

// Transfer is the derived estimate for one item or one file.
type Transfer struct {
	SpeedBPS   int64  // Smoothed throughput in bytes per second
	ETASeconds *int64 // nil when the remaining time is unknown
}

func (t Transfer) equal(o Transfer) bool {
	if t.SpeedBPS != o.SpeedBPS {
		return false
	}
	if (t.ETASeconds == nil) != (o.ETASeconds == nil) {
		return false
	}
	return t.ETASeconds == nil || *t.ETASeconds == *o.ETASeconds
}

// Snapshot is the per-item view a tick consumes. The session builds one
// per queued item from the queue store.
type Snapshot struct {
	ID         string
	Status     queue.Status
	BytesSent  int64
	TotalBytes int64
}

// track holds the sampling state behind one estimate: the last sample at
// which bytes advanced, and the baseline instant the subject became active.
// The baseline absorbs coarse chunking, where the very first progress
// report already carries nonzero bytes; without it such an item would show
// zero throughput until its second chunk landed.
type track struct {
	lastBytes   int64
	lastAt      time.Time
	seeded      bool
	baselineAt  time.Time
	hasBaseline bool
}

// speed advances the sample and returns the new throughput estimate.
// The sample timestamp moves only when bytes actually advanced; touching
// it on a no-progress tick would depress the rate computed for large,
// infrequent chunks.
func (t *track) speed(now time.Time, sent, prev int64) int64 {
	if !t.seeded {
		t.lastBytes = sent
		t.lastAt = now
		t.seeded = true
	}

	// Counters restart from zero when an item is reset mid-session;
	// resync instead of waiting for them to catch back up.
	if sent < t.lastBytes {
		t.lastBytes = sent
		t.lastAt = now
	}

	delta := sent - t.lastBytes
	elapsed := now.Sub(t.lastAt)
	if elapsed < constants.MinSampleElapsed {
		elapsed = constants.MinSampleElapsed
	}

	if delta > 0 {
		t.lastBytes = sent
		t.lastAt = now
		return int64(math.Round(float64(delta) / elapsed.Seconds()))
	}

	if sent > 0 && t.hasBaseline {
		sinceBaseline := now.Sub(t.baselineAt)
		if sinceBaseline < constants.MinSampleElapsed {
			sinceBaseline = constants.MinSampleElapsed
		}
		return int64(math.Round(float64(sent) / sinceBaseline.Seconds()))
	}

	return prev
}

// Store computes and exposes throughput/ETA per item and per child file,
// and owns the client-side pause flags. Pause flags are independent of the
// backend-reported status: a locally paused item displays zero speed and
// unknown ETA no matter what the engine keeps reporting.
type Store struct {
	mu sync.RWMutex

	paused    map[string]bool
	transfers map[string]Transfer
	tracks    map[string]*track

	// Per-file tracking for folder items, see files.go
	fileRecords   map[string]map[string]FileRecord
	fileOrder     map[string][]string
	fileTransfers map[fileKey]Transfer
	fileTracks    map[fileKey]*track
}

// NewStore creates an empty metrics store.
func NewStore() *Store {
	return &Store{
		paused:        make(map[string]bool),
		transfers:     make(map[string]Transfer),
		tracks:        make(map[string]*track),
		fileRecords:   make(map[string]map[string]FileRecord),
		fileOrder:     make(map[string][]string),
		fileTransfers: make(map[fileKey]Transfer),
		fileTracks:    make(map[fileKey]*track),
	}
}

// SetPaused toggles the local pause flag for one item.
func (s *Store) SetPaused(id string, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		s.paused[id] = true
	} else {
		delete(s.paused, id)
	}
}

// PauseAll sets the pause flag for every given item id.
func (s *Store) PauseAll(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.paused[id] = true
	}
}

// ResumeAll clears every pause flag.
func (s *Store) ResumeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = make(map[string]bool)
}

// IsPaused reports whether the item carries a local pause flag.
func (s *Store) IsPaused(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[id]
}

// isActive decides whether estimation should run for a snapshot. An item
// estimates while the engine says it is moving (uploading, preparing), or
// while bytes are on record and the status is not an idle one; a local
// pause flag always wins.
func (s *Store) isActiveLocked(sn Snapshot) bool {
	if s.paused[sn.ID] {
		return false
	}
	if sn.Status == queue.StatusUploading || sn.Status == queue.StatusPreparing {
		return true
	}
	if sn.BytesSent > 0 &&
		sn.Status != queue.StatusPaused &&
		sn.Status != queue.StatusDone &&
		sn.Status != queue.StatusFailed {
		return true
	}
	return false
}

// Tick recomputes the estimate for every snapshot. Invoked on a fixed
// interval by the session and safe to call at any cadence; the 250 ms
// elapsed floor keeps sub-tick invocations from spiking the rate.
// Never panics: malformed counters clamp to zero, unknown states
// degrade to "unknown ETA".
func (s *Store) Tick(now time.Time, snapshots []Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sn := range snapshots {
		if sn.ID == "" {
			continue
		}
		sent := clampNonNegative(sn.BytesSent)
		total := clampNonNegative(sn.TotalBytes)

		active := s.isActiveLocked(sn)

		tr := s.tracks[sn.ID]
		if tr == nil {
			tr = &track{}
			s.tracks[sn.ID] = tr
		}
		if active {
			if !tr.hasBaseline {
				tr.baselineAt = now
				tr.hasBaseline = true
			}
		} else {
			tr.hasBaseline = false
		}

		if s.paused[sn.ID] {
			s.storeTransferLocked(sn.ID, Transfer{SpeedBPS: 0, ETASeconds: nil})
			continue
		}

		prev := s.transfers[sn.ID].SpeedBPS
		speed := tr.speed(now, sent, prev)

		eta := etaFor(active, sn.Status == queue.StatusDone, sent, total, speed)
		s.storeTransferLocked(sn.ID, Transfer{SpeedBPS: speed, ETASeconds: eta})
	}
}

// Transfer returns the current estimate for an item.
func (s *Store) Transfer(id string) (Transfer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transfers[id]
	return t, ok
}

// ClearRemoved purges every per-item and per-file structure whose id is
// absent from remainingIDs. Must run after every queue mutation that can
// remove items; otherwise the maps grow without bound and a reused id
// could resurface stale estimates.
func (s *Store) ClearRemoved(remainingIDs []string) {
	keep := make(map[string]bool, len(remainingIDs))
	for _, id := range remainingIDs {
		keep[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.paused {
		if !keep[id] {
			delete(s.paused, id)
		}
	}
	for id := range s.transfers {
		if !keep[id] {
			delete(s.transfers, id)
		}
	}
	for id := range s.tracks {
		if !keep[id] {
			delete(s.tracks, id)
		}
	}
	for id := range s.fileRecords {
		if !keep[id] {
			delete(s.fileRecords, id)
		}
	}
	for id := range s.fileOrder {
		if !keep[id] {
			delete(s.fileOrder, id)
		}
	}
	for key := range s.fileTransfers {
		if !keep[key.itemID] {
			delete(s.fileTransfers, key)
		}
	}
	for key := range s.fileTracks {
		if !keep[key.itemID] {
			delete(s.fileTracks, key)
		}
	}
}

// storeTransferLocked replaces the stored entry only when the estimate
// actually changed, to minimize downstream update churn.
func (s *Store) storeTransferLocked(id string, next Transfer) {
	if cur, ok := s.transfers[id]; ok && cur.equal(next) {
		return
	}
	s.transfers[id] = next
}

// etaFor applies the ETA rules: a live estimate while actively moving,
// an explicit zero once done, unknown otherwise.
func etaFor(active, done bool, sent, total, speed int64) *int64 {
	if active && total > 0 && speed > 0 {
		remaining := total - minInt64(sent, total)
		e := int64(math.Round(float64(remaining) / float64(speed)))
		return &e
	}
	if done {
		zero := int64(0)
		return &zero
	}
	return nil
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
