package metrics

import (
	"time"

	"github.com/ferryhq/ferry/internal/pathutil"
)

// FileRecord holds the raw counters last reported for one file inside a
// folder item.
type FileRecord struct {
	BytesSent   int64
	TotalBytes  int64
	WorkerLabel string
}

type fileKey struct {
	itemID   string
	filePath string
}

// RecordFileList seeds the known-files order for a folder item. Paths
// already tracked are left untouched; genuinely new entries get a zeroed
// record and estimate. The order list is append-only until an explicit
// clear, so rendering stays deterministic while progress events race in.
func (s *Store) RecordFileList(itemID string, files []FileEntry) {
	if itemID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.fileRecords[itemID]
	if records == nil {
		records = make(map[string]FileRecord)
		s.fileRecords[itemID] = records
	}

	for _, f := range files {
		if f.FilePath == "" {
			continue
		}
		if _, tracked := records[f.FilePath]; tracked {
			continue
		}
		records[f.FilePath] = FileRecord{TotalBytes: clampNonNegative(f.TotalBytes)}
		s.fileOrder[itemID] = append(s.fileOrder[itemID], f.FilePath)
		s.fileTransfers[fileKey{itemID, f.FilePath}] = Transfer{}
	}
}

// FileEntry describes one file of a folder item at enumeration time.
type FileEntry struct {
	FilePath   string
	TotalBytes int64
}

// RecordFileProgress applies a per-file progress report, running the same
// smoothing algorithm Tick uses, scoped to (itemID, filePath).
//
// Enumeration and progress events do not always agree on path shape
// (separators, relative prefixes), so the path resolves against already
// tracked entries: exact match first, then by trailing segment when exactly
// one tracked path shares the basename. An ambiguous basename creates a new
// distinct entry rather than guessing; misattributing progress is worse
// than an extra row.
func (s *Store) RecordFileProgress(now time.Time, itemID, filePath string, bytesSent, totalBytes int64, workerLabel string) {
	if itemID == "" || filePath == "" {
		return
	}
	sent := clampNonNegative(bytesSent)
	total := clampNonNegative(totalBytes)

	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.fileRecords[itemID]
	if records == nil {
		records = make(map[string]FileRecord)
		s.fileRecords[itemID] = records
	}

	path := s.resolveFilePathLocked(itemID, filePath)
	rec, tracked := records[path]
	if !tracked {
		s.fileOrder[itemID] = append(s.fileOrder[itemID], path)
	}

	rec.BytesSent = sent
	rec.TotalBytes = total
	if workerLabel != "" {
		rec.WorkerLabel = workerLabel
	}
	records[path] = rec

	key := fileKey{itemID, path}
	tr := s.fileTracks[key]
	if tr == nil {
		tr = &track{}
		s.fileTracks[key] = tr
	}
	if sent > 0 && !tr.hasBaseline {
		tr.baselineAt = now
		tr.hasBaseline = true
	}

	if s.paused[itemID] {
		s.storeFileTransferLocked(key, Transfer{SpeedBPS: 0, ETASeconds: nil})
		return
	}

	prev := s.fileTransfers[key].SpeedBPS
	speed := tr.speed(now, sent, prev)
	done := total > 0 && sent >= total
	eta := etaFor(!done, done, sent, total, speed)
	s.storeFileTransferLocked(key, Transfer{SpeedBPS: speed, ETASeconds: eta})
}

// resolveFilePathLocked maps an incoming progress path onto a tracked one.
func (s *Store) resolveFilePathLocked(itemID, filePath string) string {
	records := s.fileRecords[itemID]
	if _, ok := records[filePath]; ok {
		return filePath
	}

	base := pathutil.LastSegment(filePath)
	match := ""
	for tracked := range records {
		if pathutil.LastSegment(tracked) != base {
			continue
		}
		if match != "" {
			// Two tracked files share the basename; do not guess.
			return filePath
		}
		match = tracked
	}
	if match != "" {
		return match
	}
	return filePath
}

// ClearFileProgress wipes per-file tracking for the given items, used
// before a fresh start so an earlier run's rows never linger.
func (s *Store) ClearFileProgress(itemIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		cleared[id] = true
		delete(s.fileRecords, id)
		delete(s.fileOrder, id)
	}
	for key := range s.fileTransfers {
		if cleared[key.itemID] {
			delete(s.fileTransfers, key)
		}
	}
	for key := range s.fileTracks {
		if cleared[key.itemID] {
			delete(s.fileTracks, key)
		}
	}
}

// FileOrder returns the append-only insertion order of tracked files for
// an item.
func (s *Store) FileOrder(itemID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order := s.fileOrder[itemID]
	out := make([]string, len(order))
	copy(out, order)
	return out
}

// FileRecord returns the raw counters last recorded for one file.
func (s *Store) FileRecord(itemID, filePath string) (FileRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.fileRecords[itemID][filePath]
	return rec, ok
}

// FileTransfer returns the current estimate for one file.
func (s *Store) FileTransfer(itemID, filePath string) (Transfer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.fileTransfers[fileKey{itemID, filePath}]
	return t, ok
}

func (s *Store) storeFileTransferLocked(key fileKey, next Transfer) {
	if cur, ok := s.fileTransfers[key]; ok && cur.equal(next) {
		return
	}
	s.fileTransfers[key] = next
}
