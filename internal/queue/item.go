// Package queue provides the authoritative store of pending upload items.
// The store tracks identity and coarse lifecycle status; throughput and ETA
// estimation live in the metrics package.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/ferryhq/ferry/internal/constants"
	"github.com/ferryhq/ferry/internal/pathutil"
)

// Kind indicates whether an item is a single file or a folder tree.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Status represents the current lifecycle state of an upload item.
type Status string

const (
	StatusQueued    Status = "queued"    // Waiting for an upload run to start
	StatusPreparing Status = "preparing" // Engine is enumerating/mirroring the item
	StatusUploading Status = "uploading" // Bytes are moving
	StatusPaused    Status = "paused"    // Held by the engine or the user
	StatusDone      Status = "done"      // Successfully completed
	StatusFailed    Status = "failed"    // Failed with a diagnostic message
)

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusPreparing, StatusUploading, StatusPaused, StatusDone, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status. Terminal items leave
// their state only through an explicit reset or removal.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Item is one queued file or folder scheduled for transfer.
// The store hands out copies; callers never hold live references.
type Item struct {
	ID         string
	SourcePath string
	Kind       Kind
	AddedAt    time.Time

	Status  Status
	Message string // Diagnostic text, usually set on failure

	BytesSent  int64
	TotalBytes int64

	// WorkerLabel attributes the transfer to a backend credential
	// (e.g. the service account email that carried the bytes).
	WorkerLabel string
}

// Fraction returns the display progress in [0, 1]. BytesSent can
// transiently exceed TotalBytes, so the value is pinned just below 1
// until the engine reports the item done.
func (it Item) Fraction() float64 {
	if it.Status == StatusDone {
		return 1.0
	}
	if it.TotalBytes <= 0 || it.BytesSent <= 0 {
		return 0.0
	}
	f := float64(it.BytesSent) / float64(it.TotalBytes)
	if f > constants.ProgressDisplayCap {
		return constants.ProgressDisplayCap
	}
	return f
}

// Entry is one requested addition to the queue.
type Entry struct {
	Path string
	Kind Kind
}

// ID generation
var (
	itemCounter uint64
	itemMu      sync.Mutex
)

// generateItemID produces a unique, stable item id from a monotonic
// counter, the current timestamp and the path's base name. The counter
// guarantees uniqueness even when two items are added within the same
// nanosecond for paths sharing a base name.
func generateItemID(path string) string {
	itemMu.Lock()
	itemCounter++
	n := itemCounter
	itemMu.Unlock()

	base := pathutil.SanitizeComponent(pathutil.LastSegment(path))
	return fmt.Sprintf("item-%d-%d-%s", time.Now().UnixNano(), n, base)
}
