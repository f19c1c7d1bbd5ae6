// Package engine defines the boundary to the upload engine: the component
// that actually moves bytes. The queue and metrics stores never call it
// directly; they observe its event stream. Commands are asynchronous and
// best-effort: the caller owns any optimistic state it wants to revert
// when a command is rejected.
package engine

import (
	"context"

	"github.com/ferryhq/ferry/internal/events"
	"github.com/ferryhq/ferry/internal/queue"
)

// Classified pairs a path with the kind the engine determined for it.
type Classified struct {
	Path string
	Kind queue.Kind
}

// Engine is the opaque transfer executor. Implementations publish the
// event vocabulary of the events package on the bus they were built with:
// item_status, progress, file_progress, file_list, completed, error_banner
// and notice.
type Engine interface {
	// Start launches an upload run over the given items toward the
	// destination. It returns immediately; lifecycle and progress arrive
	// as events. Starting while a run is in flight is an error.
	Start(ctx context.Context, items []queue.Item, destinationID string) error

	// Pause holds or releases the given items. An empty id list applies
	// to the whole run.
	Pause(ids []string, paused bool) error

	// Cancel aborts the given items. An empty id list aborts the run.
	Cancel(ids []string) error

	// Classify determines the kind of each path.
	Classify(paths []string) []Classified

	// ListFiles enumerates the files a folder item would upload.
	ListFiles(path string, kind queue.Kind) ([]events.FileEntry, error)
}
