package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ferryhq/ferry/internal/engine"
	"github.com/ferryhq/ferry/internal/events"
	"github.com/ferryhq/ferry/internal/metrics"
	"github.com/ferryhq/ferry/internal/queue"
)

// stubEngine records commands and classifies everything as a file, for
// tests that exercise session logic without a live run.
type stubEngine struct {
	startErr  error
	pauseErr  error
	cancelErr error

	startCalls  int
	pauseIDs    []string
	pausedState bool
}

func (e *stubEngine) Start(ctx context.Context, items []queue.Item, destinationID string) error {
	e.startCalls++
	return e.startErr
}

func (e *stubEngine) Pause(ids []string, paused bool) error {
	e.pauseIDs = ids
	e.pausedState = paused
	return e.pauseErr
}

func (e *stubEngine) Cancel(ids []string) error { return e.cancelErr }

func (e *stubEngine) Classify(paths []string) []engine.Classified {
	out := make([]engine.Classified, 0, len(paths))
	for _, p := range paths {
		out = append(out, engine.Classified{Path: p, Kind: queue.KindFile})
	}
	return out
}

func (e *stubEngine) ListFiles(path string, kind queue.Kind) ([]events.FileEntry, error) {
	return []events.FileEntry{{FilePath: path, TotalBytes: 100}}, nil
}

func newStubSession(eng engine.Engine) (*Session, *events.EventBus, *queue.Store, *metrics.Store) {
	bus := events.NewEventBus(1000)
	q := queue.NewStore(bus)
	m := metrics.NewStore()
	return New(bus, q, m, eng, nil, time.Second), bus, q, m
}

func TestAddPathsClassifies(t *testing.T) {
	sess, _, q, _ := newStubSession(&stubEngine{})

	added := sess.AddPaths([]string{"/data/a.csv", "/data/b.csv", "/data/a.csv"})
	if len(added) != 2 {
		t.Fatalf("Expected duplicate skipped, got %d items", len(added))
	}
	if q.Len() != 2 {
		t.Errorf("Expected 2 queued items, got %d", q.Len())
	}
}

func TestStartUploadResetsState(t *testing.T) {
	eng := &stubEngine{}
	sess, _, q, m := newStubSession(eng)

	added := sess.AddPaths([]string{"/data/a.csv"})
	id := added[0].ID

	q.SetItemStatus(id, queue.StatusFailed, queue.WithMessage("boom"))
	q.SetItemProgress(id, 50, 100)
	m.RecordFileProgress(time.Now(), id, "/data/a.csv", 50, 100, "sa-1")

	if err := sess.StartUpload(context.Background(), "dest"); err != nil {
		t.Fatalf("StartUpload failed: %v", err)
	}

	item, _ := q.Item(id)
	if item.Status != queue.StatusQueued || item.Message != "" || item.BytesSent != 0 {
		t.Errorf("Expected reset item, got %+v", item)
	}
	if len(m.FileOrder(id)) != 0 {
		t.Error("Expected stale per-file tracking cleared")
	}
	if eng.startCalls != 1 {
		t.Errorf("Expected one engine start, got %d", eng.startCalls)
	}
}

func TestApplyStatusEventPointerSemantics(t *testing.T) {
	sess, _, q, _ := newStubSession(&stubEngine{})
	added := sess.AddPaths([]string{"/data/a.csv"})
	id := added[0].ID

	msg := "retrying"
	label := "sa-1@proj"
	sess.apply(&events.ItemStatusEvent{
		BaseEvent:   events.BaseEvent{EventType: events.EventItemStatus, Time: time.Now()},
		ItemID:      id,
		Status:      string(queue.StatusUploading),
		Message:     &msg,
		WorkerLabel: &label,
	})

	item, _ := q.Item(id)
	if item.Status != queue.StatusUploading || item.Message != "retrying" || item.WorkerLabel != "sa-1@proj" {
		t.Fatalf("Unexpected item after set: %+v", item)
	}

	// Nil pointers clear the previous values.
	sess.apply(&events.ItemStatusEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventItemStatus, Time: time.Now()},
		ItemID:    id,
		Status:    string(queue.StatusUploading),
	})

	item, _ = q.Item(id)
	if item.Message != "" || item.WorkerLabel != "" {
		t.Errorf("Expected message and label cleared, got %+v", item)
	}
}

func TestApplyProgressAndFileEvents(t *testing.T) {
	sess, _, q, m := newStubSession(&stubEngine{})
	added := sess.AddPaths([]string{"/data/a.csv"})
	id := added[0].ID

	sess.apply(&events.ItemProgressEvent{
		BaseEvent:  events.BaseEvent{EventType: events.EventItemProgress, Time: time.Now()},
		ItemID:     id,
		BytesSent:  50,
		TotalBytes: 100,
	})
	sess.apply(&events.FileListEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventFileList, Time: time.Now()},
		ItemID:    id,
		Files:     []events.FileEntry{{FilePath: "/data/a.csv", TotalBytes: 100}},
	})
	sess.apply(&events.FileProgressEvent{
		BaseEvent:   events.BaseEvent{EventType: events.EventFileProgress, Time: time.Now()},
		ItemID:      id,
		FilePath:    "/data/a.csv",
		BytesSent:   50,
		TotalBytes:  100,
		WorkerLabel: "sa-1",
	})

	item, _ := q.Item(id)
	if item.BytesSent != 50 || item.TotalBytes != 100 {
		t.Errorf("Expected item counters applied, got %+v", item)
	}
	rec, ok := m.FileRecord(id, "/data/a.csv")
	if !ok || rec.BytesSent != 50 || rec.WorkerLabel != "sa-1" {
		t.Errorf("Expected file record applied, got %+v ok=%v", rec, ok)
	}
}

func TestApplyBannerNoticeCompleted(t *testing.T) {
	sess, _, _, _ := newStubSession(&stubEngine{})

	sess.apply(&events.NoticeEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventNotice, Time: time.Now()},
		Message:   "uploading 2 items",
	})
	sess.apply(&events.ErrorBannerEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventErrorBanner, Time: time.Now()},
		Message:   "credential pool exhausted",
		Stage:     "upload",
	})
	sess.apply(&events.CompletedEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventCompleted, Time: time.Now()},
		Summary:   events.Summary{Total: 2, Succeeded: 1, Failed: 1},
	})

	if sess.LastNotice() != "uploading 2 items" {
		t.Errorf("Unexpected notice %q", sess.LastNotice())
	}
	if sess.LastBanner() != "credential pool exhausted" {
		t.Errorf("Unexpected banner %q", sess.LastBanner())
	}
	summary, ok := sess.LastSummary()
	if !ok || summary.Failed != 1 {
		t.Errorf("Unexpected summary %+v ok=%v", summary, ok)
	}
}

func TestPauseItemFlagWinsOverEngineError(t *testing.T) {
	eng := &stubEngine{pauseErr: errors.New("engine busy")}
	sess, _, _, m := newStubSession(eng)
	added := sess.AddPaths([]string{"/data/a.csv"})
	id := added[0].ID

	sess.PauseItem(id, true)

	if !m.IsPaused(id) {
		t.Error("Expected local pause flag set despite engine rejection")
	}
	if len(eng.pauseIDs) != 1 || eng.pauseIDs[0] != id || !eng.pausedState {
		t.Errorf("Expected engine told to pause %s, got %v", id, eng.pauseIDs)
	}

	sess.PauseItem(id, false)
	if m.IsPaused(id) {
		t.Error("Expected local pause flag cleared")
	}
}

func TestPauseAll(t *testing.T) {
	sess, _, _, m := newStubSession(&stubEngine{})
	added := sess.AddPaths([]string{"/data/a.csv", "/data/b.csv"})

	sess.PauseAll(true)
	for _, it := range added {
		if !m.IsPaused(it.ID) {
			t.Errorf("Expected %s paused", it.ID)
		}
	}

	sess.PauseAll(false)
	for _, it := range added {
		if m.IsPaused(it.ID) {
			t.Errorf("Expected %s resumed", it.ID)
		}
	}
}

func TestRemovePathClearsDerivedState(t *testing.T) {
	sess, _, q, m := newStubSession(&stubEngine{})
	added := sess.AddPaths([]string{"/data/a.csv", "/data/b.csv"})
	id := added[0].ID

	m.RecordFileProgress(time.Now(), id, "/data/a.csv", 10, 100, "sa-1")
	sess.RemovePath("/data/a.csv")

	if q.ContainsPath("/data/a.csv") {
		t.Error("Expected path removed from queue")
	}
	if len(m.FileOrder(id)) != 0 {
		t.Error("Expected per-file tracking purged")
	}
	if _, ok := m.FileRecord(id, "/data/a.csv"); ok {
		t.Error("Expected file record purged")
	}
}

func TestClearQueue(t *testing.T) {
	sess, _, q, m := newStubSession(&stubEngine{})
	added := sess.AddPaths([]string{"/data/a.csv"})
	m.RecordFileProgress(time.Now(), added[0].ID, "/data/a.csv", 10, 100, "")

	sess.ClearQueue()

	if q.Len() != 0 {
		t.Errorf("Expected empty queue, got %d", q.Len())
	}
	if len(m.FileOrder(added[0].ID)) != 0 {
		t.Error("Expected derived state cleared")
	}
}

func TestTickOnceFeedsEstimator(t *testing.T) {
	sess, _, q, m := newStubSession(&stubEngine{})
	added := sess.AddPaths([]string{"/data/a.csv"})
	id := added[0].ID

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q.SetItemStatus(id, queue.StatusUploading)
	q.SetItemProgress(id, 0, 2_000_000)
	sess.TickOnce(t0)

	q.SetItemProgress(id, 500_000, 2_000_000)
	sess.TickOnce(t0.Add(500 * time.Millisecond))

	tr, ok := m.Transfer(id)
	if !ok || tr.SpeedBPS != 1_000_000 {
		t.Errorf("Expected 1000000 B/s, got %d", tr.SpeedBPS)
	}
	if tr.ETASeconds == nil || *tr.ETASeconds != 2 {
		t.Errorf("Expected ETA 2s, got %v", tr.ETASeconds)
	}
}

func TestFileProgressUsesEventTime(t *testing.T) {
	sess, _, _, m := newStubSession(&stubEngine{})
	added := sess.AddPaths([]string{"/data/a.csv"})
	id := added[0].ID

	// Rates must derive from when the engine emitted the events, not from
	// when a backlogged channel got around to delivering them.
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	sess.apply(&events.FileProgressEvent{
		BaseEvent:  events.BaseEvent{EventType: events.EventFileProgress, Time: at},
		ItemID:     id,
		FilePath:   "/data/a.csv",
		BytesSent:  0,
		TotalBytes: 1_500_000,
	})
	sess.apply(&events.FileProgressEvent{
		BaseEvent:  events.BaseEvent{EventType: events.EventFileProgress, Time: at.Add(500 * time.Millisecond)},
		ItemID:     id,
		FilePath:   "/data/a.csv",
		BytesSent:  500_000,
		TotalBytes: 1_500_000,
	})

	tr, ok := m.FileTransfer(id, "/data/a.csv")
	if !ok {
		t.Fatal("Expected a file transfer entry")
	}
	if tr.SpeedBPS != 1_000_000 {
		t.Errorf("Expected 1000000 B/s from event timestamps, got %d", tr.SpeedBPS)
	}
}

func TestCompletedSignalsAfterFinalStatuses(t *testing.T) {
	bus := events.NewEventBus(1000)
	q := queue.NewStore(bus)
	m := metrics.NewStore()
	eng := engine.NewSim(bus, nil, engine.SimConfig{MaxConcurrent: 4})
	sess := New(bus, q, m, eng, nil, time.Second)

	sess.AddPaths([]string{"/data/r1", "/data/r2", "/data/r3", "/data/r4"})
	sess.Start()
	defer sess.Stop()

	if err := sess.StartUpload(context.Background(), "dest"); err != nil {
		t.Fatalf("StartUpload failed: %v", err)
	}

	select {
	case summary := <-sess.Completed():
		// Every item must already hold its final status the instant the
		// signal fires; a raw bus subscriber can observe the completion
		// event while final statuses still sit in the session's queue.
		stats := q.Stats()
		if stats.Done+stats.Failed != stats.Total() {
			t.Fatalf("Completion signaled with non-terminal items: %+v", stats)
		}
		if summary.Total != 4 || summary.Succeeded != 4 {
			t.Errorf("Unexpected summary %+v", summary)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not complete in time")
	}
}

func TestEndToEndRun(t *testing.T) {
	bus := events.NewEventBus(1000)
	q := queue.NewStore(bus)
	m := metrics.NewStore()
	eng := engine.NewSim(bus, nil, engine.SimConfig{
		MaxConcurrent: 2,
		WorkerLabels:  []string{"sa-1@proj"},
	})
	sess := New(bus, q, m, eng, nil, 10*time.Millisecond)

	sess.AddPaths([]string{"/data/report.csv", "/data/results/"})
	sess.Start()
	defer sess.Stop()

	if err := sess.StartUpload(context.Background(), "dest-folder"); err != nil {
		t.Fatalf("StartUpload failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if summary, ok := sess.LastSummary(); ok {
			if summary.Total != 2 || summary.Succeeded != 2 {
				t.Fatalf("Unexpected summary %+v", summary)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("Run did not complete in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	stats := q.Stats()
	if stats.Done != 2 {
		t.Fatalf("Expected both items done, got %+v", stats)
	}
	for _, it := range q.Items() {
		if it.Fraction() != 1.0 {
			t.Errorf("Item %s: expected full fraction, got %f", it.ID, it.Fraction())
		}
		if len(m.FileOrder(it.ID)) == 0 {
			t.Errorf("Item %s: expected tracked files", it.ID)
		}
	}

	// A tick over finished items reports an explicit zero ETA.
	sess.TickOnce(time.Now())
	for _, it := range q.Items() {
		tr, _ := m.Transfer(it.ID)
		if tr.ETASeconds == nil || *tr.ETASeconds != 0 {
			t.Errorf("Item %s: expected ETA 0, got %v", it.ID, tr.ETASeconds)
		}
	}
}
