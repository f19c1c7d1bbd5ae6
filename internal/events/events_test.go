package events

import (
	"testing"
	"time"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventItemProgress)

	bus.PublishItemProgress("item-1", "/tmp/a.txt", 500, 1000)

	select {
	case received := <-ch:
		progress, ok := received.(*ItemProgressEvent)
		if !ok {
			t.Fatal("Expected ItemProgressEvent")
		}
		if progress.ItemID != "item-1" {
			t.Errorf("Expected item id 'item-1', got '%s'", progress.ItemID)
		}
		if progress.BytesSent != 500 || progress.TotalBytes != 1000 {
			t.Errorf("Expected counters 500/1000, got %d/%d", progress.BytesSent, progress.TotalBytes)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch1 := bus.Subscribe(EventNotice)
	ch2 := bus.Subscribe(EventNotice)

	bus.PublishNotice("upload started")

	received1 := false
	received2 := false

	select {
	case <-ch1:
		received1 = true
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case <-ch2:
		received2 = true
	case <-time.After(100 * time.Millisecond):
	}

	if !received1 || !received2 {
		t.Error("Not all subscribers received the event")
	}
}

func TestEventBus_DifferentEventTypes(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	statusCh := bus.Subscribe(EventItemStatus)
	progressCh := bus.Subscribe(EventItemProgress)

	bus.PublishItemStatus("item-1", "/tmp/a.txt", "file", "uploading", nil, nil)

	select {
	case <-statusCh:
		// Expected
	case <-time.After(100 * time.Millisecond):
		t.Error("Status subscriber didn't receive event")
	}

	select {
	case <-progressCh:
		t.Error("Progress subscriber received wrong event type")
	case <-time.After(50 * time.Millisecond):
		// Expected - timeout means no event
	}
}

func TestEventBus_SubscribeAll(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	allCh := bus.SubscribeAll()

	bus.PublishNotice("first")
	bus.PublishItemProgress("item-1", "/tmp/a.txt", 1, 2)

	for i := 0; i < 2; i++ {
		select {
		case <-allCh:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("All-events subscriber missed event %d", i)
		}
	}
}

func TestEventBus_StatusEventPointerFields(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventItemStatus)

	msg := "SA worker-1@sim: quota exceeded"
	label := "worker-1@sim"
	bus.PublishItemStatus("item-1", "/tmp/a.txt", "file", "failed", &msg, &label)

	select {
	case received := <-ch:
		status := received.(*ItemStatusEvent)
		if status.Message == nil || *status.Message != msg {
			t.Errorf("Expected message %q, got %v", msg, status.Message)
		}
		if status.WorkerLabel == nil || *status.WorkerLabel != label {
			t.Errorf("Expected worker label %q, got %v", label, status.WorkerLabel)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_DropsWhenFull(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	// Subscribe but never drain.
	_ = bus.Subscribe(EventNotice)

	bus.PublishNotice("fills the buffer")
	bus.PublishNotice("dropped")

	if got := bus.DroppedEventCount(); got != 1 {
		t.Errorf("Expected 1 dropped event, got %d", got)
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventNotice)
	bus.Unsubscribe(EventNotice, ch)

	bus.PublishNotice("after unsubscribe")

	select {
	case <-ch:
		t.Error("Unsubscribed channel received an event")
	case <-time.After(50 * time.Millisecond):
		// Expected
	}
}

func TestEventBus_PublishAfterClose(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventNotice)
	bus.Close()

	// Must not panic.
	bus.PublishNotice("after close")

	if _, open := <-ch; open {
		t.Error("Channel should be closed after bus Close")
	}
}
