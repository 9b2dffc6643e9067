package audit

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type collectSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectSink) Emit(ctx context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *collectSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestDispatcherDeliversEvents(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "login_success"})
	}
	d.Close()

	if got := len(sink.snapshot()); got != 5 {
		t.Fatalf("expected 5 events after close, got %d", got)
	}
	if d.Dropped() != 0 {
		t.Fatalf("unexpected drops: %d", d.Dropped())
	}
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &collectSink{})
	if d != nil {
		t.Fatal("disabled dispatcher must be nil")
	}

	// Nil receivers are safe everywhere on the emit path.
	d.Emit(context.Background(), Event{EventType: "logout"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	blocking := sinkFunc(func(ctx context.Context, event Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, blocking)

	// First event occupies the sink, second fills the buffer, third drops.
	d.Emit(context.Background(), Event{EventType: "a"})
	<-started
	d.Emit(context.Background(), Event{EventType: "b"})
	deadline := time.After(time.Second)
	for d.Dropped() == 0 {
		d.Emit(context.Background(), Event{EventType: "c"})
		select {
		case <-deadline:
			t.Fatal("overflow event was never dropped")
		default:
		}
	}

	close(release)
	d.Close()
}

func TestEmitAfterCloseIsNoOp(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	d.Close()
	d.Close()

	d.Emit(context.Background(), Event{EventType: "late"})
	if got := len(sink.snapshot()); got != 0 {
		t.Fatalf("event delivered after close: %d", got)
	}
}

func TestNilSinkFallsBackToNoOp(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, nil)
	d.Emit(context.Background(), Event{EventType: "login_success"})
	d.Close()
}

func TestChannelSink(t *testing.T) {
	s := NewChannelSink(2)
	want := Event{EventType: "session_created", UserID: "u1"}
	s.Emit(context.Background(), want)

	select {
	case got := <-s.Events():
		if got.EventType != want.EventType || got.UserID != want.UserID {
			t.Fatalf("unexpected event: %+v", got)
		}
	default:
		t.Fatal("event not buffered")
	}

	// A full channel respects context cancellation instead of blocking.
	s = NewChannelSink(1)
	s.Emit(context.Background(), want)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Emit(ctx, want)
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)

	s.Emit(context.Background(), Event{EventType: "login_failure", IP: "203.0.113.9", Success: false})
	s.Emit(context.Background(), Event{EventType: "logout", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSON lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"event_type":"login_failure"`) {
		t.Fatalf("unexpected first line: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"success":true`) {
		t.Fatalf("unexpected second line: %s", lines[1])
	}
}

type sinkFunc func(ctx context.Context, event Event)

func (f sinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }
