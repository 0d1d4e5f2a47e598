package activity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type captureSink struct {
	mu     sync.Mutex
	events []*Event
	err    error
}

func (s *captureSink) Write(_ context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) all() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Event(nil), s.events...)
}

func TestRecorderDeliversAsync(t *testing.T) {
	sink := &captureSink{}
	rec := NewRecorder(sink)

	rec.Record(&Event{Type: "message_sent", UserID: "user-1"})
	rec.Record(&Event{Type: "mode_changed", UserID: "user-1"})
	rec.Close()

	events := sink.all()
	if len(events) != 2 {
		t.Fatalf("Expected 2 events after drain, got %d", len(events))
	}
	if events[0].Type != "message_sent" {
		t.Errorf("Expected events in order, got %s first", events[0].Type)
	}
	if events[0].At.IsZero() {
		t.Error("Expected the recorder to stamp the event time")
	}
}

func TestRecorderSwallowsSinkFailure(t *testing.T) {
	sink := &captureSink{err: errors.New("sink down")}
	rec := NewRecorder(sink)

	rec.Record(&Event{Type: "message_sent"})
	rec.Close() // must not panic or block
}

func TestRecordNilSafe(t *testing.T) {
	var rec *Recorder
	rec.Record(&Event{Type: "message_sent"})

	live := NewRecorder(&captureSink{})
	live.Record(nil)
	live.Close()
}

func TestRecorderDropsWhenFull(t *testing.T) {
	blocked := make(chan struct{})
	sink := &blockingSink{release: blocked}
	rec := NewRecorder(sink, WithBuffer(1))

	// first event occupies the worker, second fills the buffer, third drops
	for i := 0; i < 3; i++ {
		rec.Record(&Event{Type: "message_sent"})
	}
	close(blocked)
	rec.Close()

	if sink.count() > 2 {
		t.Errorf("Expected at most 2 delivered events, got %d", sink.count())
	}
}

type blockingSink struct {
	mu      sync.Mutex
	n       int
	release chan struct{}
}

func (s *blockingSink) Write(_ context.Context, _ *Event) error {
	<-s.release
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	return nil
}

func (s *blockingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func TestExcerptStripsHTML(t *testing.T) {
	got := Excerpt("<p>Hello <strong>world</strong></p>", 0)
	if got != "Hello world" {
		t.Errorf("Expected 'Hello world', got %q", got)
	}
}

func TestExcerptCollapsesWhitespace(t *testing.T) {
	got := Excerpt("hello\n\n   world\t!", 0)
	if got != "hello world !" {
		t.Errorf("Expected collapsed whitespace, got %q", got)
	}
}

func TestExcerptTruncates(t *testing.T) {
	got := Excerpt(strings.Repeat("a", 300), 0)
	if len([]rune(got)) != DefaultExcerptLen+1 {
		t.Errorf("Expected %d runes plus ellipsis, got %d", DefaultExcerptLen, len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("Expected an ellipsis suffix, got %q", got)
	}
}

func TestExcerptPlainTextUnchanged(t *testing.T) {
	got := Excerpt("2 < 3 is true", 0)
	if got != "2 < 3 is true" {
		t.Errorf("Expected plain text untouched, got %q", got)
	}
}
