package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lumenlms/tutorkit/pkg/logging"
)

// Event is one structured interaction record handed to a sink. Events carry
// provenance for analytics; they are never read back by the engine.
type Event struct {
	Type           string         `json:"type" bson:"type"`
	UserID         string         `json:"user_id" bson:"user_id"`
	SessionID      string         `json:"session_id,omitempty" bson:"session_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty" bson:"conversation_id,omitempty"`
	AgentID        string         `json:"agent_id,omitempty" bson:"agent_id,omitempty"`
	Mode           string         `json:"mode,omitempty" bson:"mode,omitempty"`
	Style          string         `json:"style,omitempty" bson:"style,omitempty"`
	Excerpt        string         `json:"excerpt,omitempty" bson:"excerpt,omitempty"`
	Reason         string         `json:"reason,omitempty" bson:"reason,omitempty"`
	Confidence     float64        `json:"confidence,omitempty" bson:"confidence,omitempty"`
	LatencyMS      int64          `json:"latency_ms,omitempty" bson:"latency_ms,omitempty"`
	Detail         map[string]any `json:"detail,omitempty" bson:"detail,omitempty"`
	At             time.Time      `json:"at" bson:"at"`
}

// Sink accepts event records. Implementations must tolerate concurrent calls
// from the recorder's worker.
type Sink interface {
	Write(ctx context.Context, ev *Event) error
}

// Recorder is a fire-and-forget hand-off to a sink. Record never blocks and
// never fails the caller: events flow through a buffered channel to a
// background worker, and sink failures are logged as warnings and dropped.
type Recorder struct {
	ch     chan *Event
	sink   Sink
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*recorderConfig)

type recorderConfig struct {
	buffer int
	logger *slog.Logger
}

// WithBuffer sets the channel buffer size.
func WithBuffer(n int) RecorderOption {
	return func(c *recorderConfig) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// WithLogger overrides the recorder logger.
func WithLogger(logger *slog.Logger) RecorderOption {
	return func(c *recorderConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewRecorder starts a recorder delivering to sink.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	cfg := &recorderConfig{buffer: 256}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.WithComponent("activity")
	}

	r := &Recorder{
		ch:     make(chan *Event, cfg.buffer),
		sink:   sink,
		logger: cfg.logger,
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.ch {
		// Sink failures warn and are swallowed; delivery is best effort.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.sink.Write(ctx, ev); err != nil {
			r.logger.Warn("activity event dropped", "type", ev.Type, "error", err)
		}
		cancel()
	}
}

// Record enqueues an event without blocking. When the buffer is saturated
// the event is dropped with a warning rather than stalling the request path.
func (r *Recorder) Record(ev *Event) {
	if r == nil || ev == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case r.ch <- ev:
	default:
		r.logger.Warn("activity buffer full, dropping event", "type", ev.Type)
	}
}

// Close stops accepting events and waits for the worker to drain the buffer.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.ch)
	})
	<-r.done
}

// SlogSink writes events to a structured logger. It is the default sink.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink writing to the given logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = logging.WithComponent("activity_events")
	}
	return &SlogSink{logger: logger}
}

// Write implements Sink.
func (s *SlogSink) Write(_ context.Context, ev *Event) error {
	s.logger.Info("tutor activity",
		"type", ev.Type,
		"user", ev.UserID,
		"session", ev.SessionID,
		"conversation", ev.ConversationID,
		"agent", ev.AgentID,
		"mode", ev.Mode,
		"style", ev.Style,
		"reason", ev.Reason,
		"confidence", ev.Confidence,
		"latency_ms", ev.LatencyMS,
		"excerpt", ev.Excerpt,
	)
	return nil
}
