// Package stream tails the event store for one connected client and
// writes each event to it as it appears.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/civicpulse/internal/event"
	"github.com/gyaneshwarpardhi/civicpulse/internal/filter"
	"github.com/gyaneshwarpardhi/civicpulse/internal/metrics"
)

// ErrClientGone ends a session whose client disconnected or could no
// longer be written to. It is a normal end of life, not a failure.
var ErrClientGone = errors.New("stream client gone")

const (
	DefaultPollInterval      = time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultMaxLifetime       = 5 * time.Minute
)

// Config holds the per-session timing knobs.
type Config struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	MaxLifetime       time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = DefaultMaxLifetime
	}
	return c
}

// Source is the read side of the event store.
type Source interface {
	ListSince(ctx context.Context, cursor string) ([]event.Event, error)
	Notify() <-chan struct{}
}

// Sink receives frames. A write error means the client is gone.
type Sink interface {
	WriteEvent(ev event.Event) error
}

// State is where a session is in its life cycle.
type State int

const (
	StateConnecting State = iota
	StateStreaming
	StateHeartbeat
	StateDelivering
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateHeartbeat:
		return "heartbeat"
	case StateDelivering:
		return "delivering"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session is one client's view of the stream. Run drives it; a Session
// is not reusable.
type Session struct {
	ID string

	src    Source
	sink   Sink
	conf   Config
	filter *filter.Filter
	log    *slog.Logger

	cursor string
	state  State
}

// NewSession prepares a session that resumes after cursor. An empty or
// malformed cursor starts from the oldest retained event. f may be nil.
func NewSession(src Source, sink Sink, conf Config, cursor string, f *filter.Filter, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	if !event.ValidID(cursor) {
		cursor = ""
	}
	id := uuid.NewString()
	return &Session{
		ID:     id,
		src:    src,
		sink:   sink,
		conf:   conf.withDefaults(),
		filter: f,
		log:    log.With("component", "stream", "session_id", id),
		cursor: cursor,
	}
}

// Cursor is the id of the last event delivered or skipped.
func (s *Session) Cursor() string { return s.cursor }

// State returns the current life-cycle state. Only meaningful from the
// goroutine running the session or after Run returns.
func (s *Session) State() State { return s.state }

// Run streams until the client goes away (ErrClientGone), ctx is
// cancelled (ErrClientGone) or the lifetime ceiling is reached (nil,
// after a timeout frame).
func (s *Session) Run(ctx context.Context) (err error) {
	metrics.StreamsActive.Inc()
	start := time.Now()
	defer func() {
		s.state = StateClosed
		metrics.StreamsActive.Dec()
		reason := "timeout"
		if err != nil {
			reason = "client_gone"
		}
		metrics.StreamsClosed.WithLabelValues(reason).Inc()
		s.log.Debug("stream closed", "reason", reason, "cursor", s.cursor, "duration", time.Since(start))
	}()

	s.state = StateConnecting
	if err := s.emit(&event.Connected{ServerTime: time.Now().UTC(), ResumeFrom: s.cursor}); err != nil {
		return err
	}
	s.state = StateStreaming

	lifetime := time.NewTimer(s.conf.MaxLifetime)
	defer lifetime.Stop()
	heartbeat := time.NewTimer(s.conf.HeartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(s.conf.PollInterval)
	defer poll.Stop()

	for {
		// Subscribe before reading so an append between the read and the
		// wait still wakes us.
		notify := s.src.Notify()

		delivered, err := s.deliver(ctx)
		if err != nil {
			return err
		}
		if delivered {
			resetTimer(heartbeat, s.conf.HeartbeatInterval)
		}

		select {
		case <-ctx.Done():
			return ErrClientGone
		case <-lifetime.C:
			return s.emit(&event.Timeout{
				ServerTime:  time.Now().UTC(),
				LastEventID: s.cursor,
				Reason:      "max_lifetime",
			})
		case <-heartbeat.C:
			s.state = StateHeartbeat
			if err := s.emit(&event.Heartbeat{ServerTime: time.Now().UTC()}); err != nil {
				return err
			}
			heartbeat.Reset(s.conf.HeartbeatInterval)
			s.state = StateStreaming
		case <-poll.C:
		case <-notify:
		}
	}
}

// deliver writes every pending event past the cursor and reports whether
// any frame was written.
func (s *Session) deliver(ctx context.Context) (bool, error) {
	events, err := s.src.ListSince(ctx, s.cursor)
	if err != nil {
		if ctx.Err() != nil {
			return false, ErrClientGone
		}
		// Store hiccups are retried on the next wake.
		s.log.Warn("list events failed", "cursor", s.cursor, "err", err)
		return false, nil
	}
	if len(events) == 0 {
		return false, nil
	}

	s.state = StateDelivering
	defer func() { s.state = StateStreaming }()

	wrote := false
	for _, ev := range events {
		if ctx.Err() != nil {
			return wrote, ErrClientGone
		}
		if s.filter.Match(ev) {
			if err := s.write(ev); err != nil {
				return wrote, err
			}
			wrote = true
		}
		s.cursor = ev.ID
	}
	return wrote, nil
}

// emit writes a synthetic frame. It carries the current cursor as its id
// so a client's resume point never moves to something that is not an event.
func (s *Session) emit(p event.Payload) error {
	return s.write(event.Event{ID: s.cursor, Type: p.EventType(), Payload: p, CreatedAt: time.Now().UTC()})
}

func (s *Session) write(ev event.Event) error {
	if err := s.sink.WriteEvent(ev); err != nil {
		return fmt.Errorf("%w: %v", ErrClientGone, err)
	}
	metrics.StreamFrames.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
