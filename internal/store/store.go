// Package store holds the durable, append-only event log that every
// broadcast flows through.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/gyaneshwarpardhi/civicpulse/internal/event"
)

// DefaultRetention is how long an event stays readable.
const DefaultRetention = time.Hour

var (
	// ErrTransportEvent is returned when a caller tries to persist a
	// connection-local event such as a heartbeat.
	ErrTransportEvent = errors.New("transport events cannot be stored")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("event store closed")
)

// Store is the event log contract shared by producers and stream consumers.
//
// Append assigns an id strictly greater than every earlier id and persists
// the event atomically. ListSince returns retained events with id > cursor
// in id order; an empty or already purged cursor resumes from the oldest
// retained event. PurgeExpired removes events older than maxAge. Notify
// returns a channel that is closed on the next successful Append.
type Store interface {
	Append(ctx context.Context, p event.Payload) (event.Event, error)
	ListSince(ctx context.Context, cursor string) ([]event.Event, error)
	PurgeExpired(ctx context.Context, maxAge time.Duration) (int, error)
	Notify() <-chan struct{}
}
