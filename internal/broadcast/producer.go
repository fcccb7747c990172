// Package broadcast is the write side of the event stream: the only way
// business flows put events in front of connected clients.
package broadcast

import (
	"context"
	"log/slog"

	"github.com/gyaneshwarpardhi/civicpulse/internal/event"
	"github.com/gyaneshwarpardhi/civicpulse/internal/metrics"
)

// Appender is the part of the event store a producer needs.
type Appender interface {
	Append(ctx context.Context, p event.Payload) (event.Event, error)
}

// Publisher is what callers of the broadcast API depend on.
type Publisher interface {
	Publish(ctx context.Context, p event.Payload) bool
}

// Producer publishes events best-effort: a failure is logged and reported
// as false, never returned as an error the caller could let abort its own
// operation.
type Producer struct {
	store Appender
	log   *slog.Logger
}

var _ Publisher = (*Producer)(nil)

// NewProducer creates a Producer writing to store.
func NewProducer(store Appender, log *slog.Logger) *Producer {
	if log == nil {
		log = slog.Default()
	}
	return &Producer{store: store, log: log.With("component", "broadcast")}
}

// Publish appends p and reports whether it was stored.
func (p *Producer) Publish(ctx context.Context, payload event.Payload) bool {
	if payload == nil {
		p.log.Warn("publish skipped: nil payload")
		return false
	}
	typ := payload.EventType()
	ev, err := p.store.Append(ctx, payload)
	if err != nil {
		metrics.PublishFailures.WithLabelValues(string(typ)).Inc()
		p.log.Error("broadcast failed", "type", typ, "err", err)
		return false
	}
	p.log.Debug("event broadcast", "id", ev.ID, "type", typ)
	return true
}
