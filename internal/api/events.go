package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gyaneshwarpardhi/civicpulse/internal/event"
	"github.com/gyaneshwarpardhi/civicpulse/internal/filter"
	"github.com/gyaneshwarpardhi/civicpulse/internal/stream"
)

// resumeCursor prefers the Last-Event-ID header a reconnecting browser
// sends over the lastEventId query parameter it first connected with.
// Anything that is not an event id resumes from the start.
func resumeCursor(r *http.Request) string {
	id := r.Header.Get("Last-Event-ID")
	if id == "" {
		id = r.URL.Query().Get("lastEventId")
	}
	if !event.ValidID(id) {
		return ""
	}
	return id
}

// GET /v1/events?lastEventId=&filter= — polling fallback for clients
// that cannot hold a stream open.
func (h *Handler) pollEvents(w http.ResponseWriter, r *http.Request) {
	f, err := filter.Compile(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cursor := resumeCursor(r)
	events, err := h.Events.ListSince(r.Context(), cursor)
	if err != nil {
		h.log.Error("list events failed", "cursor", cursor, "err", err)
		writeError(w, http.StatusInternalServerError, "could not read events")
		return
	}

	out := make([]event.Event, 0, len(events))
	for _, ev := range events {
		if f.Match(ev) {
			out = append(out, ev)
		}
		cursor = ev.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": out,
		"cursor": cursor,
	})
}

// GET /v1/stream?lastEventId=&filter= — server-sent events.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	f, err := filter.Compile(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sw, err := stream.NewWriter(w)
	if err != nil {
		h.log.Error("stream setup failed", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(h.Streams, cancel)
	defer stop()

	sess := stream.NewSession(h.Events, sw, h.StreamConfig(), resumeCursor(r), f, h.log)
	h.log.Debug("stream opened", "session_id", sess.ID, "cursor", sess.Cursor(), "filter", f.String())
	if err := sess.Run(ctx); err != nil && !errors.Is(err, stream.ErrClientGone) {
		h.log.Error("stream ended unexpectedly", "session_id", sess.ID, "err", err)
	}
}
