package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gyaneshwarpardhi/civicpulse/internal/event"
)

// Writer encodes events as server-sent-event frames:
//
//	id: <id>
//	event: <type>
//	data: <json>
//
// Every frame is flushed as soon as it is written.
type Writer struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewWriter sends the stream headers and lifts the server write deadline
// for w. It fails when w cannot be flushed.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return nil, fmt.Errorf("clear write deadline: %w", err)
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("response does not support streaming: %w", err)
	}
	return &Writer{w: w, rc: rc}, nil
}

// WriteEvent writes one frame. The id line is omitted when ev.ID is empty.
func (sw *Writer) WriteEvent(ev event.Event) error {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", ev.Type, err)
	}
	if ev.ID != "" {
		if _, err := fmt.Fprintf(sw.w, "id: %s\n", ev.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	return sw.rc.Flush()
}
