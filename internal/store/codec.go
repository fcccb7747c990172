package store

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/gyaneshwarpardhi/civicpulse/internal/event"
)

// record is the on-disk form of one event. Payload stays raw until the type
// is known so it decodes straight into the matching struct.
type record struct {
	ID        string          `cbor:"1,keyasint"`
	Type      string          `cbor:"2,keyasint"`
	CreatedAt int64           `cbor:"3,keyasint"` // unix nanoseconds
	Payload   cbor.RawMessage `cbor:"4,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Deterministic encoding: the same event always produces the same bytes.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: cbor encoder init: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: cbor decoder init: " + err.Error())
	}
}

func encodeEvent(ev event.Event) ([]byte, error) {
	payload, err := encMode.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Type, err)
	}
	return encMode.Marshal(record{
		ID:        ev.ID,
		Type:      string(ev.Type),
		CreatedAt: ev.CreatedAt.UnixNano(),
		Payload:   payload,
	})
}

func decodeEvent(data []byte) (event.Event, error) {
	var rec record
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return event.Event{}, fmt.Errorf("decode record: %w", err)
	}
	typ := event.Type(rec.Type)
	p, err := event.NewPayload(typ)
	if err != nil {
		return event.Event{}, err
	}
	if err := decMode.Unmarshal(rec.Payload, p); err != nil {
		return event.Event{}, fmt.Errorf("decode %s payload: %w", typ, err)
	}
	return event.Event{
		ID:        rec.ID,
		Type:      typ,
		Payload:   p,
		CreatedAt: time.Unix(0, rec.CreatedAt).UTC(),
	}, nil
}
