package event

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// IDs are "<16-digit unix micros>-<10-digit sequence>". Fixed width keeps
// lexical order equal to numeric order.
const (
	idTimeWidth = 16
	idSeqWidth  = 10
	idLen       = idTimeWidth + 1 + idSeqWidth
)

// IDGenerator issues strictly increasing event ids. The sequence part makes
// uniqueness explicit: when the clock stalls or steps backwards the last
// timestamp is reused and the sequence bumped.
type IDGenerator struct {
	mu     sync.Mutex
	now    func() time.Time
	micros int64
	seq    int64
}

// NewIDGenerator returns a generator reading the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// NewIDGeneratorWithClock is NewIDGenerator with an injectable clock.
func NewIDGeneratorWithClock(now func() time.Time) *IDGenerator {
	return &IDGenerator{now: now}
}

// Next returns an id greater than every id returned or observed before.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	us := g.now().UnixMicro()
	if us > g.micros {
		g.micros = us
		g.seq = 0
	} else {
		g.seq++
	}
	return formatID(g.micros, g.seq)
}

// Observe advances the generator past id, so ids issued after a restart
// still sort after everything already persisted.
func (g *IDGenerator) Observe(id string) error {
	us, seq, err := ParseID(id)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if us > g.micros || (us == g.micros && seq > g.seq) {
		g.micros, g.seq = us, seq
	}
	return nil
}

// ParseID splits an id into its timestamp and sequence parts.
func ParseID(id string) (micros, seq int64, err error) {
	if len(id) != idLen || id[idTimeWidth] != '-' {
		return 0, 0, fmt.Errorf("malformed event id %q", id)
	}
	for i := 0; i < len(id); i++ {
		if i != idTimeWidth && (id[i] < '0' || id[i] > '9') {
			return 0, 0, fmt.Errorf("malformed event id %q: non-digit at %d", id, i)
		}
	}
	ts, sq := id[:idTimeWidth], id[idTimeWidth+1:]
	if micros, err = strconv.ParseInt(ts, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("malformed event id %q: %w", id, err)
	}
	if seq, err = strconv.ParseInt(sq, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("malformed event id %q: %w", id, err)
	}
	return micros, seq, nil
}

// ValidID reports whether id has the generator's format.
func ValidID(id string) bool {
	_, _, err := ParseID(id)
	return err == nil
}

func formatID(micros, seq int64) string {
	return fmt.Sprintf("%0*d-%0*d", idTimeWidth, micros, idSeqWidth, seq)
}
