package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/civicpulse/internal/event"
	"github.com/gyaneshwarpardhi/civicpulse/internal/metrics"
)

const (
	recordExt  = ".evt"
	tempPrefix = ".pending-"
)

// Options tunes a FileStore. Zero values fall back to defaults.
type Options struct {
	Retention     time.Duration    // default DefaultRetention
	SweepInterval time.Duration    // minimum gap between opportunistic sweeps; <0 disables them
	Logger        *slog.Logger     // default slog.Default()
	Now           func() time.Time // default time.Now
}

// FileStore keeps one file per event in a directory. File names are the
// event ids, so a sorted directory listing is the log in order.
type FileStore struct {
	dir       string
	log       *slog.Logger
	now       func() time.Time
	ids       *event.IDGenerator
	retention atomic.Int64 // nanoseconds
	sweepGap  time.Duration
	lastSweep atomic.Int64 // unix nanoseconds

	// Append and PurgeExpired hold mu exclusively, ListSince shares it.
	// Holding it across id assignment and the rename keeps ids visible in
	// order and keeps reads from racing a purge.
	mu     sync.RWMutex
	closed bool

	notifyMu sync.Mutex
	notify   chan struct{}
}

var _ Store = (*FileStore)(nil)

// OpenFileStore opens (or creates) an event directory. Leftover temp files
// from an interrupted append are removed and the id generator is seeded
// from the newest record.
func OpenFileStore(dir string, opts Options) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("event store dir is required")
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event dir %s: %w", dir, err)
	}

	s := &FileStore{
		dir:      filepath.Clean(dir),
		log:      opts.Logger.With("component", "event_store"),
		now:      opts.Now,
		ids:      event.NewIDGeneratorWithClock(opts.Now),
		sweepGap: opts.SweepInterval,
		notify:   make(chan struct{}),
	}
	s.retention.Store(int64(opts.Retention))

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read event dir %s: %w", s.dir, err)
	}
	var newest string
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasPrefix(name, tempPrefix):
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
				s.log.Warn("failed to remove stale temp file", "file", name, "err", err)
			}
		case strings.HasSuffix(name, recordExt):
			id := strings.TrimSuffix(name, recordExt)
			if event.ValidID(id) && id > newest {
				newest = id
			}
		}
	}
	if newest != "" {
		if err := s.ids.Observe(newest); err != nil {
			return nil, err
		}
	}
	s.log.Info("event store opened", "dir", s.dir, "newest_id", newest)
	return s, nil
}

// Retention returns the current retention window.
func (s *FileStore) Retention() time.Duration {
	return time.Duration(s.retention.Load())
}

// SetRetention changes the retention window (used on config reload).
func (s *FileStore) SetRetention(d time.Duration) {
	if d > 0 {
		s.retention.Store(int64(d))
	}
}

// Append persists p under a fresh id.
func (s *FileStore) Append(ctx context.Context, p event.Payload) (event.Event, error) {
	if p == nil {
		return event.Event{}, fmt.Errorf("append: nil payload")
	}
	typ := p.EventType()
	if typ.Transport() {
		return event.Event{}, fmt.Errorf("append %s: %w", typ, ErrTransportEvent)
	}
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return event.Event{}, ErrClosed
	}

	ev := event.Event{
		ID:        s.ids.Next(),
		Type:      typ,
		Payload:   p,
		CreatedAt: s.now().UTC(),
	}
	data, err := encodeEvent(ev)
	if err != nil {
		return event.Event{}, err
	}
	if err := s.writeAtomic(ev.ID+recordExt, data); err != nil {
		return event.Event{}, fmt.Errorf("append %s: %w", ev.ID, err)
	}
	metrics.EventsAppended.WithLabelValues(string(typ)).Inc()
	s.wake()
	return ev, nil
}

// writeAtomic writes data under a temp name, syncs it and renames it into
// place, so readers see either the whole record or nothing.
func (s *FileStore) writeAtomic(name string, data []byte) error {
	f, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		cleanup()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, name)); err != nil {
		cleanup()
		return fmt.Errorf("rename: %w", err)
	}
	// The rename is only durable once the directory entry is.
	return syncDir(s.dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}

// ListSince returns retained events with id greater than cursor.
func (s *FileStore) ListSince(ctx context.Context, cursor string) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cursor != "" && !event.ValidID(cursor) {
		s.log.Debug("ignoring malformed cursor", "cursor", cursor)
		cursor = ""
	}
	s.maybeSweep(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	names, err := s.recordNames()
	if err != nil {
		return nil, err
	}
	start := 0
	if cursor != "" {
		start = sort.Search(len(names), func(i int) bool {
			return strings.TrimSuffix(names[i], recordExt) > cursor
		})
	}

	cutoff := s.now().Add(-s.Retention())
	out := make([]event.Event, 0, len(names)-start)
	for _, name := range names[start:] {
		ev, err := s.readRecord(name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if errors.Is(err, errCorrupt) {
				s.log.Warn("skipping unreadable event record", "file", name, "err", err)
				metrics.CorruptRecords.Inc()
				continue
			}
			return nil, err
		}
		if !ev.CreatedAt.After(cutoff) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

var errCorrupt = errors.New("corrupt event record")

func (s *FileStore) readRecord(name string) (event.Event, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return event.Event{}, fmt.Errorf("read %s: %w", name, err)
	}
	ev, err := decodeEvent(data)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: %s: %v", errCorrupt, name, err)
	}
	return ev, nil
}

// recordNames lists record files in id order. Caller holds mu.
func (s *FileStore) recordNames() ([]string, error) {
	entries, err := os.ReadDir(s.dir) // sorted by filename
	if err != nil {
		return nil, fmt.Errorf("read event dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), recordExt) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// PurgeExpired deletes events created maxAge or more ago.
func (s *FileStore) PurgeExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = s.Retention()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	names, err := s.recordNames()
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		expired, err := s.expired(name, cutoff)
		if err != nil {
			s.log.Warn("retention check failed", "file", name, "err", err)
			continue
		}
		if !expired {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("purge %s: %w", name, err)
		}
		removed++
	}
	if removed > 0 {
		metrics.EventsPurged.Add(float64(removed))
		s.log.Debug("purged expired events", "count", removed, "max_age", maxAge)
	}
	return removed, nil
}

// expired decides by created_at. Records that no longer decode fall back
// to the file's modification time so they do not linger forever.
func (s *FileStore) expired(name string, cutoff time.Time) (bool, error) {
	ev, err := s.readRecord(name)
	if err == nil {
		return !ev.CreatedAt.After(cutoff), nil
	}
	if !errors.Is(err, errCorrupt) {
		return false, err
	}
	info, statErr := os.Stat(filepath.Join(s.dir, name))
	if statErr != nil {
		return false, statErr
	}
	return !info.ModTime().After(cutoff), nil
}

func (s *FileStore) maybeSweep(ctx context.Context) {
	if s.sweepGap < 0 {
		return
	}
	now := s.now().UnixNano()
	last := s.lastSweep.Load()
	if now-last < int64(s.sweepGap) || !s.lastSweep.CompareAndSwap(last, now) {
		return
	}
	if _, err := s.PurgeExpired(ctx, s.Retention()); err != nil && !errors.Is(err, ErrClosed) {
		s.log.Warn("opportunistic sweep failed", "err", err)
	}
}

// RunSweeper purges expired events every interval until ctx is done.
func (s *FileStore) RunSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PurgeExpired(ctx, s.Retention()); err != nil {
				if errors.Is(err, ErrClosed) || ctx.Err() != nil {
					return
				}
				s.log.Warn("retention sweep failed", "err", err)
			}
			s.lastSweep.Store(s.now().UnixNano())
		}
	}
}

// Notify returns a channel closed by the next successful Append or Close.
func (s *FileStore) Notify() <-chan struct{} {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return s.notify
}

func (s *FileStore) wake() {
	s.notifyMu.Lock()
	close(s.notify)
	s.notify = make(chan struct{})
	s.notifyMu.Unlock()
}

// Close marks the store closed and wakes every waiting consumer.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.wake()
	return nil
}
