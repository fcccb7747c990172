package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/civicpulse/internal/event"
	"github.com/gyaneshwarpardhi/civicpulse/internal/geo"
	"github.com/gyaneshwarpardhi/civicpulse/internal/matcher"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type stubMatcher struct {
	block chan struct{}
	res   matcher.Result
}

func (s *stubMatcher) MatchAndAlert(_ context.Context, _ matcher.Incident) matcher.Result {
	if s.block != nil {
		<-s.block
	}
	return s.res
}

type recordingPublisher struct {
	mu        sync.Mutex
	fail      bool
	published []event.Payload
}

func (r *recordingPublisher) Publish(_ context.Context, p event.Payload) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return false
	}
	r.published = append(r.published, p)
	return true
}

func (r *recordingPublisher) snapshot() []event.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Payload(nil), r.published...)
}

func TestOnIncidentCreated_MatchesThenAnnounces(t *testing.T) {
	pub := &recordingPublisher{}
	m := &stubMatcher{res: matcher.Result{Status: matcher.StatusOK, AlertsTriggered: 2, ZonesMatched: 3}}
	d := New(context.Background(), m, pub, Config{Workers: 1, QueueDepth: 4, Timeout: time.Second}, quiet())
	defer d.Shutdown()

	out, err := d.OnIncidentCreated(context.Background(), matcher.Incident{
		ID: "r-1", Type: "general", Severity: matcher.SeverityHigh, Location: &geo.Point{Lat: 1, Lon: 2},
	})
	if err != nil {
		t.Fatalf("OnIncidentCreated: %v", err)
	}
	if !out.Broadcast || out.Match.AlertsTriggered != 2 || out.ReportID != "r-1" {
		t.Errorf("unexpected outcome %+v", out)
	}
	got := pub.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(got))
	}
	nr, ok := got[0].(*event.NewReport)
	if !ok || nr.ReportID != "r-1" || nr.Latitude != 1 || nr.Longitude != 2 || nr.Severity != "HIGH" {
		t.Errorf("unexpected new_report %+v", got[0])
	}
}

func TestOnIncidentCreated_PublishFailureIsNotAnError(t *testing.T) {
	d := New(context.Background(), &stubMatcher{}, &recordingPublisher{fail: true}, Config{Workers: 1, QueueDepth: 1}, quiet())
	defer d.Shutdown()

	out, err := d.OnIncidentCreated(context.Background(), matcher.Incident{ID: "r-1"})
	if err != nil {
		t.Fatalf("OnIncidentCreated: %v", err)
	}
	if out.Broadcast {
		t.Error("expected broadcast=false")
	}
}

func TestOnIncidentCreated_Timeout(t *testing.T) {
	m := &stubMatcher{block: make(chan struct{})}
	d := New(context.Background(), m, &recordingPublisher{}, Config{Workers: 1, QueueDepth: 1, Timeout: 20 * time.Millisecond}, quiet())
	defer d.Shutdown()
	defer close(m.block)

	_, err := d.OnIncidentCreated(context.Background(), matcher.Incident{ID: "r-1"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestEnqueue_QueueFull(t *testing.T) {
	m := &stubMatcher{block: make(chan struct{})}
	pub := &recordingPublisher{}
	d := New(context.Background(), m, pub, Config{Workers: 1, QueueDepth: 1, Timeout: time.Second}, quiet())

	// The first incident occupies the worker; wait until it has left the queue.
	if !d.Enqueue(matcher.Incident{ID: "r-1"}) {
		t.Fatal("first enqueue rejected")
	}
	deadline := time.Now().Add(time.Second)
	for d.QueueUtilization() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !d.Enqueue(matcher.Incident{ID: "r-2"}) {
		t.Fatal("second enqueue rejected")
	}
	if d.QueueUtilization() != 1 {
		t.Errorf("QueueUtilization = %v, want 1", d.QueueUtilization())
	}
	if d.Enqueue(matcher.Incident{ID: "r-3"}) {
		t.Fatal("expected queue full")
	}
	if _, err := d.OnIncidentCreated(context.Background(), matcher.Incident{ID: "r-4"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	close(m.block)
	d.Shutdown()
	if n := len(pub.snapshot()); n != 2 {
		t.Errorf("expected 2 announced incidents after drain, got %d", n)
	}
	if d.Enqueue(matcher.Incident{ID: "r-5"}) {
		t.Error("enqueue after shutdown must be rejected")
	}
}

func TestOnIncidentCreated_AfterShutdownReportsClosed(t *testing.T) {
	d := New(context.Background(), &stubMatcher{}, &recordingPublisher{}, Config{Workers: 1, QueueDepth: 4}, quiet())
	d.Shutdown()

	_, err := d.OnIncidentCreated(context.Background(), matcher.Incident{ID: "r-1"})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if errors.Is(err, ErrQueueFull) {
		t.Errorf("a closed dispatcher must not report a full queue: %v", err)
	}
}

func TestLifecycleEvents(t *testing.T) {
	pub := &recordingPublisher{}
	d := New(context.Background(), &stubMatcher{}, pub, Config{}, quiet())
	defer d.Shutdown()

	if !d.StatusChanged(context.Background(), event.StatusChange{ReportID: "r-1", NewStatus: "verified"}) {
		t.Fatal("StatusChanged failed")
	}
	if !d.AssignmentChanged(context.Background(), event.AssignmentChange{ReportID: "r-1", CrewID: "c-1", Action: "assigned"}) {
		t.Fatal("AssignmentChanged failed")
	}
	got := pub.snapshot()
	if len(got) != 2 || got[0].EventType() != event.TypeStatusChange || got[1].EventType() != event.TypeAssignmentChange {
		t.Errorf("unexpected events %v", got)
	}
}
