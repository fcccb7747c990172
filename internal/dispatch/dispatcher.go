// Package dispatch is the boundary the report CRUD layer calls into. It
// runs proximity matching and the follow-up broadcasts on a bounded worker
// pool so a slow disk or zone lookup never holds up report creation.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/civicpulse/internal/broadcast"
	"github.com/gyaneshwarpardhi/civicpulse/internal/event"
	"github.com/gyaneshwarpardhi/civicpulse/internal/matcher"
	"github.com/gyaneshwarpardhi/civicpulse/internal/metrics"
)

var (
	ErrQueueFull = errors.New("dispatch queue full")
	ErrTimeout   = errors.New("dispatch timed out")
	ErrClosed    = errors.New("dispatcher shut down")
)

// Config sizes the pool. Zero values fall back to the defaults below.
type Config struct {
	Workers    int
	QueueDepth int
	Timeout    time.Duration
}

const (
	DefaultWorkers    = 4
	DefaultQueueDepth = 256
	DefaultTimeout    = 5 * time.Second
)

// Matcher is the proximity step run for every new incident.
type Matcher interface {
	MatchAndAlert(ctx context.Context, inc matcher.Incident) matcher.Result
}

// Outcome is the result of handling one created incident.
type Outcome struct {
	ReportID   string         `json:"report_id"`
	Broadcast  bool           `json:"broadcast"`
	Match      matcher.Result `json:"match"`
	DurationMs int64          `json:"duration_ms"`
}

type work struct {
	inc     matcher.Incident
	resultC chan Outcome
}

// Dispatcher fans report lifecycle changes out to the event stream.
type Dispatcher struct {
	match Matcher
	pub   broadcast.Publisher
	pool  *workerPool[*work]
	conf  Config
	log   *slog.Logger
}

// New starts a Dispatcher whose workers live until ctx is cancelled or
// Shutdown is called.
func New(ctx context.Context, m Matcher, pub broadcast.Publisher, conf Config, log *slog.Logger) *Dispatcher {
	if conf.Workers <= 0 {
		conf.Workers = DefaultWorkers
	}
	if conf.QueueDepth <= 0 {
		conf.QueueDepth = DefaultQueueDepth
	}
	if conf.Timeout <= 0 {
		conf.Timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{match: m, pub: pub, conf: conf, log: log.With("component", "dispatch")}
	d.pool = newWorkerPool(ctx, conf.Workers, conf.QueueDepth, func(ctx context.Context, w *work) {
		out := d.handle(ctx, w.inc)
		if w.resultC != nil {
			w.resultC <- out
		}
	})
	return d
}

// OnIncidentCreated matches inc against watch zones, then announces it
// with a new_report event, and waits for both up to the configured
// timeout. An error means the broadcast did not complete in time; the
// incident itself is unaffected.
func (d *Dispatcher) OnIncidentCreated(ctx context.Context, inc matcher.Incident) (Outcome, error) {
	resultC := make(chan Outcome, 1)
	if err := d.submit(&work{inc: inc, resultC: resultC}); err != nil {
		return Outcome{ReportID: inc.ID}, err
	}

	timer := time.NewTimer(d.conf.Timeout)
	defer timer.Stop()
	select {
	case out := <-resultC:
		return out, nil
	case <-timer.C:
		return Outcome{ReportID: inc.ID}, fmt.Errorf("%w after %v", ErrTimeout, d.conf.Timeout)
	case <-ctx.Done():
		return Outcome{ReportID: inc.ID}, ctx.Err()
	}
}

// Enqueue is the fire-and-forget variant of OnIncidentCreated. It returns
// false if the queue is full or the dispatcher has shut down.
func (d *Dispatcher) Enqueue(inc matcher.Incident) bool {
	return d.submit(&work{inc: inc}) == nil
}

func (d *Dispatcher) submit(w *work) error {
	defer func() { metrics.QueueUtilization.Set(d.QueueUtilization()) }()
	switch err := d.pool.Submit(w); {
	case errors.Is(err, errPoolClosed):
		d.log.Warn("incident dropped, dispatcher shut down", "report_id", w.inc.ID)
		return ErrClosed
	case err != nil:
		metrics.DispatchDropped.Inc()
		d.log.Warn("incident dropped, dispatch queue full", "report_id", w.inc.ID)
		return fmt.Errorf("%w (capacity %d)", ErrQueueFull, d.conf.QueueDepth)
	}
	metrics.DispatchEnqueued.Inc()
	return nil
}

// StatusChanged publishes a status_change event.
func (d *Dispatcher) StatusChanged(ctx context.Context, c event.StatusChange) bool {
	return d.pub.Publish(ctx, &c)
}

// AssignmentChanged publishes an assignment_change event.
func (d *Dispatcher) AssignmentChanged(ctx context.Context, c event.AssignmentChange) bool {
	return d.pub.Publish(ctx, &c)
}

// QueueUtilization returns queue used / capacity (0–1).
func (d *Dispatcher) QueueUtilization() float64 {
	if d.pool.QueueCap() == 0 {
		return 0
	}
	return float64(d.pool.QueueLen()) / float64(d.pool.QueueCap())
}

// Shutdown stops accepting incidents and waits for queued ones to finish.
func (d *Dispatcher) Shutdown() {
	d.pool.Drain()
	metrics.QueueUtilization.Set(0)
}

func (d *Dispatcher) handle(ctx context.Context, inc matcher.Incident) Outcome {
	start := time.Now()
	res := d.match.MatchAndAlert(ctx, inc)
	ok := d.pub.Publish(ctx, newReport(inc))
	out := Outcome{
		ReportID:   inc.ID,
		Broadcast:  ok,
		Match:      res,
		DurationMs: time.Since(start).Milliseconds(),
	}
	d.log.Debug("incident dispatched",
		"report_id", inc.ID,
		"broadcast", ok,
		"alerts_triggered", res.AlertsTriggered,
		"duration_ms", out.DurationMs,
	)
	metrics.QueueUtilization.Set(d.QueueUtilization())
	return out
}

func newReport(inc matcher.Incident) *event.NewReport {
	nr := &event.NewReport{
		ReportID:   inc.ID,
		ReportType: inc.Type,
		Title:      inc.Title,
		Category:   inc.Category,
		Severity:   string(inc.Severity),
		ReportedBy: inc.ReportedBy,
	}
	if inc.Location != nil {
		nr.Latitude, nr.Longitude = inc.Location.Lat, inc.Location.Lon
	}
	return nr
}
