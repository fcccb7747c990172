package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/civicpulse/internal/dispatch"
	"github.com/gyaneshwarpardhi/civicpulse/internal/event"
	"github.com/gyaneshwarpardhi/civicpulse/internal/geo"
	"github.com/gyaneshwarpardhi/civicpulse/internal/matcher"
	"github.com/gyaneshwarpardhi/civicpulse/internal/metrics"
	"github.com/gyaneshwarpardhi/civicpulse/internal/stream"
	"github.com/gyaneshwarpardhi/civicpulse/internal/zone"
)

// readyThreshold is the dispatch queue utilization above which /readyz fails.
const readyThreshold = 0.8

// Incidents is the dispatch side the handlers drive.
type Incidents interface {
	OnIncidentCreated(ctx context.Context, inc matcher.Incident) (dispatch.Outcome, error)
	Enqueue(inc matcher.Incident) bool
	StatusChanged(ctx context.Context, c event.StatusChange) bool
	AssignmentChanged(ctx context.Context, c event.AssignmentChange) bool
	QueueUtilization() float64
}

// Zones is the watch-zone administration surface.
type Zones interface {
	zone.Repository
	Create(ctx context.Context, z zone.WatchZone) (zone.WatchZone, error)
	Get(ctx context.Context, id string) (zone.WatchZone, error)
	List(ctx context.Context, ownerUserID string) ([]zone.WatchZone, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP layer needs. StreamConfig is read
// per connection so reloaded timings apply to new streams. Cancelling
// Streams ends every open stream while other requests run to completion.
type Deps struct {
	Incidents    Incidents
	Zones        Zones
	Events       stream.Source
	StreamConfig func() stream.Config
	Streams      context.Context
	Logger       *slog.Logger
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	Deps
	log *slog.Logger
	mux *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Streams == nil {
		d.Streams = context.Background()
	}
	if d.StreamConfig == nil {
		d.StreamConfig = func() stream.Config { return stream.Config{} }
	}
	h := &Handler{Deps: d, log: d.Logger.With("component", "api"), mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/incidents", h.createIncident)
	h.mux.HandleFunc("POST /v1/incidents/{id}/status", h.changeStatus)
	h.mux.HandleFunc("POST /v1/incidents/{id}/assignment", h.changeAssignment)
	h.mux.HandleFunc("GET /v1/zones", h.listZones)
	h.mux.HandleFunc("POST /v1/zones", h.createZone)
	h.mux.HandleFunc("GET /v1/zones/containing", h.zonesContaining)
	h.mux.HandleFunc("GET /v1/zones/{id}", h.getZone)
	h.mux.HandleFunc("DELETE /v1/zones/{id}", h.deleteZone)
	h.mux.HandleFunc("GET /v1/events", h.pollEvents)
	h.mux.HandleFunc("GET /v1/stream", h.streamEvents)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.log, h.mux)
}

// GET /healthz — always 200 (liveness check).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 if the dispatch queue is >80% full or the zone
// database is unreachable.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.Incidents.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if err := h.Zones.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "zones_unavailable",
			"error":  err.Error(),
		})
		return
	}
	if util > readyThreshold {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"queue_utilization": util,
	})
}

func pointFrom(lat, lon *float64) *geo.Point {
	if lat == nil || lon == nil {
		return nil
	}
	return &geo.Point{Lat: *lat, Lon: *lon}
}
