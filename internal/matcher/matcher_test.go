package matcher_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/gyaneshwarpardhi/civicpulse/internal/broadcast"
	"github.com/gyaneshwarpardhi/civicpulse/internal/event"
	"github.com/gyaneshwarpardhi/civicpulse/internal/geo"
	"github.com/gyaneshwarpardhi/civicpulse/internal/matcher"
	"github.com/gyaneshwarpardhi/civicpulse/internal/store"
	"github.com/gyaneshwarpardhi/civicpulse/internal/zone"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// memZones is an in-memory zone.Repository.
type memZones struct {
	zones []zone.WatchZone
	err   error
}

func (m *memZones) ListZonesContaining(_ context.Context, p geo.Point) ([]zone.Match, error) {
	if m.err != nil {
		return nil, m.err
	}
	return zone.Filter(m.zones, p), nil
}

// recordingPublisher records payloads and fails for the listed zone ids.
type recordingPublisher struct {
	failZones map[string]bool
	published []event.Payload
}

func (r *recordingPublisher) Publish(_ context.Context, p event.Payload) bool {
	if a, ok := p.(*event.ProximityAlert); ok && r.failZones[a.ZoneID] {
		return false
	}
	r.published = append(r.published, p)
	return true
}

func at(lat, lon float64) *geo.Point { return &geo.Point{Lat: lat, Lon: lon} }

func TestMatchAndAlert_PositiveAtOrigin(t *testing.T) {
	pub := &recordingPublisher{}
	m := matcher.New(&memZones{zones: []zone.WatchZone{
		{ID: "z1", OwnerUserID: "u1", Center: geo.Point{}, RadiusMeters: 1000, Frequency: zone.FrequencyRealtime},
	}}, pub, quiet())

	res := m.MatchAndAlert(context.Background(), matcher.Incident{
		ID: "r1", Type: "general", Severity: matcher.SeverityCritical, Location: at(0, 0),
	})
	if res.Status != matcher.StatusOK || res.AlertsTriggered != 1 || res.ZonesMatched != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 published alert, got %d", len(pub.published))
	}
	alert := pub.published[0].(*event.ProximityAlert)
	if alert.DistanceMeters != 0 || alert.UserID != "u1" || alert.ZoneID != "z1" || alert.ReportID != "r1" {
		t.Errorf("unexpected alert %+v", alert)
	}
}

func TestMatchAndAlert_SeverityGate(t *testing.T) {
	for _, sev := range []matcher.Severity{matcher.SeverityLow, matcher.SeverityMedium} {
		t.Run(string(sev), func(t *testing.T) {
			pub := &recordingPublisher{}
			m := matcher.New(&memZones{zones: []zone.WatchZone{
				{ID: "z1", OwnerUserID: "u1", Center: geo.Point{}, RadiusMeters: 1000, Frequency: zone.FrequencyRealtime},
			}}, pub, quiet())
			res := m.MatchAndAlert(context.Background(), matcher.Incident{ID: "r1", Severity: sev, Location: at(0, 0)})
			if res.Status != matcher.StatusSkipped || res.AlertsTriggered != 0 || res.ZonesMatched != 0 {
				t.Errorf("unexpected result %+v", res)
			}
			if len(pub.published) != 0 {
				t.Errorf("expected no alerts, got %d", len(pub.published))
			}
		})
	}
}

func TestMatchAndAlert_Boundary(t *testing.T) {
	incident := geo.Point{Lat: 0, Lon: 0}
	center := geo.Point{Lat: 0.02, Lon: 0.01}
	d := geo.Distance(incident, center)

	cases := []struct {
		name   string
		radius float64
		want   int
	}{
		{"radius equals distance", d, 1},
		{"radius one meter short", d - 1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			m := matcher.New(&memZones{zones: []zone.WatchZone{
				{ID: "z", OwnerUserID: "u", Center: center, RadiusMeters: tc.radius, Frequency: zone.FrequencyRealtime},
			}}, pub, quiet())
			res := m.MatchAndAlert(context.Background(), matcher.Incident{ID: "r", Severity: matcher.SeverityHigh, Location: &incident})
			if res.AlertsTriggered != tc.want || res.ZonesMatched != tc.want {
				t.Errorf("got %+v, want %d alerts", res, tc.want)
			}
		})
	}
}

func TestMatchAndAlert_FrequencyGate(t *testing.T) {
	pub := &recordingPublisher{}
	m := matcher.New(&memZones{zones: []zone.WatchZone{
		{ID: "daily", OwnerUserID: "u1", Center: geo.Point{}, RadiusMeters: 1000, Frequency: zone.FrequencyDaily},
		{ID: "weekly", OwnerUserID: "u2", Center: geo.Point{}, RadiusMeters: 1000, Frequency: zone.FrequencyWeekly},
	}}, pub, quiet())

	res := m.MatchAndAlert(context.Background(), matcher.Incident{ID: "r1", Severity: matcher.SeverityHigh, Location: at(0, 0)})
	if res.ZonesMatched != 2 || res.AlertsTriggered != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(pub.published) != 0 {
		t.Errorf("batched zones must not publish, got %d events", len(pub.published))
	}
}

func TestMatchAndAlert_PublishFailureDoesNotStopOtherZones(t *testing.T) {
	pub := &recordingPublisher{failZones: map[string]bool{"z1": true}}
	m := matcher.New(&memZones{zones: []zone.WatchZone{
		{ID: "z1", OwnerUserID: "u1", Center: geo.Point{}, RadiusMeters: 100, Frequency: zone.FrequencyRealtime},
		{ID: "z2", OwnerUserID: "u2", Center: geo.Point{}, RadiusMeters: 200, Frequency: zone.FrequencyRealtime},
	}}, pub, quiet())

	res := m.MatchAndAlert(context.Background(), matcher.Incident{ID: "r1", Severity: matcher.SeverityCritical, Location: at(0, 0)})
	if res.ZonesMatched != 2 || res.AlertsTriggered != 1 || res.PublishFailures != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestMatchAndAlert_DegradesOnRepositoryError(t *testing.T) {
	m := matcher.New(&memZones{err: errors.New("db locked")}, &recordingPublisher{}, quiet())
	res := m.MatchAndAlert(context.Background(), matcher.Incident{ID: "r1", Severity: matcher.SeverityCritical, Location: at(0, 0)})
	if res.Status != matcher.StatusError || res.AlertsTriggered != 0 || res.Error == "" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestMatchAndAlert_MissingLocation(t *testing.T) {
	m := matcher.New(&memZones{zones: []zone.WatchZone{
		{ID: "z1", OwnerUserID: "u1", Center: geo.Point{}, RadiusMeters: 1000, Frequency: zone.FrequencyRealtime},
	}}, &recordingPublisher{}, quiet())
	res := m.MatchAndAlert(context.Background(), matcher.Incident{ID: "r1", Severity: matcher.SeverityCritical})
	if res.Status != matcher.StatusOK || res.ZonesMatched != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestMatchAndAlert_EndToEnd(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	events, err := store.OpenFileStore(filepath.Join(dir, "events"), store.Options{Logger: quiet(), SweepInterval: -1})
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	defer events.Close()
	zones, err := zone.OpenSQLite(filepath.Join(dir, "zones.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer zones.Close()

	if _, err := zones.Create(ctx, zone.WatchZone{
		OwnerUserID:  "u-7",
		Center:       geo.Point{Lat: 40.0001, Lon: -75.0001},
		RadiusMeters: 50,
		Frequency:    zone.FrequencyRealtime,
	}); err != nil {
		t.Fatalf("Create zone: %v", err)
	}

	m := matcher.New(zones, broadcast.NewProducer(events, quiet()), quiet())
	res := m.MatchAndAlert(ctx, matcher.Incident{
		ID:       "r-42",
		Type:     "general",
		Category: "Roads",
		Severity: matcher.SeverityCritical,
		Location: at(40.0, -75.0),
	})
	if res.AlertsTriggered != 1 || res.ZonesMatched != 1 {
		t.Fatalf("expected 1 alert / 1 zone, got %+v", res)
	}

	stored, err := events.ListSince(ctx, "")
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(stored) != 1 || stored[0].Type != event.TypeProximityAlert {
		t.Fatalf("expected one proximity_alert, got %v", stored)
	}
	alert := stored[0].Payload.(*event.ProximityAlert)
	if alert.DistanceMeters < 10 || alert.DistanceMeters > 20 {
		t.Errorf("distance_meters %d outside 10–20", alert.DistanceMeters)
	}
	if alert.UserID != "u-7" || alert.ReportID != "r-42" || alert.Severity != "CRITICAL" {
		t.Errorf("unexpected alert %+v", alert)
	}
}

func TestParseSeverity(t *testing.T) {
	if sev, ok := matcher.ParseSeverity(" critical "); !ok || sev != matcher.SeverityCritical {
		t.Errorf("ParseSeverity(critical) = %q, %v", sev, ok)
	}
	if _, ok := matcher.ParseSeverity("urgent"); ok {
		t.Error("expected unknown severity to be rejected")
	}
}
