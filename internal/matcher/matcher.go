// Package matcher turns new high-severity incidents into proximity alerts
// for the users whose watch zones contain them.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/civicpulse/internal/broadcast"
	"github.com/gyaneshwarpardhi/civicpulse/internal/event"
	"github.com/gyaneshwarpardhi/civicpulse/internal/geo"
	"github.com/gyaneshwarpardhi/civicpulse/internal/metrics"
	"github.com/gyaneshwarpardhi/civicpulse/internal/zone"
)

// Severity is an incident's urgency as reported by the CRUD layer.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ParseSeverity normalizes s; ok is false for unknown values.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	switch sev {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return sev, true
	}
	return sev, false
}

// Alerting reports whether incidents of this severity produce proximity alerts.
func (s Severity) Alerting() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Incident is the read-only view of a report the matcher works on.
// Location is nil when the report carried no usable coordinates.
type Incident struct {
	ID         string
	Type       string // "analysis" | "general"
	Category   string
	Title      string
	Severity   Severity
	Location   *geo.Point
	ReportedBy string
}

// Status summarizes a match run.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Result is what MatchAndAlert reports back. It never carries a Go error:
// failures are folded into Status so alerting cannot fail report creation.
type Result struct {
	Status          Status       `json:"status"`
	AlertsTriggered int          `json:"alerts_triggered"`
	ZonesMatched    int          `json:"zones_matched"`
	PublishFailures int          `json:"publish_failures,omitempty"`
	Matches         []zone.Match `json:"matches,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// Matcher evaluates incidents against registered watch zones.
type Matcher struct {
	zones zone.Repository
	pub   broadcast.Publisher
	log   *slog.Logger
}

// New creates a Matcher reading zones from repo and publishing through pub.
func New(repo zone.Repository, pub broadcast.Publisher, log *slog.Logger) *Matcher {
	if log == nil {
		log = slog.Default()
	}
	return &Matcher{zones: repo, pub: pub, log: log.With("component", "matcher")}
}

// MatchAndAlert publishes one proximity_alert per realtime zone containing
// inc. Daily and weekly zones are counted in ZonesMatched only; no batched
// delivery exists for them.
func (m *Matcher) MatchAndAlert(ctx context.Context, inc Incident) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("proximity match panicked", "report_id", inc.ID, "panic", r)
			res = Result{Status: StatusError, Error: fmt.Sprint(r)}
		}
		metrics.MatchRuns.WithLabelValues(string(res.Status)).Inc()
		metrics.MatchDuration.Observe(float64(time.Since(start).Milliseconds()))
	}()

	if !inc.Severity.Alerting() {
		return Result{Status: StatusSkipped}
	}
	if inc.Location == nil || !inc.Location.Valid() {
		m.log.Warn("incident has no usable location, no zones can match", "report_id", inc.ID)
		return Result{Status: StatusOK}
	}

	matches, err := m.zones.ListZonesContaining(ctx, *inc.Location)
	if err != nil {
		m.log.Error("watch zone lookup failed", "report_id", inc.ID, "err", err)
		return Result{Status: StatusError, Error: err.Error()}
	}

	res = Result{Status: StatusOK, ZonesMatched: len(matches), Matches: matches}
	for _, match := range matches {
		metrics.ZonesMatched.WithLabelValues(string(match.Zone.Frequency)).Inc()
		if match.Zone.Frequency != zone.FrequencyRealtime {
			continue
		}
		if m.pub.Publish(ctx, alertFor(inc, match)) {
			res.AlertsTriggered++
			continue
		}
		res.PublishFailures++
		m.log.Warn("proximity alert not published",
			"report_id", inc.ID, "zone_id", match.Zone.ID, "user_id", match.Zone.OwnerUserID)
	}

	m.log.Info("proximity match complete",
		"report_id", inc.ID,
		"severity", inc.Severity,
		"zones_matched", res.ZonesMatched,
		"alerts_triggered", res.AlertsTriggered,
	)
	return res
}

func alertFor(inc Incident, match zone.Match) *event.ProximityAlert {
	meters := int64(math.Round(match.DistanceMeters))
	what := inc.Category
	if what == "" {
		what = inc.Type
	}
	return &event.ProximityAlert{
		UserID:         match.Zone.OwnerUserID,
		ZoneID:         match.Zone.ID,
		ReportID:       inc.ID,
		ReportType:     inc.Type,
		Severity:       string(inc.Severity),
		DistanceMeters: meters,
		Message:        fmt.Sprintf("%s %s incident reported inside your watch zone, %d m from its center", inc.Severity, what, meters),
	}
}
