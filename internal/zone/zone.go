// Package zone models user watch zones and answers which of them contain a
// point.
package zone

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/civicpulse/internal/geo"
)

// Frequency is how often a zone owner wants to hear about matches.
type Frequency string

const (
	FrequencyRealtime Frequency = "realtime"
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyRealtime, FrequencyDaily, FrequencyWeekly:
		return true
	}
	return false
}

// ErrNotFound is returned when a zone id does not exist.
var ErrNotFound = errors.New("watch zone not found")

// WatchZone is a circular region a user watches for incidents.
type WatchZone struct {
	ID           string    `json:"id"`
	OwnerUserID  string    `json:"owner_user_id"`
	Center       geo.Point `json:"center"`
	RadiusMeters float64   `json:"radius_meters"`
	Frequency    Frequency `json:"alert_frequency"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks the fields a zone needs to take part in matching.
func (z WatchZone) Validate() error {
	var errs []string
	if strings.TrimSpace(z.OwnerUserID) == "" {
		errs = append(errs, "owner_user_id is required")
	}
	if !z.Center.Valid() {
		errs = append(errs, fmt.Sprintf("center %v is not a valid coordinate", z.Center))
	}
	if !(z.RadiusMeters > 0) {
		errs = append(errs, "radius_meters must be greater than zero")
	}
	if !z.Frequency.Valid() {
		errs = append(errs, fmt.Sprintf("alert_frequency %q must be realtime, daily or weekly", z.Frequency))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid watch zone: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Match is a zone containing a point, with the distance to its center.
type Match struct {
	Zone           WatchZone `json:"zone"`
	DistanceMeters float64   `json:"distance_meters"`
}

// Repository is the read boundary the proximity matcher depends on.
type Repository interface {
	ListZonesContaining(ctx context.Context, p geo.Point) ([]Match, error)
}

// Filter returns the zones whose circle contains p, closest first.
// Zones or points with unusable coordinates never match.
func Filter(zones []WatchZone, p geo.Point) []Match {
	if !p.Valid() {
		return nil
	}
	var out []Match
	for _, z := range zones {
		if !z.Center.Valid() || !(z.RadiusMeters > 0) {
			continue
		}
		d := geo.Distance(p, z.Center)
		if d <= z.RadiusMeters {
			out = append(out, Match{Zone: z, DistanceMeters: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistanceMeters < out[j].DistanceMeters
	})
	return out
}
