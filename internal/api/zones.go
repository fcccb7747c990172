package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gyaneshwarpardhi/civicpulse/internal/geo"
	"github.com/gyaneshwarpardhi/civicpulse/internal/zone"
)

// GET /v1/zones?user_id=
func (h *Handler) listZones(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if owner == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	zones, err := h.Zones.List(r.Context(), owner)
	if err != nil {
		h.log.Error("list zones failed", "user_id", owner, "err", err)
		writeError(w, http.StatusInternalServerError, "could not list watch zones")
		return
	}
	if zones == nil {
		zones = []zone.WatchZone{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"zones": zones})
}

// POST /v1/zones
func (h *Handler) createZone(w http.ResponseWriter, r *http.Request) {
	var z zone.WatchZone
	if !decodeJSON(w, r, &z) {
		return
	}
	if z.Frequency == "" {
		z.Frequency = zone.FrequencyRealtime
	}
	if err := z.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.Zones.Create(r.Context(), z)
	if err != nil {
		h.log.Error("create zone failed", "user_id", z.OwnerUserID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not create watch zone")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GET /v1/zones/{id}
func (h *Handler) getZone(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	z, err := h.Zones.Get(r.Context(), id)
	switch {
	case errors.Is(err, zone.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		h.log.Error("get zone failed", "zone_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "could not load watch zone")
	default:
		writeJSON(w, http.StatusOK, z)
	}
}

// DELETE /v1/zones/{id}
func (h *Handler) deleteZone(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.Zones.Delete(r.Context(), id)
	switch {
	case errors.Is(err, zone.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		h.log.Error("delete zone failed", "zone_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "could not delete watch zone")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /v1/zones/containing?lat=&lon=
func (h *Handler) zonesContaining(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	p := geo.Point{Lat: lat, Lon: lon}
	if errLat != nil || errLon != nil || !p.Valid() {
		writeError(w, http.StatusBadRequest, "lat and lon must be valid coordinates")
		return
	}
	matches, err := h.Zones.ListZonesContaining(r.Context(), p)
	if err != nil {
		h.log.Error("zone lookup failed", "lat", lat, "lon", lon, "err", err)
		writeError(w, http.StatusInternalServerError, "could not look up watch zones")
		return
	}
	if matches == nil {
		matches = []zone.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}
