package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gyaneshwarpardhi/civicpulse/internal/event"
	"github.com/gyaneshwarpardhi/civicpulse/internal/matcher"
)

type incidentRequest struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Category   string   `json:"category"`
	Title      string   `json:"title"`
	Severity   string   `json:"severity"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	ReportedBy string   `json:"reported_by"`
}

// POST /v1/incidents — a report was created; match it and announce it.
// ?async=true only enqueues. The response is 2xx whenever the request is
// well formed: a broadcast problem never fails report creation.
func (h *Handler) createIncident(w http.ResponseWriter, r *http.Request) {
	var req incidentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	sev, ok := matcher.ParseSeverity(req.Severity)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("severity %q must be LOW, MEDIUM, HIGH or CRITICAL", req.Severity))
		return
	}
	switch req.Type {
	case "":
		req.Type = "general"
	case "general", "analysis":
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("type %q must be general or analysis", req.Type))
		return
	}
	inc := matcher.Incident{
		ID:         req.ID,
		Type:       req.Type,
		Category:   req.Category,
		Title:      req.Title,
		Severity:   sev,
		Location:   pointFrom(req.Latitude, req.Longitude),
		ReportedBy: req.ReportedBy,
	}

	if r.URL.Query().Get("async") == "true" {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"report_id": inc.ID,
			"queued":    h.Incidents.Enqueue(inc),
		})
		return
	}

	out, err := h.Incidents.OnIncidentCreated(r.Context(), inc)
	if err != nil {
		h.log.Warn("incident broadcast incomplete", "report_id", inc.ID, "err", err)
		writeJSON(w, http.StatusOK, map[string]any{
			"report_id": inc.ID,
			"broadcast": false,
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /v1/incidents/{id}/status
func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var c event.StatusChange
	if !decodeJSON(w, r, &c) {
		return
	}
	c.ReportID = r.PathValue("id")
	if strings.TrimSpace(c.NewStatus) == "" {
		writeError(w, http.StatusBadRequest, "new_status is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report_id": c.ReportID,
		"broadcast": h.Incidents.StatusChanged(r.Context(), c),
	})
}

// POST /v1/incidents/{id}/assignment
func (h *Handler) changeAssignment(w http.ResponseWriter, r *http.Request) {
	var c event.AssignmentChange
	if !decodeJSON(w, r, &c) {
		return
	}
	c.ReportID = r.PathValue("id")
	if strings.TrimSpace(c.CrewID) == "" {
		writeError(w, http.StatusBadRequest, "crew_id is required")
		return
	}
	switch c.Action {
	case "":
		c.Action = "assigned"
	case "assigned", "unassigned":
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("action %q must be assigned or unassigned", c.Action))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report_id": c.ReportID,
		"broadcast": h.Incidents.AssignmentChanged(r.Context(), c),
	})
}
