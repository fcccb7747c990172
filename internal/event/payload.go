package event

import (
	"fmt"
	"time"
)

// Payload is the closed set of event bodies. Each event type has exactly
// one payload struct; callers always pass and receive pointers.
type Payload interface {
	EventType() Type
}

// NewReport announces a freshly submitted incident report.
type NewReport struct {
	ReportID   string  `json:"report_id"`
	ReportType string  `json:"report_type"`
	Title      string  `json:"title,omitempty"`
	Category   string  `json:"category,omitempty"`
	Severity   string  `json:"severity"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	ReportedBy string  `json:"reported_by,omitempty"`
}

// StatusChange records a report moving through its verification workflow.
type StatusChange struct {
	ReportID  string `json:"report_id"`
	OldStatus string `json:"old_status,omitempty"`
	NewStatus string `json:"new_status"`
	ChangedBy string `json:"changed_by,omitempty"`
	Note      string `json:"note,omitempty"`
}

// AssignmentChange records a crew being attached to or detached from a report.
type AssignmentChange struct {
	ReportID   string `json:"report_id"`
	CrewID     string `json:"crew_id"`
	CrewName   string `json:"crew_name,omitempty"`
	AssignedBy string `json:"assigned_by,omitempty"`
	Action     string `json:"action"` // "assigned" | "unassigned"
}

// ProximityAlert targets one user whose watch zone contains a new incident.
type ProximityAlert struct {
	UserID         string `json:"user_id"`
	ZoneID         string `json:"zone_id"`
	ReportID       string `json:"report_id"`
	ReportType     string `json:"report_type"`
	Severity       string `json:"severity"`
	DistanceMeters int64  `json:"distance_meters"`
	Message        string `json:"message"`
}

// Connected is the first frame of every stream.
type Connected struct {
	ServerTime time.Time `json:"server_time"`
	ResumeFrom string    `json:"resume_from,omitempty"`
}

// Heartbeat keeps idle streams alive through proxies.
type Heartbeat struct {
	ServerTime time.Time `json:"server_time"`
}

// Timeout is the last frame of a stream that hit its lifetime ceiling.
type Timeout struct {
	ServerTime  time.Time `json:"server_time"`
	LastEventID string    `json:"last_event_id,omitempty"`
	Reason      string    `json:"reason"`
}

func (NewReport) EventType() Type        { return TypeNewReport }
func (StatusChange) EventType() Type     { return TypeStatusChange }
func (AssignmentChange) EventType() Type { return TypeAssignmentChange }
func (ProximityAlert) EventType() Type   { return TypeProximityAlert }
func (Connected) EventType() Type        { return TypeConnected }
func (Heartbeat) EventType() Type        { return TypeHeartbeat }
func (Timeout) EventType() Type          { return TypeTimeout }

// NewPayload returns a pointer to the zero payload for t, ready to decode into.
func NewPayload(t Type) (Payload, error) {
	switch t {
	case TypeNewReport:
		return &NewReport{}, nil
	case TypeStatusChange:
		return &StatusChange{}, nil
	case TypeAssignmentChange:
		return &AssignmentChange{}, nil
	case TypeProximityAlert:
		return &ProximityAlert{}, nil
	case TypeConnected:
		return &Connected{}, nil
	case TypeHeartbeat:
		return &Heartbeat{}, nil
	case TypeTimeout:
		return &Timeout{}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", t)
}
