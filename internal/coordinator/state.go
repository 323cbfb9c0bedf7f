package coordinator

import (
	"fmt"

	"github.com/example/driver-client/internal/models"
)

// State is the driver's lifecycle state. It is derived from the session,
// never stored separately.
type State int

const (
	Offline State = iota
	OnlineIdle
	RequestPending
	TripAssigned
	TripInProgress
)

var stateNames = [...]string{"OFFLINE", "ONLINE_IDLE", "REQUEST_PENDING", "TRIP_ASSIGNED", "TRIP_IN_PROGRESS"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Busy reports whether the driver has a pending request or an active trip.
func (s State) Busy() bool { return s >= RequestPending }

// PendingRequest is a ride request awaiting the driver's decision, with the
// distance to pickup once it has been resolved.
type PendingRequest struct {
	models.RideRequest
	DistanceMeters float64 `json:"distance_meters,omitempty"`
	Estimated      bool    `json:"distance_estimated,omitempty"`
	Presented      bool    `json:"presented"`
}

// Session is owned by the coordinator loop. Pending and Trip are never both
// set.
type Session struct {
	DriverID string
	Online   bool
	Location *models.Location
	Pending  *PendingRequest
	Trip     *models.Trip
	// Arrived only enables "start" in the UI; starting is not gated on it.
	Arrived   bool
	Connected bool
}

func (s *Session) State() State {
	switch {
	case !s.Online:
		return Offline
	case s.Trip != nil && s.Trip.Status == models.TripInProgress:
		return TripInProgress
	case s.Trip != nil:
		return TripAssigned
	case s.Pending != nil:
		return RequestPending
	default:
		return OnlineIdle
	}
}

// Snapshot is a copy of the session safe to hand to other goroutines.
type Snapshot struct {
	DriverID  string           `json:"driver_id"`
	State     State            `json:"state"`
	Online    bool             `json:"online"`
	Connected bool             `json:"connected"`
	Location  *models.Location `json:"location,omitempty"`
	Pending   *PendingRequest  `json:"pending_request,omitempty"`
	Trip      *models.Trip     `json:"trip,omitempty"`
	Arrived   bool             `json:"arrived"`
	InFlight  string           `json:"in_flight,omitempty"`
}

func (s *Session) snapshot(inFlight string) Snapshot {
	out := Snapshot{
		DriverID:  s.DriverID,
		State:     s.State(),
		Online:    s.Online,
		Connected: s.Connected,
		Arrived:   s.Arrived,
		InFlight:  inFlight,
	}
	if s.Location != nil {
		l := *s.Location
		out.Location = &l
	}
	if s.Pending != nil {
		p := *s.Pending
		out.Pending = &p
	}
	if s.Trip != nil {
		t := *s.Trip
		out.Trip = &t
	}
	return out
}
