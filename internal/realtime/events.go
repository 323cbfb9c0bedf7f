package realtime

import (
	"encoding/json"
	"time"

	"github.com/example/driver-client/internal/models"
)

// Inbound event names.
const (
	EventConnect           = "connect"
	EventDisconnect        = "disconnect"
	EventNewRideRequest    = "new_ride_request"
	EventRideTaken         = "ride_taken"
	EventPassengerLocation = "passenger:passengerLocation"
	EventDriverLocation    = "driver:driverLocation"
)

// Outbound event names.
const (
	EventUpdateLocation = "driver:updateLocation"
	EventTripStarted    = "trip_started"
	EventTripCompleted  = "trip_completed"
	EventDriverArrived  = "driver_arrived"
)

// Event is one frame on the channel: {"event": name, "data": {...}}.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Data, v)
}

// NewEvent builds an event with data marshalled to JSON.
func NewEvent(name string, data any) (Event, error) {
	if data == nil {
		return Event{Name: name}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: b}, nil
}

type RideTaken struct {
	RideRequestID string `json:"ride_request_id"`
}

type PassengerLocation struct {
	TripID   string          `json:"tripId"`
	Location models.GeoPoint `json:"location"`
}

type DriverLocation struct {
	DriverID string          `json:"driverId"`
	Location models.GeoPoint `json:"location"`
}

type LocationUpdate struct {
	DriverID string          `json:"driverId"`
	Location models.GeoPoint `json:"location"`
	Speed    float64         `json:"speed"`
	Heading  float64         `json:"heading"`
}

type TripStarted struct {
	TripID          string            `json:"trip_id"`
	PassengerID     models.FlexibleID `json:"passenger_id,omitempty"`
	PickupLocation  models.GeoPoint   `json:"pickup_location"`
	DropoffLocation models.GeoPoint   `json:"dropoff_location"`
}

type TripCompleted struct {
	TripID          string            `json:"trip_id"`
	PassengerID     models.FlexibleID `json:"passenger_id,omitempty"`
	DropoffTime     time.Time         `json:"dropoff_time"`
	PickupLocation  models.GeoPoint   `json:"pickup_location"`
	DropoffLocation models.GeoPoint   `json:"dropoff_location"`
}

type DriverArrived struct {
	RideRequestID string            `json:"ride_request_id"`
	TripID        string            `json:"trip_id"`
	PassengerID   models.FlexibleID `json:"passenger_id,omitempty"`
	Location      models.GeoPoint   `json:"location"`
}
