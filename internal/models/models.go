package models

import (
	"fmt"
	"math"
	"time"
)

// Coord is a position in display order (latitude first).
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GeoPoint is the GeoJSON point used on every wire boundary.
// Coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// PointFrom converts a display-order coordinate into a wire-order point.
func PointFrom(c Coord) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: [2]float64{c.Lng, c.Lat}}
}

// Coord converts the wire-order point back to display order.
func (p GeoPoint) Coord() Coord {
	return Coord{Lat: p.Coordinates[1], Lng: p.Coordinates[0]}
}

// Location is a single device position sample.
type Location struct {
	Coord
	Speed    float64   `json:"speed"`   // m/s
	Heading  float64   `json:"heading"` // degrees clockwise from north
	Accuracy float64   `json:"accuracy,omitempty"`
	At       time.Time `json:"at"`
}

type DriverStatus string

const (
	DriverOnline  DriverStatus = "online"
	DriverOffline DriverStatus = "offline"
)

type TripStatus string

const (
	TripAssigned   TripStatus = "assigned"
	TripInProgress TripStatus = "in_progress"
	TripCompleted  TripStatus = "completed"
)

func (s TripStatus) rank() int {
	switch s {
	case TripAssigned:
		return 1
	case TripInProgress:
		return 2
	case TripCompleted:
		return 3
	default:
		return 0
	}
}

// CanAdvanceTo reports whether next is the immediate successor of s.
// Trips only move assigned -> in_progress -> completed.
func (s TripStatus) CanAdvanceTo(next TripStatus) bool {
	r := s.rank()
	return r > 0 && next.rank() == r+1
}

// RideRequest is an unclaimed offer pushed to the driver.
type RideRequest struct {
	RideRequestID   string   `json:"ride_request_id"`
	PickupLocation  GeoPoint `json:"pickup_location"`
	DropoffLocation GeoPoint `json:"dropoff_location"`
	Price           float64  `json:"price"`
}

// Trip is an accepted ride request as reported by the backend.
type Trip struct {
	ID              string     `json:"_id"`
	RideRequestID   string     `json:"ride_request_id,omitempty"`
	DriverID        string     `json:"driver_id,omitempty"`
	PassengerID     FlexibleID `json:"passenger_id,omitempty"`
	Status          TripStatus `json:"status"`
	PickupLocation  GeoPoint   `json:"pickup_location"`
	DropoffLocation GeoPoint   `json:"dropoff_location"`
	Price           float64    `json:"price,omitempty"`
}

// SpeedKMH converts a speed in m/s to km/h.
func SpeedKMH(mps float64) float64 {
	if mps <= 0 || math.IsNaN(mps) {
		return 0
	}
	return mps * 3.6
}

var compass = [...]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// CompassPoint maps a heading in degrees onto one of eight compass points.
func CompassPoint(heading float64) string {
	h := math.Mod(heading, 360)
	if h < 0 {
		h += 360
	}
	idx := int(math.Round(h/360*8)) % 8
	return compass[idx]
}

// FormatCoord renders a coordinate in display order with six decimals.
func FormatCoord(c Coord) string {
	return fmt.Sprintf("%.6f, %.6f", c.Lat, c.Lng)
}
