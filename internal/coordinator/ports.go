package coordinator

import (
	"context"
	"time"

	"github.com/example/driver-client/internal/location"
	"github.com/example/driver-client/internal/models"
	"github.com/example/driver-client/internal/routing"
)

// Backend is the request/response API of the ride-hailing service.
type Backend interface {
	UpdateDriverStatus(ctx context.Context, driverID string, status models.DriverStatus) error
	AcceptRide(ctx context.Context, rideRequestID, driverID string) (*models.Trip, error)
	StartTrip(ctx context.Context, tripID string) (*models.Trip, error)
	EndTrip(ctx context.Context, tripID string) (*models.Trip, error)
	GetTrip(ctx context.Context, tripID string) (*models.Trip, error)
	ActiveTrip(ctx context.Context, driverID string) (*models.Trip, error)
}

// Distance resolves the road distance between two points.
type Distance interface {
	Distance(ctx context.Context, from, to models.Coord) (routing.Estimate, error)
}

// Emitter sends best-effort realtime events. It must not block.
type Emitter interface {
	Emit(name string, data any) error
}

// Tracker controls location sampling.
type Tracker interface {
	Start(ctx context.Context, h location.Handler) bool
	Stop()
	Restart(ctx context.Context, h location.Handler)
	Running() bool
}

// Telemetry mirrors samples to side channels without blocking.
type Telemetry interface {
	Publish(driverID string, status models.DriverStatus, loc models.Location) bool
}

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a status message for the driver.
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// RideOffer is a pending request ready to be shown.
type RideOffer struct {
	Request        models.RideRequest
	DistanceMeters float64
	Estimated      bool
}

// RouteLeg asks the presentation layer to draw a route. Purpose is
// "pickup" or "dropoff".
type RouteLeg struct {
	From    models.Coord
	To      models.Coord
	Purpose string
}

// PeerPosition is another participant's last known position.
type PeerPosition struct {
	Kind  string // "driver" or "passenger"
	ID    string
	Coord models.Coord
}

// Presenter renders coordinator output. Calls come from the coordinator
// loop and must return quickly.
type Presenter interface {
	Notify(n Notification)
	ShowRideRequest(o RideOffer)
	ShowRoute(r RouteLeg)
	ClearRoute()
	DriverMoved(loc models.Location)
	PeerMoved(p PeerPosition)
	StateChanged(s Snapshot)
}

type nopPresenter struct{}

func (nopPresenter) Notify(Notification)         {}
func (nopPresenter) ShowRideRequest(RideOffer)   {}
func (nopPresenter) ShowRoute(RouteLeg)          {}
func (nopPresenter) ClearRoute()                 {}
func (nopPresenter) DriverMoved(models.Location) {}
func (nopPresenter) PeerMoved(PeerPosition)      {}
func (nopPresenter) StateChanged(Snapshot)       {}
