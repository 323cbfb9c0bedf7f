// Package presenter renders coordinator output for a headless driver: as
// structured log lines and as a feed of recent notifications served over
// the control API.
package presenter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/driver-client/internal/coordinator"
	"github.com/example/driver-client/internal/models"
)

// Log writes every presentation call to a logger.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log { return &Log{logger: logger} }

func (l *Log) Notify(n coordinator.Notification) {
	level := slog.LevelInfo
	switch n.Level {
	case coordinator.LevelWarning:
		level = slog.LevelWarn
	case coordinator.LevelError:
		level = slog.LevelError
	}
	l.logger.Log(context.Background(), level, n.Message, "kind", "notification", "level_name", string(n.Level))
}

func (l *Log) ShowRideRequest(o coordinator.RideOffer) {
	l.logger.Info("ride request",
		"ride_request_id", o.Request.RideRequestID,
		"pickup", models.FormatCoord(o.Request.PickupLocation.Coord()),
		"dropoff", models.FormatCoord(o.Request.DropoffLocation.Coord()),
		"price", o.Request.Price,
		"distance_m", int(o.DistanceMeters),
		"distance_estimated", o.Estimated,
	)
}

func (l *Log) ShowRoute(r coordinator.RouteLeg) {
	l.logger.Info("route", "purpose", r.Purpose, "from", models.FormatCoord(r.From), "to", models.FormatCoord(r.To))
}

func (l *Log) ClearRoute() { l.logger.Debug("route cleared") }

func (l *Log) DriverMoved(loc models.Location) {
	l.logger.Debug("driver moved",
		"at", models.FormatCoord(loc.Coord),
		"speed_kmh", fmt.Sprintf("%.1f", models.SpeedKMH(loc.Speed)),
		"heading", models.CompassPoint(loc.Heading),
	)
}

func (l *Log) PeerMoved(p coordinator.PeerPosition) {
	l.logger.Debug("peer moved", "kind", p.Kind, "peer_id", p.ID, "at", models.FormatCoord(p.Coord))
}

func (l *Log) StateChanged(s coordinator.Snapshot) {
	l.logger.Debug("session changed", "state", s.State.String(), "in_flight", s.InFlight, "arrived", s.Arrived)
}

// Feed keeps the most recent notifications in a ring.
type Feed struct {
	mu    sync.RWMutex
	items []coordinator.Notification
	next  int
	full  bool
}

func NewFeed(size int) *Feed {
	if size <= 0 {
		size = 50
	}
	return &Feed{items: make([]coordinator.Notification, size)}
}

func (f *Feed) Notify(n coordinator.Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[f.next] = n
	f.next = (f.next + 1) % len(f.items)
	if f.next == 0 {
		f.full = true
	}
}

func (f *Feed) ShowRideRequest(o coordinator.RideOffer) {
	msg := fmt.Sprintf("Ride request %s: %s to %s, price %.2f",
		o.Request.RideRequestID,
		models.FormatCoord(o.Request.PickupLocation.Coord()),
		models.FormatCoord(o.Request.DropoffLocation.Coord()),
		o.Request.Price)
	f.Notify(coordinator.Notification{Level: coordinator.LevelInfo, Message: msg})
}

func (f *Feed) ShowRoute(coordinator.RouteLeg)     {}
func (f *Feed) ClearRoute()                        {}
func (f *Feed) DriverMoved(models.Location)        {}
func (f *Feed) PeerMoved(coordinator.PeerPosition) {}
func (f *Feed) StateChanged(coordinator.Snapshot)  {}

// Recent returns up to limit notifications, newest first.
func (f *Feed) Recent(limit int) []coordinator.Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := f.next
	if f.full {
		n = len(f.items)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]coordinator.Notification, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (f.next - i + len(f.items)) % len(f.items)
		out = append(out, f.items[idx])
	}
	return out
}

// Multi forwards each call to all presenters in order.
type Multi []coordinator.Presenter

func (m Multi) Notify(n coordinator.Notification) {
	for _, p := range m {
		p.Notify(n)
	}
}

func (m Multi) ShowRideRequest(o coordinator.RideOffer) {
	for _, p := range m {
		p.ShowRideRequest(o)
	}
}

func (m Multi) ShowRoute(r coordinator.RouteLeg) {
	for _, p := range m {
		p.ShowRoute(r)
	}
}

func (m Multi) ClearRoute() {
	for _, p := range m {
		p.ClearRoute()
	}
}

func (m Multi) DriverMoved(loc models.Location) {
	for _, p := range m {
		p.DriverMoved(loc)
	}
}

func (m Multi) PeerMoved(pp coordinator.PeerPosition) {
	for _, p := range m {
		p.PeerMoved(pp)
	}
}

func (m Multi) StateChanged(s coordinator.Snapshot) {
	for _, p := range m {
		p.StateChanged(s)
	}
}
