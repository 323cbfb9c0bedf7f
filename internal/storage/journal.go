package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/driver-client/internal/models"
)

// EventKind names a lifecycle step worth remembering.
type EventKind string

const (
	EventAccepted  EventKind = "accepted"
	EventArrived   EventKind = "arrived"
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventResumed   EventKind = "resumed"
)

// TripEvent is one journal row.
type TripEvent struct {
	DriverID      string            `json:"driver_id"`
	TripID        string            `json:"trip_id"`
	RideRequestID string            `json:"ride_request_id,omitempty"`
	Kind          EventKind         `json:"kind"`
	Status        models.TripStatus `json:"status"`
	Pickup        models.Coord      `json:"pickup"`
	Dropoff       models.Coord      `json:"dropoff"`
	Price         float64           `json:"price"`
	At            time.Time         `json:"at"`
}

// EventFromTrip copies the journal-relevant fields of t.
func EventFromTrip(kind EventKind, driverID string, t *models.Trip) TripEvent {
	return TripEvent{
		DriverID:      driverID,
		TripID:        t.ID,
		RideRequestID: t.RideRequestID,
		Kind:          kind,
		Status:        t.Status,
		Pickup:        t.PickupLocation.Coord(),
		Dropoff:       t.DropoffLocation.Coord(),
		Price:         t.Price,
		At:            time.Now().UTC(),
	}
}

// TripJournal defines persistence operations for trip lifecycle events.
type TripJournal interface {
	Record(ctx context.Context, ev TripEvent) error
	Recent(ctx context.Context, limit int) ([]TripEvent, error)
}

const defaultMemoryCapacity = 256

// MemoryJournal keeps the most recent events in process.
type MemoryJournal struct {
	mu     sync.RWMutex
	events []TripEvent
	cap    int
}

func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryJournal{cap: capacity}
}

func (m *MemoryJournal) Record(_ context.Context, ev TripEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	if over := len(m.events) - m.cap; over > 0 {
		m.events = append([]TripEvent(nil), m.events[over:]...)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (m *MemoryJournal) Recent(_ context.Context, limit int) ([]TripEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.events) {
		limit = len(m.events)
	}
	out := make([]TripEvent, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}
