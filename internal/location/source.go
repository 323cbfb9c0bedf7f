package location

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/example/driver-client/internal/models"
)

var (
	ErrPermissionDenied    = errors.New("location access denied")
	ErrPositionUnavailable = errors.New("location information unavailable")
	ErrTimeout             = errors.New("location request timed out")
)

// Source reads the device position.
type Source interface {
	Position(ctx context.Context) (models.Location, error)
}

// Describe turns a source error into the message shown to the driver.
func Describe(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Location access denied"
	case errors.Is(err, ErrPositionUnavailable):
		return "Location information unavailable"
	case errors.Is(err, ErrTimeout):
		return "Location request timed out"
	default:
		return "An unknown error occurred"
	}
}

// Kind is a short label for metrics.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrPositionUnavailable):
		return "unavailable"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "unknown"
	}
}

// StaticSource always reports the same position, or Err if set.
type StaticSource struct {
	mu  sync.Mutex
	loc models.Location
	err error
}

func NewStaticSource(c models.Coord) *StaticSource {
	return &StaticSource{loc: models.Location{Coord: c}}
}

func (s *StaticSource) Set(loc models.Location, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loc, s.err = loc, err
}

func (s *StaticSource) Position(ctx context.Context) (models.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return models.Location{}, s.err
	}
	loc := s.loc
	loc.At = time.Now()
	return loc, nil
}

// SimulatedSource drives a vehicle from a start point at a constant speed
// with a slowly wandering heading.
type SimulatedSource struct {
	mu      sync.Mutex
	pos     models.Coord
	speed   float64
	heading float64
	last    time.Time
	rng     *rand.Rand
}

func NewSimulatedSource(start models.Coord, speedMps float64, seed int64) *SimulatedSource {
	rng := rand.New(rand.NewSource(seed))
	return &SimulatedSource{pos: start, speed: speedMps, heading: rng.Float64() * 360, rng: rng}
}

func (s *SimulatedSource) Position(ctx context.Context) (models.Location, error) {
	if err := ctx.Err(); err != nil {
		return models.Location{}, ErrTimeout
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if !s.last.IsZero() {
		dt := now.Sub(s.last).Seconds()
		s.heading = math.Mod(s.heading+s.rng.NormFloat64()*10+360, 360)
		s.pos = offset(s.pos, s.speed*dt, s.heading)
	}
	s.last = now
	return models.Location{Coord: s.pos, Speed: s.speed, Heading: s.heading, Accuracy: 5, At: now}, nil
}

// offset moves c by meters along heading (degrees from north).
func offset(c models.Coord, meters, heading float64) models.Coord {
	const R = 6371000.0
	rad := heading * math.Pi / 180
	dLat := meters * math.Cos(rad) / R
	dLng := meters * math.Sin(rad) / (R * math.Cos(c.Lat*math.Pi/180))
	return models.Coord{Lat: c.Lat + dLat*180/math.Pi, Lng: c.Lng + dLng*180/math.Pi}
}
