// Package location samples the device position while the driver is online.
package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/driver-client/internal/geo"
	"github.com/example/driver-client/internal/models"
	"github.com/example/driver-client/internal/observability"
)

// Handler receives forwarded samples and source failures.
// Implementations must not block.
type Handler interface {
	HandleSample(models.Location)
	HandleLocationError(error)
}

// Sampler polls a Source every SampleInterval and forwards a sample when
// EmitInterval has elapsed since the last one or the geohash cell changed.
type Sampler struct {
	src            Source
	SampleInterval time.Duration
	EmitInterval   time.Duration
	Precision      uint
	Timeout        time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSampler(src Source, sampleInterval, emitInterval time.Duration, precision uint) *Sampler {
	return &Sampler{
		src:            src,
		SampleInterval: sampleInterval,
		EmitInterval:   emitInterval,
		Precision:      precision,
		Timeout:        5 * time.Second,
	}
}

// Start begins polling. It returns false if the sampler was already running.
func (s *Sampler) Start(ctx context.Context, h Handler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go func() {
		defer close(done)
		s.loop(ctx, h)
	}()
	return true
}

// Stop halts polling and waits for the polling goroutine to exit.
// Safe to call when not running.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Restart stops any running poll loop and starts a fresh one.
func (s *Sampler) Restart(ctx context.Context, h Handler) {
	s.Stop()
	s.Start(ctx, h)
}

func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Sampler) loop(ctx context.Context, h Handler) {
	ticker := time.NewTicker(s.SampleInterval)
	defer ticker.Stop()

	var (
		lastEmit time.Time
		lastCell string
		lastErr  string
	)
	poll := func() {
		pctx, cancel := context.WithTimeout(ctx, s.Timeout)
		loc, err := s.src.Position(pctx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = ErrTimeout
			}
			// report each failure kind once until a sample succeeds again
			if k := Kind(err); k != lastErr {
				lastErr = k
				observability.LocationErrorsTotal.WithLabelValues(k).Inc()
				h.HandleLocationError(err)
			}
			return
		}
		lastErr = ""
		if loc.At.IsZero() {
			loc.At = time.Now()
		}
		cell := geo.Cell(loc.Coord, s.Precision)
		if !lastEmit.IsZero() && cell == lastCell && loc.At.Sub(lastEmit) < s.EmitInterval {
			return
		}
		lastEmit, lastCell = loc.At, cell
		observability.LocationSamplesTotal.Inc()
		h.HandleSample(loc)
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}
