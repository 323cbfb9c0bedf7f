// Package telemetry mirrors location samples to optional side channels.
// Everything here is best-effort: failures are counted and logged, never
// surfaced to the trip lifecycle.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/driver-client/internal/models"
	"github.com/example/driver-client/internal/observability"
)

// Sink publishes one location sample.
type Sink interface {
	Name() string
	Publish(ctx context.Context, driverID string, status models.DriverStatus, loc models.Location) error
}

type item struct {
	driverID string
	status   models.DriverStatus
	loc      models.Location
}

// Fanout queues samples and delivers them to every sink from one worker.
type Fanout struct {
	sinks   []Sink
	queue   chan item
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewFanout(logger *slog.Logger, queueSize int, sinks ...Sink) *Fanout {
	if queueSize <= 0 {
		queueSize = 128
	}
	return &Fanout{sinks: sinks, queue: make(chan item, queueSize), timeout: 2 * time.Second, logger: logger}
}

// Len is the number of configured sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Start runs the delivery worker until ctx is done or Close is called.
func (f *Fanout) Start(ctx context.Context) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case it, ok := <-f.queue:
				if !ok {
					return
				}
				f.deliver(ctx, it)
			}
		}
	}()
}

func (f *Fanout) deliver(ctx context.Context, it item) {
	for _, s := range f.sinks {
		pctx, cancel := context.WithTimeout(ctx, f.timeout)
		err := s.Publish(pctx, it.driverID, it.status, it.loc)
		cancel()
		if err != nil {
			observability.TelemetryErrorsTotal.WithLabelValues(s.Name()).Inc()
			f.logger.Warn("telemetry publish failed", "sink", s.Name(), "driver_id", it.driverID, "error", err)
		}
	}
}

// Publish enqueues a sample without blocking; a full queue drops it.
// Samples published after Close are dropped.
func (f *Fanout) Publish(driverID string, status models.DriverStatus, loc models.Location) bool {
	if len(f.sinks) == 0 {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}
	select {
	case f.queue <- item{driverID: driverID, status: status, loc: loc}:
		return true
	default:
		observability.TelemetryDroppedTotal.Inc()
		return false
	}
}

// Close stops accepting samples, drains the queue and waits for the worker.
func (f *Fanout) Close() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()
	f.wg.Wait()
}
