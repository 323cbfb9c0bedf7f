// Package coordinator owns the driver's online status and ride/trip state.
//
// A single goroutine (Run) processes every input in arrival order: control
// commands, realtime events, location samples and the completions of
// backend calls. Handlers run to completion and never block on I/O; backend
// calls run on their own goroutines and post their results back to the
// inbox tagged with the operation that issued them, so a completion that
// arrives after its operation was superseded is dropped.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/driver-client/internal/geo"
	"github.com/example/driver-client/internal/logging"
	"github.com/example/driver-client/internal/models"
	"github.com/example/driver-client/internal/observability"
	"github.com/example/driver-client/internal/storage"
)

// Config carries the coordinator's collaborators. Only DriverID and Backend
// are required.
type Config struct {
	DriverID  string
	Backend   Backend
	Distance  Distance
	Emitter   Emitter
	Tracker   Tracker
	Presenter Presenter
	Journal   storage.TripJournal
	Telemetry Telemetry
	Peers     *geo.Index
	Logger    *slog.Logger

	// CallTimeout bounds each backend call. Defaults to 10s.
	CallTimeout time.Duration
	// PeerTTL drops peers that stopped reporting. Defaults to 5m.
	PeerTTL   time.Duration
	InboxSize int
}

type Coordinator struct {
	driverID  string
	backend   Backend
	distance  Distance
	emitter   Emitter
	tracker   Tracker
	presenter Presenter
	journal   storage.TripJournal
	telemetry Telemetry
	peers     *geo.Index
	logger    *slog.Logger
	timeout   time.Duration
	peerTTL   time.Duration

	inbox   chan func()
	stopped chan struct{}
	runOnce sync.Once

	// owned by the Run goroutine
	runCtx  context.Context
	session Session
	op      *operation
	opSeq   uint64
	changed bool
}

func New(cfg Config) *Coordinator {
	c := &Coordinator{
		driverID:  cfg.DriverID,
		backend:   cfg.Backend,
		distance:  cfg.Distance,
		emitter:   cfg.Emitter,
		tracker:   cfg.Tracker,
		presenter: cfg.Presenter,
		journal:   cfg.Journal,
		telemetry: cfg.Telemetry,
		peers:     cfg.Peers,
		logger:    cfg.Logger,
		timeout:   cfg.CallTimeout,
		peerTTL:   cfg.PeerTTL,
		stopped:   make(chan struct{}),
		runCtx:    context.Background(),
		session:   Session{DriverID: cfg.DriverID},
	}
	if c.presenter == nil {
		c.presenter = nopPresenter{}
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.peerTTL <= 0 {
		c.peerTTL = 5 * time.Minute
	}
	size := cfg.InboxSize
	if size <= 0 {
		size = 256
	}
	c.inbox = make(chan func(), size)
	return c
}

// Run processes the inbox until ctx is cancelled. It must be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	ran := false
	c.runOnce.Do(func() { ran = true })
	if !ran {
		return fmt.Errorf("coordinator: Run called twice")
	}
	c.runCtx = ctx
	setStateGauge(c.session.State())
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case msg := <-c.inbox:
			c.dispatch(msg)
		}
	}
}

func (c *Coordinator) dispatch(msg func()) {
	before := c.session.State()
	msg()
	after := c.session.State()
	if before != after {
		observability.StateTransitionsTotal.WithLabelValues(before.String(), after.String()).Inc()
		setStateGauge(after)
		c.logger.Info("state transition", "driver_id", c.driverID, "from", before.String(), "to", after.String())
		c.changed = true
	}
	if c.changed {
		c.changed = false
		c.presenter.StateChanged(c.session.snapshot(c.opName()))
	}
}

func (c *Coordinator) shutdown() {
	if op := c.op; op != nil {
		c.op = nil
		op.cancel()
		op.reply(ErrStopped)
	}
	if c.tracker != nil {
		c.tracker.Stop()
	}
}

func setStateGauge(s State) {
	for i := range stateNames {
		v := 0.0
		if State(i) == s {
			v = 1
		}
		observability.CurrentState.WithLabelValues(State(i).String()).Set(v)
	}
}

// post delivers msg to the loop, waiting for room in the inbox.
func (c *Coordinator) post(msg func()) bool {
	select {
	case c.inbox <- msg:
		return true
	case <-c.stopped:
		return false
	}
}

// tryPost delivers msg only if the inbox has room.
func (c *Coordinator) tryPost(msg func()) bool {
	select {
	case c.inbox <- msg:
		return true
	default:
		return false
	}
}

// call runs fn on the loop and waits for it, or the asynchronous work it
// starts, to reply.
func (c *Coordinator) call(ctx context.Context, fn func(reply func(error))) error {
	ch := make(chan error, 1)
	var once sync.Once
	reply := func(err error) { once.Do(func() { ch <- err }) }
	select {
	case c.inbox <- func() { fn(reply) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
}

// operation is the token of the one user operation allowed in flight.
type operation struct {
	id     uint64
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	reply  func(error)
}

const (
	opGoOnline   = "go_online"
	opGoOffline  = "go_offline"
	opAcceptRide = "accept_ride"
	opArrive     = "notify_arrival"
	opStartTrip  = "start_trip"
	opEndTrip    = "end_trip"
	opReconcile  = "reconcile"
)

func (c *Coordinator) begin(name string, reply func(error)) (*operation, bool) {
	if c.op != nil {
		reply(fmt.Errorf("%s while %s: %w", name, c.op.name, ErrBusy))
		return nil, false
	}
	c.opSeq++
	ctx, cancel := context.WithCancel(c.runCtx)
	c.op = &operation{id: c.opSeq, name: name, ctx: ctx, cancel: cancel, reply: reply}
	c.changed = true
	return c.op, true
}

func (c *Coordinator) finish(op *operation, err error) {
	if c.op == op {
		c.op = nil
		c.changed = true
	}
	op.cancel()
	op.reply(err)
}

// abort cancels the in-flight operation; its completion will be discarded.
func (c *Coordinator) abort(err error) {
	op := c.op
	if op == nil {
		return
	}
	c.op = nil
	c.changed = true
	op.cancel()
	op.reply(err)
	c.logger.Info("operation aborted", "op", op.name, "op_id", op.id, "error", err)
}

func (c *Coordinator) opName() string {
	if c.op == nil {
		return ""
	}
	return c.op.name
}

// await runs call off the loop and hands its result to done on the loop,
// unless op is no longer current by then.
func await[T any](c *Coordinator, op *operation, call func(context.Context) (T, error), done func(T, error)) {
	ctx, cancel := context.WithTimeout(op.ctx, c.timeout)
	go func() {
		defer cancel()
		v, err := call(ctx)
		c.post(func() {
			if c.op != op {
				c.logger.Debug("discarding stale completion", "op", op.name, "op_id", op.id)
				return
			}
			done(v, err)
		})
	}()
}

// background runs call off the loop with no operation token. done must
// validate the session itself.
func background[T any](c *Coordinator, call func(context.Context) (T, error), done func(T, error)) {
	ctx, cancel := context.WithTimeout(c.runCtx, c.timeout)
	go func() {
		defer cancel()
		v, err := call(ctx)
		c.post(func() { done(v, err) })
	}()
}

func (c *Coordinator) statusCall(status models.DriverStatus) func(context.Context) (struct{}, error) {
	return func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.backend.UpdateDriverStatus(ctx, c.driverID, status)
	}
}

func (c *Coordinator) notify(level Level, msg string) {
	c.presenter.Notify(Notification{Level: level, Message: msg, At: time.Now()})
}

// emit sends a best-effort realtime event.
func (c *Coordinator) emit(name string, data any) error {
	if c.emitter == nil {
		return nil
	}
	err := c.emitter.Emit(name, data)
	if err != nil {
		c.logger.Debug("realtime emit dropped", "event", name, "error", err)
	}
	return err
}

func (c *Coordinator) startTracking() {
	if c.tracker != nil {
		c.tracker.Start(c.runCtx, c)
	}
}

func (c *Coordinator) record(kind storage.EventKind, t *models.Trip) {
	if c.journal == nil || t == nil {
		return
	}
	ev := storage.EventFromTrip(kind, c.driverID, t)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.journal.Record(ctx, ev); err != nil {
			c.logger.Warn("journal record failed", "kind", kind, "trip_id", ev.TripID, "error", err)
		}
	}()
}

func (c *Coordinator) showRoute(from *models.Coord, to models.Coord, purpose string) {
	if from == nil {
		c.logger.Debug("no origin for route", "purpose", purpose)
		return
	}
	c.presenter.ShowRoute(RouteLeg{From: *from, To: to, Purpose: purpose})
}

func (c *Coordinator) currentCoord() *models.Coord {
	if c.session.Location == nil {
		return nil
	}
	p := c.session.Location.Coord
	return &p
}

// Snapshot returns a copy of the session as the loop sees it.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.call(ctx, func(reply func(error)) {
		snap = c.session.snapshot(c.opName())
		reply(nil)
	})
	return snap, err
}
