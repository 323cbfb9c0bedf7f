package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/driver-client/internal/geo"
	"github.com/example/driver-client/internal/location"
	"github.com/example/driver-client/internal/models"
	"github.com/example/driver-client/internal/realtime"
	"github.com/example/driver-client/internal/routing"
	"github.com/example/driver-client/internal/storage"
)

var (
	pickup  = models.Coord{Lat: 10.7769, Lng: 106.7009}
	dropoff = models.Coord{Lat: 10.8231, Lng: 106.6297}
	here    = models.Location{Coord: models.Coord{Lat: 10.7700, Lng: 106.6950}, Speed: 8, Heading: 45}
)

type fakeBackend struct {
	mu       sync.Mutex
	calls    map[string]int
	statuses []models.DriverStatus

	statusErr error
	acceptErr error
	startErr  error
	endErr    error
	getErr    error
	activeErr error

	trip   *models.Trip // returned by accept and trip lookups
	active *models.Trip

	// when set, AcceptRide signals acceptCalled and waits for acceptGate
	acceptGate   chan struct{}
	acceptCalled chan struct{}
	statusGate   chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calls: map[string]int{},
		trip: &models.Trip{
			ID:              "trip-1",
			RideRequestID:   "rr-1",
			PassengerID:     "42",
			Status:          models.TripAssigned,
			PickupLocation:  models.PointFrom(pickup),
			DropoffLocation: models.PointFrom(dropoff),
			Price:           25,
		},
	}
}

func (f *fakeBackend) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) hit(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeBackend) lastStatus() models.DriverStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

func (f *fakeBackend) UpdateDriverStatus(ctx context.Context, driverID string, status models.DriverStatus) error {
	f.hit("status")
	if f.statusGate != nil {
		<-f.statusGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeBackend) AcceptRide(ctx context.Context, rideRequestID, driverID string) (*models.Trip, error) {
	f.hit("accept")
	if f.acceptCalled != nil {
		f.acceptCalled <- struct{}{}
	}
	if f.acceptGate != nil {
		<-f.acceptGate
	}
	if f.acceptErr != nil {
		return nil, f.acceptErr
	}
	t := *f.trip
	t.RideRequestID = rideRequestID
	return &t, nil
}

func (f *fakeBackend) StartTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	f.hit("start")
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &models.Trip{ID: tripID, Status: models.TripInProgress}, nil
}

func (f *fakeBackend) EndTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	f.hit("end")
	if f.endErr != nil {
		return nil, f.endErr
	}
	return &models.Trip{ID: tripID, Status: models.TripCompleted}, nil
}

func (f *fakeBackend) GetTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	f.hit("get")
	if f.getErr != nil {
		return nil, f.getErr
	}
	src := f.trip
	if f.active != nil {
		src = f.active
	}
	t := *src
	return &t, nil
}

func (f *fakeBackend) ActiveTrip(ctx context.Context, driverID string) (*models.Trip, error) {
	f.hit("active")
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	if f.active == nil {
		return nil, nil
	}
	return &models.Trip{ID: f.active.ID}, nil
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []string
	data   []any
	err    error
}

func (e *fakeEmitter) Emit(name string, data any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, name)
	e.data = append(e.data, data)
	return nil
}

func (e *fakeEmitter) has(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range e.events {
		if n == name {
			return true
		}
	}
	return false
}

func (e *fakeEmitter) last(name string) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.events) - 1; i >= 0; i-- {
		if e.events[i] == name {
			return e.data[i]
		}
	}
	return nil
}

type fakeTracker struct {
	mu       sync.Mutex
	running  bool
	starts   int
	stops    int
	restarts int
}

func (t *fakeTracker) Start(ctx context.Context, h location.Handler) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return false
	}
	t.running = true
	t.starts++
	return true
}

func (t *fakeTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.stops++
}

func (t *fakeTracker) Restart(ctx context.Context, h location.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
	t.restarts++
}

func (t *fakeTracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *fakeTracker) counts() (starts, stops, restarts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.starts, t.stops, t.restarts
}

type fakeDistance struct {
	meters float64
	err    error
}

func (d fakeDistance) Distance(ctx context.Context, from, to models.Coord) (routing.Estimate, error) {
	if d.err != nil {
		return routing.Estimate{}, d.err
	}
	return routing.Estimate{Meters: d.meters}, nil
}

type fakeTelemetry struct {
	mu sync.Mutex
	n  int
}

func (f *fakeTelemetry) Publish(driverID string, status models.DriverStatus, loc models.Location) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return true
}

func (f *fakeTelemetry) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

type recordingPresenter struct {
	nopPresenter
	mu     sync.Mutex
	notes  []Notification
	offers []RideOffer
	routes []RouteLeg
	peers  []PeerPosition
}

func (p *recordingPresenter) Notify(n Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notes = append(p.notes, n)
}

func (p *recordingPresenter) ShowRideRequest(o RideOffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers = append(p.offers, o)
}

func (p *recordingPresenter) ShowRoute(r RouteLeg) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes = append(p.routes, r)
}

func (p *recordingPresenter) PeerMoved(pp PeerPosition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peers = append(p.peers, pp)
}

func (p *recordingPresenter) lastRoute() (RouteLeg, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.routes) == 0 {
		return RouteLeg{}, false
	}
	return p.routes[len(p.routes)-1], true
}

func (p *recordingPresenter) noted(msg string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.notes {
		if n.Message == msg {
			return true
		}
	}
	return false
}

type harness struct {
	t         *testing.T
	c         *Coordinator
	backend   *fakeBackend
	emitter   *fakeEmitter
	tracker   *fakeTracker
	presenter *recordingPresenter
	journal   *storage.MemoryJournal
	telemetry *fakeTelemetry
	peers     *geo.Index
}

func newHarness(t *testing.T, b *fakeBackend) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		backend:   b,
		emitter:   &fakeEmitter{},
		tracker:   &fakeTracker{},
		presenter: &recordingPresenter{},
		journal:   storage.NewMemoryJournal(0),
		telemetry: &fakeTelemetry{},
		peers:     geo.NewIndex(),
	}
	h.c = New(Config{
		DriverID:    "driver-7",
		Backend:     b,
		Distance:    fakeDistance{meters: 1500},
		Emitter:     h.emitter,
		Tracker:     h.tracker,
		Presenter:   h.presenter,
		Journal:     h.journal,
		Telemetry:   h.telemetry,
		Peers:       h.peers,
		CallTimeout: time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go h.c.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func (h *harness) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	h.t.Cleanup(cancel)
	return ctx
}

func (h *harness) snapshot() Snapshot {
	h.t.Helper()
	s, err := h.c.Snapshot(h.ctx())
	if err != nil {
		h.t.Fatalf("snapshot: %v", err)
	}
	return s
}

func (h *harness) waitFor(cond func(Snapshot) bool) Snapshot {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := h.snapshot()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("condition not met; last snapshot %+v", s)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) waitForState(want State) Snapshot {
	h.t.Helper()
	return h.waitFor(func(s Snapshot) bool { return s.State == want })
}

func (h *harness) event(name string, data any) {
	h.t.Helper()
	ev, err := realtime.NewEvent(name, data)
	if err != nil {
		h.t.Fatal(err)
	}
	h.c.HandleEvent(ev)
}

// online brings the driver online with a known position.
func (h *harness) online() {
	h.t.Helper()
	if err := h.c.GoOnline(h.ctx()); err != nil {
		h.t.Fatalf("go online: %v", err)
	}
	h.c.HandleSample(here)
	h.waitFor(func(s Snapshot) bool { return s.Location != nil })
}

func (h *harness) offerRide(id string) {
	h.t.Helper()
	h.event(realtime.EventNewRideRequest, models.RideRequest{
		RideRequestID:   id,
		PickupLocation:  models.PointFrom(pickup),
		DropoffLocation: models.PointFrom(dropoff),
		Price:           25,
	})
}

var errBoom = errors.New("boom")
