package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/driver-client/internal/backend"
	"github.com/example/driver-client/internal/coordinator"
	"github.com/example/driver-client/internal/geo"
	"github.com/example/driver-client/internal/logging"
	"github.com/example/driver-client/internal/models"
	"github.com/example/driver-client/internal/presenter"
	"github.com/example/driver-client/internal/storage"
)

// fakeDriver returns err from every command
type fakeDriver struct {
	err   error
	snap  coordinator.Snapshot
	calls []string
}

func (f *fakeDriver) do(name string) error { f.calls = append(f.calls, name); return f.err }

func (f *fakeDriver) GoOnline(context.Context) error      { return f.do("online") }
func (f *fakeDriver) GoOffline(context.Context) error     { return f.do("offline") }
func (f *fakeDriver) Toggle(context.Context) error        { return f.do("toggle") }
func (f *fakeDriver) AcceptRide(context.Context) error    { return f.do("accept") }
func (f *fakeDriver) RejectRide(context.Context) error    { return f.do("reject") }
func (f *fakeDriver) NotifyArrival(context.Context) error { return f.do("arrive") }
func (f *fakeDriver) StartTrip(context.Context) error     { return f.do("start") }
func (f *fakeDriver) EndTrip(context.Context) error       { return f.do("end") }
func (f *fakeDriver) Snapshot(context.Context) (coordinator.Snapshot, error) {
	return f.snap, nil
}

func newTestServer(d *fakeDriver) (*Server, *presenter.Feed, *storage.MemoryJournal, *geo.Index) {
	feed := presenter.NewFeed(10)
	journal := storage.NewMemoryJournal(10)
	peers := geo.NewIndex()
	return NewServer(d, feed, journal, peers, nil), feed, journal, peers
}

func TestActionsRouteToDriver(t *testing.T) {
	d := &fakeDriver{snap: coordinator.Snapshot{DriverID: "d1", State: coordinator.OnlineIdle}}
	srv, _, _, _ := newTestServer(d)

	paths := map[string]string{
		"/v1/driver/online":       "online",
		"/v1/driver/offline":      "offline",
		"/v1/driver/toggle":       "toggle",
		"/v1/ride-request/accept": "accept",
		"/v1/ride-request/reject": "reject",
		"/v1/trip/arrive":         "arrive",
		"/v1/trip/start":          "start",
		"/v1/trip/end":            "end",
	}
	for path, want := range paths {
		d.calls = nil
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
		if len(d.calls) != 1 || d.calls[0] != want {
			t.Fatalf("%s: expected %s, got %v", path, want, d.calls)
		}
		var snap map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
			t.Fatal(err)
		}
		if snap["state"] != "ONLINE_IDLE" || rr.Header().Get("X-Driver-State") != "ONLINE_IDLE" {
			t.Fatalf("expected state in response, got %v", snap)
		}
	}
}

func TestActionsRejectGet(t *testing.T) {
	srv, _, _, _ := newTestServer(&fakeDriver{})
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/trip/start", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{coordinator.ErrCannotGoOffline, http.StatusConflict},
		{fmt.Errorf("start trip in OFFLINE: %w", coordinator.ErrInvalidState), http.StatusConflict},
		{coordinator.ErrBusy, http.StatusConflict},
		{fmt.Errorf("%w: %w", coordinator.ErrRideUnavailable, backend.ErrRequestExpired), http.StatusGone},
		{&coordinator.BackendError{Op: "end trip", Err: errors.New("503")}, http.StatusBadGateway},
		{&coordinator.BackendError{Op: "end trip", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{coordinator.ErrStopped, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		srv, _, _, _ := newTestServer(&fakeDriver{err: tc.err})
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/driver/offline", nil))
		if rr.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, rr.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["error"] == "" {
			t.Fatalf("expected an error body, got %q", rr.Body.String())
		}
	}
}

func TestNotificationsAndTrips(t *testing.T) {
	srv, feed, journal, _ := newTestServer(&fakeDriver{})
	feed.Notify(coordinator.Notification{Level: coordinator.LevelSuccess, Message: "You are now online"})
	_ = journal.Record(context.Background(), storage.TripEvent{TripID: "t1", Kind: storage.EventAccepted})
	_ = journal.Record(context.Background(), storage.TripEvent{TripID: "t1", Kind: storage.EventStarted})

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/notifications", nil))
	var notes []coordinator.Notification
	if err := json.Unmarshal(rr.Body.Bytes(), &notes); err != nil || len(notes) != 1 {
		t.Fatalf("unexpected notifications %q", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/trips?limit=1", nil))
	var trips []storage.TripEvent
	if err := json.Unmarshal(rr.Body.Bytes(), &trips); err != nil {
		t.Fatal(err)
	}
	if len(trips) != 1 || trips[0].Kind != storage.EventStarted {
		t.Fatalf("expected newest trip event only, got %+v", trips)
	}
}

func TestPeersNearby(t *testing.T) {
	me := models.Location{Coord: models.Coord{Lat: 10.77, Lng: 106.70}}
	srv, _, _, peers := newTestServer(&fakeDriver{snap: coordinator.Snapshot{Location: &me}})
	peers.Upsert(geo.Peer{ID: "near", Loc: models.Coord{Lat: 10.771, Lng: 106.70}, Updated: time.Now()})
	peers.Upsert(geo.Peer{ID: "far", Loc: models.Coord{Lat: 10.9, Lng: 106.70}, Updated: time.Now()})
	peers.Upsert(geo.Peer{ID: "stale", Loc: models.Coord{Lat: 10.77, Lng: 106.70}, Updated: time.Now().Add(-time.Hour)})

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/peers", nil))
	var out []peerView
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].ID != "near" {
		t.Fatalf("expected fresh peers nearest first, got %+v", out)
	}
	if out[0].Location.Coordinates != [2]float64{106.70, 10.771} {
		t.Fatalf("peer location must be [lng, lat], got %v", out[0].Location.Coordinates)
	}
}

func TestHealthzAndRequestID(t *testing.T) {
	srv, _, _, _ := newTestServer(&fakeDriver{})
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("unexpected healthz response %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	req.Header.Set("X-Request-ID", "abc")
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Header().Get("X-Request-ID") != "abc" {
		t.Fatalf("expected the caller's request id to be echoed")
	}
}

func TestAccessLogLevels(t *testing.T) {
	var buf bytes.Buffer
	d := &fakeDriver{snap: coordinator.Snapshot{State: coordinator.TripAssigned}}
	srv := NewServer(d, nil, nil, nil, logging.New(&buf, "info", "test"))

	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/state", nil))
	if buf.Len() != 0 {
		t.Fatalf("state polling should only log at debug, got %s", buf.String())
	}

	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/ride-request/accept", nil))
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON line: %v", err)
	}
	if rec["msg"] != "driver_action" || rec["route"] != "/v1/ride-request/accept" || rec["state"] != "TRIP_ASSIGNED" {
		t.Fatalf("unexpected action log %v", rec)
	}
}

func TestPanicBecomesJSONError(t *testing.T) {
	srv, _, _, _ := newTestServer(&fakeDriver{})
	srv.mux.HandleFunc("/v1/explode", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/explode", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["error"] != "internal error" {
		t.Fatalf("expected a JSON error body, got %q", rr.Body.String())
	}
}
