package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/driver-client/internal/coordinator"
	"github.com/example/driver-client/internal/geo"
	"github.com/example/driver-client/internal/logging"
	"github.com/example/driver-client/internal/models"
	"github.com/example/driver-client/internal/storage"
)

// Driver is the set of UI actions the control API exposes.
type Driver interface {
	GoOnline(ctx context.Context) error
	GoOffline(ctx context.Context) error
	Toggle(ctx context.Context) error
	AcceptRide(ctx context.Context) error
	RejectRide(ctx context.Context) error
	NotifyArrival(ctx context.Context) error
	StartTrip(ctx context.Context) error
	EndTrip(ctx context.Context) error
	Snapshot(ctx context.Context) (coordinator.Snapshot, error)
}

// Notifications lists recent driver notifications, newest first.
type Notifications interface {
	Recent(limit int) []coordinator.Notification
}

type Server struct {
	Driver        Driver
	Notifications Notifications
	Journal       storage.TripJournal
	Peers         *geo.Index
	// PeerMaxAge hides peers that stopped reporting.
	PeerMaxAge time.Duration

	mux    *mux.Router
	logger *slog.Logger
}

func NewServer(d Driver, notes Notifications, journal storage.TripJournal, peers *geo.Index, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		Driver:        d,
		Notifications: notes,
		Journal:       journal,
		Peers:         peers,
		PeerMaxAge:    2 * time.Minute,
		mux:           mux.NewRouter(),
		logger:        logger,
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	v1 := s.mux.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/state", s.handleState).Methods("GET")
	v1.HandleFunc("/notifications", s.handleNotifications).Methods("GET")
	v1.HandleFunc("/trips", s.handleTrips).Methods("GET")
	v1.HandleFunc("/peers", s.handlePeers).Methods("GET")

	v1.HandleFunc("/driver/online", s.action(s.Driver.GoOnline)).Methods("POST")
	v1.HandleFunc("/driver/offline", s.action(s.Driver.GoOffline)).Methods("POST")
	v1.HandleFunc("/driver/toggle", s.action(s.Driver.Toggle)).Methods("POST")
	v1.HandleFunc("/ride-request/accept", s.action(s.Driver.AcceptRide)).Methods("POST")
	v1.HandleFunc("/ride-request/reject", s.action(s.Driver.RejectRide)).Methods("POST")
	v1.HandleFunc("/trip/arrive", s.action(s.Driver.NotifyArrival)).Methods("POST")
	v1.HandleFunc("/trip/start", s.action(s.Driver.StartTrip)).Methods("POST")
	v1.HandleFunc("/trip/end", s.action(s.Driver.EndTrip)).Methods("POST")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// action runs a driver command and answers with the resulting state.
func (s *Server) action(cmd func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cmd(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
		snap, err := s.Driver.Snapshot(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("X-Driver-State", snap.State.String())
		writeJSON(w, http.StatusOK, snap)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Driver.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	out := []coordinator.Notification{}
	if s.Notifications != nil {
		out = append(out, s.Notifications.Recent(limitParam(r, 20))...)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrips(w http.ResponseWriter, r *http.Request) {
	out := []storage.TripEvent{}
	if s.Journal != nil {
		evs, err := s.Journal.Recent(r.Context(), limitParam(r, 20))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out = append(out, evs...)
	}
	writeJSON(w, http.StatusOK, out)
}

type peerView struct {
	ID             string          `json:"id"`
	Location       models.GeoPoint `json:"location"`
	DistanceMeters float64         `json:"distance_meters"`
	Updated        time.Time       `json:"updated"`
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	out := []peerView{}
	snap, err := s.Driver.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.Peers != nil && snap.Location != nil {
		me := snap.Location.Coord
		for _, p := range s.Peers.Nearby(me.Lat, me.Lng, limitParam(r, 10), s.PeerMaxAge) {
			out = append(out, peerView{ID: p.ID, Location: models.PointFrom(p.Loc), DistanceMeters: geo.Distance(me, p.Loc), Updated: p.Updated})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func limitParam(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > 500 {
		n = 500
	}
	return n
}

// statusFor maps coordinator outcomes to HTTP status codes.
func statusFor(err error) int {
	var be *coordinator.BackendError
	switch {
	case errors.Is(err, coordinator.ErrRideUnavailable):
		return http.StatusGone
	case errors.Is(err, coordinator.ErrCannotGoOffline),
		errors.Is(err, coordinator.ErrInvalidState),
		errors.Is(err, coordinator.ErrBusy),
		errors.Is(err, coordinator.ErrAlreadyOnline),
		errors.Is(err, coordinator.ErrAlreadyOffline),
		errors.Is(err, coordinator.ErrNoPendingRequest):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &be):
		return http.StatusBadGateway
	case errors.Is(err, coordinator.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.logger.Error("request failed", "route", routeTemplate(r), "status", code, "error", err, "request_id", requestIDFromContext(r.Context()))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { return uuid.NewString() }
