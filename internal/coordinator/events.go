package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/example/driver-client/internal/geo"
	"github.com/example/driver-client/internal/location"
	"github.com/example/driver-client/internal/models"
	"github.com/example/driver-client/internal/observability"
	"github.com/example/driver-client/internal/realtime"
	"github.com/example/driver-client/internal/routing"
	"github.com/example/driver-client/internal/storage"
)

// HandleEvent implements realtime.Handler.
func (c *Coordinator) HandleEvent(ev realtime.Event) {
	c.post(func() { c.onEvent(ev) })
}

// HandleSample implements location.Handler. Samples are dropped when the
// inbox is full; the next one supersedes them anyway.
func (c *Coordinator) HandleSample(loc models.Location) {
	c.tryPost(func() { c.onSample(loc) })
}

func (c *Coordinator) HandleLocationError(err error) {
	c.tryPost(func() { c.onLocationError(err) })
}

func (c *Coordinator) onEvent(ev realtime.Event) {
	switch ev.Name {
	case realtime.EventConnect:
		c.onConnect()
	case realtime.EventDisconnect:
		c.session.Connected = false
		c.changed = true
		c.notify(LevelWarning, "Disconnected from server")
	case realtime.EventNewRideRequest:
		c.onRideRequest(ev)
	case realtime.EventRideTaken:
		c.onRideTaken(ev)
	case realtime.EventPassengerLocation:
		c.onPassengerLocation(ev)
	case realtime.EventDriverLocation:
		c.onDriverLocation(ev)
	default:
		c.logger.Debug("ignoring realtime event", "event", ev.Name)
	}
}

func (c *Coordinator) onConnect() {
	c.session.Connected = true
	c.changed = true
	c.notify(LevelInfo, "Connected to server")
	if !c.session.Online || c.op != nil {
		return
	}
	// re-announce after a reconnect so the backend routes requests here again
	background(c, c.statusCall(models.DriverOnline), func(_ struct{}, err error) {
		if err != nil {
			c.logger.Warn("re-announce online failed", "driver_id", c.driverID, "error", err)
			c.notify(LevelWarning, "Failed to update status")
		}
	})
	c.startTracking()
}

func (c *Coordinator) onRideRequest(ev realtime.Event) {
	var req models.RideRequest
	if err := ev.Decode(&req); err != nil {
		c.logger.Warn("bad ride request payload", "error", err)
		return
	}
	reason := ""
	switch {
	case req.RideRequestID == "":
		reason = "missing_id"
	case !c.session.Online:
		reason = "offline"
	case c.session.Pending != nil || c.session.Trip != nil:
		reason = "busy"
	case c.op != nil && c.op.name == opGoOffline:
		reason = "going_offline"
	case c.session.Location == nil:
		reason = "no_location"
	}
	if reason != "" {
		observability.RideRequestsTotal.WithLabelValues("ignored").Inc()
		c.logger.Info("ride request ignored", "ride_request_id", req.RideRequestID, "reason", reason)
		return
	}

	c.session.Pending = &PendingRequest{RideRequest: req}
	observability.RideRequestsTotal.WithLabelValues("received").Inc()
	c.logger.Info("ride request received", "ride_request_id", req.RideRequestID, "price", req.Price)

	if c.distance == nil {
		c.presentPending(req.RideRequestID, routing.Estimate{}, nil)
		return
	}
	from, pickup := c.session.Location.Coord, req.PickupLocation.Coord()
	lookup := func(ctx context.Context) (routing.Estimate, error) { return c.distance.Distance(ctx, from, pickup) }
	background(c, lookup, func(est routing.Estimate, err error) {
		c.presentPending(req.RideRequestID, est, err)
	})
}

// presentPending shows the request if it is still the pending one.
func (c *Coordinator) presentPending(id string, est routing.Estimate, err error) {
	p := c.session.Pending
	if p == nil || p.RideRequestID != id || p.Presented {
		return
	}
	msg := "New ride request"
	if err != nil {
		c.logger.Warn("distance to pickup unavailable", "ride_request_id", id, "error", err)
	} else if est.Meters > 0 {
		p.DistanceMeters = est.Meters
		p.Estimated = est.Estimated
		msg = fmt.Sprintf("New ride request %.1f km away", est.Meters/1000)
	}
	p.Presented = true
	c.changed = true
	c.presenter.ShowRideRequest(RideOffer{Request: p.RideRequest, DistanceMeters: p.DistanceMeters, Estimated: p.Estimated})
	c.notify(LevelInfo, msg)
}

func (c *Coordinator) onRideTaken(ev realtime.Event) {
	var data realtime.RideTaken
	if err := ev.Decode(&data); err != nil {
		c.logger.Warn("bad ride_taken payload", "error", err)
		return
	}
	p := c.session.Pending
	if p == nil || p.RideRequestID != data.RideRequestID {
		return
	}
	if c.op != nil && c.op.name == opAcceptRide {
		c.abort(fmt.Errorf("%w: taken by another driver", ErrRideUnavailable))
	}
	c.session.Pending = nil
	observability.RideRequestsTotal.WithLabelValues("taken").Inc()
	c.logger.Info("ride taken by another driver", "ride_request_id", data.RideRequestID)
	c.notify(LevelWarning, "This ride has been taken by another driver")
}

func (c *Coordinator) onPassengerLocation(ev realtime.Event) {
	var data realtime.PassengerLocation
	if err := ev.Decode(&data); err != nil {
		c.logger.Debug("bad passenger location payload", "error", err)
		return
	}
	t := c.session.Trip
	if t == nil || data.TripID != t.ID {
		return
	}
	c.presenter.PeerMoved(PeerPosition{Kind: "passenger", ID: string(t.PassengerID), Coord: data.Location.Coord()})
}

func (c *Coordinator) onDriverLocation(ev realtime.Event) {
	var data realtime.DriverLocation
	if err := ev.Decode(&data); err != nil {
		c.logger.Debug("bad driver location payload", "error", err)
		return
	}
	if data.DriverID == "" || data.DriverID == c.driverID {
		return
	}
	pos := data.Location.Coord()
	if c.peers != nil {
		c.peers.Upsert(geo.Peer{ID: data.DriverID, Loc: pos, Updated: time.Now()})
	}
	c.presenter.PeerMoved(PeerPosition{Kind: "driver", ID: data.DriverID, Coord: pos})
}

func (c *Coordinator) onSample(loc models.Location) {
	if !c.session.Online {
		return
	}
	c.session.Location = &loc
	c.presenter.DriverMoved(loc)
	_ = c.emit(realtime.EventUpdateLocation, realtime.LocationUpdate{
		DriverID: c.driverID,
		Location: models.PointFrom(loc.Coord),
		Speed:    loc.Speed,
		Heading:  loc.Heading,
	})
	if c.telemetry != nil {
		c.telemetry.Publish(c.driverID, models.DriverOnline, loc)
	}
	if c.peers != nil {
		if n := c.peers.Prune(c.peerTTL); n > 0 {
			c.logger.Debug("pruned silent peers", "count", n)
		}
	}
}

func (c *Coordinator) onLocationError(err error) {
	c.logger.Warn("location error", "kind", location.Kind(err), "error", err)
	c.notify(LevelError, location.Describe(err))
}

// Reconcile restores a trip the backend still considers active, so a
// restarted client resumes where it left off instead of idling.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	return c.call(ctx, c.reconcile)
}

func (c *Coordinator) reconcile(reply func(error)) {
	if c.session.Online {
		reply(stateError("reconcile", c.session.State()))
		return
	}
	op, ok := c.begin(opReconcile, reply)
	if !ok {
		return
	}
	lookup := func(ctx context.Context) (*models.Trip, error) {
		active, err := c.backend.ActiveTrip(ctx, c.driverID)
		if err != nil || active == nil {
			return nil, err
		}
		details, err := c.backend.GetTrip(ctx, active.ID)
		if err != nil {
			return nil, err
		}
		if details.ID == "" {
			details.ID = active.ID
		}
		return details, nil
	}
	await(c, op, lookup, func(trip *models.Trip, err error) {
		if err != nil {
			c.logger.Error("active trip lookup failed", "driver_id", c.driverID, "error", err)
			c.notify(LevelError, "Could not restore trip state")
			c.finish(op, &BackendError{Op: "reconcile", Err: err})
			return
		}
		if trip == nil || (trip.Status != models.TripAssigned && trip.Status != models.TripInProgress) {
			c.finish(op, nil)
			return
		}
		c.session.Online = true
		c.session.Trip = trip
		c.session.Arrived = false
		c.logger.Info("resumed active trip", "trip_id", trip.ID, "status", trip.Status)
		c.record(storage.EventResumed, trip)
		c.startTracking()
		if trip.Status == models.TripAssigned {
			c.showRoute(c.currentCoord(), trip.PickupLocation.Coord(), "pickup")
		} else {
			from := c.currentCoord()
			if from == nil {
				pickup := trip.PickupLocation.Coord()
				from = &pickup
			}
			c.showRoute(from, trip.DropoffLocation.Coord(), "dropoff")
		}
		c.notify(LevelInfo, "Resumed your active trip")

		await(c, op, c.statusCall(models.DriverOnline), func(_ struct{}, err error) {
			if err != nil {
				c.logger.Warn("status update after resume failed", "driver_id", c.driverID, "error", err)
				c.notify(LevelWarning, "Failed to update status")
			}
			c.finish(op, nil)
		})
	})
}
