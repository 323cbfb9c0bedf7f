package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/driver-client/internal/backend"
	"github.com/example/driver-client/internal/models"
	"github.com/example/driver-client/internal/observability"
	"github.com/example/driver-client/internal/realtime"
	"github.com/example/driver-client/internal/storage"
)

// Each command blocks until the backend confirms or the operation is
// rejected. No state is committed before confirmation.

func (c *Coordinator) GoOnline(ctx context.Context) error  { return c.call(ctx, c.goOnline) }
func (c *Coordinator) GoOffline(ctx context.Context) error { return c.call(ctx, c.goOffline) }

// Toggle goes online from OFFLINE and attempts to go offline otherwise.
func (c *Coordinator) Toggle(ctx context.Context) error {
	return c.call(ctx, func(reply func(error)) {
		if c.session.Online {
			c.goOffline(reply)
			return
		}
		c.goOnline(reply)
	})
}

func (c *Coordinator) AcceptRide(ctx context.Context) error    { return c.call(ctx, c.acceptRide) }
func (c *Coordinator) RejectRide(ctx context.Context) error    { return c.call(ctx, c.rejectRide) }
func (c *Coordinator) NotifyArrival(ctx context.Context) error { return c.call(ctx, c.notifyArrival) }
func (c *Coordinator) StartTrip(ctx context.Context) error     { return c.call(ctx, c.startTrip) }
func (c *Coordinator) EndTrip(ctx context.Context) error       { return c.call(ctx, c.endTrip) }

// Shutdown takes an idle driver offline. Busy drivers are left as they are
// so the backend keeps their trip.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.State != OnlineIdle {
		return nil
	}
	return c.GoOffline(ctx)
}

func (c *Coordinator) goOnline(reply func(error)) {
	if c.session.Online {
		reply(ErrAlreadyOnline)
		return
	}
	op, ok := c.begin(opGoOnline, reply)
	if !ok {
		return
	}
	await(c, op, c.statusCall(models.DriverOnline), func(_ struct{}, err error) {
		if err != nil {
			c.logger.Error("go online failed", "driver_id", c.driverID, "error", err)
			c.notify(LevelError, "Failed to update status")
			c.finish(op, &BackendError{Op: "go online", Err: err})
			return
		}
		c.session.Online = true
		c.startTracking()
		c.notify(LevelSuccess, "You are now online")
		c.finish(op, nil)
	})
}

func (c *Coordinator) goOffline(reply func(error)) {
	if !c.session.Online {
		reply(ErrAlreadyOffline)
		return
	}
	if c.session.State().Busy() {
		c.notify(LevelWarning, "Cannot go offline while you have a ride request or an active trip")
		reply(ErrCannotGoOffline)
		return
	}
	op, ok := c.begin(opGoOffline, reply)
	if !ok {
		return
	}
	await(c, op, c.statusCall(models.DriverOffline), func(_ struct{}, err error) {
		if err != nil {
			c.logger.Error("go offline failed", "driver_id", c.driverID, "error", err)
			c.notify(LevelError, "Failed to update status")
			c.finish(op, &BackendError{Op: "go offline", Err: err})
			return
		}
		c.session.Online = false
		if c.tracker != nil {
			c.tracker.Stop()
		}
		c.presenter.ClearRoute()
		c.notify(LevelInfo, "You are now offline")
		c.finish(op, nil)
	})
}

func (c *Coordinator) acceptRide(reply func(error)) {
	p := c.session.Pending
	if p == nil {
		reply(ErrNoPendingRequest)
		return
	}
	op, ok := c.begin(opAcceptRide, reply)
	if !ok {
		return
	}
	rideID := p.RideRequestID
	accept := func(ctx context.Context) (*models.Trip, error) {
		return c.backend.AcceptRide(ctx, rideID, c.driverID)
	}
	await(c, op, accept, func(trip *models.Trip, err error) {
		if err == nil && trip == nil {
			err = errors.New("empty trip in accept response")
		}
		if err != nil {
			outcome := ""
			switch {
			case errors.Is(err, backend.ErrRequestExpired):
				outcome = "expired"
				c.notify(LevelWarning, "This ride request has expired")
			case errors.Is(err, backend.ErrRequestTaken):
				outcome = "taken"
				c.notify(LevelWarning, "This ride has been taken by another driver")
			}
			if outcome != "" {
				c.session.Pending = nil
				observability.RideRequestsTotal.WithLabelValues(outcome).Inc()
				c.logger.Info("ride request unavailable", "ride_request_id", rideID, "reason", outcome)
				c.finish(op, fmt.Errorf("%w: %w", ErrRideUnavailable, err))
				return
			}
			c.logger.Error("accept ride failed", "ride_request_id", rideID, "error", err)
			c.notify(LevelError, "Failed to accept ride request")
			c.finish(op, &BackendError{Op: "accept ride", Err: err})
			return
		}
		// pending cleared and trip set in the same step
		c.session.Pending = nil
		c.session.Trip = trip
		c.session.Arrived = false
		observability.RideRequestsTotal.WithLabelValues("accepted").Inc()
		c.logger.Info("ride accepted", "ride_request_id", rideID, "trip_id", trip.ID)
		c.record(storage.EventAccepted, trip)
		c.showRoute(c.currentCoord(), trip.PickupLocation.Coord(), "pickup")
		c.notify(LevelSuccess, "Ride accepted. Head to the pickup location")
		c.finish(op, nil)
	})
}

func (c *Coordinator) rejectRide(reply func(error)) {
	p := c.session.Pending
	if p == nil {
		reply(ErrNoPendingRequest)
		return
	}
	if c.op != nil {
		reply(fmt.Errorf("reject while %s: %w", c.op.name, ErrBusy))
		return
	}
	c.session.Pending = nil
	observability.RideRequestsTotal.WithLabelValues("rejected").Inc()
	c.logger.Info("ride rejected", "ride_request_id", p.RideRequestID)
	c.notify(LevelInfo, "Ride request rejected")
	reply(nil)
}

// activeTrip returns the trip if it is in want, or an invalid state error.
func (c *Coordinator) activeTrip(action string, want models.TripStatus) (*models.Trip, error) {
	t := c.session.Trip
	if t == nil || t.Status != want {
		return nil, stateError(action, c.session.State())
	}
	return t, nil
}

func (c *Coordinator) sameTrip(id string) bool {
	return c.session.Trip != nil && c.session.Trip.ID == id
}

func (c *Coordinator) notifyArrival(reply func(error)) {
	t, err := c.activeTrip("notify arrival", models.TripAssigned)
	if err != nil {
		reply(err)
		return
	}
	op, ok := c.begin(opArrive, reply)
	if !ok {
		return
	}
	tripID := t.ID
	lookup := func(ctx context.Context) (*models.Trip, error) { return c.backend.GetTrip(ctx, tripID) }
	await(c, op, lookup, func(details *models.Trip, err error) {
		if err != nil {
			c.logger.Error("trip lookup failed", "trip_id", tripID, "error", err)
			c.notify(LevelError, "Failed to notify arrival")
			c.finish(op, &BackendError{Op: "notify arrival", Err: err})
			return
		}
		if !c.sameTrip(tripID) {
			c.finish(op, stateError("notify arrival", c.session.State()))
			return
		}
		trip := c.session.Trip
		if trip.PassengerID == "" && details.PassengerID != "" {
			updated := *trip
			updated.PassengerID = details.PassengerID
			trip = &updated
			c.session.Trip = trip
		}
		at := trip.PickupLocation
		if cur := c.currentCoord(); cur != nil {
			at = models.PointFrom(*cur)
		}
		if err := c.emit(realtime.EventDriverArrived, realtime.DriverArrived{
			RideRequestID: trip.RideRequestID,
			TripID:        trip.ID,
			PassengerID:   trip.PassengerID,
			Location:      at,
		}); err != nil {
			c.notify(LevelWarning, "Passenger could not be notified right now")
		}
		c.session.Arrived = true
		c.changed = true
		c.record(storage.EventArrived, trip)
		c.notify(LevelSuccess, "Passenger notified of your arrival")
		c.finish(op, nil)
	})
}

func (c *Coordinator) startTrip(reply func(error)) {
	t, err := c.activeTrip("start trip", models.TripAssigned)
	if err != nil {
		reply(err)
		return
	}
	op, ok := c.begin(opStartTrip, reply)
	if !ok {
		return
	}
	tripID := t.ID
	start := func(ctx context.Context) (*models.Trip, error) { return c.backend.StartTrip(ctx, tripID) }
	await(c, op, start, func(_ *models.Trip, err error) {
		if err != nil {
			c.logger.Error("start trip failed", "trip_id", tripID, "error", err)
			c.notify(LevelError, "Failed to start trip")
			c.finish(op, &BackendError{Op: "start trip", Err: err})
			return
		}
		if !c.sameTrip(tripID) || !c.session.Trip.Status.CanAdvanceTo(models.TripInProgress) {
			c.finish(op, stateError("start trip", c.session.State()))
			return
		}
		trip := *c.session.Trip
		trip.Status = models.TripInProgress
		c.session.Trip = &trip
		if err := c.emit(realtime.EventTripStarted, realtime.TripStarted{
			TripID:          trip.ID,
			PassengerID:     trip.PassengerID,
			PickupLocation:  trip.PickupLocation,
			DropoffLocation: trip.DropoffLocation,
		}); err != nil {
			c.notify(LevelWarning, "Passenger could not be notified right now")
		}
		c.logger.Info("trip started", "trip_id", trip.ID)
		c.record(storage.EventStarted, &trip)
		pickup := trip.PickupLocation.Coord()
		c.showRoute(&pickup, trip.DropoffLocation.Coord(), "dropoff")
		c.notify(LevelSuccess, "Trip started")
		c.finish(op, nil)
	})
}

func (c *Coordinator) endTrip(reply func(error)) {
	t, err := c.activeTrip("end trip", models.TripInProgress)
	if err != nil {
		reply(err)
		return
	}
	op, ok := c.begin(opEndTrip, reply)
	if !ok {
		return
	}
	tripID := t.ID
	end := func(ctx context.Context) (*models.Trip, error) { return c.backend.EndTrip(ctx, tripID) }
	await(c, op, end, func(_ *models.Trip, err error) {
		if err != nil {
			c.logger.Error("end trip failed", "trip_id", tripID, "error", err)
			c.notify(LevelError, "Failed to end trip")
			c.finish(op, &BackendError{Op: "end trip", Err: err})
			return
		}
		if !c.sameTrip(tripID) {
			c.finish(op, stateError("end trip", c.session.State()))
			return
		}
		done := *c.session.Trip
		done.Status = models.TripCompleted
		if err := c.emit(realtime.EventTripCompleted, realtime.TripCompleted{
			TripID:          done.ID,
			PassengerID:     done.PassengerID,
			DropoffTime:     time.Now().UTC(),
			PickupLocation:  done.PickupLocation,
			DropoffLocation: done.DropoffLocation,
		}); err != nil {
			c.notify(LevelWarning, "Passenger could not be notified right now")
		}
		c.logger.Info("trip completed", "trip_id", done.ID)
		c.record(storage.EventCompleted, &done)

		c.session.Trip = nil
		c.session.Arrived = false
		c.presenter.ClearRoute()
		if c.tracker != nil {
			c.tracker.Restart(c.runCtx, c)
		}
		c.notify(LevelSuccess, "Trip completed")

		// the driver is idle again; the status update keeps the operation
		// open so a later go-offline cannot overtake it
		await(c, op, c.statusCall(models.DriverOnline), func(_ struct{}, err error) {
			if err != nil {
				c.logger.Error("status update after trip failed", "driver_id", c.driverID, "error", err)
				c.notify(LevelError, "Failed to update status")
			}
			c.finish(op, nil)
		})
	})
}
