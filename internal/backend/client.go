// Package backend is the request/response client for the ride-hailing API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/driver-client/internal/models"
	"github.com/example/driver-client/internal/observability"
)

// Client talks to the backend REST API rooted at BaseURL (e.g. http://host/api/v1).
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Logger:  logger,
	}
}

type envelope struct {
	Payload json.RawMessage `json:"payload"`
	Message string          `json:"message"`
}

// UpdateDriverStatus issues PATCH driver/{id}.
func (c *Client) UpdateDriverStatus(ctx context.Context, driverID string, status models.DriverStatus) error {
	body := map[string]any{"status": status}
	_, err := c.do(ctx, "update_driver_status", http.MethodPatch, "driver/"+url.PathEscape(driverID), body)
	return err
}

// AcceptRide issues POST booking/{rideRequestId}/accept.
func (c *Client) AcceptRide(ctx context.Context, rideRequestID, driverID string) (*models.Trip, error) {
	body := map[string]any{"driver_id": driverID}
	env, err := c.do(ctx, "accept_ride", http.MethodPost, "booking/"+url.PathEscape(rideRequestID)+"/accept", body)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, classifyAccept(apiErr)
		}
		return nil, err
	}
	trip, err := decodeTrip(env)
	if err != nil {
		return nil, fmt.Errorf("accept_ride: %w", err)
	}
	if trip == nil {
		return nil, fmt.Errorf("accept_ride: empty payload")
	}
	if trip.Status == "" {
		trip.Status = models.TripAssigned
	}
	if trip.RideRequestID == "" {
		trip.RideRequestID = rideRequestID
	}
	return trip, nil
}

// StartTrip issues POST trip/{tripId}/start.
func (c *Client) StartTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	env, err := c.do(ctx, "start_trip", http.MethodPost, "trip/"+url.PathEscape(tripID)+"/start", nil)
	if err != nil {
		return nil, err
	}
	return decodeTrip(env)
}

// EndTrip issues POST trip/{tripId}/end.
func (c *Client) EndTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	env, err := c.do(ctx, "end_trip", http.MethodPost, "trip/"+url.PathEscape(tripID)+"/end", nil)
	if err != nil {
		return nil, err
	}
	return decodeTrip(env)
}

// GetTrip issues GET trip/{tripId}. A missing payload is an error.
func (c *Client) GetTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	env, err := c.do(ctx, "get_trip", http.MethodGet, "trip/"+url.PathEscape(tripID), nil)
	if err != nil {
		return nil, err
	}
	trip, err := decodeTrip(env)
	if err != nil {
		return nil, fmt.Errorf("get_trip: %w", err)
	}
	if trip == nil {
		return nil, fmt.Errorf("get_trip: trip %s not found", tripID)
	}
	return trip, nil
}

// ActiveTrip issues GET trip/driver/active-trip/{driverId}. It returns
// (nil, nil) when the driver has no active trip.
func (c *Client) ActiveTrip(ctx context.Context, driverID string) (*models.Trip, error) {
	env, err := c.do(ctx, "active_trip", http.MethodGet, "trip/driver/active-trip/"+url.PathEscape(driverID), nil)
	if err != nil {
		return nil, err
	}
	trip, err := decodeTrip(env)
	if err != nil {
		return nil, fmt.Errorf("active_trip: %w", err)
	}
	return trip, nil
}

func decodeTrip(env envelope) (*models.Trip, error) {
	raw := bytes.TrimSpace(env.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var t models.Trip
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode trip: %w", err)
	}
	return &t, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any) (envelope, error) {
	start := time.Now()
	env, err := c.roundTrip(ctx, op, method, path, body)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.BackendRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	return env, err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body any) (envelope, error) {
	var env envelope
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return env, fmt.Errorf("%s: encode body: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+"/"+path, rdr)
	if err != nil {
		return env, fmt.Errorf("%s: %w", op, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return env, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return env, fmt.Errorf("%s: read body: %w", op, err)
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode/100 == 2 {
			return env, fmt.Errorf("%s: decode body: %w", op, err)
		}
	}

	c.Logger.Debug("backend call",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", reqID,
	)

	if resp.StatusCode/100 != 2 {
		msg := env.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
			if len(msg) > 200 {
				msg = msg[:200]
			}
		}
		return env, &APIError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	return env, nil
}
