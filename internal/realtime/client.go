// Package realtime is the driver's websocket channel to the backend.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/driver-client/internal/observability"
)

var (
	ErrNotConnected = errors.New("realtime channel not connected")
	ErrQueueFull    = errors.New("realtime outbound queue full")
)

// Handler receives inbound events, including synthetic connect and
// disconnect events. Calls come from a single goroutine.
type Handler interface {
	HandleEvent(Event)
}

type HandlerFunc func(Event)

func (f HandlerFunc) HandleEvent(e Event) { f(e) }

// Client keeps one websocket connection alive and reconnects with backoff.
type Client struct {
	URL    string
	Dialer *websocket.Dialer
	Logger *slog.Logger

	QueueSize    int
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration

	mu  sync.RWMutex
	out chan []byte
}

// NewClient builds a client for socketURL identifying as driverID.
func NewClient(socketURL, driverID string, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(socketURL)
	if err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	q.Set("userId", driverID)
	q.Set("type", "driver")
	u.RawQuery = q.Encode()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		URL:          u.String(),
		Dialer:       websocket.DefaultDialer,
		Logger:       logger,
		QueueSize:    64,
		MinBackoff:   time.Second,
		MaxBackoff:   30 * time.Second,
		PingInterval: 25 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    5 * time.Second,
	}, nil
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.out != nil
}

// Emit queues an outbound event. It never blocks: the event is dropped
// with ErrNotConnected or ErrQueueFull instead.
func (c *Client) Emit(name string, data any) error {
	ev, err := NewEvent(name, data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	c.mu.RLock()
	out := c.out
	c.mu.RUnlock()
	if out == nil {
		observability.RealtimeDroppedTotal.WithLabelValues("not_connected").Inc()
		return ErrNotConnected
	}
	select {
	case out <- b:
		observability.RealtimeEventsTotal.WithLabelValues("out", name).Inc()
		return nil
	default:
		observability.RealtimeDroppedTotal.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}
}

// Run dials and serves the connection until ctx is cancelled. Every retry,
// after a failed dial or a dropped session, waits out the current backoff.
// The backoff resets only after a session stayed up for a ping interval.
func (c *Client) Run(ctx context.Context, h Handler) error {
	backoff := c.MinBackoff
	for {
		conn, _, err := c.Dialer.DialContext(ctx, c.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Warn("realtime dial failed", "error", err, "backoff", backoff.String())
		} else {
			c.Logger.Info("realtime connected", "url", c.URL)
			connectedAt := time.Now()
			err = c.serve(ctx, conn, h)
			if ctx.Err() != nil {
				return nil
			}
			if time.Since(connectedAt) >= c.PingInterval {
				backoff = c.MinBackoff
			}
			c.Logger.Warn("realtime disconnected", "error", err, "backoff", backoff.String())
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = c.nextBackoff(backoff)
	}
}

func (c *Client) nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn, h Handler) error {
	out := make(chan []byte, c.QueueSize)
	done := make(chan struct{})
	var wg sync.WaitGroup

	c.mu.Lock()
	c.out = out
	c.mu.Unlock()
	observability.RealtimeConnected.Set(1)
	h.HandleEvent(Event{Name: EventConnect})

	defer func() {
		c.mu.Lock()
		c.out = nil
		c.mu.Unlock()
		close(done)
		wg.Wait()
		_ = conn.Close()
		observability.RealtimeConnected.Set(0)
		h.HandleEvent(Event{Name: EventDisconnect})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx, conn, out, done)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(c.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.PongWait))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.PongWait))
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil || ev.Name == "" {
			c.Logger.Warn("realtime frame ignored", "error", err, "bytes", len(msg))
			continue
		}
		observability.RealtimeEventsTotal.WithLabelValues("in", ev.Name).Inc()
		h.HandleEvent(ev)
	}
}

// writeLoop is the only writer on conn.
func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan []byte, done <-chan struct{}) {
	ping := time.NewTicker(c.PingInterval)
	defer ping.Stop()
	for {
		select {
		case b := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(c.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.Logger.Warn("realtime write failed", "error", err)
				_ = conn.Close()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.WriteWait)); err != nil {
				_ = conn.Close()
				return
			}
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "driver shutting down"),
				time.Now().Add(c.WriteWait))
			_ = conn.Close()
			return
		case <-done:
			return
		}
	}
}
