package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/otaflash/internal/ota"
)

var (
	// ErrNotConnected is returned by Update before Connect succeeds.
	ErrNotConnected = errors.New("ble: not connected")

	// ErrDisconnected is returned by Update when the peripheral drops the
	// link mid-update.
	ErrDisconnected = errors.New("ble: peripheral disconnected")
)

// ClientOptions configures the BLE client behavior.
type ClientOptions struct {
	ConnectAttempts int           // connection attempts before giving up
	ReconnectMax    int           // max backoff between attempts in seconds
	ConnectTimeout  time.Duration // per-attempt connect timeout
	MaxPayload      int           // largest GATT write, 0 if unknown
	UUIDs           ServiceUUIDs
	OTA             []ota.Option // options for the update engine
}

// DefaultClientOptions returns sensible defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ConnectAttempts: 3,
		ReconnectMax:    30,
		ConnectTimeout:  10 * time.Second,
		UUIDs:           DefaultServiceUUIDs(),
	}
}

// Client manages the BLE connection to a peripheral running the OTA service.
type Client struct {
	adapter  Adapter
	deviceID string
	opts     ClientOptions

	mu        sync.Mutex
	conn      Connection
	updater   *ota.Updater
	connected bool
	lost      chan struct{} // closed when the current connection drops
}

// NewClient creates a BLE client for the given device.
func NewClient(adapter Adapter, deviceID string, opts ClientOptions) *Client {
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = 3
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.UUIDs == (ServiceUUIDs{}) {
		opts.UUIDs = DefaultServiceUUIDs()
	}
	return &Client{
		adapter:  adapter,
		deviceID: deviceID,
		opts:     opts,
	}
}

// backoffDelay returns the reconnection delay for attempt n, capped at maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	delay := time.Duration(1<<uint(attempt)) * time.Second
	max := time.Duration(maxSeconds) * time.Second
	if delay > max {
		return max
	}
	return delay
}

// Connect enables the adapter and connects to the device, retrying with
// exponential backoff.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.opts.ConnectAttempts; attempt++ {
		// On the first attempt, try immediately; subsequent attempts use backoff.
		if attempt > 0 {
			delay := backoffDelay(attempt-1, c.opts.ReconnectMax)
			slog.Info("[BLE] connect backoff", "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
		conn, err := c.adapter.Connect(attemptCtx, c.deviceID)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("[BLE] connect failed", "error", err, "attempt", attempt+1)
			lastErr = err
			continue
		}

		if err := c.setConnected(conn); err != nil {
			slog.Warn("[BLE] set connected failed", "error", err, "attempt", attempt+1)
			_ = conn.Disconnect()
			lastErr = err
			continue
		}

		slog.Info("[BLE] connected", "device", c.deviceID)
		return nil
	}
	return fmt.Errorf("ble: connect to %s after %d attempts: %w", c.deviceID, c.opts.ConnectAttempts, lastErr)
}

// setConnected discovers the OTA characteristics and binds an updater to them.
func (c *Client) setConnected(conn Connection) error {
	ch, err := OpenChannel(conn, c.opts.UUIDs, c.opts.MaxPayload)
	if err != nil {
		return err
	}
	u, err := ota.NewUpdater(ch, c.opts.OTA...)
	if err != nil {
		return err
	}

	lost := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.updater = u
	c.connected = true
	c.lost = lost
	c.mu.Unlock()

	conn.OnDisconnect(func() {
		slog.Warn("[BLE] disconnected", "device", c.deviceID)
		c.setDisconnected(lost)
	})
	return nil
}

// setDisconnected marks the client as disconnected and stops any update in
// flight on the dropped link.
func (c *Client) setDisconnected(lost chan struct{}) {
	c.mu.Lock()
	if c.lost != lost {
		c.mu.Unlock()
		return
	}
	u := c.updater
	c.connected = false
	c.conn = nil
	c.updater = nil
	c.lost = nil
	c.mu.Unlock()

	close(lost)
	if u != nil {
		u.Cancel()
	}
}

// Connected reports whether the client holds a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Update flashes image and blocks until the peer reports the outcome, ctx
// is cancelled or the link drops.
func (c *Client) Update(ctx context.Context, image []byte, reporter ota.Reporter) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	u, lost := c.updater, c.lost
	c.mu.Unlock()

	s, err := u.Start(ctx, image, reporter)
	if err != nil {
		return err
	}
	slog.Info("[BLE] update started", "device", c.deviceID, "chunks", s.Plan().TotalChunks)

	select {
	case <-s.Done():
	case <-lost:
		s.Cancel()
		<-s.Done()
	}

	// The peer may have reported its result just before dropping.
	err = s.Err()
	if errors.Is(err, ota.ErrCancelled) {
		select {
		case <-lost:
			return ErrDisconnected
		default:
		}
	}
	return err
}

// Close disconnects from the peripheral, cancelling any running update.
func (c *Client) Close() error {
	c.mu.Lock()
	conn, u := c.conn, c.updater
	c.connected = false
	c.conn = nil
	c.updater = nil
	c.lost = nil
	c.mu.Unlock()

	if u != nil {
		if s := u.Active(); s != nil {
			slog.Warn("[BLE] closing with update in progress", "phase", s.Phase())
			s.Cancel()
		}
	}
	if conn != nil {
		return conn.Disconnect()
	}
	return nil
}
