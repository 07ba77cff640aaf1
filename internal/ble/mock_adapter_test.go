package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// mockCharacteristic records writes and allows subscribing.
type mockCharacteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	callback func([]byte)
	onWrite  func([]byte) // runs after the write is recorded
	writeErr error
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	hook := c.onWrite
	c.mu.Unlock()
	if hook != nil {
		hook(cp)
	}
	return nil
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	return nil
}

// SimulateNotification sends a notification to the subscriber.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *mockCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// mockConnection simulates a BLE connection.
type mockConnection struct {
	mu           sync.Mutex
	rxChar       *mockCharacteristic
	txChar       *mockCharacteristic
	disconnectCb func()
	disconnected bool
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		rxChar: &mockCharacteristic{},
		txChar: &mockCharacteristic{},
	}
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	if serviceUUID != ServiceUUID {
		return nil, fmt.Errorf("mock: unknown service UUID %q", serviceUUID)
	}
	switch charUUID {
	case RXCharUUID:
		return c.rxChar, nil
	case TXCharUUID:
		return c.txChar, nil
	default:
		return nil, fmt.Errorf("mock: unknown characteristic UUID %q", charUUID)
	}
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *mockConnection) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

var errConnectRefused = errors.New("mock: connection refused")

// mockAdapter simulates the BLE adapter.
type mockAdapter struct {
	mu           sync.Mutex
	devices      []Device
	failConnects int                   // number of Connect calls that fail first
	prepare      func(*mockConnection) // configures each new connection
	connects     int
	connection   *mockConnection // most recent connection for test assertions
}

func newMockAdapter(devices []Device) *mockAdapter {
	return &mockAdapter{
		devices:    devices,
		connection: newMockConnection(),
	}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(_ context.Context, _ string) ([]Device, error) {
	return a.devices, nil
}

func (a *mockAdapter) Connect(_ context.Context, _ string) (Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	if a.connects <= a.failConnects {
		return nil, errConnectRefused
	}
	conn := newMockConnection()
	if a.prepare != nil {
		a.prepare(conn)
	}
	a.connection = conn
	return conn, nil
}

// latestConnection returns the most recently created connection (thread-safe).
func (a *mockAdapter) latestConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connection
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}
