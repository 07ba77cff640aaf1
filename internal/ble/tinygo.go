package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth
// on macOS, WinRT on Windows).
// On macOS, device IDs are CoreBluetooth UUIDs rather than MAC addresses.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// WriteWithResponse selects acknowledged GATT writes. The OTA protocol
	// has no per-packet ack, so unacknowledged writes are the default.
	WriteWithResponse bool

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinyGoConnection // keyed by lower-case device ID
}

// NewTinyGoAdapter creates a new BLE adapter on the system default
// controller.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The adapter-level handler fires with connected=false when a
	// peripheral drops; route it to the matching connection.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := strings.ToLower(device.Address.String())
		a.mu.Lock()
		conn, ok := a.connections[id]
		if ok {
			delete(a.connections, id)
		}
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, serviceUUID string) ([]Device, error) {
	var (
		filter    bluetooth.UUID
		hasFilter bool
	)
	if serviceUUID != "" {
		uuid, err := bluetooth.ParseUUID(serviceUUID)
		if err != nil {
			return nil, fmt.Errorf("ble: parse service UUID: %w", err)
		}
		filter, hasFilter = uuid, true
	}

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if hasFilter && !result.HasServiceUUID(filter) {
			return
		}
		id := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[id] {
			return
		}
		seen[id] = true
		devices = append(devices, Device{
			Name: result.LocalName(),
			ID:   id,
			RSSI: int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, id string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(id)

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// Wrap it so ctx cancellation returns immediately.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ble: connect to %s: %w", id, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", id, result.err)
		}
		conn := &tinyGoConnection{device: &result.device, withResponse: a.WriteWithResponse}

		a.mu.Lock()
		a.connections[strings.ToLower(id)] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device       *bluetooth.Device
	withResponse bool

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return &tinyGoCharacteristic{char: &chars[0], withResponse: c.withResponse}, nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char         *bluetooth.DeviceCharacteristic
	withResponse bool
}

func (c *tinyGoCharacteristic) Write(data []byte) error {
	if c.withResponse {
		_, err := c.char.Write(data)
		return err
	}
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *tinyGoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}
