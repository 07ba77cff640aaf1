package ble

import (
	"fmt"
	"sync"

	"github.com/chaz8081/otaflash/internal/ota"
)

// Channel is the OTA frame channel over a BLE connection: frames are written
// to the RX characteristic and arrive as TX notifications.
type Channel struct {
	rx         Characteristic
	tx         Characteristic
	maxPayload int

	mu         sync.Mutex
	subscribed bool
}

var (
	_ ota.Channel        = (*Channel)(nil)
	_ ota.PayloadLimiter = (*Channel)(nil)
)

// OpenChannel discovers the OTA characteristics on conn. maxPayload is the
// largest write the link accepts (ATT MTU minus 3); zero means unknown.
func OpenChannel(conn Connection, uuids ServiceUUIDs, maxPayload int) (*Channel, error) {
	rx, err := conn.DiscoverCharacteristic(uuids.Service, uuids.RX)
	if err != nil {
		return nil, fmt.Errorf("ble: discover RX characteristic: %w", err)
	}
	tx, err := conn.DiscoverCharacteristic(uuids.Service, uuids.TX)
	if err != nil {
		return nil, fmt.Errorf("ble: discover TX characteristic: %w", err)
	}
	return &Channel{rx: rx, tx: tx, maxPayload: maxPayload}, nil
}

// Write sends one frame to the RX characteristic.
func (c *Channel) Write(frame []byte) error {
	if c.maxPayload > 0 && len(frame) > c.maxPayload {
		return fmt.Errorf("ble: frame of %d bytes exceeds payload limit %d", len(frame), c.maxPayload)
	}
	return c.rx.Write(frame)
}

// Subscribe enables TX notifications. Only one subscriber is supported.
func (c *Channel) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed {
		return fmt.Errorf("ble: TX characteristic already subscribed")
	}
	if err := c.tx.Subscribe(cb); err != nil {
		return fmt.Errorf("ble: subscribe to TX: %w", err)
	}
	c.subscribed = true
	return nil
}

// MaxPayload returns the configured write limit, zero if unknown.
func (c *Channel) MaxPayload() int {
	return c.maxPayload
}
