// Package ble provides the Bluetooth Low Energy transport for OTA updates.
// It handles scanning, connection management and the frame channel built
// from the OTA service's RX (write) and TX (notify) characteristics.
package ble

import "context"

// OTA service UUIDs. The peripheral receives frames on RX and sends frames
// as notifications on TX.
const (
	ServiceUUID = "fb1e4001-54ae-4a28-9f74-dfccb248601d"
	RXCharUUID  = "fb1e4002-54ae-4a28-9f74-dfccb248601d"
	TXCharUUID  = "fb1e4003-54ae-4a28-9f74-dfccb248601d"
)

// ServiceUUIDs identifies the OTA service and its characteristics on a
// peripheral.
type ServiceUUIDs struct {
	Service string
	RX      string
	TX      string
}

// DefaultServiceUUIDs returns the standard OTA service layout.
func DefaultServiceUUIDs() ServiceUUIDs {
	return ServiceUUIDs{Service: ServiceUUID, RX: RXCharUUID, TX: TXCharUUID}
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name string
	ID   string // MAC address, or a CoreBluetooth UUID on macOS
	RSSI int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals advertising the given service UUID, or
	// all peripherals when serviceUUID is empty. Returns discovered devices
	// once ctx is done.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device with the given ID.
	Connect(ctx context.Context, id string) (Connection, error)
}
