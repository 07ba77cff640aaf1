// Package serial carries OTA frames over a serial port (USB CDC or UART),
// one SLIP frame per protocol frame.
package serial

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	goserial "go.bug.st/serial"

	"github.com/chaz8081/otaflash/internal/ota"
)

// DefaultBaudRate is used when the configuration leaves the rate unset.
const DefaultBaudRate = 115200

const readTimeout = 50 * time.Millisecond

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("serial: port closed")

// Port is the subset of go.bug.st/serial.Port the channel needs.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Channel is the OTA frame channel over a serial port.
type Channel struct {
	port Port
	name string

	writeMu sync.Mutex

	mu         sync.Mutex
	subscribed bool
	closed     bool
	stop       chan struct{}
	readerDone chan struct{}
}

var _ ota.Channel = (*Channel)(nil)

// Open opens the named port at baud 8N1.
func Open(name string, baud int) (*Channel, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	mode := &goserial.Mode{
		BaudRate: baud,
		Parity:   goserial.NoParity,
		DataBits: 8,
		StopBits: goserial.OneStopBit,
	}

	port, err := goserial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", name, err)
	}
	slog.Info("[SERIAL] opened", "port", name, "baud", baud)
	return NewChannel(port, name), nil
}

// NewChannel wraps an already open port.
func NewChannel(port Port, name string) *Channel {
	return &Channel{
		port:       port,
		name:       name,
		stop:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
}

// Write SLIP-encodes frame and writes it in full.
func (c *Channel) Write(frame []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	encoded := slipEncode(frame)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for len(encoded) > 0 {
		n, err := c.port.Write(encoded)
		if err != nil {
			return fmt.Errorf("serial: write %s: %w", c.name, err)
		}
		encoded = encoded[n:]
	}
	return nil
}

// Subscribe starts the reader goroutine, which delivers every decoded frame
// to cb. Only one subscriber is supported.
func (c *Channel) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.subscribed {
		return fmt.Errorf("serial: %s already subscribed", c.name)
	}
	if err := c.port.SetReadTimeout(readTimeout); err != nil {
		return fmt.Errorf("serial: set read timeout: %w", err)
	}
	c.subscribed = true
	go c.readLoop(cb)
	return nil
}

func (c *Channel) readLoop(cb func([]byte)) {
	defer close(c.readerDone)

	var dec slipDecoder
	buf := make([]byte, 1024)
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		// A read timeout returns n == 0 with no error.
		n, err := c.port.Read(buf)
		if err != nil {
			select {
			case <-c.stop:
			default:
				slog.Error("[SERIAL] read failed", "port", c.name, "error", err)
			}
			return
		}
		for _, frame := range dec.Feed(buf[:n]) {
			cb(frame)
		}
	}
}

// Close stops the reader and closes the port.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subscribed := c.subscribed
	close(c.stop)
	c.mu.Unlock()

	err := c.port.Close()
	if subscribed {
		<-c.readerDone
	}
	return err
}
