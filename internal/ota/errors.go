package ota

import (
	"errors"
	"fmt"

	"github.com/chaz8081/otaflash/internal/ota/protocol"
)

var (
	// ErrInvalidConfiguration is returned by Start for plan parameters the
	// protocol cannot express. No frame is written.
	ErrInvalidConfiguration = protocol.ErrInvalidConfiguration

	// ErrMalformedFrame marks inbound frames that could not be decoded. The
	// engine logs and drops them.
	ErrMalformedFrame = protocol.ErrMalformedFrame

	// ErrSessionActive is returned by Start while another session owns the
	// connection.
	ErrSessionActive = errors.New("ota: update already in progress")

	// ErrCancelled is the error of a session stopped by Cancel.
	ErrCancelled = errors.New("ota: update cancelled")

	// ErrTimeout is the error of a session whose peer went silent for longer
	// than the configured timeout.
	ErrTimeout = errors.New("ota: peer timed out")

	// ErrNoChannel is returned when an updater is built without a channel.
	ErrNoChannel = errors.New("ota: nil channel")
)

// TransportError is a failed write to the channel.
type TransportError struct {
	Op  string // frame being written, e.g. "packet"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ota: write %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PeerFailureError carries the peer's result text verbatim.
type PeerFailureError struct {
	Reason string
}

func (e *PeerFailureError) Error() string {
	return e.Reason
}
