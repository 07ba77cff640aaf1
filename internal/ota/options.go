package ota

import (
	"log/slog"
	"time"

	"github.com/chaz8081/otaflash/internal/ota/protocol"
)

// Options configures an Updater.
type Options struct {
	// ChunkSize is the number of image bytes per chunk.
	ChunkSize int

	// MTU is the largest packet payload written per frame.
	MTU int

	// Timeout fails the session when the peer sends nothing for this long
	// while the update is in progress. Zero disables the watchdog.
	Timeout time.Duration

	// Executor runs reporter callbacks. It must preserve call order.
	Executor Executor

	// Logger receives protocol events.
	Logger *slog.Logger

	// EventBuffer is the capacity of the inbound frame queue.
	EventBuffer int
}

// DefaultOptions returns the protocol's standard segmentation with the
// watchdog disabled.
func DefaultOptions() Options {
	return Options{
		ChunkSize:   protocol.DefaultChunkSize,
		MTU:         protocol.DefaultMTU,
		Executor:    inline,
		EventBuffer: 64,
	}
}

// Option is a functional option for configuring an Updater.
type Option func(*Options)

// WithChunkSize sets the chunk size.
func WithChunkSize(size int) Option {
	return func(o *Options) {
		o.ChunkSize = size
	}
}

// WithMTU sets the packet payload size.
func WithMTU(mtu int) Option {
	return func(o *Options) {
		o.MTU = mtu
	}
}

// WithTimeout enables the peer watchdog.
//
// Example:
//
//	u, _ := ota.NewUpdater(ch, ota.WithTimeout(30*time.Second))
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d >= 0 {
			o.Timeout = d
		}
	}
}

// WithExecutor sets where reporter callbacks run, e.g. a UI event loop.
func WithExecutor(exec Executor) Option {
	return func(o *Options) {
		if exec != nil {
			o.Executor = exec
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}
