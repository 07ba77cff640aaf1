// Package ota implements the over-the-air firmware update engine: the
// handshake, chunk streaming, peer-driven resync and completion detection
// on top of a frame channel to the peripheral.
package ota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/otaflash/internal/ota/protocol"
)

// Channel is the frame transport to the peripheral. Writes are ordered and
// best effort; each write is delivered to the peer as one frame.
type Channel interface {
	// Write sends one frame.
	Write(frame []byte) error
	// Subscribe registers the callback for frames sent by the peer. The
	// callback may run on any goroutine, including synchronously from
	// inside Write; the callback never blocks.
	Subscribe(callback func(frame []byte)) error
}

// PayloadLimiter is implemented by channels that know their largest write.
type PayloadLimiter interface {
	MaxPayload() int
}

// Updater runs updates over one connection, one session at a time.
type Updater struct {
	ch   Channel
	opts Options
	log  *slog.Logger

	mu         sync.Mutex
	active     *Session
	subscribed bool
}

// NewUpdater creates an Updater for the given channel. The channel is
// subscribed lazily on the first Start.
func NewUpdater(ch Channel, opts ...Option) (*Updater, error) {
	if ch == nil {
		return nil, ErrNoChannel
	}
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
	return &Updater{ch: ch, opts: o, log: o.Logger}, nil
}

// Start validates the segmentation, writes the handshake and returns the
// running session. The image must not be modified until the session ends.
// Cancelling ctx cancels the session.
//
// Start fails with ErrSessionActive while a previous session is running and
// with ErrInvalidConfiguration when the image cannot be segmented with the
// configured chunk size and MTU.
func (u *Updater) Start(ctx context.Context, image []byte, reporter Reporter) (*Session, error) {
	plan, err := protocol.NewPlan(len(image), u.opts.ChunkSize, u.opts.MTU)
	if err != nil {
		return nil, err
	}
	if l, ok := u.ch.(PayloadLimiter); ok {
		if limit := l.MaxPayload(); limit > 0 && plan.MTU+protocol.PacketHeaderSize > limit {
			return nil, fmt.Errorf("%w: mtu %d plus %d byte header exceeds channel payload %d",
				ErrInvalidConfiguration, plan.MTU, protocol.PacketHeaderSize, limit)
		}
	}
	if reporter == nil {
		reporter = nopReporter{}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.active != nil {
		return nil, ErrSessionActive
	}
	if !u.subscribed {
		if err := u.ch.Subscribe(u.dispatch); err != nil {
			return nil, fmt.Errorf("ota: subscribe: %w", err)
		}
		u.subscribed = true
	}

	s := newSession(image, plan, u.ch, reporter, u.opts, u.release)
	u.active = s
	go s.run(ctx)
	return s, nil
}

// Active returns the running session, or nil.
func (u *Updater) Active() *Session {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.active
}

// Cancel cancels the running session, if any.
func (u *Updater) Cancel() {
	if s := u.Active(); s != nil {
		s.Cancel()
	}
}

func (u *Updater) dispatch(frame []byte) {
	s := u.Active()
	if s == nil {
		u.log.Debug("[OTA] frame with no active session", "len", len(frame))
		return
	}
	s.deliver(frame)
}

func (u *Updater) release(s *Session) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.active == s {
		u.active = nil
	}
}

// StartUpdate is a shortcut for NewUpdater followed by Start, for callers
// that run a single update per connection.
func StartUpdate(ctx context.Context, image []byte, ch Channel, reporter Reporter, opts ...Option) (*Session, error) {
	u, err := NewUpdater(ch, opts...)
	if err != nil {
		return nil, err
	}
	return u.Start(ctx, image, reporter)
}
