package ota

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/otaflash/internal/ota/protocol"
)

// Phase is the state of a session.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseHandshaking
	PhaseStreaming
	PhaseAwaitingInstall
	PhaseCompleted
	PhaseFailed
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseHandshaking:
		return "handshaking"
	case PhaseStreaming:
		return "streaming"
	case PhaseAwaitingInstall:
		return "awaiting-install"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session has ended.
func (p Phase) Terminal() bool {
	return p >= PhaseCompleted
}

// Session is one in-flight update. It is created by Updater.Start and is
// never reused. All protocol state is owned by the session goroutine.
type Session struct {
	image    []byte
	plan     protocol.Plan
	ch       Channel
	reporter Reporter
	exec     Executor
	log      *slog.Logger
	timeout  time.Duration
	release  func(*Session)

	frames    chan []byte
	stop      chan struct{}
	stopOnce  sync.Once
	cancelled atomic.Bool
	phase     atomic.Int32
	done      chan struct{}
	result    error

	// Owned by run.
	offset       int
	chunksSent   int
	mode         protocol.Mode
	lastProgress float64
}

func newSession(image []byte, plan protocol.Plan, ch Channel, reporter Reporter, opts Options, release func(*Session)) *Session {
	return &Session{
		image:        image,
		plan:         plan,
		ch:           ch,
		reporter:     reporter,
		exec:         opts.Executor,
		log:          opts.Logger,
		timeout:      opts.Timeout,
		release:      release,
		frames:       make(chan []byte, opts.EventBuffer),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		mode:         protocol.ModeSingle,
		lastProgress: -1,
	}
}

// Plan returns the segmentation used by the session.
func (s *Session) Plan() protocol.Plan {
	return s.plan
}

// Phase returns the current phase. Safe for concurrent use.
func (s *Session) Phase() Phase {
	return Phase(s.phase.Load())
}

// Cancel stops the session at the next chunk boundary. The peer is not
// notified. Safe to call more than once and after the session ended.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed when the session reaches a terminal phase.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error: nil for a completed update, ErrCancelled,
// ErrTimeout, a *TransportError or a *PeerFailureError. It is only
// meaningful after Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.result
	default:
		return nil
	}
}

// Wait blocks until the session ends or ctx is done and returns the
// session's terminal error, or ctx.Err().
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.result
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver queues an inbound frame. The data is copied since transports may
// reuse notification buffers. It never blocks: a transport may call it from
// inside Write on the session goroutine, so frames arriving while the queue
// is full are dropped.
func (s *Session) deliver(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case s.frames <- cp:
	case <-s.done:
	default:
		s.log.Warn("[OTA] inbound queue full, dropping frame", "len", len(data), "phase", s.Phase())
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.release(s)

	s.setPhase(PhaseHandshaking)
	s.log.Info("[OTA] starting update",
		"size", s.plan.ImageSize,
		"chunks", s.plan.TotalChunks,
		"chunk_size", s.plan.ChunkSize,
		"mtu", s.plan.MTU)
	if err := s.handshake(); err != nil {
		s.fail(err)
		return
	}
	s.progress(0)
	if s.plan.TotalChunks == 0 {
		s.finishStreaming()
		if s.Phase().Terminal() {
			return
		}
	}

	var timer *time.Timer
	if s.timeout > 0 {
		timer = time.NewTimer(s.timeout)
		defer timer.Stop()
	}
	s.loop(ctx, timer)
}

func (s *Session) loop(ctx context.Context, timer *time.Timer) {
	var watchdog <-chan time.Time
	if timer != nil {
		watchdog = timer.C
	}
	for {
		select {
		case data := <-s.frames:
			if s.cancelled.Load() {
				s.cancel()
				return
			}
			// Paused while handling: a burst may outlast the timeout.
			if timer != nil {
				timer.Stop()
			}
			s.handle(data)
			if timer != nil {
				timer.Reset(s.timeout)
			}
		case <-s.stop:
			s.cancel()
			return
		case <-ctx.Done():
			s.cancelled.Store(true)
			s.cancel()
			return
		case <-watchdog:
			s.log.Warn("[OTA] peer silent, giving up", "timeout", s.timeout, "phase", s.Phase())
			s.fail(ErrTimeout)
			return
		}
		if s.Phase().Terminal() {
			return
		}
	}
}

func (s *Session) handshake() error {
	if err := s.write(protocol.TagBegin, protocol.EncodeBegin()); err != nil {
		return err
	}
	if err := s.write(protocol.TagSize, protocol.EncodeSize(uint32(s.plan.ImageSize))); err != nil {
		return err
	}
	return s.write(protocol.TagInfo, protocol.EncodeInfo(uint16(s.plan.TotalChunks), uint16(s.plan.MTU)))
}

func (s *Session) handle(data []byte) {
	f, err := protocol.Decode(data)
	if err != nil {
		s.log.Debug("[OTA] dropping frame", "error", err, "phase", s.Phase())
		return
	}

	phase := s.Phase()
	if phase == PhaseIdle || phase.Terminal() {
		s.log.Debug("[OTA] ignoring frame", "tag", f.Tag, "phase", phase)
		return
	}

	switch f.Tag {
	case protocol.TagReady:
		if phase == PhaseAwaitingInstall {
			s.log.Debug("[OTA] ignoring ready after all chunks sent")
			return
		}
		s.mode = f.Mode
		s.log.Info("[OTA] peer ready", "mode", f.Mode)
		s.emit()

	case protocol.TagResync:
		s.offset = s.plan.OffsetForChunk(int(f.ChunkIndex))
		s.log.Info("[OTA] resync requested", "chunk", f.ChunkIndex, "offset", s.offset)
		s.emit()

	case protocol.TagInstall:
		if phase != PhaseAwaitingInstall {
			s.log.Debug("[OTA] ignoring install signal", "phase", phase)
			return
		}
		s.log.Info("[OTA] peer installing firmware")
		s.complete()

	case protocol.TagResult:
		s.log.Info("[OTA] result", "text", f.Text)
		if f.Success() {
			s.complete()
		} else {
			s.fail(&PeerFailureError{Reason: f.Text})
		}
	}
}

// emit sends chunks from the current offset: one in single mode, the rest
// of the image in burst mode. The cancel flag is checked before every chunk.
func (s *Session) emit() {
	for {
		if s.cancelled.Load() {
			s.cancel()
			return
		}
		c, ok := s.plan.ChunkAt(s.offset)
		if !ok {
			s.finishStreaming()
			return
		}

		s.setPhase(PhaseStreaming)
		if err := s.sendChunk(c); err != nil {
			s.fail(err)
			return
		}
		s.offset = c.Offset + c.Length
		s.chunksSent++
		s.progress(s.plan.Progress(s.chunksSent))

		if s.offset < s.plan.ImageSize && s.mode != protocol.ModeBurst {
			return
		}
	}
}

func (s *Session) sendChunk(c protocol.Chunk) error {
	s.log.Debug("[OTA] sending chunk", "index", c.Index, "offset", c.Offset, "length", c.Length, "packets", c.Packets)
	if err := s.write(protocol.TagChunkHeader, protocol.EncodeChunkHeader(uint16(c.Length), uint16(c.Index))); err != nil {
		return err
	}
	for _, p := range s.plan.Packets(c) {
		frame := protocol.EncodePacket(uint8(p.Index), s.image[p.Offset:p.Offset+p.Length])
		if err := s.write(protocol.TagPacket, frame); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) finishStreaming() {
	if err := s.write(protocol.TagInstall, protocol.EncodeInstall()); err != nil {
		s.fail(err)
		return
	}
	s.progress(100)
	s.setPhase(PhaseAwaitingInstall)
	s.log.Info("[OTA] all chunks sent, awaiting install result", "chunks_sent", s.chunksSent)
}

func (s *Session) write(tag protocol.Tag, frame []byte) error {
	if err := s.ch.Write(frame); err != nil {
		return &TransportError{Op: tag.String(), Err: err}
	}
	return nil
}

func (s *Session) progress(pct float64) {
	if pct <= s.lastProgress {
		return
	}
	s.lastProgress = pct
	s.exec(func() { s.reporter.OnProgress(pct) })
}

func (s *Session) complete() {
	s.setPhase(PhaseCompleted)
	s.log.Info("[OTA] update complete")
	s.exec(s.reporter.OnComplete)
}

func (s *Session) fail(err error) {
	s.result = err
	s.setPhase(PhaseFailed)
	s.log.Error("[OTA] update failed", "error", err)
	reason := err.Error()
	s.exec(func() { s.reporter.OnFailed(reason) })
}

func (s *Session) cancel() {
	s.result = ErrCancelled
	s.setPhase(PhaseCancelled)
	s.log.Info("[OTA] update cancelled", "offset", s.offset, "chunks_sent", s.chunksSent)
}

func (s *Session) setPhase(p Phase) {
	s.phase.Store(int32(p))
}
