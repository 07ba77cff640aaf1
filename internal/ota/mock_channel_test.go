package ota

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/otaflash/internal/ota/protocol"
)

var errMockWrite = errors.New("mock: write failed")

// mockChannel records writes and lets tests play the peer.
type mockChannel struct {
	mu         sync.Mutex
	writes     [][]byte
	callback   func([]byte)
	subscribed int
	failAt     int // 1-based write number that fails, 0 never
	maxPayload int

	// Set before the session starts.
	delay   time.Duration // per write, to model a slow link
	onWrite func([]byte)  // runs on the writer's goroutine
}

func (c *mockChannel) Write(frame []byte) error {
	c.mu.Lock()
	if c.failAt > 0 && len(c.writes)+1 == c.failAt {
		c.mu.Unlock()
		return errMockWrite
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	c.writes = append(c.writes, cp)
	c.mu.Unlock()

	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.onWrite != nil {
		c.onWrite(cp)
	}
	return nil
}

func (c *mockChannel) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	c.subscribed++
	return nil
}

// Notify simulates a frame from the peer.
func (c *mockChannel) Notify(frame []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(frame)
	}
}

// Writes returns a snapshot of all frames written so far.
func (c *mockChannel) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *mockChannel) WriteCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

// limitedChannel adds a payload limit to mockChannel.
type limitedChannel struct {
	*mockChannel
}

func (c limitedChannel) MaxPayload() int { return c.maxPayload }

// recordingReporter records every callback.
type recordingReporter struct {
	mu        sync.Mutex
	progress  []float64
	completed int
	failures  []string
	onProg    func(float64)
}

func (r *recordingReporter) OnProgress(p float64) {
	r.mu.Lock()
	r.progress = append(r.progress, p)
	hook := r.onProg
	r.mu.Unlock()
	if hook != nil {
		hook(p)
	}
}

func (r *recordingReporter) OnComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
}

func (r *recordingReporter) OnFailed(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, reason)
}

func (r *recordingReporter) snapshot() (progress []float64, completed int, failures []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.progress...), r.completed, append([]string(nil), r.failures...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForPhase(t *testing.T, s *Session, want Phase) {
	t.Helper()
	waitFor(t, "phase "+want.String(), func() bool { return s.Phase() == want })
}

// chunkHeader is a decoded 0xFC frame.
type chunkHeader struct {
	length, index int
}

// headers returns the chunk headers in write order.
func headers(writes [][]byte) []chunkHeader {
	var out []chunkHeader
	for _, w := range writes {
		if protocol.Tag(w[0]) == protocol.TagChunkHeader {
			out = append(out, chunkHeader{
				length: int(w[1])<<8 | int(w[2]),
				index:  int(w[3])<<8 | int(w[4]),
			})
		}
	}
	return out
}

// packetsPerChunk counts the packet frames following each chunk header.
func packetsPerChunk(writes [][]byte) []int {
	var out []int
	for _, w := range writes {
		switch protocol.Tag(w[0]) {
		case protocol.TagChunkHeader:
			out = append(out, 0)
		case protocol.TagPacket:
			out[len(out)-1]++
		}
	}
	return out
}

// reassemble concatenates the payloads of every chunk in write order,
// checking that packet indexes ascend from zero without gaps.
func reassemble(t *testing.T, writes [][]byte) []byte {
	t.Helper()
	var out []byte
	next := 0
	for _, w := range writes {
		switch protocol.Tag(w[0]) {
		case protocol.TagChunkHeader:
			next = 0
		case protocol.TagPacket:
			if int(w[1]) != next {
				t.Fatalf("packet index = %d, want %d", w[1], next)
			}
			next++
			out = append(out, w[2:]...)
		}
	}
	return out
}

func testImage(n int) []byte {
	img := make([]byte, n)
	for i := range img {
		img[i] = byte(i*7 + i/251)
	}
	return img
}
