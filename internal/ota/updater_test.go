package ota

import (
	"context"
	"errors"
	"testing"
)

func TestNewUpdaterNilChannel(t *testing.T) {
	if _, err := NewUpdater(nil); !errors.Is(err, ErrNoChannel) {
		t.Errorf("NewUpdater(nil) error = %v, want ErrNoChannel", err)
	}
}

func TestStartRejectsSecondSession(t *testing.T) {
	ch := &mockChannel{}
	u, _ := NewUpdater(ch, WithLogger(quietLogger()))

	first, err := u.Start(context.Background(), testImage(1000), nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := u.Start(context.Background(), testImage(1000), nil); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second Start() error = %v, want ErrSessionActive", err)
	}
	if u.Active() != first {
		t.Error("Active() should still be the first session")
	}

	waitFor(t, "handshake", func() bool { return ch.WriteCount() >= 3 })
	ch.Notify([]byte{0xAA, 0x01})
	waitForPhase(t, first, PhaseAwaitingInstall)
	ch.Notify([]byte{0xF2})
	if err := waitDone(t, first); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	// The connection is free again once the session ended.
	second, err := u.Start(context.Background(), testImage(1000), nil)
	if err != nil {
		t.Fatalf("Start() after completion error = %v", err)
	}
	defer second.Cancel()
	if second == first {
		t.Error("sessions must not be reused")
	}
	if ch.subscribed != 1 {
		t.Errorf("Subscribe called %d times, want 1", ch.subscribed)
	}
}

func TestStartInvalidConfigurationWritesNothing(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"zero chunk size", []Option{WithChunkSize(0)}},
		{"zero mtu", []Option{WithMTU(0)}},
		{"mtu above chunk size", []Option{WithChunkSize(100), WithMTU(200)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &mockChannel{}
			u, _ := NewUpdater(ch, append(tt.opts, WithLogger(quietLogger()))...)
			_, err := u.Start(context.Background(), testImage(1000), nil)
			if !errors.Is(err, ErrInvalidConfiguration) {
				t.Fatalf("Start() error = %v, want ErrInvalidConfiguration", err)
			}
			if n := ch.WriteCount(); n != 0 {
				t.Errorf("invalid configuration wrote %d frames", n)
			}
			if u.Active() != nil {
				t.Error("no session should be active")
			}
		})
	}
}

func TestStartRespectsChannelPayloadLimit(t *testing.T) {
	ch := limitedChannel{&mockChannel{maxPayload: 244}}
	u, _ := NewUpdater(ch, WithLogger(quietLogger()))
	if _, err := u.Start(context.Background(), testImage(1000), nil); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("Start() error = %v, want ErrInvalidConfiguration", err)
	}

	u, _ = NewUpdater(ch, WithLogger(quietLogger()), WithMTU(242))
	s, err := u.Start(context.Background(), testImage(1000), nil)
	if err != nil {
		t.Fatalf("Start() with fitting mtu error = %v", err)
	}
	s.Cancel()
}

func TestCustomSegmentation(t *testing.T) {
	ch := &mockChannel{}
	u, _ := NewUpdater(ch, WithLogger(quietLogger()), WithChunkSize(1000), WithMTU(100))
	image := testImage(2500)

	s, err := u.Start(context.Background(), image, nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.Plan().TotalChunks != 3 {
		t.Errorf("TotalChunks = %d, want 3", s.Plan().TotalChunks)
	}
	waitFor(t, "handshake", func() bool { return ch.WriteCount() >= 3 })
	ch.Notify([]byte{0xAA, 0x01})
	waitForPhase(t, s, PhaseAwaitingInstall)

	pc := packetsPerChunk(ch.Writes())
	want := []int{10, 10, 5}
	for i := range want {
		if pc[i] != want[i] {
			t.Errorf("chunk %d packets = %d, want %d", i, pc[i], want[i])
		}
	}
	s.Cancel()
}

func TestUpdaterCancel(t *testing.T) {
	ch := &mockChannel{}
	u, _ := NewUpdater(ch, WithLogger(quietLogger()))
	s, err := u.Start(context.Background(), testImage(100), nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	u.Cancel()
	if err := waitDone(t, s); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Wait() error = %v, want ErrCancelled", err)
	}
	if u.Active() != nil {
		t.Error("Active() should be nil after cancel")
	}
	// Frames with no session are dropped.
	ch.Notify([]byte{0xAA, 0x01})
}

func TestStartUpdate(t *testing.T) {
	ch := &mockChannel{}
	done := make(chan struct{})
	rep := ReporterFuncs{Complete: func() { close(done) }}

	s, err := StartUpdate(context.Background(), testImage(600), ch, rep, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("StartUpdate() error = %v", err)
	}
	waitFor(t, "handshake", func() bool { return ch.WriteCount() >= 3 })
	ch.Notify([]byte{0xAA, 0x00})
	waitForPhase(t, s, PhaseAwaitingInstall)
	ch.Notify(append([]byte{0x0F}, "Success"...))
	if err := waitDone(t, s); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	<-done
	if s.Err() != nil {
		t.Errorf("Err() = %v, want nil", s.Err())
	}
}

func TestReporterFuncsNilFields(t *testing.T) {
	var r ReporterFuncs
	r.OnProgress(50)
	r.OnComplete()
	r.OnFailed("x")
}
