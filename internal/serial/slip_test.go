package serial

import (
	"bytes"
	"testing"
)

func TestSlipEncode(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"plain", []byte{0xFD}, []byte{0xC0, 0xFD, 0xC0}},
		{"escapes end", []byte{0x01, 0xC0, 0x02}, []byte{0xC0, 0x01, 0xDB, 0xDC, 0x02, 0xC0}},
		{"escapes esc", []byte{0xDB}, []byte{0xC0, 0xDB, 0xDD, 0xC0}},
		{"empty", nil, []byte{0xC0, 0xC0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := slipEncode(tt.in); !bytes.Equal(got, tt.want) {
				t.Errorf("slipEncode(% X) = % X, want % X", tt.in, got, tt.want)
			}
		})
	}
}

func TestSlipDecoderSplitAcrossReads(t *testing.T) {
	frame := []byte{0xFB, 0x00, 0xC0, 0xDB, 0x42}
	encoded := slipEncode(frame)

	var dec slipDecoder
	var got [][]byte
	for _, b := range encoded {
		got = append(got, dec.Feed([]byte{b})...)
	}
	if len(got) != 1 || !bytes.Equal(got[0], frame) {
		t.Fatalf("decoded %v, want [% X]", got, frame)
	}
}

func TestSlipDecoderMultipleFrames(t *testing.T) {
	var stream []byte
	stream = append(stream, slipEncode([]byte{0xAA, 0x01})...)
	stream = append(stream, 0xC0, 0xC0) // idle END bytes
	stream = append(stream, slipEncode([]byte{0xF1, 0x00, 0x02})...)

	var dec slipDecoder
	got := dec.Feed(stream)
	if len(got) != 2 {
		t.Fatalf("decoded %d frames, want 2", len(got))
	}
	if !bytes.Equal(got[0], []byte{0xAA, 0x01}) || !bytes.Equal(got[1], []byte{0xF1, 0x00, 0x02}) {
		t.Errorf("decoded % X", got)
	}
}

func TestSlipDecoderDropsInvalidEscape(t *testing.T) {
	var dec slipDecoder
	got := dec.Feed([]byte{0xC0, 0x0F, 0xDB, 0x00, 0xC0, 0xF2, 0xC0})
	if len(got) != 1 || !bytes.Equal(got[0], []byte{0xF2}) {
		t.Errorf("decoded % X, want only F2", got)
	}
}
