package serial

import "bytes"

// SLIP framing (RFC 1055), as used by ESP32 ROM loaders.
const (
	slipEnd    = 0xC0
	slipEsc    = 0xDB
	slipEscEnd = 0xDC
	slipEscEsc = 0xDD
)

// slipEncode wraps frame in END delimiters, escaping END and ESC bytes.
func slipEncode(frame []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(frame) + 2)
	buf.WriteByte(slipEnd)

	for _, b := range frame {
		switch b {
		case slipEnd:
			buf.WriteByte(slipEsc)
			buf.WriteByte(slipEscEnd)
		case slipEsc:
			buf.WriteByte(slipEsc)
			buf.WriteByte(slipEscEsc)
		default:
			buf.WriteByte(b)
		}
	}

	buf.WriteByte(slipEnd)
	return buf.Bytes()
}

// slipDecoder reassembles frames from a byte stream. Empty frames (back to
// back END bytes) are skipped; a frame with an invalid escape is dropped.
type slipDecoder struct {
	buf     bytes.Buffer
	escaped bool
	invalid bool
}

// Feed consumes data and returns every frame it completes.
func (d *slipDecoder) Feed(data []byte) [][]byte {
	var frames [][]byte
	for _, b := range data {
		if d.escaped {
			d.escaped = false
			switch b {
			case slipEscEnd:
				d.buf.WriteByte(slipEnd)
			case slipEscEsc:
				d.buf.WriteByte(slipEsc)
			default:
				d.invalid = true
			}
			continue
		}

		switch b {
		case slipEnd:
			if d.buf.Len() > 0 && !d.invalid {
				frame := make([]byte, d.buf.Len())
				copy(frame, d.buf.Bytes())
				frames = append(frames, frame)
			}
			d.buf.Reset()
			d.invalid = false
		case slipEsc:
			d.escaped = true
		default:
			d.buf.WriteByte(b)
		}
	}
	return frames
}
