// Package protocol implements the wire frames and transfer planning for the
// OTA firmware update protocol.
//
// Every frame is a one-byte command tag followed by a tag-specific payload.
// Multi-byte fields are big-endian.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Tag is the leading command byte of a frame.
type Tag byte

const (
	TagBegin       Tag = 0xFD // out: begin update
	TagSize        Tag = 0xFE // out: u32 firmware size
	TagInfo        Tag = 0xFF // out: u16 total chunks, u16 MTU
	TagChunkHeader Tag = 0xFC // out: u16 chunk length, u16 chunk index
	TagPacket      Tag = 0xFB // out: u8 packet index, data
	TagInstall     Tag = 0xF2 // out/in: all chunks sent / install now
	TagReady       Tag = 0xAA // in: u8 transfer mode
	TagResync      Tag = 0xF1 // in: u16 chunk index
	TagResult      Tag = 0x0F // in: UTF-8 result text
)

func (t Tag) String() string {
	switch t {
	case TagBegin:
		return "begin"
	case TagSize:
		return "size"
	case TagInfo:
		return "info"
	case TagChunkHeader:
		return "chunk-header"
	case TagPacket:
		return "packet"
	case TagInstall:
		return "install"
	case TagReady:
		return "ready"
	case TagResync:
		return "resync"
	case TagResult:
		return "result"
	default:
		return fmt.Sprintf("0x%02X", byte(t))
	}
}

// Mode is the transfer mode announced by the peer in a ready frame.
type Mode byte

const (
	ModeSingle Mode = 0 // one chunk per peer request
	ModeBurst  Mode = 1 // all chunks back to back
)

func (m Mode) String() string {
	if m == ModeBurst {
		return "burst"
	}
	return "single"
}

// PacketHeaderSize is the overhead of a packet frame (tag + packet index).
const PacketHeaderSize = 2

// successMarker in a result frame's text means the peer installed the image.
const successMarker = "Success"

// ErrMalformedFrame is returned by Decode for frames that cannot be parsed.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// Frame is a decoded inbound frame.
type Frame struct {
	Tag        Tag
	Mode       Mode   // TagReady
	ChunkIndex uint16 // TagResync
	Text       string // TagResult
}

// Success reports whether a result frame indicates a successful install.
func (f Frame) Success() bool {
	return f.Tag == TagResult && strings.Contains(f.Text, successMarker)
}

// Decode parses an inbound frame.
//
// A ready frame without its mode byte decodes as single mode, and any mode
// byte other than 1 is treated as single.
func Decode(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("%w: empty frame", ErrMalformedFrame)
	}
	f := Frame{Tag: Tag(data[0])}
	payload := data[1:]

	switch f.Tag {
	case TagReady:
		f.Mode = ModeSingle
		if len(payload) > 0 && Mode(payload[0]) == ModeBurst {
			f.Mode = ModeBurst
		}
	case TagResync:
		if len(payload) < 2 {
			return Frame{}, fmt.Errorf("%w: resync payload is %d bytes, want 2", ErrMalformedFrame, len(payload))
		}
		f.ChunkIndex = binary.BigEndian.Uint16(payload)
	case TagInstall:
	case TagResult:
		f.Text = strings.ToValidUTF8(string(payload), "�")
	default:
		return Frame{}, fmt.Errorf("%w: unknown tag 0x%02X", ErrMalformedFrame, data[0])
	}
	return f, nil
}

// EncodeBegin builds the begin-update command.
func EncodeBegin() []byte {
	return []byte{byte(TagBegin)}
}

// EncodeSize builds the firmware size announcement.
func EncodeSize(size uint32) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(TagSize)
	binary.BigEndian.PutUint32(buf[1:], size)
	return buf
}

// EncodeInfo builds the total chunk count and MTU announcement.
func EncodeInfo(totalChunks, mtu uint16) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(TagInfo)
	binary.BigEndian.PutUint16(buf[1:3], totalChunks)
	binary.BigEndian.PutUint16(buf[3:5], mtu)
	return buf
}

// EncodeChunkHeader announces the chunk whose packets follow.
func EncodeChunkHeader(length, index uint16) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(TagChunkHeader)
	binary.BigEndian.PutUint16(buf[1:3], length)
	binary.BigEndian.PutUint16(buf[3:5], index)
	return buf
}

// EncodePacket builds a packet data frame. The data is copied.
func EncodePacket(index uint8, data []byte) []byte {
	buf := make([]byte, PacketHeaderSize+len(data))
	buf[0] = byte(TagPacket)
	buf[1] = index
	copy(buf[PacketHeaderSize:], data)
	return buf
}

// EncodeInstall builds the all-chunks-sent command.
func EncodeInstall() []byte {
	return []byte{byte(TagInstall)}
}

// EncodeReady builds the peer's ready frame. The engine never sends the
// peer-side frames; they exist for simulators and tests.
func EncodeReady(mode Mode) []byte {
	return []byte{byte(TagReady), byte(mode)}
}

// EncodeResync builds the peer's resync request for chunk index.
func EncodeResync(index uint16) []byte {
	buf := make([]byte, 3)
	buf[0] = byte(TagResync)
	binary.BigEndian.PutUint16(buf[1:], index)
	return buf
}

// EncodeResult builds the peer's result report.
func EncodeResult(text string) []byte {
	return append([]byte{byte(TagResult)}, text...)
}
