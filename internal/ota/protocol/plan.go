package protocol

import (
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultChunkSize is the number of image bytes the peer buffers per chunk.
	DefaultChunkSize = 16000
	// DefaultMTU is the largest packet payload written per frame.
	DefaultMTU = 500

	// maxPacketsPerChunk is bounded by the one-byte packet index.
	maxPacketsPerChunk = math.MaxUint8 + 1
)

// ErrInvalidConfiguration is returned for plan parameters the protocol
// cannot express.
var ErrInvalidConfiguration = errors.New("protocol: invalid configuration")

// Plan is the segmentation of an image into chunks and packets.
type Plan struct {
	ImageSize   int
	ChunkSize   int
	MTU         int
	TotalChunks int
}

// Chunk is one contiguous slice of the image.
type Chunk struct {
	Index   int
	Offset  int
	Length  int
	Packets int
}

// Packet is one MTU-sized slice of a chunk. Offset is relative to the image.
type Packet struct {
	Index  int
	Offset int
	Length int
}

// NewPlan computes the segmentation of an image of imageSize bytes.
func NewPlan(imageSize, chunkSize, mtu int) (Plan, error) {
	switch {
	case chunkSize <= 0:
		return Plan{}, fmt.Errorf("%w: chunk size must be > 0, got %d", ErrInvalidConfiguration, chunkSize)
	case mtu <= 0:
		return Plan{}, fmt.Errorf("%w: mtu must be > 0, got %d", ErrInvalidConfiguration, mtu)
	case imageSize < 0:
		return Plan{}, fmt.Errorf("%w: image size must be >= 0, got %d", ErrInvalidConfiguration, imageSize)
	case int64(imageSize) > math.MaxUint32:
		return Plan{}, fmt.Errorf("%w: image size %d does not fit in 32 bits", ErrInvalidConfiguration, imageSize)
	case chunkSize < mtu:
		return Plan{}, fmt.Errorf("%w: chunk size %d is smaller than mtu %d", ErrInvalidConfiguration, chunkSize, mtu)
	case chunkSize > math.MaxUint16:
		return Plan{}, fmt.Errorf("%w: chunk size %d does not fit in 16 bits", ErrInvalidConfiguration, chunkSize)
	case ceilDiv(chunkSize, mtu) > maxPacketsPerChunk:
		return Plan{}, fmt.Errorf("%w: %d packets per chunk exceeds %d", ErrInvalidConfiguration, ceilDiv(chunkSize, mtu), maxPacketsPerChunk)
	}

	p := Plan{
		ImageSize:   imageSize,
		ChunkSize:   chunkSize,
		MTU:         mtu,
		TotalChunks: ceilDiv(imageSize, chunkSize),
	}
	if p.TotalChunks > math.MaxUint16 {
		return Plan{}, fmt.Errorf("%w: %d chunks does not fit in 16 bits", ErrInvalidConfiguration, p.TotalChunks)
	}
	return p, nil
}

// OffsetForChunk returns the image offset where chunk index starts, clamped
// to the image size.
func (p Plan) OffsetForChunk(index int) int {
	if index <= 0 {
		return 0
	}
	if index >= p.TotalChunks {
		return p.ImageSize
	}
	return index * p.ChunkSize
}

// ChunkAt returns the chunk starting at offset. ok is false when offset is at
// or past the end of the image.
func (p Plan) ChunkAt(offset int) (c Chunk, ok bool) {
	if offset < 0 || offset >= p.ImageSize {
		return Chunk{}, false
	}
	end := min(offset+p.ChunkSize, p.ImageSize)
	c = Chunk{
		Index:  offset / p.ChunkSize,
		Offset: offset,
		Length: end - offset,
	}
	c.Packets = ceilDiv(c.Length, p.MTU)
	return c, true
}

// Chunks returns every chunk in ascending offset order.
func (p Plan) Chunks() []Chunk {
	chunks := make([]Chunk, 0, p.TotalChunks)
	for off := 0; off < p.ImageSize; off += p.ChunkSize {
		c, _ := p.ChunkAt(off)
		chunks = append(chunks, c)
	}
	return chunks
}

// Packets returns the packets of c in ascending index order.
func (p Plan) Packets(c Chunk) []Packet {
	packets := make([]Packet, c.Packets)
	end := c.Offset + c.Length
	for i := range packets {
		start := c.Offset + i*p.MTU
		packets[i] = Packet{
			Index:  i,
			Offset: start,
			Length: min(start+p.MTU, end) - start,
		}
	}
	return packets
}

// Progress is the completion percentage after chunksSent chunks, clamped to
// [0, 100]. An empty plan is complete.
func (p Plan) Progress(chunksSent int) float64 {
	if p.TotalChunks == 0 {
		return 100
	}
	pct := float64(chunksSent) / float64(p.TotalChunks) * 100
	return max(0, min(100, pct))
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}
