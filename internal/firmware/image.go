// Package firmware loads the images pushed to peripherals, from disk or
// over HTTP.
package firmware

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
)

// Image is an immutable firmware image.
type Image struct {
	name   string
	data   []byte
	digest [blake2b.Size256]byte
}

// New creates an image from a copy of data.
func New(name string, data []byte) *Image {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &Image{
		name:   name,
		data:   cp,
		digest: blake2b.Sum256(cp),
	}
}

// Load reads an image file from disk.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading firmware %s: %w", path, err)
	}
	return New(filepath.Base(path), data), nil
}

// Name returns the file name the image was loaded from.
func (i *Image) Name() string { return i.name }

// Size returns the image length in bytes.
func (i *Image) Size() int { return len(i.data) }

// Bytes returns the image contents. Callers must not modify the slice.
func (i *Image) Bytes() []byte { return i.data }

// Digest returns the hex BLAKE2b-256 digest of the contents.
func (i *Image) Digest() string {
	return hex.EncodeToString(i.digest[:])
}

// String summarizes the image for logs.
func (i *Image) String() string {
	return fmt.Sprintf("%s (%d bytes, blake2b %s)", i.name, len(i.data), i.Digest()[:16])
}
