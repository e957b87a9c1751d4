// Package compression is the zstd codec shared by the loose object store
// and the HTTP transport.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// MinSize is the smallest input Compress bothers to encode.
const MinSize = 128

// MaxDecodedBytes bounds the memory a single decode may claim.
const MaxDecodedBytes = 256 << 20

var frameMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Codec holds one encoder and one decoder. EncodeAll and DecodeAll are safe
// for concurrent use, so a Codec is shared.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	minSize int
}

// New returns a Codec at the given level. Inputs shorter than minSize are
// passed through untouched.
func New(level zstd.EncoderLevel, minSize int) (*Codec, error) {
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(level),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedBytes))
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Codec{encoder: encoder, decoder: decoder, minSize: minSize}, nil
}

var shared = sync.OnceValues(func() (*Codec, error) {
	return New(zstd.SpeedDefault, MinSize)
})

// Shared returns the process-wide Codec.
func Shared() (*Codec, error) {
	return shared()
}

// Compress encodes data as one zstd frame. Short inputs, and inputs that do
// not shrink, come back unchanged.
func (c *Codec) Compress(data []byte) []byte {
	if len(data) < c.minSize {
		return data
	}
	out := c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	if len(out) >= len(data) {
		return data
	}
	return out
}

// Decompress reverses Compress. Input without a zstd frame header is
// returned as is.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	if !IsFrame(data) {
		return data, nil
	}
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// Close releases the encoder and decoder.
func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

// IsFrame reports whether data starts with a zstd frame header.
func IsFrame(data []byte) bool {
	return bytes.HasPrefix(data, frameMagic)
}

// NewReader decodes a zstd stream from r.
func NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderMaxMemory(MaxDecodedBytes))
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return dec.IOReadCloser(), nil
}

// Accepts reports whether an Accept-Encoding or Content-Encoding header
// value lists zstd.
func Accepts(header string) bool {
	for _, part := range strings.Split(header, ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(name, "zstd") {
			return true
		}
	}
	return false
}
