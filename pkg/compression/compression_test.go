package compression

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestCodec_RoundTrip(t *testing.T) {
	c, err := Shared()
	if err != nil {
		t.Fatalf("Shared: %v", err)
	}
	tests := []struct {
		name       string
		in         []byte
		compressed bool
	}{
		{name: "short input passes through", in: []byte("tiny"), compressed: false},
		{name: "repetitive input shrinks", in: bytes.Repeat([]byte("dirpush compression test data\n"), 100), compressed: true},
		{name: "empty", in: nil, compressed: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := c.Compress(tt.in)
			if IsFrame(out) != tt.compressed {
				t.Fatalf("IsFrame = %v, want %v", IsFrame(out), tt.compressed)
			}
			back, err := c.Decompress(out)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(back, tt.in) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d", len(back), len(tt.in))
			}
		})
	}
}

func TestCodec_IncompressibleKeptRaw(t *testing.T) {
	c, err := New(zstd.SpeedFastest, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	// A de Bruijn-ish byte walk that zstd cannot shrink below its own framing.
	in := make([]byte, 64)
	for i := range in {
		in[i] = byte(i*97 + 13)
	}
	if out := c.Compress(in); !bytes.Equal(out, in) {
		t.Fatalf("incompressible input was rewritten (%d -> %d bytes)", len(in), len(out))
	}
}

func TestCodec_DecompressCorrupt(t *testing.T) {
	c, err := Shared()
	if err != nil {
		t.Fatalf("Shared: %v", err)
	}
	bad := append(append([]byte{}, frameMagic...), 0xff, 0xff, 0xff)
	if _, err := c.Decompress(bad); err == nil {
		t.Fatal("expected error for corrupt frame")
	}
}

func TestNewReader(t *testing.T) {
	c, err := Shared()
	if err != nil {
		t.Fatalf("Shared: %v", err)
	}
	original := bytes.Repeat([]byte("stream me\n"), 200)
	r, err := NewReader(bytes.NewReader(c.Compress(original)))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Fatalf("stream mismatch: got %d bytes, want %d", len(got), len(original))
	}
}

func TestAccepts(t *testing.T) {
	for in, want := range map[string]bool{
		"zstd":            true,
		"gzip, zstd":      true,
		"ZSTD;q=0.5":      true,
		"gzip":            false,
		"":                false,
		"x-zstd-whatever": false,
	} {
		if got := Accepts(in); got != want {
			t.Errorf("Accepts(%q) = %v, want %v", in, got, want)
		}
	}
}
