package streamcache

import (
	"bytes"
	"testing"

	"github.com/greymass/traceindex/internal/compression"
)

func TestTraceKeyAndActiveSetKeyUsePrefix(t *testing.T) {
	c := &Cache{keyPrefix: "traceindex:"}

	if got := c.traceKey("abc123"); got != "traceindex:trace:abc123" {
		t.Errorf("traceKey: got %q", got)
	}
	if got := c.activeSetKey(); got != "traceindex:active_traces" {
		t.Errorf("activeSetKey: got %q", got)
	}
}

func TestFieldCompressionRoundTrips(t *testing.T) {
	original := []byte("a TLV-packed trace node field value, repeated repeated repeated for compressibility")

	compressed, err := compression.CompressLevel(nil, original, compressLevel)
	if err != nil {
		t.Fatalf("CompressLevel: %v", err)
	}
	if bytes.Equal(compressed, original) {
		t.Fatalf("compressed output should differ from the original for compressible input")
	}

	decompressed, err := compression.Decompress(nil, compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(decompressed, original) {
		t.Fatalf("round trip mismatch: got %q, want %q", decompressed, original)
	}
}

func TestToInterfaceSlicePreservesOrder(t *testing.T) {
	in := []string{"a", "b", "c"}
	out := toInterfaceSlice(in)
	if len(out) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(out))
	}
	for i, s := range in {
		if out[i] != s {
			t.Errorf("index %d: got %v, want %v", i, out[i], s)
		}
	}
}
