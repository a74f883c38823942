package compression

import (
	"bytes"
	"testing"
)

func TestCompressLevelDecompressRoundTrips(t *testing.T) {
	original := []byte("repeated repeated repeated compressible payload content")

	compressed, err := CompressLevel(nil, original, 3)
	if err != nil {
		t.Fatalf("CompressLevel: %v", err)
	}
	if bytes.Equal(compressed, original) {
		t.Fatalf("compressed output should differ from the original")
	}

	decompressed, err := Decompress(nil, compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(decompressed, original) {
		t.Fatalf("round trip mismatch: got %q, want %q", decompressed, original)
	}
}
