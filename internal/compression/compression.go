// Package compression wraps the zstd codec used for any payload this
// pipeline compresses before handing it to a store that charges for
// bytes: stream-cache hash field values today, adapted from
// libraries/compression's CompressLevel/Decompress wrapper.
package compression

import "github.com/DataDog/zstd"

// CompressLevel compresses src at level, appending to dst (which may
// be nil).
func CompressLevel(dst, src []byte, level int) ([]byte, error) {
	return zstd.CompressLevel(dst, src, level)
}

// Decompress decompresses src, appending to dst (which may be nil).
func Decompress(dst, src []byte) ([]byte, error) {
	return zstd.Decompress(dst, src)
}
