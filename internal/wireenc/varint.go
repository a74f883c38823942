// Package wireenc packs trace nodes and interface records into the
// tag-length-value fields stored in stream-cache hashes. A field is a
// uvarint tag, a uvarint byte length, then the payload.
package wireenc

import (
	"bytes"
	"encoding/binary"
)

func PutAsVarint(buf *bytes.Buffer, item int64) {
	var varbuf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(varbuf[:], item)
	buf.Write(varbuf[:n])
}

func PutAsUVarint(buf *bytes.Buffer, item uint64) {
	var varbuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(varbuf[:], item)
	buf.Write(varbuf[:n])
}

func GetAsVarint(r *bytes.Reader) int64 {
	i, _ := binary.ReadVarint(r)
	return i
}

func GetAsUVarint(r *bytes.Reader) uint64 {
	i, _ := binary.ReadUvarint(r)
	return i
}
