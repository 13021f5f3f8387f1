package models

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Fields are length-prefixed so that ("ab","c") and ("a","bc") hash apart.
func writeField(h *xxhash.Digest, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}

func writeUint(h *xxhash.Digest, v uint64) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], v)
	writeField(h, n[:])
}

func writeTime(h *xxhash.Digest, t time.Time) {
	if t.IsZero() {
		writeUint(h, 0)
		return
	}
	writeUint(h, uint64(t.UnixNano()))
}

// FormatReference renders a reference the way it appears in URLs.
func FormatReference(ref uint64) string {
	return strconv.FormatUint(ref, 10)
}

// ParseReference is the inverse of FormatReference.
func ParseReference(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
