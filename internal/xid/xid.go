// Package xid mints correlation ids for request tracing. They are opaque
// and unordered; document numbers always come from the series counters.
package xid

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"time"
)

// New returns an id like "req-mf3k2a1-1x9z...": the prefix, the millisecond
// timestamp and a random tail, both base 36.
func New(prefix string) string {
	var tail uint64
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err == nil {
		tail = binary.BigEndian.Uint64(buf)
	} else {
		tail = uint64(time.Now().UnixNano())
	}
	return prefix + "-" + strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + strconv.FormatUint(tail, 36)
}
