// Package id generates the short identifiers mcpd hands out for SSE
// sessions and event streams. Request IDs on the JSON-RPC wire are
// numeric and generated by the client correlator, not here.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// Short returns a 16-character hex identifier backed by crypto/rand.
func Short() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

var eventSeq atomic.Uint64

// Event returns a monotonic event identifier of the form
// <unix-millis>-<seq>. Identifiers sort chronologically, which lets SSE
// clients resume with Last-Event-ID.
func Event() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixMilli(), eventSeq.Add(1))
}
