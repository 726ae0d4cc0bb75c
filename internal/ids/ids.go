// Package ids generates the identifiers and timestamps used across all stores.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a 26-char lexicographically-sortable identifier.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// Now returns the current UTC time as an ISO-8601 string with millisecond
// precision. All store timestamps use this format so string comparison
// matches time comparison.
func Now() string {
	return Format(time.Now())
}

// Format renders t in the store timestamp format.
func Format(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Parse parses a store timestamp. Falls back to RFC3339 variants so
// externally-supplied timestamps (agents, webhooks) are accepted too.
func Parse(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02T15:04:05.000Z", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
