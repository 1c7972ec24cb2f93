package utils

import (
	"crypto/rand" // secure random number generation
	"fmt"
	"time"
)

// NewOrderNo generates a locally unique order number: the UTC timestamp to
// the second, followed by four random bytes in hex.  The date prefix keeps
// numbers sortable and human-scannable; the random suffix makes collisions
// within one second vanishingly unlikely.  crypto/rand failures fall back
// to the nanosecond clock so order creation never blocks on entropy.
func NewOrderNo() string {
	now := time.Now().UTC()
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s%09d", now.Format("20060102150405"), now.Nanosecond())
	}
	return fmt.Sprintf("%s%02x%02x%02x%02x", now.Format("20060102150405"), b[0], b[1], b[2], b[3])
}
