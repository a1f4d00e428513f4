package domain

import (
	"crypto/rand"
	"fmt"
	"time"
)

// Unambiguous alphabet: no 0/O, 1/I/L.
const referenceAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const referenceRandomLen = 6

// NewReference generates a short human-readable booking reference with
// a time-derived component and a random component, e.g.
// "BX-20260831-7F3K9Q". Uniqueness is enforced by the storage layer;
// on the rare collision the caller regenerates and retries the insert
// once.
func NewReference(now time.Time) string {
	buf := make([]byte, referenceRandomLen)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in serious trouble;
		// fall back to a time-only suffix rather than crash mid-saga.
		return fmt.Sprintf("BX-%s-%06d", now.UTC().Format("20060102"), now.UnixNano()%1000000)
	}
	for i, b := range buf {
		buf[i] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return fmt.Sprintf("BX-%s-%s", now.UTC().Format("20060102"), string(buf))
}
