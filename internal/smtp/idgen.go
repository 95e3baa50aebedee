package smtp

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/oklog/ulid/v2"
)

// IDGenerator produces session identifiers. Implementations must be safe for
// concurrent use.
type IDGenerator interface {
	NewID() string
}

// RandomIDGenerator yields 16 lower-case hex digits from crypto/rand
type RandomIDGenerator struct{}

// NewID returns a fresh 64-bit random identifier
func (RandomIDGenerator) NewID() string {
	var b [8]byte
	// crypto/rand.Read never returns an error on supported platforms
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// GenerateQueueID returns the id announced in "250 Ok: queued as <id>".
// ULIDs sort by acceptance time, which keeps queue ids ordered in logs.
func GenerateQueueID() string {
	return ulid.Make().String()
}
