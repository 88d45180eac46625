package venture

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// tickLayout matches the millisecond-precision ISO-8601 format the spec's
// deterministic job-definition ID hash input is given in.
const tickLayout = "2006-01-02T15:04:05.000Z"

// scheduleTick returns the dedup key for one cron tick of one schedule
// entry: "<lastTick ISO>:<entryId>".
func scheduleTick(lastTick time.Time, entryID string) string {
	return fmt.Sprintf("%s:%s", lastTick.UTC().Format(tickLayout), entryID)
}

// scheduledJobDefinitionID derives a deterministic job-definition UUID from
// the venture/entry/tick triple: SHA-256 of the canonical string, truncated
// to 16 bytes, with the RFC-4122 variant bits set on byte 8 and the
// version-5 bits set on byte 6 — the same bit layout a standard UUIDv5
// would carry, but over a SHA-256 digest rather than SHA-1, so that two
// watchers computing it independently always agree.
func scheduledJobDefinitionID(ventureID, entryID string, lastTick time.Time) uuid.UUID {
	input := fmt.Sprintf("venture:%s:entry:%s:tick:%s", ventureID, entryID, lastTick.UTC().Format(tickLayout))
	digest := sha256.Sum256([]byte(input))

	var id uuid.UUID
	copy(id[:], digest[:16])
	id[6] = (id[6] & 0x0f) | 0x50 // version 5
	id[8] = (id[8] & 0x3f) | 0x80 // RFC 4122 variant
	return id
}
