package protocol

import (
	"fmt"
	"math"
	"time"
)

// FarcasterEpoch is 2021-01-01T00:00:00Z in Unix milliseconds. Message
// timestamps are seconds since this instant, event IDs milliseconds.
const FarcasterEpoch int64 = 1609459200000

// ToFarcasterTime converts a wall-clock time to a message timestamp.
func ToFarcasterTime(t time.Time) (uint32, error) {
	ms := t.UnixMilli() - FarcasterEpoch
	if ms < 0 {
		return 0, NewInvalidParamError("time must be after Farcaster epoch")
	}
	secs := ms / 1000
	if secs > math.MaxUint32 {
		return 0, NewInvalidParamError(fmt.Sprintf("time too far in future: %d", secs))
	}
	return uint32(secs), nil
}

// FromFarcasterTime converts a message timestamp back to wall-clock time.
func FromFarcasterTime(ts uint32) time.Time {
	return time.UnixMilli(FarcasterEpoch + int64(ts)*1000).UTC()
}
