package events

import (
	"fmt"
	"time"

	"github.com/roach88/hubstore/internal/protocol"
)

const (
	TimestampBits = 41
	SequenceBits  = 12

	maxTimestamp = 1<<TimestampBits - 1
	maxSequence  = 1<<SequenceBits - 1
)

// Clock supplies wall-clock time to the ID generator.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// IDGenerator issues strictly increasing event IDs.
//
// IDGenerator is not safe for concurrent use; Handler serializes it.
type IDGenerator struct {
	epoch         int64
	clock         Clock
	lastTimestamp uint64
	lastSeq       uint64
	issued        bool
}

// NewIDGenerator creates a generator counting milliseconds from epochMs.
func NewIDGenerator(epochMs int64, clock Clock) *IDGenerator {
	if clock == nil {
		clock = SystemClock{}
	}
	return &IDGenerator{epoch: epochMs, clock: clock}
}

// Next returns the next ID.
//
// A clock reading at or behind the last issued tick reuses that tick with the
// next sequence number. Fails with invalid_param when the timestamp or the
// sequence no longer fits its bit width.
func (g *IDGenerator) Next() (uint64, error) {
	ms := g.clock.Now().UnixMilli() - g.epoch
	if ms < 0 {
		return 0, protocol.NewInvalidParamError("clock is before the event epoch")
	}

	ts := uint64(ms)
	var seq uint64
	if g.issued && ts <= g.lastTimestamp {
		ts = g.lastTimestamp
		seq = g.lastSeq + 1
	}

	if ts > maxTimestamp {
		return 0, protocol.NewInvalidParamError(fmt.Sprintf("timestamp > %d bits", TimestampBits))
	}
	if seq > maxSequence {
		return 0, protocol.NewInvalidParamError(fmt.Sprintf("sequence > %d bits", SequenceBits))
	}

	g.lastTimestamp = ts
	g.lastSeq = seq
	g.issued = true
	return ts<<SequenceBits | seq, nil
}

// Seed makes every later ID greater than id. Used to resume after restart.
func (g *IDGenerator) Seed(id uint64) {
	g.lastTimestamp = id >> SequenceBits
	g.lastSeq = id & maxSequence
	g.issued = true
}

// Timestamp returns the wall-clock time encoded in an event ID.
func Timestamp(id uint64, epochMs int64) time.Time {
	return time.UnixMilli(epochMs + int64(id>>SequenceBits)).UTC()
}
