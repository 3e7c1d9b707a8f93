// Package events assigns hub event IDs and persists the event log.
//
// Event IDs pack milliseconds since an epoch into the high bits and a
// per-millisecond sequence into the low 12 bits, so they sort in commit
// order and stay unique while the clock stands still or steps back.
//
// Handler holds the only global lock in the write path: it covers ID
// assignment, writing the event into the caller's batch and committing that
// batch, so the order of IDs is the order in which events become visible.
package events
