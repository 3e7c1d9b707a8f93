// Package protocol defines the message and event model shared by every other
// hubstore package.
//
// protocol imports nothing internal. It owns:
//   - Message, MessageData and the per-type bodies (a tagged union expressed as
//     mutually exclusive pointer fields)
//   - HubEvent and its bodies
//   - the deterministic CBOR codec used for every persisted record
//   - the HubError taxonomy returned by the store engine and trie
//   - BLAKE3-160 hashing and protocol time helpers
package protocol
