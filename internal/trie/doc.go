// Package trie implements the Merkle radix trie used to compare the key
// sets of two replicas.
//
// Each node hashes its children (BLAKE3 truncated to 20 bytes) in branch
// byte order and leaves hash their key, so the root hash depends only on
// the set of inserted keys. The top TimestampLength levels are never
// compacted; below them a chain of single-child nodes collapses into one
// leaf. Node writes accumulate in a pending batch that is committed once
// it grows past the unload threshold, at which point resident nodes are
// dropped and later faulted back in from the store.
//
// ApplyEvent keeps the trie in step with the message stores when
// subscribed to the event handler.
package trie
