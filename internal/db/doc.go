// Package db provides the ordered transactional key-value store the message
// engine and the trie are built on.
//
// Keys and values are opaque byte strings kept in a single SQLite table whose
// BLOB primary key compares with memcmp, so iteration order is plain
// lexicographic byte order. The store offers:
//   - point Get/Put/Delete
//   - atomic multi-key Batch commits
//   - prefix-bounded forward and reverse iteration with opaque page tokens
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One open connection: SQLite allows a single writer
//
// Iteration reads bounded chunks and closes each result set before invoking
// callbacks, so a callback may itself read or write the store without
// waiting on the single connection.
package db
