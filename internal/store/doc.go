// Package store implements the CRDT message store engine.
//
// A Store merges, revokes, prunes and reads the messages of one message
// class. The class-specific rules (key derivation, type classification,
// conflict checks, secondary indices) live in a Policy; the engine itself is
// the same for every class.
//
// STATE MODEL:
//
// Each message is written under its primary key (user ‖ fid ‖ postfix ‖
// tsHash). The winning message for a collision key is recorded by a pointer
// (add key or remove key) whose value is the winner's tsHash. A message is
// present iff one of its pointers holds its own tsHash.
//
// Every state change is one db.Batch committed through events.Handler
// together with its HubEvent. Deleting a message removes its primary record,
// its pointer, its by-signer entry and its secondary indices in the same
// batch.
//
// CONCURRENCY:
//
// Merges, revokes and prunes for one fid are serialized by a sharded lock
// array (fid mod N). Event IDs are serialized by the handler.
package store
