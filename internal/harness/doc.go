// Package harness runs scripted store scenarios and checks their outcomes.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: cast_remove_wins_tie
//	description: "A remove with the add's timestamp beats it"
//	config:
//	  prune_limits: { casts: 2 }
//	steps:
//	  - op: merge
//	    id: add
//	    message: { type: cast_add, fid: 1, timestamp: 100, text: hello }
//	  - op: merge
//	    id: remove
//	    message: { type: cast_remove, fid: 1, timestamp: 100, target: add }
//	assertions:
//	  - type: absent
//	    ref: add
//	  - type: trie_matches_store
//
// Steps are merge, revoke, prune and revoke_signer. Each step expects ok
// unless it names an error code in expect (conflict, duplicate,
// validation_failure, prunable, ...).
//
// # Assertion Types
//
//   - present / absent: the message is (or is not) stored and in the trie
//   - event_count: number of committed events of a type
//   - trie_items: number of keys in the trie
//   - message_count: cached message count of a store class for a fid
//   - trie_matches_store: the trie holds exactly the stored primary keys
//
// # Deterministic Testing
//
// Every run opens a fresh in-memory database and a deterministic clock.
// Traces name messages by their scenario labels and carry no hashes or
// event ids, so they compare byte for byte against golden files.
package harness
