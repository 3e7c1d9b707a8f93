package harness

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/protocol"
)

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(ctx context.Context, h *Harness, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d] %s: %v", i, a.Type, err))
		}
	}
	return failures
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertPresent, AssertAbsent:
		return h.assertPresence(ctx, a.Ref, a.Type == AssertPresent)
	case AssertEventCount:
		return h.assertEventCount(ctx, a.Event, a.Count)
	case AssertTrieItems:
		items, err := h.node.Trie().Items()
		if err != nil {
			return err
		}
		if items != a.Count {
			return fmt.Errorf("expected %d trie items, got %d", a.Count, items)
		}
		return nil
	case AssertMessageCount:
		return h.assertMessageCount(ctx, a.Fid, a.Class, a.Count)
	case AssertTrieMatchesStore:
		return h.assertTrieMatchesStore(ctx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertPresence checks the primary record and the trie together, so a
// record missing from one of them fails either way.
func (h *Harness) assertPresence(ctx context.Context, ref string, want bool) error {
	m, ok := h.messages[ref]
	if !ok {
		return fmt.Errorf("unknown message %q", ref)
	}
	pk, err := keys.PrimaryKeyOf(m)
	if err != nil {
		return err
	}
	s, err := h.node.StoreFor(m.Type())
	if err != nil {
		return err
	}
	_, stored, err := s.DB().Get(ctx, pk)
	if err != nil {
		return err
	}
	inTrie, err := h.node.Trie().Exists(ctx, pk)
	if err != nil {
		return err
	}
	if stored != want || inTrie != want {
		return fmt.Errorf("%s: expected present=%t, store=%t trie=%t", ref, want, stored, inTrie)
	}
	return nil
}

func (h *Harness) assertEventCount(ctx context.Context, eventType string, want int) error {
	got := 0
	var from uint64
	for {
		evs, err := h.node.Events().GetEvents(ctx, from, 1000)
		if err != nil {
			return err
		}
		for _, ev := range evs {
			if ev.Type.String() == eventType {
				got++
			}
			from = ev.ID + 1
		}
		if len(evs) < 1000 {
			break
		}
	}
	if got != want {
		return fmt.Errorf("expected %d %s events, got %d", want, eventType, got)
	}
	return nil
}

func (h *Harness) assertMessageCount(ctx context.Context, fid uint64, class string, want int) error {
	s, err := h.node.StoreForClass(class)
	if err != nil {
		return err
	}
	got, err := h.node.Cache().GetMessageCount(ctx, fid, s.Postfix())
	if err != nil {
		return err
	}
	if got != uint64(want) {
		return fmt.Errorf("expected %d %s messages for fid %d, got %d", want, class, fid, got)
	}
	return nil
}

// assertTrieMatchesStore compares the trie's keys with every primary
// record key in the store.
func (h *Harness) assertTrieMatchesStore(ctx context.Context) error {
	var stored [][]byte
	d := h.node.Stores()[0].DB()
	prefix := []byte{byte(keys.RootPrefixUser)}
	_, err := d.ForEachByPrefixUnbounded(ctx, prefix, db.PageOptions{}, func(key, _ []byte) (bool, error) {
		if len(key) == keys.PrimaryKeyLength && key[1+keys.FidBytes] < byte(keys.UserMessagePostfixMax) {
			stored = append(stored, append([]byte(nil), key...))
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	sort.Slice(stored, func(i, j int) bool { return bytes.Compare(stored[i], stored[j]) < 0 })

	inTrie, err := h.node.Trie().GetAllValues(ctx, nil)
	if err != nil {
		return err
	}
	if len(stored) != len(inTrie) {
		return fmt.Errorf("store holds %d records, trie holds %d keys", len(stored), len(inTrie))
	}
	for i := range stored {
		if !bytes.Equal(stored[i], inTrie[i]) {
			return fmt.Errorf("key %d differs: store %s, trie %s",
				i, protocol.HexHash(stored[i]), protocol.HexHash(inTrie[i]))
		}
	}
	return nil
}
