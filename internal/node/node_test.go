package node

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hubstore/internal/config"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/metrics"
	"github.com/roach88/hubstore/internal/protocol"
	"github.com/roach88/hubstore/internal/testutil"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "hub.db")
	return cfg
}

func openNode(t *testing.T, cfg config.Config, opts ...Option) *Node {
	t.Helper()
	clock := testutil.NewDeterministicClock(testutil.DefaultClockStart, time.Millisecond)
	opts = append([]Option{WithClock(clock)}, opts...)
	n, err := Open(context.Background(), cfg, opts...)
	require.NoError(t, err)
	return n
}

func TestOpen_WiresTrieAndCache(t *testing.T) {
	ctx := context.Background()
	n := openNode(t, testConfig(t))
	defer n.Close(ctx)

	add := testutil.CastAdd(1, 100, "hello")
	ev, err := n.Merge(ctx, add)
	require.NoError(t, err)
	assert.NotZero(t, ev.ID)

	pk, err := keys.PrimaryKeyOf(add)
	require.NoError(t, err)
	ok, err := n.Trie().Exists(ctx, pk)
	require.NoError(t, err)
	assert.True(t, ok)

	count, err := n.Cache().GetMessageCount(ctx, 1, keys.UserPostfixCastMessage)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	got, err := n.Casts.GetCastAdd(ctx, 1, add.Hash)
	require.NoError(t, err)
	assert.Equal(t, add.Hash, got.Hash)
}

func TestStoreFor(t *testing.T) {
	n := openNode(t, testConfig(t))
	defer n.Close(context.Background())

	tests := []struct {
		typ  protocol.MessageType
		name string
	}{
		{protocol.MessageTypeCastAdd, "cast"},
		{protocol.MessageTypeCastRemove, "cast"},
		{protocol.MessageTypeLinkRemove, "link"},
		{protocol.MessageTypeReactionAdd, "reaction"},
		{protocol.MessageTypeVerificationRemove, "verification"},
		{protocol.MessageTypeUserDataAdd, "user_data"},
		{protocol.MessageTypeUsernameProof, "username_proof"},
	}
	for _, tt := range tests {
		s, err := n.StoreFor(tt.typ)
		require.NoError(t, err)
		assert.Equal(t, tt.name, s.Name())

		byName, err := n.StoreForClass(tt.name)
		require.NoError(t, err)
		assert.Same(t, s, byName)
	}

	_, err := n.StoreFor(protocol.MessageTypeNone)
	assert.True(t, protocol.IsInvalidParam(err))
	_, err = n.StoreForClass("frame")
	assert.True(t, protocol.IsInvalidParam(err))
	assert.Len(t, n.Stores(), 6)
}

func TestPrune_UsesConfiguredLimits(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.PruneLimits.Reactions = 2
	n := openNode(t, cfg)
	defer n.Close(ctx)

	target := &protocol.CastID{Fid: 9, Hash: testutil.Hash(1)}
	for i, rt := range []protocol.ReactionType{protocol.ReactionTypeLike, protocol.ReactionTypeRecast} {
		_, err := n.Merge(ctx, testutil.ReactionAdd(1, uint32(100+i), rt, target))
		require.NoError(t, err)
	}
	_, err := n.Merge(ctx, testutil.ReactionAddURL(1, 300, protocol.ReactionTypeLike, "https://example.com"))
	require.NoError(t, err)

	pruned, err := n.Prune(ctx, 1, "reaction", 0)
	require.NoError(t, err)
	require.Len(t, pruned, 1)
	assert.Equal(t, protocol.HubEventTypePruneMessage, pruned[0].Type)
	assert.Equal(t, uint32(100), pruned[0].PruneMessageBody.Message.Timestamp())

	items, err := n.Trie().Items()
	require.NoError(t, err)
	assert.Equal(t, 2, items)

	pruned, err = n.PruneAll(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, pruned)

	_, err = n.Prune(ctx, 1, "frame", 0)
	assert.True(t, protocol.IsInvalidParam(err))
}

func TestRevokeMessagesBySigner_AcrossStores(t *testing.T) {
	ctx := context.Background()
	n := openNode(t, testConfig(t))
	defer n.Close(ctx)

	revoked := testutil.NewSigner(7)
	kept := testutil.NewSigner(8)
	for _, m := range []*protocol.Message{
		testutil.CastAdd(1, 100, "a", testutil.WithSigner(revoked)),
		testutil.LinkAdd(1, 101, "follow", 2, testutil.WithSigner(revoked)),
		testutil.UserDataAdd(1, 102, protocol.UserDataTypeBio, "hi", testutil.WithSigner(revoked)),
		testutil.CastAdd(1, 103, "b", testutil.WithSigner(kept)),
	} {
		_, err := n.Merge(ctx, m)
		require.NoError(t, err)
	}

	evs, err := n.RevokeMessagesBySigner(ctx, 1, revoked.PublicKey())
	require.NoError(t, err)
	assert.Len(t, evs, 3)

	items, err := n.Trie().Items()
	require.NoError(t, err)
	assert.Equal(t, 1, items)
}

func TestRevokeRoutesByType(t *testing.T) {
	ctx := context.Background()
	n := openNode(t, testConfig(t))
	defer n.Close(ctx)

	m := testutil.VerificationAdd(1, 100, testutil.Hash(3))
	_, err := n.Merge(ctx, m)
	require.NoError(t, err)
	ev, err := n.Revoke(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, protocol.HubEventTypeRevokeMessage, ev.Type)

	_, err = n.Verifications.GetVerificationAdd(ctx, 1, testutil.Hash(3))
	assert.True(t, protocol.IsNotFound(err))
}

func TestReopen_RestoresTrie(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.TrieDBPath = filepath.Join(t.TempDir(), "trie.db")

	n := openNode(t, cfg)
	for i := uint32(0); i < 3; i++ {
		_, err := n.Merge(ctx, testutil.LinkAdd(1, 100+i, "follow", uint64(10+i)))
		require.NoError(t, err)
	}
	want, err := n.Trie().RootHash()
	require.NoError(t, err)
	require.NoError(t, n.Close(ctx))

	reopened := openNode(t, cfg)
	defer reopened.Close(ctx)
	got, err := reopened.Trie().RootHash()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	evs, err := reopened.Events().GetEvents(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, evs, 3)
}

func TestMetricsRegistered(t *testing.T) {
	ctx := context.Background()
	n := openNode(t, testConfig(t))
	defer n.Close(ctx)

	_, err := n.Merge(ctx, testutil.CastAdd(1, 100, "x"))
	require.NoError(t, err)

	samples, err := metrics.Gather(n.Registry())
	require.NoError(t, err)
	values := map[string]float64{}
	for _, s := range samples {
		values[s.Name] = s.Value
	}
	assert.Equal(t, 1.0, values[`hubstore_messages_merged_total{outcome="merged",store="cast"}`])
	assert.Equal(t, 1.0, values["hubstore_events_committed_total"])
	assert.Equal(t, 1.0, values["hubstore_trie_items"])
}
