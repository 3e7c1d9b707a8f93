package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/protocol"
	"github.com/roach88/hubstore/internal/testutil"
)

func TestLinkStore_ByTarget(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	f1 := testutil.LinkAdd(1, 100, "follow", 7)
	f2 := testutil.LinkAdd(2, 101, "follow", 7)
	b3 := testutil.LinkAdd(3, 102, "block", 7)
	other := testutil.LinkAdd(1, 103, "follow", 8)
	for _, m := range []*protocol.Message{f1, f2, b3, other} {
		_, err := env.links.Merge(ctx, m)
		require.NoError(t, err)
	}

	page, err := env.links.GetLinksByTarget(ctx, 7, "", db.PageOptions{})
	require.NoError(t, err)
	assert.Equal(t, hashes([]*protocol.Message{f1, f2, b3}), hashes(page.Messages))

	page, err = env.links.GetLinksByTarget(ctx, 7, "follow", db.PageOptions{})
	require.NoError(t, err)
	assert.Equal(t, hashes([]*protocol.Message{f1, f2}), hashes(page.Messages))

	byFid, err := env.links.GetLinkAddsByFid(ctx, 1, "follow", db.PageOptions{})
	require.NoError(t, err)
	assert.Equal(t, hashes([]*protocol.Message{f1, other}), hashes(byFid.Messages))

	_, err = env.links.Merge(ctx, testutil.LinkRemove(2, 200, "follow", 7))
	require.NoError(t, err)
	page, err = env.links.GetLinksByTarget(ctx, 7, "follow", db.PageOptions{})
	require.NoError(t, err)
	assert.Equal(t, hashes([]*protocol.Message{f1}), hashes(page.Messages))
}

func TestLinkStore_Validation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.links.Merge(ctx, testutil.LinkAdd(1, 100, "follow", 0))
	assert.True(t, protocol.IsValidationError(err), "got %v", err)

	_, err = env.links.Merge(ctx, testutil.LinkAdd(1, 100, "much-too-long-link", 2))
	assert.True(t, protocol.IsValidationError(err), "got %v", err)
}

func TestLinkStore_TypesAreSeparateKeys(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	follow := testutil.LinkAdd(1, 100, "follow", 2)
	block := testutil.LinkAdd(1, 100, "block", 2)

	_, err := env.links.Merge(ctx, follow)
	require.NoError(t, err)
	ev, err := env.links.Merge(ctx, block)
	require.NoError(t, err)
	assert.Empty(t, ev.MergeMessageBody.DeletedMessages)

	k, err := keys.MakeLinkAddsKey(1, "follow", 2)
	require.NoError(t, err)
	assert.True(t, env.has(t, k))
}

func TestReactionStore_ByTarget(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cast := &protocol.CastID{Fid: 9, Hash: testutil.Hash(0x09)}

	like1 := testutil.ReactionAdd(1, 100, protocol.ReactionTypeLike, cast)
	recast2 := testutil.ReactionAdd(2, 101, protocol.ReactionTypeRecast, cast)
	url := testutil.ReactionAddURL(3, 102, protocol.ReactionTypeLike, "https://example.com/a")
	for _, m := range []*protocol.Message{like1, recast2, url} {
		_, err := env.reactions.Merge(ctx, m)
		require.NoError(t, err)
	}

	page, err := env.reactions.GetReactionsByTarget(ctx, cast, "", protocol.ReactionTypeNone, db.PageOptions{})
	require.NoError(t, err)
	assert.Equal(t, hashes([]*protocol.Message{like1, recast2}), hashes(page.Messages))

	page, err = env.reactions.GetReactionsByTarget(ctx, cast, "", protocol.ReactionTypeRecast, db.PageOptions{})
	require.NoError(t, err)
	assert.Equal(t, hashes([]*protocol.Message{recast2}), hashes(page.Messages))

	page, err = env.reactions.GetReactionsByTarget(ctx, nil, "https://example.com/a", protocol.ReactionTypeNone, db.PageOptions{})
	require.NoError(t, err)
	assert.Equal(t, hashes([]*protocol.Message{url}), hashes(page.Messages))

	got, err := env.reactions.GetReactionAdd(ctx, 3, protocol.ReactionTypeLike, nil, "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, url.Hash, got.Hash)
}

func TestReactionStore_RemoveThenAdd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cast := &protocol.CastID{Fid: 9, Hash: testutil.Hash(0x09)}
	remove := testutil.ReactionRemove(1, 100, protocol.ReactionTypeLike, cast)
	add := testutil.ReactionAdd(1, 200, protocol.ReactionTypeLike, cast)

	_, err := env.reactions.Merge(ctx, remove)
	require.NoError(t, err)
	ev, err := env.reactions.Merge(ctx, add)
	require.NoError(t, err)
	require.Len(t, ev.MergeMessageBody.DeletedMessages, 1)
	assert.Equal(t, remove.Hash, ev.MergeMessageBody.DeletedMessages[0].Hash)

	_, err = env.reactions.GetReactionRemove(ctx, 1, protocol.ReactionTypeLike, cast, "")
	assert.True(t, protocol.IsNotFound(err))

	adds, err := env.reactions.GetReactionAddsByFid(ctx, 1, protocol.ReactionTypeLike, db.PageOptions{})
	require.NoError(t, err)
	assert.Len(t, adds.Messages, 1)
	adds, err = env.reactions.GetReactionAddsByFid(ctx, 1, protocol.ReactionTypeRecast, db.PageOptions{})
	require.NoError(t, err)
	assert.Empty(t, adds.Messages)
}

func TestReactionStore_Validation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cast := &protocol.CastID{Fid: 9, Hash: testutil.Hash(0x09)}

	_, err := env.reactions.Merge(ctx, testutil.ReactionAdd(1, 100, protocol.ReactionTypeNone, cast))
	assert.True(t, protocol.IsValidationError(err), "got %v", err)

	m := testutil.ReactionAdd(1, 100, protocol.ReactionTypeLike, cast)
	m.Data.ReactionBody.TargetURL = "https://example.com"
	_, err = env.reactions.Merge(ctx, m)
	assert.True(t, protocol.IsValidationError(err), "got %v", err)
}
