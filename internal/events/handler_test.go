package events

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/protocol"
	"github.com/roach88/hubstore/internal/testutil"
)

func openDB(t *testing.T) (*db.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	d, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d, path
}

func revokeEvent(text string) *protocol.HubEvent {
	return &protocol.HubEvent{
		Type:              protocol.HubEventTypeRevokeMessage,
		RevokeMessageBody: &protocol.RevokeMessageBody{Message: testutil.CastAdd(1, 1, text)},
	}
}

func newHandler(t *testing.T, d *db.DB) (*Handler, *testutil.DeterministicClock) {
	t.Helper()
	clock := testutil.NewDeterministicClock(testutil.DefaultClockStart, time.Millisecond)
	h, err := NewHandler(context.Background(), d, WithClock(clock))
	require.NoError(t, err)
	return h, clock
}

func TestCommitTransaction_PersistsEventWithBatch(t *testing.T) {
	ctx := context.Background()
	d, _ := openDB(t)
	h, _ := newHandler(t, d)

	b := db.NewBatch()
	b.Put([]byte("payload"), []byte("x"))
	ev := revokeEvent("a")

	id, err := h.CommitTransaction(ctx, b, ev)
	require.NoError(t, err)
	assert.Equal(t, id, ev.ID)

	_, found, err := d.Get(ctx, []byte("payload"))
	require.NoError(t, err)
	assert.True(t, found)

	got, err := h.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestCommitTransaction_IDsIncrease(t *testing.T) {
	ctx := context.Background()
	d, _ := openDB(t)
	h, _ := newHandler(t, d)

	var last uint64
	for i := 0; i < 5; i++ {
		id, err := h.CommitTransaction(ctx, db.NewBatch(), revokeEvent("a"))
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}
}

func TestCommitTransaction_NotifiesListenersInOrder(t *testing.T) {
	ctx := context.Background()
	d, _ := openDB(t)
	h, _ := newHandler(t, d)

	var seen []uint64
	h.Subscribe(func(ev *protocol.HubEvent) { seen = append(seen, ev.ID) })

	id1, err := h.CommitTransaction(ctx, db.NewBatch(), revokeEvent("a"))
	require.NoError(t, err)
	id2, err := h.CommitTransaction(ctx, db.NewBatch(), revokeEvent("b"))
	require.NoError(t, err)

	assert.Equal(t, []uint64{id1, id2}, seen)
}

func TestCommitTransaction_Concurrent(t *testing.T) {
	ctx := context.Background()
	d, _ := openDB(t)
	h, _ := newHandler(t, d)

	const n = 50
	var wg sync.WaitGroup
	ids := make(chan uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := h.CommitTransaction(ctx, db.NewBatch(), revokeEvent("c"))
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	unique := make(map[uint64]bool)
	for id := range ids {
		unique[id] = true
	}
	assert.Len(t, unique, n)

	events, err := h.GetEvents(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, n)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].ID, events[i-1].ID)
	}
}

func TestGetEvent_NotFound(t *testing.T) {
	d, _ := openDB(t)
	h, _ := newHandler(t, d)

	_, err := h.GetEvent(context.Background(), 12345)
	assert.True(t, protocol.IsNotFound(err))
}

func TestGetEvents_FromIDAndPageSize(t *testing.T) {
	ctx := context.Background()
	d, _ := openDB(t)
	h, _ := newHandler(t, d)

	var ids []uint64
	for i := 0; i < 4; i++ {
		id, err := h.CommitTransaction(ctx, db.NewBatch(), revokeEvent("x"))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	events, err := h.GetEvents(ctx, ids[1], 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ids[1], events[0].ID)
	assert.Equal(t, ids[2], events[1].ID)

	events, err = h.GetEvents(ctx, ids[3]+1, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestNewHandler_ResumesAfterRestart(t *testing.T) {
	ctx := context.Background()
	d, path := openDB(t)

	frozen := testutil.NewDeterministicClock(testutil.DefaultClockStart, 0)
	h, err := NewHandler(ctx, d, WithClock(frozen))
	require.NoError(t, err)
	first, err := h.CommitTransaction(ctx, db.NewBatch(), revokeEvent("a"))
	require.NoError(t, err)
	d.Close()

	reopened, err := db.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	behind := testutil.NewDeterministicClock(testutil.DefaultClockStart.Add(-time.Minute), 0)
	h2, err := NewHandler(ctx, reopened, WithClock(behind))
	require.NoError(t, err)
	second, err := h2.CommitTransaction(ctx, db.NewBatch(), revokeEvent("b"))
	require.NoError(t, err)
	assert.Greater(t, second, first)
}
