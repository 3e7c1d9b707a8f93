package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/events"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/protocol"
	"github.com/roach88/hubstore/internal/testutil"
)

// testEnv bundles a database, an event handler and every store over them.
type testEnv struct {
	db      *db.DB
	handler *events.Handler
	events  []*protocol.HubEvent

	casts         *CastStore
	links         *LinkStore
	reactions     *ReactionStore
	verifications *VerificationStore
	userData      *UserDataStore
	proofs        *UsernameProofStore
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	clock := testutil.NewDeterministicClock(testutil.DefaultClockStart, time.Millisecond)
	h, err := events.NewHandler(context.Background(), d, events.WithClock(clock))
	require.NoError(t, err)

	env := &testEnv{db: d, handler: h}
	h.Subscribe(func(ev *protocol.HubEvent) { env.events = append(env.events, ev) })

	env.casts = NewCastStore(d, h, 5000, opts...)
	env.links = NewLinkStore(d, h, 2500, opts...)
	env.reactions = NewReactionStore(d, h, 2500, opts...)
	env.verifications = NewVerificationStore(d, h, 25, opts...)
	env.userData = NewUserDataStore(d, h, 50, opts...)
	env.proofs = NewUsernameProofStore(d, h, 5, opts...)
	return env
}

func (e *testEnv) has(t *testing.T, key []byte) bool {
	t.Helper()
	_, found, err := e.db.Get(context.Background(), key)
	require.NoError(t, err)
	return found
}

func primaryKey(t *testing.T, m *protocol.Message) []byte {
	t.Helper()
	k, err := keys.PrimaryKeyOf(m)
	require.NoError(t, err)
	return k
}

func tsHash(t *testing.T, m *protocol.Message) []byte {
	t.Helper()
	h, err := keys.TsHashOf(m)
	require.NoError(t, err)
	return h
}

func bySignerKey(t *testing.T, m *protocol.Message) []byte {
	t.Helper()
	postfix, err := keys.TypeToSetPostfix(m.Data.Type)
	require.NoError(t, err)
	return keys.MakeBySignerKey(m.Data.Fid, m.Signer, postfix, tsHash(t, m))
}

func hashes(msgs []*protocol.Message) [][]byte {
	out := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Hash)
	}
	return out
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	return promtest.ToFloat64(c)
}

func mustTsHash(t *testing.T, ts uint32, hash []byte) []byte {
	t.Helper()
	h, err := keys.MakeTsHash(ts, hash)
	require.NoError(t, err)
	return h
}
