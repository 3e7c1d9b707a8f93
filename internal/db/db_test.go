package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func putAll(t *testing.T, d *DB, keys ...[]byte) {
	t.Helper()
	b := NewBatch()
	for _, k := range keys {
		b.Put(k, append([]byte("v:"), k...))
	}
	require.NoError(t, d.Commit(context.Background(), b))
}

func collect(t *testing.T, d *DB, prefix []byte, opts PageOptions) ([][]byte, bool) {
	t.Helper()
	var out [][]byte
	done, err := d.ForEachByPrefix(context.Background(), prefix, opts, func(k, _ []byte) (bool, error) {
		out = append(out, k)
		return false, nil
	})
	require.NoError(t, err)
	return out, done
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer d.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if d.Path() != path {
		t.Errorf("Path() = %q, want %q", d.Path(), path)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		d, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		d.Close()
	}

	d, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer d.Close()

	if err := d.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	d := openTestDB(t)

	if err := d.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := d.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
	if err := d.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := Open(path)
	require.NoError(t, err)
	_, err = d.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	d.Close()

	_, err = Open(path)
	assert.ErrorContains(t, err, "newer than supported")
}

func TestGetPutDelete(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	_, found, err := d.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, d.Put(ctx, []byte("a"), []byte("1")))
	v, found, err := d.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, d.Put(ctx, []byte("a"), []byte("2")))
	v, _, err = d.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	require.NoError(t, d.Delete(ctx, []byte("a")))
	_, found, err = d.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutEmptyValue(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	require.NoError(t, d.Put(ctx, []byte("k"), nil))
	v, found, err := d.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, v)
}

func TestGetMany(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	putAll(t, d, []byte("a"), []byte("c"))

	values, err := d.GetMany(ctx, [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, []byte("v:a"), values[0])
	assert.Nil(t, values[1])
	assert.Equal(t, []byte("v:c"), values[2])
}

func TestBatchLastOpWins(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	putAll(t, d, []byte("x"))

	b := NewBatch()
	b.Delete([]byte("x"))
	b.Put([]byte("x"), []byte("new"))
	b.Put([]byte("y"), []byte("1"))
	b.Delete([]byte("y"))
	assert.Equal(t, 2, b.Len())
	require.NoError(t, d.Commit(ctx, b))

	v, found, err := d.Get(ctx, []byte("x"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("new"), v)

	_, found, err = d.Get(ctx, []byte("y"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBatchMerge(t *testing.T) {
	a := NewBatch()
	a.Put([]byte("k"), []byte("a"))
	b := NewBatch()
	b.Delete([]byte("k"))
	b.Put([]byte("j"), []byte("b"))

	a.Merge(b)
	assert.Equal(t, 2, a.Len())
	op, ok := a.Pending([]byte("k"))
	require.True(t, ok)
	assert.True(t, op.Delete)

	ops := a.Ops()
	assert.Equal(t, []byte("j"), ops[0].Key)
	assert.Equal(t, []byte("k"), ops[1].Key)

	a.Reset()
	assert.Equal(t, 0, a.Len())
}

func TestBatchPutCopiesValue(t *testing.T) {
	b := NewBatch()
	v := []byte("abc")
	b.Put([]byte("k"), v)
	v[0] = 'z'
	op, _ := b.Pending([]byte("k"))
	assert.Equal(t, []byte("abc"), op.Value)
}

func TestIncrementBytes(t *testing.T) {
	assert.Equal(t, []byte{1, 3}, IncrementBytes([]byte{1, 2}))
	assert.Equal(t, []byte{2}, IncrementBytes([]byte{1, 0xff}))
	assert.Equal(t, []byte{1, 0, 1}, IncrementBytes([]byte{1, 0, 0}))
	assert.Nil(t, IncrementBytes([]byte{0xff, 0xff}))
	assert.Nil(t, IncrementBytes(nil))
}

func TestForEachByPrefixBounds(t *testing.T) {
	d := openTestDB(t)
	putAll(t, d,
		[]byte{0, 9},
		[]byte{1, 1},
		[]byte{1, 2},
		[]byte{1, 0xff},
		[]byte{2, 0},
	)

	keys, done := collect(t, d, []byte{1}, PageOptions{})
	assert.True(t, done)
	assert.Equal(t, [][]byte{{1, 1}, {1, 2}, {1, 0xff}}, keys)

	keys, _ = collect(t, d, []byte{1}, PageOptions{Reverse: true})
	assert.Equal(t, [][]byte{{1, 0xff}, {1, 2}, {1, 1}}, keys)

	keys, _ = collect(t, d, nil, PageOptions{})
	assert.Len(t, keys, 5)
}

func TestForEachByPrefixAllFF(t *testing.T) {
	d := openTestDB(t)
	putAll(t, d, []byte{0xff, 1}, []byte{0xff, 0xff, 3})

	keys, done := collect(t, d, []byte{0xff}, PageOptions{})
	assert.True(t, done)
	assert.Len(t, keys, 2)
}

func TestForEachByPrefixPagination(t *testing.T) {
	d := openTestDB(t)
	var all [][]byte
	for i := 0; i < 10; i++ {
		all = append(all, []byte{7, byte(i)})
	}
	putAll(t, d, all...)

	for _, reverse := range []bool{false, true} {
		var got [][]byte
		var token []byte
		for {
			var last []byte
			page, done := collect(t, d, []byte{7}, PageOptions{PageSize: 3, PageToken: token, Reverse: reverse})
			got = append(got, page...)
			if done || len(page) == 0 {
				break
			}
			last = page[len(page)-1]
			token = last[1:]
		}

		require.Len(t, got, 10, "reverse=%v", reverse)
		for i := range got {
			want := all[i]
			if reverse {
				want = all[len(all)-1-i]
			}
			assert.Equal(t, want, got[i])
		}
	}
}

func TestForEachByPrefixTokenAtEnd(t *testing.T) {
	d := openTestDB(t)
	putAll(t, d, []byte{3, 0xff})

	keys, done := collect(t, d, []byte{3}, PageOptions{PageToken: []byte{0xff}})
	assert.True(t, done)
	assert.Empty(t, keys)
}

func TestForEachStopsOnCallback(t *testing.T) {
	d := openTestDB(t)
	putAll(t, d, []byte{1}, []byte{2}, []byte{3})

	var seen int
	done, err := d.ForEachByPrefix(context.Background(), nil, PageOptions{}, func(_, _ []byte) (bool, error) {
		seen++
		return seen == 2, nil
	})
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 2, seen)
}

func TestForEachSpansChunks(t *testing.T) {
	d := openTestDB(t)
	b := NewBatch()
	for i := 0; i < chunkSize*2+5; i++ {
		b.Put([]byte{5, byte(i >> 8), byte(i)}, []byte{1})
	}
	require.NoError(t, d.Commit(context.Background(), b))

	keys, done := collect(t, d, []byte{5}, PageOptions{})
	assert.True(t, done)
	assert.Len(t, keys, chunkSize*2+5)

	keys, _ = collect(t, d, []byte{5}, PageOptions{Reverse: true})
	assert.Len(t, keys, chunkSize*2+5)
	assert.Equal(t, []byte{5, 0, 0}, keys[len(keys)-1])
}

func TestForEachCallbackMayWrite(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	putAll(t, d, []byte{1, 1}, []byte{1, 2})

	_, err := d.ForEachByPrefixUnbounded(ctx, []byte{1}, PageOptions{}, func(k, _ []byte) (bool, error) {
		return false, d.Delete(ctx, k)
	})
	require.NoError(t, err)

	n, err := d.CountKeysAtPrefix(ctx, []byte{1})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCountDeleteClear(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	putAll(t, d, []byte{1, 1}, []byte{1, 2}, []byte{2, 1})

	n, err := d.CountKeysAtPrefix(ctx, []byte{1})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	removed, err := d.DeletePrefix(ctx, []byte{1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	n, err = d.CountKeysAtPrefix(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	require.NoError(t, d.Clear(ctx))
	n, err = d.CountKeysAtPrefix(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
