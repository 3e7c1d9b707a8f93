package db

import (
	"context"
	"fmt"
	"strings"
)

// PageSizeMax bounds a single page of results.
const PageSizeMax = 10_000

// chunkSize is how many rows one iteration query fetches.
const chunkSize = 256

// PageOptions controls paged iteration. PageToken is the raw key suffix after
// the iterated prefix at which the previous page stopped.
type PageOptions struct {
	PageSize  int
	PageToken []byte
	Reverse   bool
}

// IterFunc receives each key and value. Returning stop=true ends iteration.
type IterFunc func(key, value []byte) (stop bool, err error)

// IncrementBytes returns the smallest byte string greater than every string
// starting with b, carrying into earlier bytes. Returns nil when b is all
// 0xFF, meaning there is no upper bound.
func IncrementBytes(b []byte) []byte {
	out := append([]byte(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

// keyRange is a half-open scan range. A nil lower means unbounded below and
// a nil upper unbounded above. empty marks a range that cannot match.
type keyRange struct {
	lower          []byte
	lowerExclusive bool
	upper          []byte
	empty          bool
}

// pageRange computes the scan range for prefix and page options.
//
// Forward scans start at the prefix, or just past prefix‖token, and end
// before increment(prefix). Reverse scans start before prefix‖token, or
// before increment(prefix), and end at the prefix.
func pageRange(prefix []byte, opts PageOptions) keyRange {
	var r keyRange
	if len(prefix) > 0 {
		r.lower = prefix
		r.upper = IncrementBytes(prefix)
	}

	if len(opts.PageToken) == 0 {
		return r
	}

	start := make([]byte, 0, len(prefix)+len(opts.PageToken))
	start = append(start, prefix...)
	start = append(start, opts.PageToken...)

	if opts.Reverse {
		r.upper = start
		return r
	}

	next := IncrementBytes(start)
	if next == nil {
		r.empty = true
		return r
	}
	r.lower = next
	return r
}

type kv struct {
	key   []byte
	value []byte
}

// scanChunk reads at most limit rows of r into memory and closes the cursor
// before returning, so callers may write to the store while handling them.
func (d *DB) scanChunk(ctx context.Context, r keyRange, reverse bool, limit int) ([]kv, error) {
	var conds []string
	var args []any
	if r.lower != nil {
		if r.lowerExclusive {
			conds = append(conds, "key > ?")
		} else {
			conds = append(conds, "key >= ?")
		}
		args = append(args, r.lower)
	}
	if r.upper != nil {
		conds = append(conds, "key < ?")
		args = append(args, r.upper)
	}

	query := `SELECT key, value FROM kv`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	if reverse {
		query += ` ORDER BY key DESC`
	} else {
		query += ` ORDER BY key ASC`
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	defer rows.Close()

	out := make([]kv, 0, limit)
	for rows.Next() {
		var item kv
		if err := rows.Scan(&item.key, &item.value); err != nil {
			return nil, fmt.Errorf("scan range: %w", err)
		}
		if item.value == nil {
			item.value = []byte{}
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate range: %w", err)
	}
	return out, nil
}

// iterate walks r in order, calling fn for each entry, until fn stops, the
// limit is reached (limit <= 0 means unlimited) or the range is exhausted.
// allDone reports exhaustion.
func (d *DB) iterate(ctx context.Context, r keyRange, reverse bool, limit int, fn IterFunc) (bool, error) {
	if r.empty {
		return true, nil
	}

	// Each pass re-queries from the last key seen. Rows written by fn behind
	// that key are not revisited; rows written ahead of it may be.
	seen := 0
	for {
		batch, err := d.scanChunk(ctx, r, reverse, chunkSize)
		if err != nil {
			return false, err
		}

		for _, item := range batch {
			stop, err := fn(item.key, item.value)
			if err != nil {
				return false, err
			}
			if stop {
				return false, nil
			}
			seen++
			if limit > 0 && seen >= limit {
				return false, nil
			}
		}

		// A short chunk means the range ran out.
		if len(batch) < chunkSize {
			return true, nil
		}

		// Narrow the range to exclude everything up to and including last.
		// The upper bound is already exclusive.
		last := batch[len(batch)-1].key
		if reverse {
			r.upper = last
		} else {
			r.lower = last
			r.lowerExclusive = true
		}
	}
}

// ForEachByPrefix iterates keys starting with prefix, honoring page options.
// Iteration stops when fn returns stop, when PageSize entries were visited,
// or when the prefix is exhausted. allDone is true only in the last case.
// An empty prefix iterates the whole store.
func (d *DB) ForEachByPrefix(ctx context.Context, prefix []byte, opts PageOptions, fn IterFunc) (bool, error) {
	return d.iterate(ctx, pageRange(prefix, opts), opts.Reverse, opts.PageSize, fn)
}

// ForEachByPrefixUnbounded is ForEachByPrefix without a page size limit; the
// page token and direction still apply.
func (d *DB) ForEachByPrefixUnbounded(ctx context.Context, prefix []byte, opts PageOptions, fn IterFunc) (bool, error) {
	return d.iterate(ctx, pageRange(prefix, opts), opts.Reverse, 0, fn)
}
