package db

import "sort"

// Op is one pending write. Delete ops carry no value.
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Batch collects writes to commit atomically. Only the last operation on a
// key survives, so a put after a delete of the same key wins and vice versa.
// A Batch is not safe for concurrent use.
type Batch struct {
	ops map[string]Op
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{ops: make(map[string]Op)}
}

// Put records a write of value under key.
func (b *Batch) Put(key, value []byte) {
	k := string(key)
	b.ops[k] = Op{Key: []byte(k), Value: append([]byte(nil), value...)}
}

// Delete records a removal of key.
func (b *Batch) Delete(key []byte) {
	k := string(key)
	b.ops[k] = Op{Key: []byte(k), Delete: true}
}

// Merge copies every operation of other into b. Operations in other win.
func (b *Batch) Merge(other *Batch) {
	for k, op := range other.ops {
		b.ops[k] = op
	}
}

// Len returns the number of distinct keys touched.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Pending returns the staged operation for key, if any.
func (b *Batch) Pending(key []byte) (Op, bool) {
	op, ok := b.ops[string(key)]
	return op, ok
}

// Ops returns the operations ordered by key.
func (b *Batch) Ops() []Op {
	out := make([]Op, 0, len(b.ops))
	for _, op := range b.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].Key) < string(out[j].Key) })
	return out
}

// Reset drops every pending operation.
func (b *Batch) Reset() {
	b.ops = make(map[string]Op)
}
