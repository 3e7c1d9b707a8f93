package store

import (
	"context"
	"fmt"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/protocol"
)

// MessagesPage is one page of a message query. NextPageToken is nil when
// the page was not filled.
type MessagesPage struct {
	Messages      []*protocol.Message
	NextPageToken []byte
}

func effectivePageSize(n int) int {
	if n <= 0 || n > db.PageSizeMax {
		return db.PageSizeMax
	}
	return n
}

// getMessage reads the primary record at (fid, postfix, tsHash). A missing
// record yields (nil, nil).
func getMessage(ctx context.Context, d *db.DB, fid uint64, postfix keys.UserPostfix, tsHash []byte) (*protocol.Message, error) {
	value, found, err := d.Get(ctx, keys.MakeMessagePrimaryKey(fid, postfix, tsHash))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	if !found {
		return nil, nil
	}
	return protocol.DecodeMessage(value)
}

// getManyMessages reads primary records in order, skipping missing ones.
func getManyMessages(ctx context.Context, d *db.DB, primaryKeys [][]byte) ([]*protocol.Message, error) {
	values, err := d.GetMany(ctx, primaryKeys)
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	out := make([]*protocol.Message, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		m, err := protocol.DecodeMessage(v)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// putMessage stages the primary record and the by-signer entry of m.
func putMessage(b *db.Batch, postfix keys.UserPostfix, tsHash []byte, m *protocol.Message) error {
	encoded, err := protocol.EncodeMessage(m)
	if err != nil {
		return err
	}
	fid := m.Data.Fid
	b.Put(keys.MakeMessagePrimaryKey(fid, postfix, tsHash), encoded)
	b.Put(keys.MakeBySignerKey(fid, m.Signer, postfix, tsHash), keys.TrueValue)
	return nil
}

// deleteMessage stages removal of the primary record and by-signer entry.
func deleteMessage(b *db.Batch, postfix keys.UserPostfix, tsHash []byte, m *protocol.Message) {
	fid := m.Data.Fid
	b.Delete(keys.MakeMessagePrimaryKey(fid, postfix, tsHash))
	b.Delete(keys.MakeBySignerKey(fid, m.Signer, postfix, tsHash))
}

// collectPage walks prefix and gathers the messages visit returns until the
// page is full. A nil message from visit skips the entry.
func collectPage(
	ctx context.Context,
	d *db.DB,
	prefix []byte,
	opts db.PageOptions,
	visit func(key, value []byte) (*protocol.Message, error),
) (*MessagesPage, error) {
	size := effectivePageSize(opts.PageSize)
	page := &MessagesPage{Messages: make([]*protocol.Message, 0)}
	var lastKey []byte

	_, err := d.ForEachByPrefixUnbounded(ctx, prefix, opts, func(key, value []byte) (bool, error) {
		m, err := visit(key, value)
		if err != nil {
			return false, err
		}
		if m == nil {
			return false, nil
		}
		page.Messages = append(page.Messages, m)
		if len(page.Messages) >= size {
			lastKey = append([]byte(nil), key...)
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if lastKey != nil {
		page.NextPageToken = lastKey[len(prefix):]
	}
	return page, nil
}

// collectIndexPage walks an index whose keys end in tsHash ‖ fid and loads
// the referenced primary records of postfix. keep filters on the index
// value.
func collectIndexPage(
	ctx context.Context,
	d *db.DB,
	prefix []byte,
	postfix keys.UserPostfix,
	opts db.PageOptions,
	keep func(value []byte) bool,
) (*MessagesPage, error) {
	size := effectivePageSize(opts.PageSize)
	var (
		primaryKeys [][]byte
		lastKey     []byte
	)

	_, err := d.ForEachByPrefixUnbounded(ctx, prefix, opts, func(key, value []byte) (bool, error) {
		tsHash, fid, ok := keys.SplitIndexSuffix(key, len(prefix))
		if !ok {
			return false, nil
		}
		if keep != nil && !keep(value) {
			return false, nil
		}
		primaryKeys = append(primaryKeys, keys.MakeMessagePrimaryKey(fid, postfix, tsHash))
		if len(primaryKeys) >= size {
			lastKey = append([]byte(nil), key...)
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	messages, err := getManyMessages(ctx, d, primaryKeys)
	if err != nil {
		return nil, err
	}
	page := &MessagesPage{Messages: messages}
	if lastKey != nil {
		page.NextPageToken = lastKey[len(prefix):]
	}
	return page, nil
}
