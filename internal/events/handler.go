package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/metrics"
	"github.com/roach88/hubstore/internal/protocol"
)

// Listener is notified of every committed event, in ID order, while the
// handler lock is held. Listeners must not commit through the handler.
type Listener func(ev *protocol.HubEvent)

// Handler commits state changes together with their hub events.
type Handler struct {
	mu        sync.Mutex
	db        *db.DB
	gen       *IDGenerator
	listeners []Listener

	epoch   int64
	clock   Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithClock sets the clock used for event IDs.
func WithClock(c Clock) HandlerOption {
	return func(h *Handler) { h.clock = c }
}

// WithEpoch sets the event ID epoch in Unix milliseconds.
func WithEpoch(epochMs int64) HandlerOption {
	return func(h *Handler) { h.epoch = epochMs }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// WithMetrics sets the metrics bundle.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates a handler over d and seeds the ID generator from the
// newest event already in the log.
func NewHandler(ctx context.Context, d *db.DB, opts ...HandlerOption) (*Handler, error) {
	h := &Handler{
		db:     d,
		epoch:  protocol.FarcasterEpoch,
		clock:  SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = metrics.NewUnregistered()
	}
	h.gen = NewIDGenerator(h.epoch, h.clock)

	last, found, err := h.lastEventID(ctx)
	if err != nil {
		return nil, err
	}
	if found {
		h.gen.Seed(last)
	}
	return h, nil
}

// Subscribe registers l for every event committed after this call.
func (h *Handler) Subscribe(l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, l)
}

// CommitTransaction assigns ev its ID, adds the encoded event to b and
// commits b atomically. Returns the assigned ID.
func (h *Handler) CommitTransaction(ctx context.Context, b *db.Batch, ev *protocol.HubEvent) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, err := h.gen.Next()
	if err != nil {
		return 0, err
	}
	ev.ID = id

	encoded, err := protocol.EncodeHubEvent(ev)
	if err != nil {
		return 0, err
	}
	b.Put(keys.MakeEventKey(id), encoded)

	if err := h.db.Commit(ctx, b); err != nil {
		return 0, fmt.Errorf("commit event %d: %w", id, err)
	}
	h.metrics.EventsCommitted.Inc()
	h.logger.Debug("committed hub event", "id", id, "type", ev.Type.String(), "keys", b.Len())

	for _, l := range h.listeners {
		l(ev)
	}
	return id, nil
}

// GetEvent reads one event by ID.
func (h *Handler) GetEvent(ctx context.Context, id uint64) (*protocol.HubEvent, error) {
	value, found, err := h.db.Get(ctx, keys.MakeEventKey(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, protocol.NewNotFoundError(fmt.Sprintf("event %d not found", id))
	}
	return protocol.DecodeHubEvent(value)
}

// GetEvents returns up to pageSize events with ID >= fromID in ID order. A
// pageSize of zero or above db.PageSizeMax means db.PageSizeMax.
func (h *Handler) GetEvents(ctx context.Context, fromID uint64, pageSize int) ([]*protocol.HubEvent, error) {
	if pageSize <= 0 || pageSize > db.PageSizeMax {
		pageSize = db.PageSizeMax
	}
	prefix := []byte{byte(keys.RootPrefixHubEvents)}
	opts := db.PageOptions{PageSize: pageSize}
	if fromID > 0 {
		opts.PageToken = keys.MakeEventKey(fromID - 1)[1:]
	}

	out := make([]*protocol.HubEvent, 0)
	_, err := h.db.ForEachByPrefix(ctx, prefix, opts, func(_, value []byte) (bool, error) {
		ev, err := protocol.DecodeHubEvent(value)
		if err != nil {
			return false, err
		}
		out = append(out, ev)
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

func (h *Handler) lastEventID(ctx context.Context) (uint64, bool, error) {
	var (
		last  uint64
		found bool
	)
	prefix := []byte{byte(keys.RootPrefixHubEvents)}
	_, err := h.db.ForEachByPrefix(ctx, prefix, db.PageOptions{PageSize: 1, Reverse: true}, func(key, _ []byte) (bool, error) {
		id, err := keys.ReadEventID(key)
		if err != nil {
			return false, err
		}
		last, found = id, true
		return true, nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("read last event: %w", err)
	}
	return last, found, nil
}
