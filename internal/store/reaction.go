package store

import (
	"context"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/events"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/protocol"
)

type reactionPolicy struct {
	basePolicy
}

func newReactionPolicy(pruneLimit uint32) *reactionPolicy {
	return &reactionPolicy{basePolicy{
		name:       "reaction",
		postfix:    keys.UserPostfixReactionMessage,
		addType:    protocol.MessageTypeReactionAdd,
		removeType: protocol.MessageTypeReactionRemove,
		pruneLimit: pruneLimit,
	}}
}

func (p *reactionPolicy) IsAddType(m *protocol.Message) bool {
	return signedWith(m, protocol.MessageTypeReactionAdd) && m.Data.ReactionBody != nil
}

func (p *reactionPolicy) IsRemoveType(m *protocol.Message) bool {
	return signedWith(m, protocol.MessageTypeReactionRemove) && m.Data.ReactionBody != nil
}

func reactionTarget(m *protocol.Message) (*protocol.ReactionBody, []byte, error) {
	if m == nil || m.Data == nil || m.Data.ReactionBody == nil {
		return nil, nil, protocol.NewValidationError("reaction body is missing")
	}
	body := m.Data.ReactionBody
	if body.Type == protocol.ReactionTypeNone {
		return nil, nil, protocol.NewValidationError("reaction type is missing")
	}
	target, err := keys.MakeReactionTargetKey(body.TargetCastID, body.TargetURL)
	if err != nil {
		return nil, nil, err
	}
	return body, target, nil
}

func (p *reactionPolicy) MakeAddKey(m *protocol.Message) ([]byte, error) {
	body, target, err := reactionTarget(m)
	if err != nil {
		return nil, err
	}
	return keys.MakeReactionAddsKey(m.Data.Fid, body.Type, target)
}

func (p *reactionPolicy) MakeRemoveKey(m *protocol.Message) ([]byte, error) {
	body, target, err := reactionTarget(m)
	if err != nil {
		return nil, err
	}
	return keys.MakeReactionRemovesKey(m.Data.Fid, body.Type, target)
}

// BuildSecondaryIndices records the reaction under its target, valued by
// the reaction type.
func (p *reactionPolicy) BuildSecondaryIndices(b *db.Batch, tsHash []byte, m *protocol.Message) error {
	body, target, err := reactionTarget(m)
	if err != nil {
		return err
	}
	b.Put(keys.MakeReactionsByTargetKey(target, m.Data.Fid, tsHash), []byte{byte(body.Type)})
	return nil
}

func (p *reactionPolicy) DeleteSecondaryIndices(b *db.Batch, tsHash []byte, m *protocol.Message) error {
	_, target, err := reactionTarget(m)
	if err != nil {
		return err
	}
	b.Delete(keys.MakeReactionsByTargetKey(target, m.Data.Fid, tsHash))
	return nil
}

// ReactionStore holds likes and recasts of casts and URLs.
type ReactionStore struct {
	*Store
}

// NewReactionStore creates the reaction store.
func NewReactionStore(d *db.DB, h *events.Handler, pruneLimit uint32, opts ...Option) *ReactionStore {
	return &ReactionStore{New(d, h, newReactionPolicy(pruneLimit), opts...)}
}

func reactionPartial(fid uint64, rt protocol.ReactionType, castID *protocol.CastID, url string) *protocol.Message {
	return &protocol.Message{Data: &protocol.MessageData{
		Fid:          fid,
		ReactionBody: &protocol.ReactionBody{Type: rt, TargetCastID: castID, TargetURL: url},
	}}
}

// GetReactionAdd returns the ReactionAdd of fid for (type, target).
func (s *ReactionStore) GetReactionAdd(ctx context.Context, fid uint64, rt protocol.ReactionType, castID *protocol.CastID, url string) (*protocol.Message, error) {
	m, err := s.GetAdd(ctx, reactionPartial(fid, rt, castID, url))
	return orNotFound(m, err, "reaction add")
}

// GetReactionRemove returns the ReactionRemove of fid for (type, target).
func (s *ReactionStore) GetReactionRemove(ctx context.Context, fid uint64, rt protocol.ReactionType, castID *protocol.CastID, url string) (*protocol.Message, error) {
	m, err := s.GetRemove(ctx, reactionPartial(fid, rt, castID, url))
	return orNotFound(m, err, "reaction remove")
}

// GetReactionAddsByFid pages through the reactions of fid, optionally of
// one type.
func (s *ReactionStore) GetReactionAddsByFid(ctx context.Context, fid uint64, rt protocol.ReactionType, opts db.PageOptions) (*MessagesPage, error) {
	return s.GetAddsByFid(ctx, fid, opts, reactionTypeFilter(rt))
}

// GetReactionRemovesByFid pages through the reaction removes of fid.
func (s *ReactionStore) GetReactionRemovesByFid(ctx context.Context, fid uint64, rt protocol.ReactionType, opts db.PageOptions) (*MessagesPage, error) {
	return s.GetRemovesByFid(ctx, fid, opts, reactionTypeFilter(rt))
}

// GetReactionsByTarget pages through reactions to a cast or URL, optionally
// of one type.
func (s *ReactionStore) GetReactionsByTarget(ctx context.Context, castID *protocol.CastID, url string, rt protocol.ReactionType, opts db.PageOptions) (*MessagesPage, error) {
	target, err := keys.MakeReactionTargetKey(castID, url)
	if err != nil {
		return nil, err
	}
	prefix := keys.MakeReactionsByTargetKey(target, 0, nil)
	var keep func([]byte) bool
	if rt != protocol.ReactionTypeNone {
		keep = func(v []byte) bool { return len(v) == 1 && v[0] == byte(rt) }
	}
	return collectIndexPage(ctx, s.db, prefix, s.Postfix(), opts, keep)
}

func reactionTypeFilter(rt protocol.ReactionType) func(*protocol.Message) bool {
	if rt == protocol.ReactionTypeNone {
		return nil
	}
	return func(m *protocol.Message) bool {
		return m.Data.ReactionBody != nil && m.Data.ReactionBody.Type == rt
	}
}
