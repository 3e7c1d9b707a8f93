package store

import (
	"context"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/events"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/protocol"
)

type linkPolicy struct {
	basePolicy
}

func newLinkPolicy(pruneLimit uint32) *linkPolicy {
	return &linkPolicy{basePolicy{
		name:       "link",
		postfix:    keys.UserPostfixLinkMessage,
		addType:    protocol.MessageTypeLinkAdd,
		removeType: protocol.MessageTypeLinkRemove,
		pruneLimit: pruneLimit,
	}}
}

func (p *linkPolicy) IsAddType(m *protocol.Message) bool {
	return signedWith(m, protocol.MessageTypeLinkAdd) && m.Data.LinkBody != nil
}

func (p *linkPolicy) IsRemoveType(m *protocol.Message) bool {
	return signedWith(m, protocol.MessageTypeLinkRemove) && m.Data.LinkBody != nil
}

func linkBody(m *protocol.Message) (*protocol.LinkBody, error) {
	if m == nil || m.Data == nil || m.Data.LinkBody == nil {
		return nil, protocol.NewValidationError("link body is missing")
	}
	if m.Data.LinkBody.TargetFid == 0 {
		return nil, protocol.NewValidationError("link target is missing")
	}
	return m.Data.LinkBody, nil
}

func (p *linkPolicy) MakeAddKey(m *protocol.Message) ([]byte, error) {
	body, err := linkBody(m)
	if err != nil {
		return nil, err
	}
	return keys.MakeLinkAddsKey(m.Data.Fid, body.Type, body.TargetFid)
}

func (p *linkPolicy) MakeRemoveKey(m *protocol.Message) ([]byte, error) {
	body, err := linkBody(m)
	if err != nil {
		return nil, err
	}
	return keys.MakeLinkRemovesKey(m.Data.Fid, body.Type, body.TargetFid)
}

// BuildSecondaryIndices records the link under its target, valued by the
// link type.
func (p *linkPolicy) BuildSecondaryIndices(b *db.Batch, tsHash []byte, m *protocol.Message) error {
	body, err := linkBody(m)
	if err != nil {
		return err
	}
	b.Put(keys.MakeLinksByTargetKey(body.TargetFid, m.Data.Fid, tsHash), []byte(body.Type))
	return nil
}

func (p *linkPolicy) DeleteSecondaryIndices(b *db.Batch, tsHash []byte, m *protocol.Message) error {
	body, err := linkBody(m)
	if err != nil {
		return err
	}
	b.Delete(keys.MakeLinksByTargetKey(body.TargetFid, m.Data.Fid, tsHash))
	return nil
}

// LinkStore holds follow-style links between fids.
type LinkStore struct {
	*Store
}

// NewLinkStore creates the link store.
func NewLinkStore(d *db.DB, h *events.Handler, pruneLimit uint32, opts ...Option) *LinkStore {
	return &LinkStore{New(d, h, newLinkPolicy(pruneLimit), opts...)}
}

func linkPartial(fid uint64, linkType string, target uint64) *protocol.Message {
	return &protocol.Message{Data: &protocol.MessageData{
		Fid:      fid,
		LinkBody: &protocol.LinkBody{Type: linkType, TargetFid: target},
	}}
}

// GetLinkAdd returns the LinkAdd of fid for (type, target).
func (s *LinkStore) GetLinkAdd(ctx context.Context, fid uint64, linkType string, target uint64) (*protocol.Message, error) {
	m, err := s.GetAdd(ctx, linkPartial(fid, linkType, target))
	return orNotFound(m, err, "link add")
}

// GetLinkRemove returns the LinkRemove of fid for (type, target).
func (s *LinkStore) GetLinkRemove(ctx context.Context, fid uint64, linkType string, target uint64) (*protocol.Message, error) {
	m, err := s.GetRemove(ctx, linkPartial(fid, linkType, target))
	return orNotFound(m, err, "link remove")
}

// GetLinkAddsByFid pages through the links of fid, optionally of one type.
func (s *LinkStore) GetLinkAddsByFid(ctx context.Context, fid uint64, linkType string, opts db.PageOptions) (*MessagesPage, error) {
	return s.GetAddsByFid(ctx, fid, opts, linkTypeFilter(linkType))
}

// GetLinkRemovesByFid pages through the link removes of fid.
func (s *LinkStore) GetLinkRemovesByFid(ctx context.Context, fid uint64, linkType string, opts db.PageOptions) (*MessagesPage, error) {
	return s.GetRemovesByFid(ctx, fid, opts, linkTypeFilter(linkType))
}

// GetLinksByTarget pages through links pointing at target, optionally of
// one type.
func (s *LinkStore) GetLinksByTarget(ctx context.Context, target uint64, linkType string, opts db.PageOptions) (*MessagesPage, error) {
	if err := keys.ValidateFid(target); err != nil {
		return nil, err
	}
	prefix := keys.MakeLinksByTargetKey(target, 0, nil)
	var keep func([]byte) bool
	if linkType != "" {
		keep = func(v []byte) bool { return string(v) == linkType }
	}
	return collectIndexPage(ctx, s.db, prefix, s.Postfix(), opts, keep)
}

func linkTypeFilter(linkType string) func(*protocol.Message) bool {
	if linkType == "" {
		return nil
	}
	return func(m *protocol.Message) bool {
		return m.Data.LinkBody != nil && m.Data.LinkBody.Type == linkType
	}
}
