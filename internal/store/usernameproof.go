package store

import (
	"context"
	"fmt"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/events"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/protocol"
)

type usernameProofPolicy struct {
	basePolicy
}

func newUsernameProofPolicy(pruneLimit uint32) *usernameProofPolicy {
	return &usernameProofPolicy{basePolicy{
		name:       "username_proof",
		postfix:    keys.UserPostfixUsernameProofMessage,
		addType:    protocol.MessageTypeUsernameProof,
		pruneLimit: pruneLimit,
	}}
}

func (p *usernameProofPolicy) IsAddType(m *protocol.Message) bool {
	return signedWith(m, protocol.MessageTypeUsernameProof) && m.Data.UsernameProofBody != nil
}

func (p *usernameProofPolicy) IsRemoveType(*protocol.Message) bool { return false }

func proofName(m *protocol.Message) ([]byte, error) {
	if m == nil || m.Data == nil || m.Data.UsernameProofBody == nil {
		return nil, protocol.NewValidationError("username proof body is missing")
	}
	if len(m.Data.UsernameProofBody.Name) == 0 {
		return nil, protocol.NewValidationError("name is missing")
	}
	return m.Data.UsernameProofBody.Name, nil
}

func (p *usernameProofPolicy) MakeAddKey(m *protocol.Message) ([]byte, error) {
	name, err := proofName(m)
	if err != nil {
		return nil, err
	}
	return keys.MakeUserNameProofAddsKey(m.Data.Fid, name), nil
}

func (p *usernameProofPolicy) MakeRemoveKey(*protocol.Message) ([]byte, error) {
	return nil, protocol.NewInvalidParamError("username proof store does not support removes")
}

func (p *usernameProofPolicy) FindMergeRemoveConflicts(context.Context, *db.DB, *protocol.Message) error {
	return protocol.NewValidationError("username proof store does not support removes")
}

// BuildSecondaryIndices maps the name to the fid holding it.
func (p *usernameProofPolicy) BuildSecondaryIndices(b *db.Batch, _ []byte, m *protocol.Message) error {
	name, err := proofName(m)
	if err != nil {
		return err
	}
	b.Put(keys.MakeUserNameProofByNameKey(name), keys.MakeFidKey(m.Data.Fid))
	return nil
}

func (p *usernameProofPolicy) DeleteSecondaryIndices(b *db.Batch, _ []byte, m *protocol.Message) error {
	name, err := proofName(m)
	if err != nil {
		return err
	}
	b.Delete(keys.MakeUserNameProofByNameKey(name))
	return nil
}

// MergeConflicts resolves through the by-name index only: whoever holds the
// name, on any fid, competes with m.
func (p *usernameProofPolicy) MergeConflicts(ctx context.Context, s *Store, m *protocol.Message, tsHash []byte) ([]*protocol.Message, error) {
	name, err := proofName(m)
	if err != nil {
		return nil, err
	}
	owner, found, err := s.db.Get(ctx, keys.MakeUserNameProofByNameKey(name))
	if err != nil {
		return nil, fmt.Errorf("read name owner: %w", err)
	}
	if !found {
		return nil, nil
	}
	ownerFid, err := keys.ReadFidKey(owner)
	if err != nil {
		return nil, err
	}
	if ownerFid == 0 {
		return nil, nil
	}

	existingTsHash, found, err := s.db.Get(ctx, keys.MakeUserNameProofAddsKey(ownerFid, name))
	if err != nil {
		return nil, fmt.Errorf("read username proof: %w", err)
	}
	if !found {
		return nil, nil
	}
	existing, err := s.resolveAgainst(ctx, m, tsHash, ownerFid, p.addType, existingTsHash, "add", protocol.NewDuplicateError)
	if err != nil || existing == nil {
		return nil, err
	}
	return []*protocol.Message{existing}, nil
}

func (p *usernameProofPolicy) MergeEvent(m *protocol.Message, deleted []*protocol.Message) *protocol.HubEvent {
	body := &protocol.MergeUserNameProofBody{
		UsernameProof:        m.Data.UsernameProofBody,
		UsernameProofMessage: m,
	}
	if len(deleted) > 0 && deleted[0].Data != nil && deleted[0].Data.UsernameProofBody != nil {
		body.DeletedUsernameProof = deleted[0].Data.UsernameProofBody
		body.DeletedUsernameProofMessage = deleted[0]
	}
	return &protocol.HubEvent{
		Type:                   protocol.HubEventTypeMergeUsernameProof,
		MergeUsernameProofBody: body,
	}
}

func (p *usernameProofPolicy) RevokeEvent(m *protocol.Message) *protocol.HubEvent {
	var proof *protocol.UserNameProof
	if m.Data != nil {
		proof = m.Data.UsernameProofBody
	}
	return &protocol.HubEvent{
		Type: protocol.HubEventTypeMergeUsernameProof,
		MergeUsernameProofBody: &protocol.MergeUserNameProofBody{
			DeletedUsernameProof:        proof,
			DeletedUsernameProofMessage: m,
		},
	}
}

func (p *usernameProofPolicy) PruneEvent(m *protocol.Message) *protocol.HubEvent {
	return p.RevokeEvent(m)
}

// UsernameProofStore holds username proofs. A name belongs to at most one
// fid; proofs are never removed, only replaced, revoked or pruned.
type UsernameProofStore struct {
	*Store
}

// NewUsernameProofStore creates the username proof store.
func NewUsernameProofStore(d *db.DB, h *events.Handler, pruneLimit uint32, opts ...Option) *UsernameProofStore {
	return &UsernameProofStore{New(d, h, newUsernameProofPolicy(pruneLimit), opts...)}
}

func proofPartial(fid uint64, name []byte) *protocol.Message {
	return &protocol.Message{Data: &protocol.MessageData{
		Fid:               fid,
		UsernameProofBody: &protocol.UserNameProof{Name: name},
	}}
}

// GetUsernameProof returns the proof currently holding name.
func (s *UsernameProofStore) GetUsernameProof(ctx context.Context, name []byte) (*protocol.Message, error) {
	owner, found, err := s.db.Get(ctx, keys.MakeUserNameProofByNameKey(name))
	if err != nil {
		return nil, fmt.Errorf("read name owner: %w", err)
	}
	if !found {
		return nil, protocol.NewNotFoundError(fmt.Sprintf("username proof not found for name %s", name))
	}
	fid, err := keys.ReadFidKey(owner)
	if err != nil {
		return nil, err
	}
	return s.GetUsernameProofByFidAndName(ctx, fid, name)
}

// GetUsernameProofByFidAndName returns the proof of name held by fid.
func (s *UsernameProofStore) GetUsernameProofByFidAndName(ctx context.Context, fid uint64, name []byte) (*protocol.Message, error) {
	m, err := s.GetAdd(ctx, proofPartial(fid, name))
	return orNotFound(m, err, "username proof")
}

// GetUsernameProofsByFid pages through the proofs of fid.
func (s *UsernameProofStore) GetUsernameProofsByFid(ctx context.Context, fid uint64, opts db.PageOptions) (*MessagesPage, error) {
	return s.GetAddsByFid(ctx, fid, opts, nil)
}
