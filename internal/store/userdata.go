package store

import (
	"context"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/events"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/protocol"
)

type userDataPolicy struct {
	basePolicy
}

func newUserDataPolicy(pruneLimit uint32) *userDataPolicy {
	return &userDataPolicy{basePolicy{
		name:       "user_data",
		postfix:    keys.UserPostfixUserDataMessage,
		addType:    protocol.MessageTypeUserDataAdd,
		pruneLimit: pruneLimit,
	}}
}

func (p *userDataPolicy) IsAddType(m *protocol.Message) bool {
	return signedWith(m, protocol.MessageTypeUserDataAdd) && m.Data.UserDataBody != nil
}

func (p *userDataPolicy) IsRemoveType(*protocol.Message) bool { return false }

func (p *userDataPolicy) MakeAddKey(m *protocol.Message) ([]byte, error) {
	if m == nil || m.Data == nil || m.Data.UserDataBody == nil {
		return nil, protocol.NewValidationError("user data body is missing")
	}
	if m.Data.UserDataBody.Type == protocol.UserDataTypeNone {
		return nil, protocol.NewValidationError("user data type is missing")
	}
	return keys.MakeUserDataAddsKey(m.Data.Fid, m.Data.UserDataBody.Type), nil
}

func (p *userDataPolicy) MakeRemoveKey(*protocol.Message) ([]byte, error) {
	return nil, protocol.NewInvalidParamError("user data store does not support removes")
}

func (p *userDataPolicy) FindMergeRemoveConflicts(context.Context, *db.DB, *protocol.Message) error {
	return protocol.NewValidationError("user data store does not support removes")
}

// UserDataStore holds profile fields, one per (fid, type). It has no
// removes; a newer value replaces the older one.
type UserDataStore struct {
	*Store
}

// NewUserDataStore creates the user data store.
func NewUserDataStore(d *db.DB, h *events.Handler, pruneLimit uint32, opts ...Option) *UserDataStore {
	return &UserDataStore{New(d, h, newUserDataPolicy(pruneLimit), opts...)}
}

// GetUserDataAdd returns the current value of a profile field of fid.
func (s *UserDataStore) GetUserDataAdd(ctx context.Context, fid uint64, dataType protocol.UserDataType) (*protocol.Message, error) {
	m, err := s.GetAdd(ctx, &protocol.Message{Data: &protocol.MessageData{
		Fid:          fid,
		UserDataBody: &protocol.UserDataBody{Type: dataType},
	}})
	return orNotFound(m, err, "user data")
}

// GetUserDataAddsByFid pages through the profile fields of fid.
func (s *UserDataStore) GetUserDataAddsByFid(ctx context.Context, fid uint64, opts db.PageOptions) (*MessagesPage, error) {
	return s.GetAddsByFid(ctx, fid, opts, nil)
}
