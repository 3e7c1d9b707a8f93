package store

import (
	"bytes"
	"context"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/protocol"
)

// Policy supplies the per-class rules consumed by Store.
//
// MakeAddKey and MakeRemoveKey must accept both add and remove messages of
// the class: a remove message maps to the add key it competes with and vice
// versa.
type Policy interface {
	Name() string
	Postfix() keys.UserPostfix

	AddMessageType() protocol.MessageType
	RemoveMessageType() protocol.MessageType
	RemoveTypeSupported() bool
	IsAddType(m *protocol.Message) bool
	IsRemoveType(m *protocol.Message) bool

	MakeAddKey(m *protocol.Message) ([]byte, error)
	MakeRemoveKey(m *protocol.Message) ([]byte, error)

	BuildSecondaryIndices(b *db.Batch, tsHash []byte, m *protocol.Message) error
	DeleteSecondaryIndices(b *db.Batch, tsHash []byte, m *protocol.Message) error

	FindMergeAddConflicts(ctx context.Context, d *db.DB, m *protocol.Message) error
	FindMergeRemoveConflicts(ctx context.Context, d *db.DB, m *protocol.Message) error

	// MessageCompare orders two messages of the class. A positive result
	// means a wins over b.
	MessageCompare(aType protocol.MessageType, aTsHash []byte, bType protocol.MessageType, bTsHash []byte) int

	PruneSizeLimit() uint32
}

// mergeConflictFinder replaces the pointer-based conflict lookup. Policies
// implementing it usually start from Store.defaultMergeConflicts.
type mergeConflictFinder interface {
	MergeConflicts(ctx context.Context, s *Store, m *protocol.Message, tsHash []byte) ([]*protocol.Message, error)
}

// eventBuilder replaces the default Merge, Revoke and Prune event shapes.
type eventBuilder interface {
	MergeEvent(m *protocol.Message, deleted []*protocol.Message) *protocol.HubEvent
	RevokeEvent(m *protocol.Message) *protocol.HubEvent
	PruneEvent(m *protocol.Message) *protocol.HubEvent
}

// basePolicy carries the defaults shared by every class: remove support, no
// secondary indices, no extra conflict checks and the Remove-Wins,
// Last-Write-Wins ordering.
type basePolicy struct {
	name       string
	postfix    keys.UserPostfix
	addType    protocol.MessageType
	removeType protocol.MessageType
	pruneLimit uint32
}

func (p basePolicy) Name() string                            { return p.name }
func (p basePolicy) Postfix() keys.UserPostfix               { return p.postfix }
func (p basePolicy) AddMessageType() protocol.MessageType    { return p.addType }
func (p basePolicy) RemoveMessageType() protocol.MessageType { return p.removeType }
func (p basePolicy) RemoveTypeSupported() bool               { return p.removeType != protocol.MessageTypeNone }
func (p basePolicy) PruneSizeLimit() uint32                  { return p.pruneLimit }

func (p basePolicy) BuildSecondaryIndices(*db.Batch, []byte, *protocol.Message) error  { return nil }
func (p basePolicy) DeleteSecondaryIndices(*db.Batch, []byte, *protocol.Message) error { return nil }

func (p basePolicy) FindMergeAddConflicts(context.Context, *db.DB, *protocol.Message) error {
	return nil
}

func (p basePolicy) FindMergeRemoveConflicts(context.Context, *db.DB, *protocol.Message) error {
	return nil
}

// MessageCompare orders by timestamp, then Remove over Add, then by hash.
func (p basePolicy) MessageCompare(aType protocol.MessageType, aTsHash []byte, bType protocol.MessageType, bTsHash []byte) int {
	if c := bytes.Compare(aTsHash[:4], bTsHash[:4]); c != 0 {
		return c
	}
	if p.removeType != protocol.MessageTypeNone {
		switch {
		case aType == p.removeType && bType == p.addType:
			return 1
		case aType == p.addType && bType == p.removeType:
			return -1
		}
	}
	return bytes.Compare(aTsHash[4:], bTsHash[4:])
}

// signedWith reports whether m is an ed25519-signed message of type t.
func signedWith(m *protocol.Message, t protocol.MessageType) bool {
	return m != nil && m.Data != nil &&
		m.SignatureScheme == protocol.SignatureSchemeEd25519 &&
		m.Data.Type == t
}
