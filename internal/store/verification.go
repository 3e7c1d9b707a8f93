package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/roach88/hubstore/internal/db"
	"github.com/roach88/hubstore/internal/events"
	"github.com/roach88/hubstore/internal/keys"
	"github.com/roach88/hubstore/internal/protocol"
)

type verificationPolicy struct {
	basePolicy
}

func newVerificationPolicy(pruneLimit uint32) *verificationPolicy {
	return &verificationPolicy{basePolicy{
		name:       "verification",
		postfix:    keys.UserPostfixVerificationMessage,
		addType:    protocol.MessageTypeVerificationAddEthAddress,
		removeType: protocol.MessageTypeVerificationRemove,
		pruneLimit: pruneLimit,
	}}
}

func (p *verificationPolicy) IsAddType(m *protocol.Message) bool {
	return signedWith(m, protocol.MessageTypeVerificationAddEthAddress) &&
		m.Data.VerificationAddAddressBody != nil
}

func (p *verificationPolicy) IsRemoveType(m *protocol.Message) bool {
	return signedWith(m, protocol.MessageTypeVerificationRemove) &&
		m.Data.VerificationRemoveBody != nil
}

func verificationAddress(m *protocol.Message) ([]byte, error) {
	if m == nil || m.Data == nil {
		return nil, protocol.NewValidationError("message data is missing")
	}
	var address []byte
	switch {
	case m.Data.VerificationAddAddressBody != nil:
		address = m.Data.VerificationAddAddressBody.Address
	case m.Data.VerificationRemoveBody != nil:
		address = m.Data.VerificationRemoveBody.Address
	default:
		return nil, protocol.NewValidationError("verification body is missing")
	}
	if len(address) == 0 {
		return nil, protocol.NewValidationError("address is missing")
	}
	return address, nil
}

func (p *verificationPolicy) MakeAddKey(m *protocol.Message) ([]byte, error) {
	address, err := verificationAddress(m)
	if err != nil {
		return nil, err
	}
	return keys.MakeVerificationAddsKey(m.Data.Fid, address), nil
}

func (p *verificationPolicy) MakeRemoveKey(m *protocol.Message) ([]byte, error) {
	address, err := verificationAddress(m)
	if err != nil {
		return nil, err
	}
	return keys.MakeVerificationRemovesKey(m.Data.Fid, address), nil
}

// BuildSecondaryIndices maps the verified address to its fid.
func (p *verificationPolicy) BuildSecondaryIndices(b *db.Batch, _ []byte, m *protocol.Message) error {
	address, err := verificationAddress(m)
	if err != nil {
		return err
	}
	b.Put(keys.MakeVerificationByAddressKey(address), keys.MakeFidKey(m.Data.Fid))
	return nil
}

func (p *verificationPolicy) DeleteSecondaryIndices(b *db.Batch, _ []byte, m *protocol.Message) error {
	address, err := verificationAddress(m)
	if err != nil {
		return err
	}
	b.Delete(keys.MakeVerificationByAddressKey(address))
	return nil
}

// MergeConflicts extends the pointer checks with address uniqueness: an
// address verified by another fid is taken over only by a newer add.
func (p *verificationPolicy) MergeConflicts(ctx context.Context, s *Store, m *protocol.Message, tsHash []byte) ([]*protocol.Message, error) {
	conflicts, err := s.defaultMergeConflicts(ctx, m, tsHash)
	if err != nil {
		return nil, err
	}
	if p.IsRemoveType(m) {
		return conflicts, nil
	}

	address, err := verificationAddress(m)
	if err != nil {
		return nil, err
	}
	owner, found, err := s.db.Get(ctx, keys.MakeVerificationByAddressKey(address))
	if err != nil {
		return nil, fmt.Errorf("read verification owner: %w", err)
	}
	if !found {
		return conflicts, nil
	}
	ownerFid, err := keys.ReadFidKey(owner)
	if err != nil {
		return nil, err
	}
	if ownerFid == 0 || ownerFid == m.Data.Fid {
		return conflicts, nil
	}

	existingTsHash, found, err := s.db.Get(ctx, keys.MakeVerificationAddsKey(ownerFid, address))
	if err != nil {
		return nil, fmt.Errorf("read verification add: %w", err)
	}
	if !found {
		return conflicts, nil
	}
	existing, err := s.resolveAgainst(ctx, m, tsHash, ownerFid, p.addType, existingTsHash, "add", protocol.NewConflictError)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		conflicts = append(conflicts, existing)
	}
	return conflicts, nil
}

// VerificationStore holds address verifications. An address belongs to at
// most one fid.
type VerificationStore struct {
	*Store
}

// NewVerificationStore creates the verification store.
func NewVerificationStore(d *db.DB, h *events.Handler, pruneLimit uint32, opts ...Option) *VerificationStore {
	return &VerificationStore{New(d, h, newVerificationPolicy(pruneLimit), opts...)}
}

func verificationPartial(fid uint64, address []byte) *protocol.Message {
	return &protocol.Message{Data: &protocol.MessageData{
		Fid:                    fid,
		VerificationRemoveBody: &protocol.VerificationRemoveBody{Address: address},
	}}
}

// GetVerificationAdd returns the verification of address by fid.
func (s *VerificationStore) GetVerificationAdd(ctx context.Context, fid uint64, address []byte) (*protocol.Message, error) {
	m, err := s.GetAdd(ctx, verificationPartial(fid, address))
	return orNotFound(m, err, "verification add")
}

// GetVerificationRemove returns the verification remove of address by fid.
func (s *VerificationStore) GetVerificationRemove(ctx context.Context, fid uint64, address []byte) (*protocol.Message, error) {
	m, err := s.GetRemove(ctx, verificationPartial(fid, address))
	return orNotFound(m, err, "verification remove")
}

// GetVerificationAddsByFid pages through the verifications of fid.
func (s *VerificationStore) GetVerificationAddsByFid(ctx context.Context, fid uint64, opts db.PageOptions) (*MessagesPage, error) {
	return s.GetAddsByFid(ctx, fid, opts, nil)
}

// GetVerificationRemovesByFid pages through the verification removes of
// fid.
func (s *VerificationStore) GetVerificationRemovesByFid(ctx context.Context, fid uint64, opts db.PageOptions) (*MessagesPage, error) {
	return s.GetRemovesByFid(ctx, fid, opts, nil)
}

// GetVerificationByAddress returns the verification currently owning
// address, whichever fid made it.
func (s *VerificationStore) GetVerificationByAddress(ctx context.Context, address []byte) (*protocol.Message, error) {
	owner, found, err := s.db.Get(ctx, keys.MakeVerificationByAddressKey(address))
	if err != nil {
		return nil, fmt.Errorf("read verification owner: %w", err)
	}
	if !found {
		return nil, protocol.NewNotFoundError("verification not found")
	}
	fid, err := keys.ReadFidKey(owner)
	if err != nil {
		return nil, err
	}
	return s.GetVerificationAdd(ctx, fid, address)
}

// MigrationResult counts the work done by MigrateVerifications.
type MigrationResult struct {
	Verifications int
	Duplicates    int
}

// MigrateVerifications rebuilds the by-address index from the stored
// verification adds. When two fids verified the same address, the older
// verification is deleted and a revoke event is emitted for it. This is a
// one-off repair, not part of the merge path.
func (s *VerificationStore) MigrateVerifications(ctx context.Context) (MigrationResult, error) {
	var res MigrationResult
	prefix := []byte{byte(keys.RootPrefixUser)}

	_, err := s.db.ForEachByPrefixUnbounded(ctx, prefix, db.PageOptions{}, func(key, value []byte) (bool, error) {
		if len(key) != keys.PrimaryKeyLength || key[1+keys.FidBytes] != byte(s.Postfix()) {
			return false, nil
		}
		m, err := protocol.DecodeMessage(value)
		if err != nil {
			s.logger.Warn("skipping undecodable verification", "error", err)
			return false, nil
		}
		if !s.policy.IsAddType(m) {
			return false, nil
		}
		current, err := s.GetAdd(ctx, m)
		if err != nil {
			return false, err
		}
		if current == nil || !bytes.Equal(current.Hash, m.Hash) {
			// superseded, but not yet cleaned up
			return false, nil
		}

		duplicate, err := s.migrateOne(ctx, m)
		if err != nil {
			return false, err
		}
		res.Verifications++
		if duplicate {
			res.Duplicates++
		}
		return false, nil
	})
	if err != nil {
		return res, fmt.Errorf("migrate verifications: %w", err)
	}
	s.logger.Info("migrated verifications",
		"verifications", res.Verifications, "duplicates", res.Duplicates)
	return res, nil
}

func (s *VerificationStore) migrateOne(ctx context.Context, m *protocol.Message) (bool, error) {
	fid := m.Data.Fid
	address := m.Data.VerificationAddAddressBody.Address
	byAddress := keys.MakeVerificationByAddressKey(address)

	mu := s.lockFor(fid)
	mu.Lock()
	defer mu.Unlock()

	b := db.NewBatch()
	owner, found, err := s.db.Get(ctx, byAddress)
	if err != nil {
		return false, fmt.Errorf("read verification owner: %w", err)
	}
	ownerFid := uint64(0)
	if found {
		if ownerFid, err = keys.ReadFidKey(owner); err != nil {
			return false, err
		}
	}
	if ownerFid == 0 || ownerFid == fid {
		b.Put(byAddress, keys.MakeFidKey(fid))
		return false, s.db.Commit(ctx, b)
	}

	existing, err := s.GetAdd(ctx, verificationPartial(ownerFid, address))
	if err != nil {
		return false, err
	}
	if existing == nil {
		b.Put(byAddress, keys.MakeFidKey(fid))
		return false, s.db.Commit(ctx, b)
	}

	tsHash, err := keys.TsHashOf(m)
	if err != nil {
		return false, err
	}
	existingTsHash, err := keys.TsHashOf(existing)
	if err != nil {
		return false, err
	}

	cmp := s.policy.MessageCompare(s.policy.AddMessageType(), existingTsHash, s.policy.AddMessageType(), tsHash)
	switch {
	case cmp == 0:
		s.logger.Warn("unexpected duplicate during migration", "fid", fid, "address", protocol.HexHash(address))
		return false, nil
	case cmp > 0:
		s.logger.Info("deleting duplicate verification", "fid", fid, "address", protocol.HexHash(address))
		return true, s.commitRepair(ctx, b, m, byAddress, ownerFid)
	default:
		s.logger.Info("deleting duplicate verification", "fid", ownerFid, "address", protocol.HexHash(address))
		return true, s.commitRepair(ctx, b, existing, byAddress, fid)
	}
}

// commitRepair deletes loser and hands the address to winner.
func (s *VerificationStore) commitRepair(ctx context.Context, b *db.Batch, loser *protocol.Message, byAddress []byte, winner uint64) error {
	if err := s.deleteTransaction(ctx, b, loser); err != nil {
		return err
	}
	b.Put(byAddress, keys.MakeFidKey(winner))
	if _, err := s.events.CommitTransaction(ctx, b, s.revokeEvent(loser)); err != nil {
		return err
	}
	s.metrics.MessagesRevoked.WithLabelValues(s.Name()).Inc()
	return nil
}
