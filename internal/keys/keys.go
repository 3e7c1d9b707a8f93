// Package keys is the key codec: pure functions computing the binary keys
// under which messages, pointers, secondary indices, events and trie nodes
// are stored.
//
// Every key starts with a one-byte RootPrefix. Per-user records continue with
// a 4-byte big-endian fid and a one-byte UserPostfix. Because the store orders
// keys bytewise, big-endian integers and TsHashes sort numerically.
package keys

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/roach88/hubstore/internal/protocol"
)

// RootPrefix partitions the key space. Values are persisted.
type RootPrefix byte

const (
	RootPrefixUser                  RootPrefix = 1
	RootPrefixCastsByParent         RootPrefix = 2
	RootPrefixCastsByMention        RootPrefix = 3
	RootPrefixLinksByTarget         RootPrefix = 4
	RootPrefixReactionsByTarget     RootPrefix = 5
	RootPrefixHubEvents             RootPrefix = 9
	RootPrefixSyncMerkleTrieNode    RootPrefix = 11
	RootPrefixHubState              RootPrefix = 12
	RootPrefixUserNameProofByName   RootPrefix = 23
	RootPrefixVerificationByAddress RootPrefix = 24
	RootPrefixOnChainEvent          RootPrefix = 25
)

// UserPostfix follows the fid in per-user keys. Postfixes below
// UserMessagePostfixMax hold primary message records; the rest hold pointers
// and per-user indices.
type UserPostfix byte

const (
	UserPostfixCastMessage          UserPostfix = 1
	UserPostfixLinkMessage          UserPostfix = 2
	UserPostfixReactionMessage      UserPostfix = 3
	UserPostfixVerificationMessage  UserPostfix = 4
	UserPostfixUserDataMessage      UserPostfix = 6
	UserPostfixUsernameProofMessage UserPostfix = 7

	UserMessagePostfixMax UserPostfix = 85

	UserPostfixBySigner            UserPostfix = 86
	UserPostfixCastAdds            UserPostfix = 87
	UserPostfixCastRemoves         UserPostfix = 88
	UserPostfixLinkAdds            UserPostfix = 89
	UserPostfixLinkRemoves         UserPostfix = 90
	UserPostfixReactionAdds        UserPostfix = 91
	UserPostfixReactionRemoves     UserPostfix = 92
	UserPostfixVerificationAdds    UserPostfix = 93
	UserPostfixVerificationRemoves UserPostfix = 94
	UserPostfixUserDataAdds        UserPostfix = 97
	UserPostfixUserNameProofAdds   UserPostfix = 99
)

const (
	HashLength       = protocol.HashLength
	TsHashLength     = 4 + HashLength
	FidBytes         = 4
	PrimaryKeyLength = 1 + FidBytes + 1 + TsHashLength
	EventIDBytes     = 8
)

// TrueValue is stored under index keys whose presence is the information.
var TrueValue = []byte{1}

// MaxFid is the largest fid a FidBytes key can hold.
const MaxFid = math.MaxUint32

// MakeTsHash packs a timestamp and a 20-byte hash into the 24-byte composite
// that orders messages by time and then by hash. A hash of the wrong size is
// a malformed message, hence a validation failure.
func MakeTsHash(timestamp uint32, hash []byte) ([]byte, error) {
	if len(hash) != HashLength {
		return nil, protocol.NewValidationError(fmt.Sprintf("hash must be %d bytes, got %d", HashLength, len(hash)))
	}
	out := make([]byte, TsHashLength)
	binary.BigEndian.PutUint32(out, timestamp)
	copy(out[4:], hash)
	return out, nil
}

// UnpackTsHash splits a TsHash into its timestamp and hash.
func UnpackTsHash(tsHash []byte) (uint32, []byte, error) {
	if len(tsHash) != TsHashLength {
		return 0, nil, protocol.NewInvalidParamError(fmt.Sprintf("ts hash must be %d bytes, got %d", TsHashLength, len(tsHash)))
	}
	return binary.BigEndian.Uint32(tsHash[:4]), tsHash[4:], nil
}

// TsHashOf computes the TsHash of a message.
func TsHashOf(m *protocol.Message) ([]byte, error) {
	if m == nil || m.Data == nil {
		return nil, protocol.NewValidationError("message data is missing")
	}
	return MakeTsHash(m.Data.Timestamp, m.Hash)
}

// ValidateFid rejects fids that have no key of their own: zero, and anything
// above MaxFid, which MakeFidKey would fold onto a smaller fid.
func ValidateFid(fid uint64) error {
	if fid == 0 {
		return protocol.NewValidationError("fid is missing")
	}
	if fid > MaxFid {
		return protocol.NewValidationError(fmt.Sprintf("fid %d exceeds %d", fid, uint64(MaxFid)))
	}
	return nil
}

// MakeFidKey encodes a fid as 4 big-endian bytes. Callers validate the fid
// first; MakeFidKey itself keeps only the low 32 bits.
func MakeFidKey(fid uint64) []byte {
	out := make([]byte, FidBytes)
	binary.BigEndian.PutUint32(out, uint32(fid))
	return out
}

// ReadFidKey decodes the fid at the start of b.
func ReadFidKey(b []byte) (uint64, error) {
	if len(b) < FidBytes {
		return 0, protocol.NewInternalError("fid key too short")
	}
	return uint64(binary.BigEndian.Uint32(b[:FidBytes])), nil
}

// MakeUserKey returns RootPrefixUser ‖ fid.
func MakeUserKey(fid uint64) []byte {
	out := make([]byte, 0, 1+FidBytes+1+TsHashLength)
	out = append(out, byte(RootPrefixUser))
	return append(out, MakeFidKey(fid)...)
}

func userPostfixKey(fid uint64, postfix UserPostfix, extra ...[]byte) []byte {
	out := append(MakeUserKey(fid), byte(postfix))
	for _, e := range extra {
		out = append(out, e...)
	}
	return out
}

// MakeMessagePrimaryKey returns the key holding a message body. A nil tsHash
// yields the prefix of all messages of that postfix for the fid.
func MakeMessagePrimaryKey(fid uint64, postfix UserPostfix, tsHash []byte) []byte {
	return userPostfixKey(fid, postfix, tsHash)
}

// checkRefFid rejects a fid named inside a message body that does not fit
// in a fid key.
func checkRefFid(what string, fid uint64) error {
	if fid > MaxFid {
		return protocol.NewValidationError(fmt.Sprintf("%s fid %d exceeds %d", what, fid, uint64(MaxFid)))
	}
	return nil
}

// MakeCastIDKey returns fid ‖ hash.
func MakeCastIDKey(c *protocol.CastID) []byte {
	out := make([]byte, 0, FidBytes+len(c.Hash))
	out = append(out, MakeFidKey(c.Fid)...)
	return append(out, c.Hash...)
}

// TypeToSetPostfix maps a message type to the postfix of its primary records.
func TypeToSetPostfix(t protocol.MessageType) (UserPostfix, error) {
	switch t {
	case protocol.MessageTypeCastAdd, protocol.MessageTypeCastRemove:
		return UserPostfixCastMessage, nil
	case protocol.MessageTypeLinkAdd, protocol.MessageTypeLinkRemove:
		return UserPostfixLinkMessage, nil
	case protocol.MessageTypeReactionAdd, protocol.MessageTypeReactionRemove:
		return UserPostfixReactionMessage, nil
	case protocol.MessageTypeVerificationAddEthAddress, protocol.MessageTypeVerificationRemove:
		return UserPostfixVerificationMessage, nil
	case protocol.MessageTypeUserDataAdd:
		return UserPostfixUserDataMessage, nil
	case protocol.MessageTypeUsernameProof:
		return UserPostfixUsernameProofMessage, nil
	default:
		return 0, protocol.NewInvalidParamError(fmt.Sprintf("no set postfix for message type %s", t))
	}
}

// PrimaryKeyOf computes the primary key of a message.
func PrimaryKeyOf(m *protocol.Message) ([]byte, error) {
	tsHash, err := TsHashOf(m)
	if err != nil {
		return nil, err
	}
	postfix, err := TypeToSetPostfix(m.Data.Type)
	if err != nil {
		return nil, err
	}
	return MakeMessagePrimaryKey(m.Data.Fid, postfix, tsHash), nil
}

// MakeBySignerKey returns user ‖ BySigner ‖ signer ‖ postfix ‖ tsHash.
// Trailing components may be omitted to build scan prefixes.
func MakeBySignerKey(fid uint64, signer []byte, postfix UserPostfix, tsHash []byte) []byte {
	out := userPostfixKey(fid, UserPostfixBySigner, signer)
	if postfix != 0 {
		out = append(out, byte(postfix))
	}
	return append(out, tsHash...)
}

// MakeEventKey returns HubEvents ‖ 8-byte big-endian id.
func MakeEventKey(id uint64) []byte {
	out := make([]byte, 1+EventIDBytes)
	out[0] = byte(RootPrefixHubEvents)
	binary.BigEndian.PutUint64(out[1:], id)
	return out
}

// ReadEventID decodes the id of an event key.
func ReadEventID(key []byte) (uint64, error) {
	if len(key) != 1+EventIDBytes || key[0] != byte(RootPrefixHubEvents) {
		return 0, protocol.NewInternalError("not an event key")
	}
	return binary.BigEndian.Uint64(key[1:]), nil
}

// MakeTrieNodeKey returns SyncMerkleTrieNode ‖ prefix.
func MakeTrieNodeKey(prefix []byte) []byte {
	out := make([]byte, 0, 1+len(prefix))
	out = append(out, byte(RootPrefixSyncMerkleTrieNode))
	return append(out, prefix...)
}
