package testutil

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/roach88/hubstore/internal/protocol"
)

// Signer signs factory messages with a deterministic ed25519 key.
type Signer struct {
	priv ed25519.PrivateKey
}

// NewSigner derives a key from a repeated seed byte. Equal seeds give equal
// keys.
func NewSigner(seed byte) *Signer {
	return &Signer{priv: ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))}
}

// DefaultSigner signs messages built without WithSigner.
var DefaultSigner = NewSigner(0x42)

// PublicKey returns the signer's public key.
func (s *Signer) PublicKey() []byte {
	return append([]byte(nil), s.priv.Public().(ed25519.PublicKey)...)
}

// Sign hashes data and signs the hash.
func (s *Signer) Sign(data *protocol.MessageData) (*protocol.Message, error) {
	hash, err := protocol.HashMessageData(data)
	if err != nil {
		return nil, err
	}
	return &protocol.Message{
		Data:            data,
		Hash:            hash,
		HashScheme:      protocol.HashSchemeBlake3,
		Signature:       ed25519.Sign(s.priv, hash),
		SignatureScheme: protocol.SignatureSchemeEd25519,
		Signer:          s.PublicKey(),
	}, nil
}

// Option adjusts a factory message.
type Option func(*builder)

type builder struct {
	signer *Signer
	hash   []byte
}

// WithSigner signs the message with s.
func WithSigner(s *Signer) Option {
	return func(b *builder) { b.signer = s }
}

// WithHash replaces the computed hash, to control tie-breaks between
// messages with equal timestamps.
func WithHash(h []byte) Option {
	return func(b *builder) { b.hash = h }
}

// Hash returns a 20-byte hash filled with b.
func Hash(b byte) []byte {
	return bytes.Repeat([]byte{b}, protocol.HashLength)
}

func build(data *protocol.MessageData, opts []Option) *protocol.Message {
	b := builder{signer: DefaultSigner}
	for _, opt := range opts {
		opt(&b)
	}
	if data.Network == protocol.NetworkNone {
		data.Network = protocol.NetworkDevnet
	}
	m, err := b.signer.Sign(data)
	if err != nil {
		panic(fmt.Sprintf("testutil: sign message: %v", err))
	}
	if b.hash != nil {
		m.Hash = append([]byte(nil), b.hash...)
	}
	return m
}

// Message signs arbitrary data. Network defaults to devnet.
func Message(data *protocol.MessageData, opts ...Option) *protocol.Message {
	return build(data, opts)
}

// CastAdd builds a CastAdd with text.
func CastAdd(fid uint64, ts uint32, text string, opts ...Option) *protocol.Message {
	return CastAddWithBody(fid, ts, &protocol.CastAddBody{Text: text}, opts...)
}

// CastAddWithBody builds a CastAdd with a full body.
func CastAddWithBody(fid uint64, ts uint32, body *protocol.CastAddBody, opts ...Option) *protocol.Message {
	return build(&protocol.MessageData{
		Type:        protocol.MessageTypeCastAdd,
		Fid:         fid,
		Timestamp:   ts,
		CastAddBody: body,
	}, opts)
}

// CastRemove builds a CastRemove of target.
func CastRemove(fid uint64, ts uint32, target []byte, opts ...Option) *protocol.Message {
	return build(&protocol.MessageData{
		Type:           protocol.MessageTypeCastRemove,
		Fid:            fid,
		Timestamp:      ts,
		CastRemoveBody: &protocol.CastRemoveBody{TargetHash: target},
	}, opts)
}

func reaction(t protocol.MessageType, fid uint64, ts uint32, body *protocol.ReactionBody, opts []Option) *protocol.Message {
	return build(&protocol.MessageData{
		Type:         t,
		Fid:          fid,
		Timestamp:    ts,
		ReactionBody: body,
	}, opts)
}

// ReactionAdd builds a ReactionAdd on a cast.
func ReactionAdd(fid uint64, ts uint32, rt protocol.ReactionType, target *protocol.CastID, opts ...Option) *protocol.Message {
	return reaction(protocol.MessageTypeReactionAdd, fid, ts, &protocol.ReactionBody{Type: rt, TargetCastID: target}, opts)
}

// ReactionRemove builds a ReactionRemove on a cast.
func ReactionRemove(fid uint64, ts uint32, rt protocol.ReactionType, target *protocol.CastID, opts ...Option) *protocol.Message {
	return reaction(protocol.MessageTypeReactionRemove, fid, ts, &protocol.ReactionBody{Type: rt, TargetCastID: target}, opts)
}

// ReactionAddURL builds a ReactionAdd on a URL.
func ReactionAddURL(fid uint64, ts uint32, rt protocol.ReactionType, url string, opts ...Option) *protocol.Message {
	return reaction(protocol.MessageTypeReactionAdd, fid, ts, &protocol.ReactionBody{Type: rt, TargetURL: url}, opts)
}

func link(t protocol.MessageType, fid uint64, ts uint32, linkType string, target uint64, opts []Option) *protocol.Message {
	return build(&protocol.MessageData{
		Type:      t,
		Fid:       fid,
		Timestamp: ts,
		LinkBody:  &protocol.LinkBody{Type: linkType, TargetFid: target},
	}, opts)
}

// LinkAdd builds a LinkAdd.
func LinkAdd(fid uint64, ts uint32, linkType string, target uint64, opts ...Option) *protocol.Message {
	return link(protocol.MessageTypeLinkAdd, fid, ts, linkType, target, opts)
}

// LinkRemove builds a LinkRemove.
func LinkRemove(fid uint64, ts uint32, linkType string, target uint64, opts ...Option) *protocol.Message {
	return link(protocol.MessageTypeLinkRemove, fid, ts, linkType, target, opts)
}

// VerificationAdd builds an Ethereum VerificationAdd for address.
func VerificationAdd(fid uint64, ts uint32, address []byte, opts ...Option) *protocol.Message {
	return build(&protocol.MessageData{
		Type:      protocol.MessageTypeVerificationAddEthAddress,
		Fid:       fid,
		Timestamp: ts,
		VerificationAddAddressBody: &protocol.VerificationAddAddressBody{
			Address:        address,
			ClaimSignature: Hash(0xcc),
			BlockHash:      Hash(0xbb),
			Protocol:       protocol.ProtocolEthereum,
		},
	}, opts)
}

// VerificationRemove builds an Ethereum VerificationRemove for address.
func VerificationRemove(fid uint64, ts uint32, address []byte, opts ...Option) *protocol.Message {
	return build(&protocol.MessageData{
		Type:      protocol.MessageTypeVerificationRemove,
		Fid:       fid,
		Timestamp: ts,
		VerificationRemoveBody: &protocol.VerificationRemoveBody{
			Address:  address,
			Protocol: protocol.ProtocolEthereum,
		},
	}, opts)
}

// UserDataAdd builds a UserDataAdd.
func UserDataAdd(fid uint64, ts uint32, dt protocol.UserDataType, value string, opts ...Option) *protocol.Message {
	return build(&protocol.MessageData{
		Type:         protocol.MessageTypeUserDataAdd,
		Fid:          fid,
		Timestamp:    ts,
		UserDataBody: &protocol.UserDataBody{Type: dt, Value: value},
	}, opts)
}

// UsernameProof builds an fname UsernameProof binding name to fid.
func UsernameProof(fid uint64, ts uint32, name string, opts ...Option) *protocol.Message {
	return build(&protocol.MessageData{
		Type:      protocol.MessageTypeUsernameProof,
		Fid:       fid,
		Timestamp: ts,
		UsernameProofBody: &protocol.UserNameProof{
			Timestamp: uint64(ts),
			Name:      []byte(name),
			Owner:     Hash(0xee),
			Fid:       fid,
			Type:      protocol.UserNameTypeFname,
		},
	}, opts)
}
