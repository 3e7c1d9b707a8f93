package testutil

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hubstore/internal/protocol"
)

func TestFactoriesAreDeterministic(t *testing.T) {
	a := CastAdd(1, 100, "hello")
	b := CastAdd(1, 100, "hello")
	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, a.Signature, b.Signature)

	c := CastAdd(1, 100, "other")
	assert.NotEqual(t, a.Hash, c.Hash)
}

func TestFactorySignatureVerifies(t *testing.T) {
	m := LinkAdd(1, 5, "follow", 2)

	require.Len(t, m.Hash, protocol.HashLength)
	assert.True(t, ed25519.Verify(m.Signer, m.Hash, m.Signature))

	want, err := protocol.HashMessageData(m.Data)
	require.NoError(t, err)
	assert.Equal(t, want, m.Hash)
}

func TestWithHashAndSigner(t *testing.T) {
	s := NewSigner(1)
	m := CastAdd(1, 100, "x", WithHash(Hash(9)), WithSigner(s))

	assert.Equal(t, Hash(9), m.Hash)
	assert.Equal(t, s.PublicKey(), m.Signer)
	assert.NotEqual(t, DefaultSigner.PublicKey(), m.Signer)
}

func TestFactoryTypes(t *testing.T) {
	target := &protocol.CastID{Fid: 2, Hash: Hash(1)}
	tests := []struct {
		name string
		msg  *protocol.Message
		typ  protocol.MessageType
	}{
		{"cast add", CastAdd(1, 1, "x"), protocol.MessageTypeCastAdd},
		{"cast remove", CastRemove(1, 1, Hash(1)), protocol.MessageTypeCastRemove},
		{"reaction add", ReactionAdd(1, 1, protocol.ReactionTypeLike, target), protocol.MessageTypeReactionAdd},
		{"reaction remove", ReactionRemove(1, 1, protocol.ReactionTypeLike, target), protocol.MessageTypeReactionRemove},
		{"reaction url", ReactionAddURL(1, 1, protocol.ReactionTypeLike, "https://x"), protocol.MessageTypeReactionAdd},
		{"link add", LinkAdd(1, 1, "follow", 2), protocol.MessageTypeLinkAdd},
		{"link remove", LinkRemove(1, 1, "follow", 2), protocol.MessageTypeLinkRemove},
		{"verification add", VerificationAdd(1, 1, Hash(3)), protocol.MessageTypeVerificationAddEthAddress},
		{"verification remove", VerificationRemove(1, 1, Hash(3)), protocol.MessageTypeVerificationRemove},
		{"user data", UserDataAdd(1, 1, protocol.UserDataTypeBio, "hi"), protocol.MessageTypeUserDataAdd},
		{"username proof", UsernameProof(1, 1, "alice"), protocol.MessageTypeUsernameProof},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.msg.Type())
			assert.Equal(t, protocol.SignatureSchemeEd25519, tt.msg.SignatureScheme)
			assert.Equal(t, protocol.NetworkDevnet, tt.msg.Data.Network)
		})
	}
}
