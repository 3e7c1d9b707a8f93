package protocol

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCastAdd() *Message {
	return &Message{
		Data: &MessageData{
			Type:      MessageTypeCastAdd,
			Fid:       7,
			Timestamp: 1000,
			Network:   NetworkDevnet,
			CastAddBody: &CastAddBody{
				Text:         "hello",
				Mentions:     []uint64{2, 3},
				ParentCastID: &CastID{Fid: 9, Hash: make([]byte, 20)},
			},
		},
		Hash:            []byte("01234567890123456789"),
		HashScheme:      HashSchemeBlake3,
		Signature:       []byte("sig"),
		SignatureScheme: SignatureSchemeEd25519,
		Signer:          []byte("signer"),
	}
}

func TestMessageRoundTrip(t *testing.T) {
	m := sampleCastAdd()

	b, err := EncodeMessage(m)
	require.NoError(t, err)

	got, err := DecodeMessage(b)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestEncodeMessageDeterministic(t *testing.T) {
	a, err := EncodeMessage(sampleCastAdd())
	require.NoError(t, err)
	b, err := EncodeMessage(sampleCastAdd())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeMessageGarbage(t *testing.T) {
	_, err := DecodeMessage([]byte{0xff, 0x00, 0x01})
	require.Error(t, err)
	assert.True(t, IsInternal(err))
}

func TestReadMessages(t *testing.T) {
	first := sampleCastAdd()
	second := sampleCastAdd()
	second.Data.Timestamp = 2000

	var buf bytes.Buffer
	for _, m := range []*Message{first, second} {
		b, err := EncodeMessage(m)
		require.NoError(t, err)
		buf.Write(b)
	}

	got, err := ReadMessages(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0])
	assert.Equal(t, uint32(2000), got[1].Data.Timestamp)

	empty, err := ReadMessages(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReadMessagesTruncated(t *testing.T) {
	b, err := EncodeMessage(sampleCastAdd())
	require.NoError(t, err)

	_, err = ReadMessages(bytes.NewReader(b[:len(b)-3]))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestHubEventRoundTrip(t *testing.T) {
	e := &HubEvent{
		Type: HubEventTypeMergeMessage,
		ID:   42,
		MergeMessageBody: &MergeMessageBody{
			Message:         sampleCastAdd(),
			DeletedMessages: []*Message{sampleCastAdd()},
		},
	}
	b, err := EncodeHubEvent(e)
	require.NoError(t, err)

	got, err := DecodeHubEvent(b)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestMessageAccessorsNilSafe(t *testing.T) {
	var m *Message
	assert.Equal(t, MessageTypeNone, m.Type())
	assert.Equal(t, uint64(0), m.Fid())
	assert.Equal(t, uint32(0), m.Timestamp())

	m = &Message{}
	assert.Equal(t, MessageTypeNone, m.Type())
}

func TestParseMessageType(t *testing.T) {
	for _, typ := range []MessageType{
		MessageTypeCastAdd, MessageTypeCastRemove, MessageTypeReactionAdd,
		MessageTypeReactionRemove, MessageTypeLinkAdd, MessageTypeLinkRemove,
		MessageTypeVerificationAddEthAddress, MessageTypeVerificationRemove,
		MessageTypeUserDataAdd, MessageTypeUsernameProof,
	} {
		got, err := ParseMessageType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}

	_, err := ParseMessageType("none")
	assert.Error(t, err)
	_, err = ParseMessageType("bogus")
	assert.Error(t, err)
}

func TestBlake3_20(t *testing.T) {
	got := Blake3_20(nil)
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9", hex.EncodeToString(got))
	assert.Len(t, Blake3_20([]byte("abc")), HashLength)
}

func TestHashMessageDataChangesWithContent(t *testing.T) {
	a := sampleCastAdd()
	b := sampleCastAdd()
	b.Data.CastAddBody.Text = "other"

	ha, err := HashMessageData(a.Data)
	require.NoError(t, err)
	hb, err := HashMessageData(b.Data)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestParseHexHash(t *testing.T) {
	h := Blake3_20([]byte("x"))
	got, err := ParseHexHash(HexHash(h))
	require.NoError(t, err)
	assert.Equal(t, h, got)

	got, err = ParseHexHash(hex.EncodeToString(h))
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestFarcasterTime(t *testing.T) {
	epoch := time.UnixMilli(FarcasterEpoch)

	ts, err := ToFarcasterTime(epoch.Add(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, uint32(90), ts)
	assert.True(t, FromFarcasterTime(90).Equal(epoch.Add(90*time.Second)))

	_, err = ToFarcasterTime(epoch.Add(-time.Second))
	assert.True(t, IsInvalidParam(err))
}

func TestHubErrorPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		code  ErrorCode
	}{
		{"validation", NewValidationError("x"), IsValidationError, ErrCodeValidationFailure},
		{"conflict", NewConflictError("x"), IsConflict, ErrCodeConflict},
		{"duplicate", NewDuplicateError("x"), IsDuplicate, ErrCodeDuplicate},
		{"invalid param", NewInvalidParamError("x"), IsInvalidParam, ErrCodeInvalidParam},
		{"prunable", NewPrunableError("x"), IsPrunable, ErrCodePrunable},
		{"not found", NewNotFoundError("x"), IsNotFound, ErrCodeNotFound},
		{"internal", NewInternalError("x"), IsInternal, ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.check(wrapped))
			assert.Equal(t, tt.code, CodeOf(wrapped))
			assert.Contains(t, tt.err.Error(), string(tt.code))
		})
	}

	assert.False(t, IsConflict(nil))
	assert.False(t, IsConflict(fmt.Errorf("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(fmt.Errorf("plain")))
}

func TestHubErrorWithDetail(t *testing.T) {
	err := NewConflictError("lost").WithDetail("fid", "1")
	assert.Equal(t, "1", err.Details["fid"])
}

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"escapes", "a\"b\\c\n", `"a\"b\\c\n"`},
		{"html not escaped", "<&>", `"<&>"`},
		{"control", "\x01", `"\u0001"`},
		{"uint64", uint64(18446744073709551615), "18446744073709551615"},
		{"negative", int64(-3), "-3"},
		{"bool", true, "true"},
		{"sorted keys", map[string]any{"b": 1, "a": 2}, `{"a":2,"b":1}`},
		{"nested", map[string]any{"x": []any{"y", uint32(1)}}, `{"x":["y",1]}`},
		{"string slice", []string{"a", "b"}, `["a","b"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshalCanonicalRejects(t *testing.T) {
	_, err := MarshalCanonical(nil)
	assert.Error(t, err)
	_, err = MarshalCanonical(1.5)
	assert.Error(t, err)
	_, err = MarshalCanonical(map[string]any{"a": nil})
	assert.Error(t, err)
}

func TestMarshalCanonicalNFC(t *testing.T) {
	got, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(got))
}

func TestSummarizeEvent(t *testing.T) {
	e := &HubEvent{
		Type:             HubEventTypeMergeMessage,
		ID:               5,
		MergeMessageBody: &MergeMessageBody{Message: sampleCastAdd()},
	}
	out, err := MarshalCanonical(SummarizeEvent(e))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"type":"merge_message"`)
	assert.Contains(t, string(out), `"text":"hello"`)
	assert.Contains(t, string(out), `"deleted":[]`)
}
