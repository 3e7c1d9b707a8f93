package protocol

import "fmt"

// MessageType identifies the kind of a message. Values are persisted.
type MessageType int32

const (
	MessageTypeNone                      MessageType = 0
	MessageTypeCastAdd                   MessageType = 1
	MessageTypeCastRemove                MessageType = 2
	MessageTypeReactionAdd               MessageType = 3
	MessageTypeReactionRemove            MessageType = 4
	MessageTypeLinkAdd                   MessageType = 5
	MessageTypeLinkRemove                MessageType = 6
	MessageTypeVerificationAddEthAddress MessageType = 7
	MessageTypeVerificationRemove        MessageType = 8
	MessageTypeUserDataAdd               MessageType = 11
	MessageTypeUsernameProof             MessageType = 12
)

var messageTypeNames = map[MessageType]string{
	MessageTypeNone:                      "none",
	MessageTypeCastAdd:                   "cast_add",
	MessageTypeCastRemove:                "cast_remove",
	MessageTypeReactionAdd:               "reaction_add",
	MessageTypeReactionRemove:            "reaction_remove",
	MessageTypeLinkAdd:                   "link_add",
	MessageTypeLinkRemove:                "link_remove",
	MessageTypeVerificationAddEthAddress: "verification_add",
	MessageTypeVerificationRemove:        "verification_remove",
	MessageTypeUserDataAdd:               "user_data_add",
	MessageTypeUsernameProof:             "username_proof",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("message_type(%d)", int32(t))
}

// ParseMessageType resolves the snake_case name used in scenario files and
// CLI input.
func ParseMessageType(name string) (MessageType, error) {
	for t, n := range messageTypeNames {
		if n == name && t != MessageTypeNone {
			return t, nil
		}
	}
	return MessageTypeNone, fmt.Errorf("unknown message type %q", name)
}

// HashScheme identifies how Message.Hash was computed.
type HashScheme int32

const (
	HashSchemeNone   HashScheme = 0
	HashSchemeBlake3 HashScheme = 1
)

// SignatureScheme identifies how Message.Signature was produced.
type SignatureScheme int32

const (
	SignatureSchemeNone    SignatureScheme = 0
	SignatureSchemeEd25519 SignatureScheme = 1
	SignatureSchemeEip712  SignatureScheme = 2
)

// FarcasterNetwork identifies the network a message was created for.
type FarcasterNetwork int32

const (
	NetworkNone    FarcasterNetwork = 0
	NetworkMainnet FarcasterNetwork = 1
	NetworkTestnet FarcasterNetwork = 2
	NetworkDevnet  FarcasterNetwork = 3
)

// ReactionType is the kind of a reaction.
type ReactionType int32

const (
	ReactionTypeNone   ReactionType = 0
	ReactionTypeLike   ReactionType = 1
	ReactionTypeRecast ReactionType = 2
)

// UserDataType is the profile field a UserDataAdd sets.
type UserDataType int32

const (
	UserDataTypeNone     UserDataType = 0
	UserDataTypePfp      UserDataType = 1
	UserDataTypeDisplay  UserDataType = 2
	UserDataTypeBio      UserDataType = 3
	UserDataTypeURL      UserDataType = 5
	UserDataTypeUsername UserDataType = 6
)

// Protocol is the chain family of a verified address.
type Protocol int32

const (
	ProtocolEthereum Protocol = 0
	ProtocolSolana   Protocol = 1
)

// UserNameType is the naming system a username proof belongs to.
type UserNameType int32

const (
	UserNameTypeNone  UserNameType = 0
	UserNameTypeFname UserNameType = 1
	UserNameTypeEnsL1 UserNameType = 2
)

// CastID identifies a cast by author and hash.
type CastID struct {
	Fid  uint64 `cbor:"1,keyasint"`
	Hash []byte `cbor:"2,keyasint"`
}

// Embed is a URL or cast reference attached to a cast.
type Embed struct {
	URL    string  `cbor:"1,keyasint,omitempty"`
	CastID *CastID `cbor:"2,keyasint,omitempty"`
}

// CastAddBody is the body of a CastAdd. At most one of ParentCastID and
// ParentURL is set.
type CastAddBody struct {
	Mentions          []uint64 `cbor:"1,keyasint,omitempty"`
	ParentCastID      *CastID  `cbor:"2,keyasint,omitempty"`
	ParentURL         string   `cbor:"3,keyasint,omitempty"`
	Text              string   `cbor:"4,keyasint"`
	MentionsPositions []uint32 `cbor:"5,keyasint,omitempty"`
	Embeds            []Embed  `cbor:"6,keyasint,omitempty"`
}

// CastRemoveBody is the body of a CastRemove.
type CastRemoveBody struct {
	TargetHash []byte `cbor:"1,keyasint"`
}

// ReactionBody is the body of ReactionAdd and ReactionRemove. At most one of
// TargetCastID and TargetURL is set.
type ReactionBody struct {
	Type         ReactionType `cbor:"1,keyasint"`
	TargetCastID *CastID      `cbor:"2,keyasint,omitempty"`
	TargetURL    string       `cbor:"3,keyasint,omitempty"`
}

// LinkBody is the body of LinkAdd and LinkRemove. A zero TargetFid means no
// target.
type LinkBody struct {
	Type             string  `cbor:"1,keyasint"`
	DisplayTimestamp *uint32 `cbor:"2,keyasint,omitempty"`
	TargetFid        uint64  `cbor:"3,keyasint,omitempty"`
}

// VerificationAddAddressBody is the body of a VerificationAdd.
type VerificationAddAddressBody struct {
	Address          []byte   `cbor:"1,keyasint"`
	ClaimSignature   []byte   `cbor:"2,keyasint,omitempty"`
	BlockHash        []byte   `cbor:"3,keyasint,omitempty"`
	VerificationType uint32   `cbor:"4,keyasint,omitempty"`
	ChainID          uint32   `cbor:"5,keyasint,omitempty"`
	Protocol         Protocol `cbor:"6,keyasint"`
}

// VerificationRemoveBody is the body of a VerificationRemove.
type VerificationRemoveBody struct {
	Address  []byte   `cbor:"1,keyasint"`
	Protocol Protocol `cbor:"2,keyasint"`
}

// UserDataBody is the body of a UserDataAdd.
type UserDataBody struct {
	Type  UserDataType `cbor:"1,keyasint"`
	Value string       `cbor:"2,keyasint"`
}

// UserNameProof binds a name to a fid.
type UserNameProof struct {
	Timestamp uint64       `cbor:"1,keyasint"`
	Name      []byte       `cbor:"2,keyasint"`
	Owner     []byte       `cbor:"3,keyasint,omitempty"`
	Signature []byte       `cbor:"4,keyasint,omitempty"`
	Fid       uint64       `cbor:"5,keyasint"`
	Type      UserNameType `cbor:"6,keyasint"`
}

// MessageData is the signed portion of a message. Exactly one body pointer is
// expected to be non-nil, matching Type.
type MessageData struct {
	Type      MessageType      `cbor:"1,keyasint"`
	Fid       uint64           `cbor:"2,keyasint"`
	Timestamp uint32           `cbor:"3,keyasint"`
	Network   FarcasterNetwork `cbor:"4,keyasint"`

	CastAddBody                *CastAddBody                `cbor:"5,keyasint,omitempty"`
	CastRemoveBody             *CastRemoveBody             `cbor:"6,keyasint,omitempty"`
	ReactionBody               *ReactionBody               `cbor:"7,keyasint,omitempty"`
	VerificationAddAddressBody *VerificationAddAddressBody `cbor:"9,keyasint,omitempty"`
	VerificationRemoveBody     *VerificationRemoveBody     `cbor:"10,keyasint,omitempty"`
	UserDataBody               *UserDataBody               `cbor:"12,keyasint,omitempty"`
	LinkBody                   *LinkBody                   `cbor:"14,keyasint,omitempty"`
	UsernameProofBody          *UserNameProof              `cbor:"15,keyasint,omitempty"`
}

// Message is a signed, hashed MessageData.
type Message struct {
	Data            *MessageData    `cbor:"1,keyasint"`
	Hash            []byte          `cbor:"2,keyasint"`
	HashScheme      HashScheme      `cbor:"3,keyasint"`
	Signature       []byte          `cbor:"4,keyasint"`
	SignatureScheme SignatureScheme `cbor:"5,keyasint"`
	Signer          []byte          `cbor:"6,keyasint"`
}

// Type returns the message type, or MessageTypeNone when Data is missing.
func (m *Message) Type() MessageType {
	if m == nil || m.Data == nil {
		return MessageTypeNone
	}
	return m.Data.Type
}

// Fid returns the owning fid, or zero when Data is missing.
func (m *Message) Fid() uint64 {
	if m == nil || m.Data == nil {
		return 0
	}
	return m.Data.Fid
}

// Timestamp returns the protocol timestamp in seconds since FarcasterEpoch.
func (m *Message) Timestamp() uint32 {
	if m == nil || m.Data == nil {
		return 0
	}
	return m.Data.Timestamp
}

// HubEventType identifies a HubEvent variant. Values are persisted.
type HubEventType int32

const (
	HubEventTypeNone               HubEventType = 0
	HubEventTypeMergeMessage       HubEventType = 1
	HubEventTypePruneMessage       HubEventType = 2
	HubEventTypeRevokeMessage      HubEventType = 3
	HubEventTypeMergeUsernameProof HubEventType = 6
)

func (t HubEventType) String() string {
	switch t {
	case HubEventTypeMergeMessage:
		return "merge_message"
	case HubEventTypePruneMessage:
		return "prune_message"
	case HubEventTypeRevokeMessage:
		return "revoke_message"
	case HubEventTypeMergeUsernameProof:
		return "merge_username_proof"
	default:
		return fmt.Sprintf("hub_event_type(%d)", int32(t))
	}
}

// MergeMessageBody records a merged message and the messages it superseded.
type MergeMessageBody struct {
	Message         *Message   `cbor:"1,keyasint"`
	DeletedMessages []*Message `cbor:"2,keyasint,omitempty"`
}

// PruneMessageBody records a message removed by pruning.
type PruneMessageBody struct {
	Message *Message `cbor:"1,keyasint"`
}

// RevokeMessageBody records a message removed by revocation.
type RevokeMessageBody struct {
	Message *Message `cbor:"1,keyasint"`
}

// MergeUserNameProofBody records username proof changes. Merges set the
// UsernameProof fields; revokes and prunes set only the Deleted fields.
type MergeUserNameProofBody struct {
	UsernameProof               *UserNameProof `cbor:"1,keyasint,omitempty"`
	DeletedUsernameProof        *UserNameProof `cbor:"2,keyasint,omitempty"`
	UsernameProofMessage        *Message       `cbor:"3,keyasint,omitempty"`
	DeletedUsernameProofMessage *Message       `cbor:"4,keyasint,omitempty"`
}

// HubEvent is an entry of the append-only event log. Exactly one body is set,
// matching Type. ID is assigned at commit time.
type HubEvent struct {
	Type                   HubEventType            `cbor:"1,keyasint"`
	ID                     uint64                  `cbor:"2,keyasint"`
	MergeMessageBody       *MergeMessageBody       `cbor:"3,keyasint,omitempty"`
	PruneMessageBody       *PruneMessageBody       `cbor:"4,keyasint,omitempty"`
	RevokeMessageBody      *RevokeMessageBody      `cbor:"5,keyasint,omitempty"`
	MergeUsernameProofBody *MergeUserNameProofBody `cbor:"8,keyasint,omitempty"`
}
