package keys

import (
	"fmt"

	"github.com/roach88/hubstore/internal/protocol"
)

// LinkTypeBytes is the fixed width of link types inside link keys.
const LinkTypeBytes = 8

// MakeCastAddsKey returns user ‖ CastAdds ‖ hash.
func MakeCastAddsKey(fid uint64, hash []byte) []byte {
	return userPostfixKey(fid, UserPostfixCastAdds, hash)
}

// MakeCastRemovesKey returns user ‖ CastRemoves ‖ hash.
func MakeCastRemovesKey(fid uint64, hash []byte) []byte {
	return userPostfixKey(fid, UserPostfixCastRemoves, hash)
}

// MakeCastParentKey encodes a cast parent: the cast id key of a parent cast,
// or the raw bytes of a parent URL.
func MakeCastParentKey(parentCastID *protocol.CastID, parentURL string) ([]byte, error) {
	switch {
	case parentCastID != nil && parentURL != "":
		return nil, protocol.NewValidationError("cast cannot have both a parent cast and a parent url")
	case parentCastID != nil:
		if err := checkRefFid("parent cast", parentCastID.Fid); err != nil {
			return nil, err
		}
		return MakeCastIDKey(parentCastID), nil
	case parentURL != "":
		return []byte(parentURL), nil
	default:
		return nil, protocol.NewValidationError("parent is required")
	}
}

// MakeCastsByParentKey returns CastsByParent ‖ parent ‖ tsHash ‖ fid.
func MakeCastsByParentKey(parent []byte, fid uint64, tsHash []byte) []byte {
	out := make([]byte, 0, 1+len(parent)+TsHashLength+FidBytes)
	out = append(out, byte(RootPrefixCastsByParent))
	out = append(out, parent...)
	if tsHash != nil {
		out = append(out, tsHash...)
		out = append(out, MakeFidKey(fid)...)
	}
	return out
}

// MakeCastsByMentionKey returns CastsByMention ‖ mentionFid ‖ tsHash ‖ fid.
func MakeCastsByMentionKey(mentionFid uint64, fid uint64, tsHash []byte) []byte {
	out := make([]byte, 0, 1+FidBytes+TsHashLength+FidBytes)
	out = append(out, byte(RootPrefixCastsByMention))
	out = append(out, MakeFidKey(mentionFid)...)
	if tsHash != nil {
		out = append(out, tsHash...)
		out = append(out, MakeFidKey(fid)...)
	}
	return out
}

func makeLinkKey(fid uint64, postfix UserPostfix, linkType string, targetFid uint64) ([]byte, error) {
	if targetFid != 0 && linkType == "" {
		return nil, protocol.NewValidationError("targetId provided without type")
	}
	if err := checkRefFid("link target", targetFid); err != nil {
		return nil, err
	}
	if len(linkType) > LinkTypeBytes {
		return nil, protocol.NewValidationError(fmt.Sprintf("link type %q longer than %d bytes", linkType, LinkTypeBytes))
	}
	out := userPostfixKey(fid, postfix)
	if linkType != "" {
		padded := make([]byte, LinkTypeBytes)
		copy(padded, linkType)
		out = append(out, padded...)
	}
	if targetFid != 0 {
		out = append(out, MakeFidKey(targetFid)...)
	}
	return out, nil
}

// MakeLinkAddsKey returns user ‖ LinkAdds ‖ type(8) ‖ targetFid. Omitting
// the target (zero) or the type yields a scan prefix.
func MakeLinkAddsKey(fid uint64, linkType string, targetFid uint64) ([]byte, error) {
	return makeLinkKey(fid, UserPostfixLinkAdds, linkType, targetFid)
}

// MakeLinkRemovesKey returns user ‖ LinkRemoves ‖ type(8) ‖ targetFid.
func MakeLinkRemovesKey(fid uint64, linkType string, targetFid uint64) ([]byte, error) {
	return makeLinkKey(fid, UserPostfixLinkRemoves, linkType, targetFid)
}

// MakeLinksByTargetKey returns LinksByTarget ‖ targetFid ‖ tsHash ‖ fid.
func MakeLinksByTargetKey(targetFid uint64, fid uint64, tsHash []byte) []byte {
	out := make([]byte, 0, 1+FidBytes+TsHashLength+FidBytes)
	out = append(out, byte(RootPrefixLinksByTarget))
	out = append(out, MakeFidKey(targetFid)...)
	if tsHash != nil {
		out = append(out, tsHash...)
		out = append(out, MakeFidKey(fid)...)
	}
	return out
}

// MakeReactionTargetKey encodes a reaction target: a cast id key or the raw
// bytes of a URL.
func MakeReactionTargetKey(castID *protocol.CastID, url string) ([]byte, error) {
	switch {
	case castID != nil && url != "":
		return nil, protocol.NewValidationError("reaction cannot target both a cast and a url")
	case castID != nil:
		if err := checkRefFid("target cast", castID.Fid); err != nil {
			return nil, err
		}
		return MakeCastIDKey(castID), nil
	case url != "":
		return []byte(url), nil
	default:
		return nil, protocol.NewValidationError("reaction target is required")
	}
}

func makeReactionKey(fid uint64, postfix UserPostfix, reactionType protocol.ReactionType, target []byte) ([]byte, error) {
	if len(target) > 0 && reactionType == protocol.ReactionTypeNone {
		return nil, protocol.NewValidationError("targetId provided without type")
	}
	out := userPostfixKey(fid, postfix)
	if reactionType != protocol.ReactionTypeNone {
		out = append(out, byte(reactionType))
	}
	return append(out, target...), nil
}

// MakeReactionAddsKey returns user ‖ ReactionAdds ‖ type ‖ target.
func MakeReactionAddsKey(fid uint64, reactionType protocol.ReactionType, target []byte) ([]byte, error) {
	return makeReactionKey(fid, UserPostfixReactionAdds, reactionType, target)
}

// MakeReactionRemovesKey returns user ‖ ReactionRemoves ‖ type ‖ target.
func MakeReactionRemovesKey(fid uint64, reactionType protocol.ReactionType, target []byte) ([]byte, error) {
	return makeReactionKey(fid, UserPostfixReactionRemoves, reactionType, target)
}

// MakeReactionsByTargetKey returns ReactionsByTarget ‖ target ‖ tsHash ‖ fid.
func MakeReactionsByTargetKey(target []byte, fid uint64, tsHash []byte) []byte {
	out := make([]byte, 0, 1+len(target)+TsHashLength+FidBytes)
	out = append(out, byte(RootPrefixReactionsByTarget))
	out = append(out, target...)
	if tsHash != nil {
		out = append(out, tsHash...)
		out = append(out, MakeFidKey(fid)...)
	}
	return out
}

// MakeVerificationAddsKey returns user ‖ VerificationAdds ‖ address.
func MakeVerificationAddsKey(fid uint64, address []byte) []byte {
	return userPostfixKey(fid, UserPostfixVerificationAdds, address)
}

// MakeVerificationRemovesKey returns user ‖ VerificationRemoves ‖ address.
func MakeVerificationRemovesKey(fid uint64, address []byte) []byte {
	return userPostfixKey(fid, UserPostfixVerificationRemoves, address)
}

// MakeVerificationByAddressKey returns VerificationByAddress ‖ address.
func MakeVerificationByAddressKey(address []byte) []byte {
	out := make([]byte, 0, 1+len(address))
	out = append(out, byte(RootPrefixVerificationByAddress))
	return append(out, address...)
}

// MakeUserDataAddsKey returns user ‖ UserDataAdds ‖ type.
func MakeUserDataAddsKey(fid uint64, dataType protocol.UserDataType) []byte {
	out := userPostfixKey(fid, UserPostfixUserDataAdds)
	if dataType != protocol.UserDataTypeNone {
		out = append(out, byte(dataType))
	}
	return out
}

// MakeUserNameProofAddsKey returns user ‖ UserNameProofAdds ‖ name.
func MakeUserNameProofAddsKey(fid uint64, name []byte) []byte {
	return userPostfixKey(fid, UserPostfixUserNameProofAdds, name)
}

// MakeUserNameProofByNameKey returns UserNameProofByName ‖ name.
func MakeUserNameProofByNameKey(name []byte) []byte {
	out := make([]byte, 0, 1+len(name))
	out = append(out, byte(RootPrefixUserNameProofByName))
	return append(out, name...)
}

// SplitIndexSuffix reads the tsHash ‖ fid suffix shared by the by-parent,
// by-mention and by-target index keys. ok is false when the key does not
// have exactly prefixLen bytes in front of the suffix, which happens when a
// variable-width prefix such as a URL is itself a prefix of a longer one.
func SplitIndexSuffix(key []byte, prefixLen int) (tsHash []byte, fid uint64, ok bool) {
	if len(key) != prefixLen+TsHashLength+FidBytes {
		return nil, 0, false
	}
	tsHash = key[prefixLen : prefixLen+TsHashLength]
	fid, err := ReadFidKey(key[prefixLen+TsHashLength:])
	if err != nil {
		return nil, 0, false
	}
	return tsHash, fid, true
}
