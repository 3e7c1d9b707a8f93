package protocol

import "encoding/hex"

// Summarize renders the identifying fields of a message as a plain map
// suitable for MarshalCanonical.
func Summarize(m *Message) map[string]any {
	if m == nil || m.Data == nil {
		return map[string]any{"type": MessageTypeNone.String()}
	}
	d := m.Data
	out := map[string]any{
		"type":      d.Type.String(),
		"fid":       d.Fid,
		"timestamp": d.Timestamp,
		"hash":      HexHash(m.Hash),
	}
	switch {
	case d.CastAddBody != nil:
		out["text"] = d.CastAddBody.Text
	case d.CastRemoveBody != nil:
		out["target_hash"] = HexHash(d.CastRemoveBody.TargetHash)
	case d.ReactionBody != nil:
		out["reaction_type"] = int32(d.ReactionBody.Type)
		if d.ReactionBody.TargetCastID != nil {
			out["target_hash"] = HexHash(d.ReactionBody.TargetCastID.Hash)
		} else {
			out["target_url"] = d.ReactionBody.TargetURL
		}
	case d.LinkBody != nil:
		out["link_type"] = d.LinkBody.Type
		out["target_fid"] = d.LinkBody.TargetFid
	case d.VerificationAddAddressBody != nil:
		out["address"] = "0x" + hex.EncodeToString(d.VerificationAddAddressBody.Address)
	case d.VerificationRemoveBody != nil:
		out["address"] = "0x" + hex.EncodeToString(d.VerificationRemoveBody.Address)
	case d.UserDataBody != nil:
		out["user_data_type"] = int32(d.UserDataBody.Type)
		out["value"] = d.UserDataBody.Value
	case d.UsernameProofBody != nil:
		out["name"] = string(d.UsernameProofBody.Name)
	}
	return out
}

// SummarizeEvent renders an event with its messages summarized.
func SummarizeEvent(e *HubEvent) map[string]any {
	out := map[string]any{
		"type": e.Type.String(),
		"id":   e.ID,
	}
	switch {
	case e.MergeMessageBody != nil:
		out["message"] = Summarize(e.MergeMessageBody.Message)
		deleted := make([]any, 0, len(e.MergeMessageBody.DeletedMessages))
		for _, m := range e.MergeMessageBody.DeletedMessages {
			deleted = append(deleted, Summarize(m))
		}
		out["deleted"] = deleted
	case e.PruneMessageBody != nil:
		out["message"] = Summarize(e.PruneMessageBody.Message)
	case e.RevokeMessageBody != nil:
		out["message"] = Summarize(e.RevokeMessageBody.Message)
	case e.MergeUsernameProofBody != nil:
		b := e.MergeUsernameProofBody
		if b.UsernameProofMessage != nil {
			out["message"] = Summarize(b.UsernameProofMessage)
		}
		if b.DeletedUsernameProofMessage != nil {
			out["deleted"] = []any{Summarize(b.DeletedUsernameProofMessage)}
		}
	}
	return out
}
