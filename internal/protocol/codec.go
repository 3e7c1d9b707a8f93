package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Records are encoded with core deterministic CBOR so that the same value
// always produces the same bytes, which makes message hashes reproducible.
var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: cbor encode mode: %v", err))
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: cbor decode mode: %v", err))
	}
	return dm
}

// Marshal encodes v with the package's deterministic CBOR mode. Other
// packages use it for their own persisted records.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// EncodeMessage serializes a message for storage.
func EncodeMessage(m *Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("encode message: nil message")
	}
	b, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return b, nil
}

// DecodeMessage parses a stored message.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := decMode.Unmarshal(data, &m); err != nil {
		return nil, NewInternalError(fmt.Sprintf("could not decode message: %v", err))
	}
	return &m, nil
}

// ReadMessages decodes a sequence of concatenated encoded messages, the
// format the CLI reads message files in.
func ReadMessages(r io.Reader) ([]*Message, error) {
	dec := decMode.NewDecoder(r)
	var out []*Message
	for {
		var m Message
		err := dec.Decode(&m)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, NewValidationError(fmt.Sprintf("could not decode message %d: %v", len(out), err))
		}
		out = append(out, &m)
	}
}

// EncodeMessageData serializes the signed portion of a message. The result
// is the input to HashMessageData.
func EncodeMessageData(d *MessageData) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("encode message data: nil data")
	}
	b, err := encMode.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode message data: %w", err)
	}
	return b, nil
}

// EncodeHubEvent serializes an event for the event log.
func EncodeHubEvent(e *HubEvent) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("encode hub event: nil event")
	}
	b, err := encMode.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode hub event: %w", err)
	}
	return b, nil
}

// DecodeHubEvent parses a stored event.
func DecodeHubEvent(data []byte) (*HubEvent, error) {
	var e HubEvent
	if err := decMode.Unmarshal(data, &e); err != nil {
		return nil, NewInternalError(fmt.Sprintf("could not decode hub event: %v", err))
	}
	return &e, nil
}
