package protocol

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// HashLength is the length of message hashes and trie node hashes.
const HashLength = 20

// Blake3_20 returns the first 20 bytes of the BLAKE3 digest of data.
func Blake3_20(data []byte) []byte {
	sum := blake3.Sum256(data)
	out := make([]byte, HashLength)
	copy(out, sum[:HashLength])
	return out
}

// HashMessageData computes the content hash of a message's signed data.
func HashMessageData(d *MessageData) ([]byte, error) {
	b, err := EncodeMessageData(d)
	if err != nil {
		return nil, err
	}
	return Blake3_20(b), nil
}

// HexHash renders a hash the way it appears in logs and CLI output.
func HexHash(h []byte) string {
	return "0x" + hex.EncodeToString(h)
}

// ParseHexHash parses a hash with or without a 0x prefix.
func ParseHexHash(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}
