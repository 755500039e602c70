package app

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// DecodeKey decodes a key from hex or base64 to raw bytes. Hex is tried first since
// generated vault keys are hex encoded; anything else is used verbatim.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("key value is empty")
	}
	return decodeKeyMaterial(v), nil
}

// KeyByteLength returns the decoded byte length of a key string.
func KeyByteLength(value string) (int, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, nil
	}
	return len(decodeKeyMaterial(v)), nil
}

func decodeKeyMaterial(v string) []byte {
	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding} {
		if decoded, err := enc.DecodeString(v); err == nil {
			return decoded
		}
	}
	return []byte(v)
}
