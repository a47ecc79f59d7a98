package voucher

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// The registrar API transports its payloads behind a reversible,
// non-cryptographic obfuscation: JSON, then unpadded base64url, then a
// Caesar shift of -19 over ASCII letters only. Digits, '-' and '_' pass
// through untouched. This is a wire-compatibility shim, not a security
// boundary, and it must stay bit-exact or the upstream silently misparses.
// Keep every cipher detail inside this file.

const caesarShift = 19

// Encode obfuscates v for the wire.
func Encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return rotate(base64.RawURLEncoding.EncodeToString(raw), -caesarShift), nil
}

// Decode reverses Encode into dst.
func Decode(s string, dst any) error {
	shifted := rotate(s, caesarShift)
	raw, err := base64.RawURLEncoding.DecodeString(shifted)
	if err != nil {
		// upstream occasionally pads
		raw, err = base64.URLEncoding.DecodeString(shifted)
		if err != nil {
			return fmt.Errorf("base64 decode: %w", err)
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// rotate shifts ASCII letters within their case, wrapping at the alphabet
// edge; every other byte is returned unchanged.
func rotate(s string, shift int) string {
	n := byte(((shift % 26) + 26) % 26)
	out := []byte(s)
	for i, ch := range out {
		switch {
		case ch >= 'a' && ch <= 'z':
			out[i] = 'a' + (ch-'a'+n)%26
		case ch >= 'A' && ch <= 'Z':
			out[i] = 'A' + (ch-'A'+n)%26
		}
	}
	return string(out)
}
