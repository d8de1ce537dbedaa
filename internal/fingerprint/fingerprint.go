// Package fingerprint provides deterministic content digests used for change
// detection and cache keys.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Size is the length in hex characters of every fingerprint.
const Size = sha256.Size * 2

// Sum returns the lower-case hex SHA-256 digest of b.
func Sum(b []byte) string {
	hash := sha256.Sum256(b)
	return hex.EncodeToString(hash[:])
}

// Text returns the fingerprint of s.
func Text(s string) string {
	return Sum([]byte(s))
}

// Canonical returns the fingerprint of v encoded as JSON. Map keys are emitted
// in sorted order by encoding/json, so field order never changes the digest.
func Canonical(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical encode: %w", err)
	}
	return Sum(data), nil
}

// NormalizeText lower-cases s and collapses all whitespace runs to one space.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Key derives a cache key from free text plus an optional parameter set.
// The text is normalized first; params are serialized with sorted keys.
func Key(text string, params map[string]any) (string, error) {
	var paramStr string
	if len(params) > 0 {
		data, err := json.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("encode key params: %w", err)
		}
		paramStr = string(data)
	}
	return Text(NormalizeText(text) + "|" + paramStr), nil
}
