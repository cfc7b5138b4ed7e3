// Package hashing provides the canonical JSON encoding and SHA-256 helpers
// used throughout the node — by proof admission (§4.5 step 4), the Merkle
// batcher (§4.6), and the claim composer (§4.9). Canonicalization is
// grounded on certenIO-certen-validator's pkg/commitment.CanonicalizeJSON;
// see SPEC_FULL.md §9 for the open-question decision this resolves.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

var hashPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)

// IsValidHash reports whether s is a 32-byte hex digest, optionally
// "0x"-prefixed (§4.5 step 1).
func IsValidHash(s string) bool {
	return hashPattern.MatchString(s)
}

// Normalize lowercases a hash and ensures it carries the "0x" prefix used
// throughout responses.
func Normalize(s string) string {
	if len(s) < 2 || s[0:2] != "0x" {
		s = "0x" + s
	}
	return "0x" + toLowerHex(s[2:])
}

func toLowerHex(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'F' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// SHA256 returns the raw SHA-256 digest of data.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// SHA256Hex returns the "0x"-prefixed hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return "0x" + hex.EncodeToString(h[:])
}

// Concat returns the SHA-256 digest of the concatenation of parts.
func Concat(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ConcatHex returns the "0x"-prefixed hex SHA-256 digest of the
// concatenation of parts, used for the compound hash
// H(content_hash || process_digest) (§4.5 step 4, GLOSSARY "Compound hash").
func ConcatHex(parts ...[]byte) string {
	digest := Concat(parts...)
	return "0x" + hex.EncodeToString(digest[:])
}

// CanonicalJSON produces the deterministic encoding fixed by SPEC_FULL.md §9:
// recursive key-sorted JSON, no inter-token whitespace, Go's default number
// formatting. It is the canonicalization recomputed over processMetrics
// before comparing against a claimed processDigest (§4.5 step 4).
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("unmarshal for canonicalization: %w", err)
	}
	canonical := canonicalizeValue(decoded)
	return json.Marshal(canonical)
}

// CanonicalDigestHex hashes v's canonical JSON form and returns the
// "0x"-prefixed hex digest.
func CanonicalDigestHex(v interface{}) (string, error) {
	canon, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(canon), nil
}

func canonicalizeValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]interface{}, len(vv))
		for _, k := range keys {
			ordered[k] = canonicalizeValue(vv[k])
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = canonicalizeValue(e)
		}
		return out
	default:
		return vv
	}
}
