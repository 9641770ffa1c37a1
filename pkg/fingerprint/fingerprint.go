// Package fingerprint produces canonical encodings and content hashes.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Hash domains. The version suffix allows the algorithm to change without colliding.
const (
	DomainEntityIdentity = "fern/entity-identity/v1"
	DomainRelationship   = "fern/relationship/v1"
	DomainSnapshot       = "fern/snapshot/v1"
	DomainOwner          = "fern/owner/v1"
)

// ContentHash is the hex SHA-256 of raw bytes.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashWithDomain computes SHA256(domain || 0x00 || data).
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Canonicalize renders v with sorted object keys and no insignificant whitespace.
func Canonicalize(v any) string {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			keyJSON, _ := json.Marshal(k)
			b.Write(keyJSON)
			b.WriteByte(':')
			b.WriteString(Canonicalize(t[k]))
		}
		b.WriteByte('}')
		return b.String()
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(Canonicalize(item))
		}
		b.WriteByte(']')
		return b.String()
	default:
		out, _ := json.Marshal(t)
		return string(out)
	}
}

// CanonicalJSON decodes raw and re-encodes it canonically, so that values that
// differ only in key order or whitespace compare equal.
func CanonicalJSON(raw json.RawMessage) (string, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	return Canonicalize(v), nil
}

// Generate fingerprints a JSON object.
func Generate(data map[string]any) string {
	return HashWithDomain(DomainSnapshot, []byte(Canonicalize(data)))
}
