// Package canonhash produces the canonical JSON form of signed payloads and
// its SHA-256 digest. Struct fields marshal in declaration order and map
// keys sort lexically, so two holders of the same payload always hash the
// same bytes.
package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Canonical returns the canonical JSON bytes for v. Work-report signatures
// are computed over exactly these bytes.
func Canonical(v any) ([]byte, error) {
	return json.Marshal(v)
}

// SumObject returns "sha256:<hex>" of the canonical JSON form of v along
// with the canonical bytes themselves.
func SumObject(v any) (string, []byte, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), b, nil
}
