package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainSchema = "folio/schema/v1"
	DomainFields = "folio/fields/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SchemaHash computes the content hash of a schema specification. The spec
// is passed in its generic JSON form so ir does not depend on the schema
// package.
func SchemaHash(spec Object) (string, error) {
	canonical, err := MarshalCanonical(spec)
	if err != nil {
		return "", fmt.Errorf("SchemaHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSchema, canonical), nil
}

// FieldsHash computes the content hash of a normalized entity field document.
// Two versions with the same hash carry identical field values.
func FieldsHash(fields Object) (string, error) {
	canonical, err := MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("FieldsHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainFields, canonical), nil
}
