package store

import (
	"encoding/base64"

	"github.com/roach88/folio/internal/ir"
)

// EncodeCursor renders ordering key values as base64url (unpadded)
// canonical JSON.
func EncodeCursor(keys ir.Array) (string, error) {
	data, err := ir.MarshalCanonical(keys)
	if err != nil {
		return "", ir.NewGeneric(err, "encode cursor")
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor reverses EncodeCursor. Malformed cursors are BadRequest.
func DecodeCursor(cursor string) (ir.Array, error) {
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ir.NewBadRequest("invalid cursor %q", cursor)
	}
	v, err := ir.UnmarshalValue(data)
	if err != nil {
		return nil, ir.NewBadRequest("invalid cursor %q", cursor)
	}
	keys, ok := v.(ir.Array)
	if !ok || len(keys) == 0 {
		return nil, ir.NewBadRequest("invalid cursor %q", cursor)
	}
	return keys, nil
}
