// Package ir provides the shared value and record types of the folio
// content repository.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps it the
// foundational layer with no circular dependencies.
//
// Two value representations coexist:
//   - Value (Null, String, Int, Float, Bool, Array, Object) is the generic
//     JSON form in which field documents are stored and carried on the wire.
//   - FieldValue (StringValue, NumberValue, ..., RichTextValue) is the typed
//     form produced by the codec after decoding against a schema.
//
// Key design constraints:
//   - Integers never pass through float64 (json.Number decoding)
//   - Canonical JSON (RFC 8785 key order, NFC strings) for every hash and cursor
//   - Every repository failure is an *Error with an ErrorKind
//   - JSON tags use camelCase to match the wire format of entity documents
package ir
