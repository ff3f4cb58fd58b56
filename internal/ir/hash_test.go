package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsHashDeterminism(t *testing.T) {
	fields := Object{"title": String("Hello"), "count": Int(2)}

	h1, err := FieldsHash(fields)
	require.NoError(t, err)
	h2, err := FieldsHash(Object{"count": Int(2), "title": String("Hello")})
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "key order must not affect the hash")
	assert.Len(t, h1, 64)
}

func TestFieldsHashChangesWithContent(t *testing.T) {
	h1, err := FieldsHash(Object{"title": String("Hello")})
	require.NoError(t, err)
	h2, err := FieldsHash(Object{"title": String("Hello!")})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestDomainSeparationPreventsCrossTypeCollision(t *testing.T) {
	obj := Object{"a": Int(1)}

	schemaHash, err := SchemaHash(obj)
	require.NoError(t, err)
	fieldsHash, err := FieldsHash(obj)
	require.NoError(t, err)

	assert.NotEqual(t, schemaHash, fieldsHash)
}

func TestHashWithDomainNullSeparator(t *testing.T) {
	expected := sha256.Sum256([]byte("folio/fields/v1\x00{}"))
	assert.Equal(t, hex.EncodeToString(expected[:]), hashWithDomain(DomainFields, []byte("{}")))
}

func TestFieldsHashNFCNormalized(t *testing.T) {
	h1, err := FieldsHash(Object{"title": String("caf\u00e9")})
	require.NoError(t, err)
	h2, err := FieldsHash(Object{"title": String("cafe\u0301")})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}
