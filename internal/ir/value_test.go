package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	var _ Value = Null{}
	var _ Value = String("test")
	var _ Value = Int(42)
	var _ Value = Float(1.5)
	var _ Value = Bool(true)
	var _ Value = Array{String("a"), Int(1)}
	var _ Value = Object{"key": String("value")}
}

func TestObjectSortedKeys(t *testing.T) {
	obj := Object{
		"zebra":  String("z"),
		"apple":  String("a"),
		"banana": String("b"),
	}

	assert.Equal(t, []string{"apple", "banana", "zebra"}, obj.SortedKeys())
}

func TestSortedKeysUTF16Order(t *testing.T) {
	// U+10000 encodes as a surrogate pair starting 0xD800, which sorts before
	// U+E000 in UTF-16 even though its UTF-8 encoding sorts after.
	obj := Object{
		"\uE000":     Int(1),
		"\U00010000": Int(2),
		"A":          Int(3),
		"a":          Int(4),
	}

	assert.Equal(t, []string{"A", "a", "\U00010000", "\uE000"}, obj.SortedKeys())
}

func TestCompareKeysRFC8785(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"a", "b", -1},
		{"b", "a", 1},
		{"a", "a", 0},
		{"a", "aa", -1},
		{"", "a", -1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, compareKeysRFC8785(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestUnmarshalValueKeepsIntegersExact(t *testing.T) {
	v, err := UnmarshalValue([]byte(`{"big":9007199254740993,"f":1.25,"n":null,"b":false,"l":["x",2]}`))
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, Int(9007199254740993), obj["big"])
	assert.Equal(t, Float(1.25), obj["f"])
	assert.Equal(t, Null{}, obj["n"])
	assert.Equal(t, Bool(false), obj["b"])
	assert.Equal(t, Array{String("x"), Int(2)}, obj["l"])
}

func TestUnmarshalValueRejectsInvalidJSON(t *testing.T) {
	_, err := UnmarshalValue([]byte(`{"a":`))
	require.Error(t, err)
}

func TestObjectUnmarshalJSONRejectsNonObject(t *testing.T) {
	var obj Object
	err := json.Unmarshal([]byte(`[1,2]`), &obj)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected JSON object")
}

func TestMarshalValueRoundTrip(t *testing.T) {
	original := Object{
		"title": String("Hello"),
		"count": Int(3),
		"ratio": Float(0.25),
		"tags":  Array{String("a"), String("b")},
		"meta":  Object{"draft": Bool(true), "none": Null{}},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Equal(t, `{"count":3,"meta":{"draft":true,"none":null},"ratio":0.25,"tags":["a","b"],"title":"Hello"}`, string(data))

	var decoded Object
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, Equal(original, decoded))
}

func TestNumberValueOf(t *testing.T) {
	assert.Equal(t, Int(4), NumberValueOf(4.0))
	assert.Equal(t, Int(-12), NumberValueOf(-12))
	assert.Equal(t, Float(4.5), NumberValueOf(4.5))
}

func TestFromGoAndToGo(t *testing.T) {
	in := map[string]any{
		"s": "x",
		"i": 7,
		"f": 2.5,
		"l": []any{true, nil},
		"m": map[any]any{"k": "v"},
	}

	v, err := FromGo(in)
	require.NoError(t, err)
	assert.Equal(t, Object{
		"s": String("x"),
		"i": Int(7),
		"f": Float(2.5),
		"l": Array{Bool(true), Null{}},
		"m": Object{"k": String("v")},
	}, v)

	out := ToGo(v).(map[string]any)
	assert.Equal(t, "x", out["s"])
	assert.Equal(t, int64(7), out["i"])
	assert.Equal(t, []any{true, nil}, out["l"])
}

func TestFromGoRejectsUnsupported(t *testing.T) {
	_, err := FromGo(map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")

	_, err = FromGo(map[any]any{1: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a string")
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Int(1), Float(1)))
	assert.True(t, Equal(nil, Null{}))
	assert.True(t, Equal(Object{"a": Array{Int(1)}}, Object{"a": Array{Int(1)}}))
	assert.False(t, Equal(Object{"a": Int(1)}, Object{"b": Int(1)}))
	assert.False(t, Equal(String("1"), Int(1)))
	assert.False(t, Equal(Array{Int(1)}, Array{Int(1), Int(2)}))
}

func TestCloneIsDeep(t *testing.T) {
	original := Object{"nested": Object{"list": Array{Int(1)}}}
	clone := original.Clone()

	clone["nested"].(Object)["list"].(Array)[0] = Int(99)
	assert.Equal(t, Int(1), original["nested"].(Object)["list"].(Array)[0])
}
