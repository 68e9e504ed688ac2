package jsonx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringify(t *testing.T) {
	assert.Equal(t, "abc", Stringify("abc"))
	assert.Equal(t, "raw", Stringify([]byte("raw")))
	assert.Equal(t, "42", Stringify(42))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "null", Stringify(nil))
	assert.Equal(t, `{"a":1,"b":[1,2],"c":"<x>"}`, Stringify(map[string]any{"c": "<x>", "b": []any{1, 2}, "a": 1}))
}

func TestStringify_Deterministic(t *testing.T) {
	v := map[string]any{"z": 1, "y": map[string]any{"b": 2, "a": 1}, "x": 0}
	first := Stringify(v)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Stringify(v))
	}
}

func TestDecode(t *testing.T) {
	v, ok := Decode([]byte(`{"token":"abc","n":1}`))
	require.True(t, ok)
	m := v.(map[string]any)
	assert.Equal(t, "abc", m["token"])
	assert.Equal(t, float64(1), m["n"])

	_, ok = Decode([]byte("not json"))
	assert.False(t, ok)
	_, ok = Decode(nil)
	assert.False(t, ok)
}

func TestFromJSONBytes(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	p, err := FromJSONBytes[payload]([]byte(`{"name":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "x", p.Name)
}

func TestMarshalIndent(t *testing.T) {
	out, err := MarshalIndent(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Contains(t, string(out), "\n  \"a\": 1")
}
