package ir

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int64", int64(-100), "-100"},
		{"max int64", int64(9223372036854775807), "9223372036854775807"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"null", nil, "null"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"array of ints", []any{1, 2, 3}, "[1,2,3]"},
		{"string slice", []string{"b", "a"}, `["b","a"]`},
		{"simple object", map[string]any{"a": 1}, `{"a":1}`},
		{"integral float", 3.0, "3"},
		{"fraction", 0.5, "0.5"},
		{"large float", 1e21, "1e+21"},
		{"small float", 1e-7, "1e-7"},
		{"json number int", json.Number("12"), "12"},
		{"json number float", json.Number("1.50"), "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"zebra": 1,
		"alpha": 2,
		"beta":  map[string]any{"y": 1, "x": 2},
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":{"x":2,"y":1},"zebra":1}`, string(result))
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D 0xDE00, which sort BEFORE U+FFFD
	// in UTF-16 but AFTER it in UTF-8.
	obj := map[string]any{
		"\ufffd":     1,
		"\U0001F600": 2,
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\ufffd\":1}", string(result))
}

func TestMarshalCanonicalNoHTMLEscaping(t *testing.T) {
	result, err := MarshalCanonical("<a href=\"x\">&</a> ")
	require.NoError(t, err)
	assert.Equal(t, "\"<a href=\\\"x\\\">&</a> \"", string(result))
}

func TestMarshalCanonicalControlCharacters(t *testing.T) {
	result, err := MarshalCanonical("a\nb\tc\x01")
	require.NoError(t, err)
	assert.Equal(t, `"a\nb\tc\u0001"`, string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	// "e" + combining acute accent normalizes to U+00E9.
	decomposed, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	composed, err := MarshalCanonical("\u00e9")
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonicalTime(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 5, time.FixedZone("X", 3600))
	result, err := MarshalCanonical(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2026-03-01T11:00:00.000000005Z"`, string(result))
}

func TestMarshalCanonicalRejects(t *testing.T) {
	_, err := MarshalCanonical(math.NaN())
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `value for key "ch"`)
}

func TestMarshalCanonicalDeterministicAcrossMapOrder(t *testing.T) {
	for i := 0; i < 20; i++ {
		obj := map[string]any{}
		for _, k := range []string{"k1", "k2", "k3", "k4", "k5", "k6"} {
			obj[k] = k
		}
		result, err := MarshalCanonical(obj)
		require.NoError(t, err)
		assert.Equal(t, `{"k1":"k1","k2":"k2","k3":"k3","k4":"k4","k5":"k5","k6":"k6"}`, string(result))
	}
}

func TestDecodeObjectKeepsNumbers(t *testing.T) {
	obj, err := DecodeObject([]byte(`{"n": 10, "f": 2.25, "s": "x"}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("10"), obj["n"])

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"f":2.25,"n":10,"s":"x"}`, string(result))
}

func TestNormalizeJSONNil(t *testing.T) {
	obj, err := NormalizeJSON(nil)
	require.NoError(t, err)
	assert.Empty(t, obj)
}
