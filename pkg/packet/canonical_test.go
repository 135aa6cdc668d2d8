package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeRaw(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
	}{
		{
			name: "key order does not matter",
			a:    `{"b":1,"a":2}`,
			b:    `{"a":2,"b":1}`,
		},
		{
			name: "whitespace does not matter",
			a:    `{ "a" : [ 1, 2 ] }`,
			b:    `{"a":[1,2]}`,
		},
		{
			name: "null members equal absent members",
			a:    `{"a":1,"b":null}`,
			b:    `{"a":1}`,
		},
		{
			name: "integer-valued floats normalize",
			a:    `{"n":1.0}`,
			b:    `{"n":1}`,
		},
		{
			name: "nested objects canonicalize recursively",
			a:    `{"outer":{"y":2,"x":1}}`,
			b:    `{"outer":{"x":1,"y":2}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ca, err := CanonicalizeRaw([]byte(tt.a))
			require.NoError(t, err)
			cb, err := CanonicalizeRaw([]byte(tt.b))
			require.NoError(t, err)
			assert.Equal(t, string(ca), string(cb))
		})
	}
}

func TestCanonicalizeRawOrderSensitive(t *testing.T) {
	// Array order is semantic and must survive canonicalization.
	ca, err := CanonicalizeRaw([]byte(`{"a":[1,2]}`))
	require.NoError(t, err)
	cb, err := CanonicalizeRaw([]byte(`{"a":[2,1]}`))
	require.NoError(t, err)
	assert.NotEqual(t, string(ca), string(cb))
}

func TestContentHashRawDeterminism(t *testing.T) {
	h1, err := ContentHashRaw([]byte(`{"vector_data":{"chunks":[{"chunk_id":"c1","text":"hi"}],"embedding_model":"m"}}`))
	require.NoError(t, err)
	h2, err := ContentHashRaw([]byte(`{ "vector_data" : { "embedding_model":"m", "chunks":[{"text":"hi","chunk_id":"c1"}] } }`))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashContentMatchesRawHash(t *testing.T) {
	content := &Content{
		VectorData: &VectorData{
			Chunks:         []Chunk{{ChunkID: "c1", Text: "Thermal constraints: max 85°C"}},
			EmbeddingModel: "gemini-embedding-001",
			ChunkSize:      512,
		},
	}
	h, err := HashContent(content)
	require.NoError(t, err)
	assert.Len(t, h, 64)

	// Hashing twice must be stable.
	h2, err := HashContent(content)
	require.NoError(t, err)
	assert.Equal(t, h, h2)
}
