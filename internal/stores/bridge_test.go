package stores

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalinterpret/internal/types"
)

func TestBridgeStoreRoundTrip(t *testing.T) {
	b, err := NewBridgeStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	ctx := context.Background()
	chunkID := "11111111-1111-1111-1111-111111111111"

	require.NoError(t, b.Upsert(ctx, types.BridgeMapping{
		ChunkID:     chunkID,
		NodeURN:     "urn:norma:cc:1218",
		MappingType: types.MappingPrimary,
		Confidence:  types.ConfidencePrimary,
	}))
	require.NoError(t, b.Upsert(ctx, types.BridgeMapping{
		ChunkID:      chunkID,
		NodeURN:      "urn:norma:cc:libro4",
		MappingType:  types.MappingHierarchic,
		Confidence:   types.ConfidenceLibro,
		RelationType: "contiene",
	}))

	mappings := b.GetNodesForChunk(ctx, chunkID)
	require.Len(t, mappings, 2)

	byURN := make(map[string]types.BridgeMapping, len(mappings))
	for _, m := range mappings {
		byURN[m.NodeURN] = m
	}
	assert.Equal(t, types.MappingPrimary, byURN["urn:norma:cc:1218"].MappingType)
	assert.Equal(t, types.ConfidencePrimary, byURN["urn:norma:cc:1218"].Confidence)
	assert.Equal(t, types.MappingHierarchic, byURN["urn:norma:cc:libro4"].MappingType)
	assert.Equal(t, "contiene", byURN["urn:norma:cc:libro4"].RelationType)
}

func TestBridgeStoreUpsertReplaces(t *testing.T) {
	b, err := NewBridgeStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	ctx := context.Background()
	m := types.BridgeMapping{
		ChunkID:     "c1",
		NodeURN:     "urn:x",
		MappingType: types.MappingHierarchic,
		Confidence:  types.ConfidenceCapo,
	}
	require.NoError(t, b.Upsert(ctx, m))

	m.MappingType = types.MappingPrimary
	m.Confidence = types.ConfidencePrimary
	require.NoError(t, b.Upsert(ctx, m))

	mappings := b.GetNodesForChunk(ctx, "c1")
	require.Len(t, mappings, 1)
	assert.Equal(t, types.MappingPrimary, mappings[0].MappingType)
	assert.Equal(t, types.ConfidencePrimary, mappings[0].Confidence)
}

func TestBridgeStoreUnknownChunk(t *testing.T) {
	b, err := NewBridgeStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	assert.Empty(t, b.GetNodesForChunk(context.Background(), "sconosciuto"))
}
