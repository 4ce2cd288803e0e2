package store

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEmbedding_LittleEndian(t *testing.T) {
	buf := EncodeEmbedding([]float32{1.0})
	// 1.0f = 0x3f800000
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, buf)
}

func TestDecodeEmbedding(t *testing.T) {
	want := []float32{0, -1.5, float32(math.Inf(1)), 3.4028235e38}
	got, err := DecodeEmbedding(EncodeEmbedding(want), len(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = DecodeEmbedding(nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeEmbedding_BadSize(t *testing.T) {
	_, err := DecodeEmbedding([]byte{1, 2, 3}, 0)
	assert.ErrorIs(t, err, ErrEmbeddingSize)

	_, err = DecodeEmbedding(EncodeEmbedding([]float32{1, 2}), 3)
	assert.ErrorIs(t, err, ErrEmbeddingSize)
}

func TestClusterEmbeddings_CorruptBlob(t *testing.T) {
	s := newTestStore(t)
	_, err := s.db.Exec("INSERT INTO users (user_id, cluster_id, embedding) VALUES ('x', 0, ?)", []byte{1, 2, 3})
	require.NoError(t, err)

	_, err = s.ClusterEmbeddings(t.Context(), 0)
	assert.ErrorIs(t, err, ErrEmbeddingSize)
}
