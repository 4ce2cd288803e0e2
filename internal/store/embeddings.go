package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeEmbedding packs a vector as little-endian float32 with no header.
func EncodeEmbedding(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding unpacks a BLOB written by EncodeEmbedding.
// dims > 0 additionally requires exactly dims elements.
func DecodeEmbedding(buf []byte, dims int) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of 4", ErrEmbeddingSize, len(buf))
	}
	if dims > 0 && len(buf) != dims*4 {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrEmbeddingSize, len(buf), dims*4)
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// ClusterEmbeddings returns the embeddings of every member of a cluster in
// insertion order, the same order ClusterUserIDs uses.
// A cluster with no members yields an empty, non-nil slice.
func (s *SQLiteStore) ClusterEmbeddings(ctx context.Context, clusterID int64) ([][]float32, error) {
	dims, err := s.EmbeddingDimensions(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT embedding FROM users WHERE cluster_id = ? ORDER BY rowid", clusterID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings for cluster %d: %w", clusterID, err)
	}
	defer rows.Close()

	out := make([][]float32, 0)
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scanning embedding row: %w", err)
		}
		vec, err := DecodeEmbedding(blob, dims)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding in cluster %d: %w", clusterID, err)
		}
		out = append(out, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embeddings for cluster %d: %w", clusterID, err)
	}
	return out, nil
}
