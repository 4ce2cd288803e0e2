package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// JSONReader handles .json files holding an array of clusters.
type JSONReader struct{}

// CanHandle returns true for JSON file extensions.
func (j *JSONReader) CanHandle(name string) bool {
	return strings.ToLower(filepath.Ext(name)) == ".json"
}

// Read decodes the top-level array. An empty file is an empty list;
// anything after the array is an error.
func (j *JSONReader) Read(ctx context.Context, r io.Reader) ([]RawCluster, error) {
	dec := json.NewDecoder(r)
	var clusters []RawCluster
	if err := dec.Decode(&clusters); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("invalid JSON cluster list: %w", err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid JSON cluster list: unexpected data after the array (offset %d)", dec.InputOffset())
	}
	return clusters, nil
}

// JSONLReader handles .jsonl and .ndjson files with one cluster per line.
type JSONLReader struct{}

// CanHandle returns true for JSON Lines file extensions.
func (j *JSONLReader) CanHandle(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".jsonl" || ext == ".ndjson"
}

// Read decodes clusters one value at a time; blank lines are skipped.
func (j *JSONLReader) Read(ctx context.Context, r io.Reader) ([]RawCluster, error) {
	dec := json.NewDecoder(r)
	var clusters []RawCluster
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var c RawCluster
		err := dec.Decode(&c)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid JSON in cluster %d: %w", len(clusters), err)
		}
		clusters = append(clusters, c)
	}
	return clusters, nil
}
