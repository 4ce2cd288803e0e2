package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// YAMLReader handles .yaml and .yml files holding a sequence of clusters.
type YAMLReader struct{}

// CanHandle returns true for YAML file extensions.
func (y *YAMLReader) CanHandle(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Read decodes every YAML document in the stream and concatenates their
// clusters in order. An empty file is an empty list.
func (y *YAMLReader) Read(ctx context.Context, r io.Reader) ([]RawCluster, error) {
	dec := yaml.NewDecoder(r)
	var clusters []RawCluster
	for doc := 0; ; doc++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var batch []RawCluster
		err := dec.Decode(&batch)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid YAML cluster list in document %d: %w", doc, err)
		}
		clusters = append(clusters, batch...)
	}
	return clusters, nil
}
