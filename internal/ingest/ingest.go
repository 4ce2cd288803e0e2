// Package ingest loads cluster source files into the botlabel store.
//
// A source file is the output of the upstream clustering job: a sequence of
// clusters, each an embedding matrix plus the parallel list of raw user-id
// tokens. Each supported format (JSON, JSON Lines, YAML) has its own reader
// implementing the Reader interface; the loader picks one by file extension
// and transparently decompresses a trailing .zst.
package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// DefaultIDPrefix is the single character the upstream export puts in front
// of every user id.
const DefaultIDPrefix = "@"

// RawCluster is one cluster as it appears in a source file.
// Embeddings and UserIDs are parallel by row.
type RawCluster struct {
	Embeddings [][]float32 `json:"embeddings" yaml:"embeddings"`
	UserIDs    []string    `json:"user_ids" yaml:"user_ids"`
}

// Reader parses one source format.
type Reader interface {
	// CanHandle returns true if this reader supports the given file name
	// (compression suffix already removed).
	CanHandle(name string) bool

	// Read parses every cluster, in source order.
	Read(ctx context.Context, r io.Reader) ([]RawCluster, error)
}

// DefaultReaders returns the built-in readers.
func DefaultReaders() []Reader {
	return []Reader{&JSONReader{}, &JSONLReader{}, &YAMLReader{}}
}

// LoadResult summarizes a successful load.
type LoadResult struct {
	RunID      string        `json:"run_id"`
	Source     string        `json:"source"`
	Clusters   int           `json:"clusters"`
	Users      int           `json:"users"`
	Dimensions int           `json:"dimensions"`
	Duration   time.Duration `json:"duration"`
}

// FormatLoadResult renders a result for terminal output.
func FormatLoadResult(r *LoadResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Loaded %s\n", r.Source)
	fmt.Fprintf(&b, "  Clusters:   %d\n", r.Clusters)
	fmt.Fprintf(&b, "  Users:      %d\n", r.Users)
	if r.Dimensions > 0 {
		fmt.Fprintf(&b, "  Dimensions: %d\n", r.Dimensions)
	}
	fmt.Fprintf(&b, "  Run:        %s (%s)\n", r.RunID, r.Duration.Round(time.Millisecond))
	return b.String()
}
