package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/hurttlocker/botlabel/internal/metrics"
	"github.com/hurttlocker/botlabel/internal/store"
)

const zstdExt = ".zst"

// ClusterInserter is the storage the loader writes to.
type ClusterInserter interface {
	InsertClusters(ctx context.Context, clusters []store.ClusterEntry) (*store.InsertResult, error)
}

// Options configures a Loader.
type Options struct {
	// IDPrefix is stripped from every raw user-id token. Empty keeps tokens
	// as they are.
	IDPrefix string
	Readers  []Reader
	Logger   *zap.Logger
}

// Loader is the cluster load engine.
type Loader struct {
	st       ClusterInserter
	idPrefix string
	readers  []Reader
	logger   *zap.Logger
}

// NewLoader creates a loader writing to st.
func NewLoader(st ClusterInserter, opts Options) *Loader {
	readers := opts.Readers
	if len(readers) == 0 {
		readers = DefaultReaders()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		st:       st,
		idPrefix: opts.IDPrefix,
		readers:  readers,
		logger:   logger,
	}
}

// Load reads a cluster source file and inserts every cluster in a single
// transaction. A non-nil error means nothing from this call was stored.
func (l *Loader) Load(ctx context.Context, path string) (*LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		l.recordFailure("", path, err)
		return nil, fmt.Errorf("opening cluster source: %w", err)
	}
	defer f.Close()

	return l.LoadReader(ctx, filepath.Base(path), f)
}

// LoadReader is Load for an already open source. name selects the format.
func (l *Loader) LoadReader(ctx context.Context, name string, r io.Reader) (*LoadResult, error) {
	runID := uuid.NewString()
	start := time.Now()

	res, err := l.load(ctx, runID, name, r)
	if err != nil {
		l.recordFailure(runID, name, err)
		return nil, err
	}

	res.Duration = time.Since(start)
	metrics.LoadsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.LoadedUsersTotal.Add(float64(res.Users))
	l.logger.Info("clusters loaded",
		zap.String("run_id", runID),
		zap.String("source", name),
		zap.Int("clusters", res.Clusters),
		zap.Int("users", res.Users),
		zap.Int("dimensions", res.Dimensions),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (l *Loader) load(ctx context.Context, runID, name string, r io.Reader) (*LoadResult, error) {
	format := name
	if strings.EqualFold(filepath.Ext(name), zstdExt) {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		defer dec.Close()
		r = dec
		format = strings.TrimSuffix(name, filepath.Ext(name))
	}

	reader := l.readerFor(format)
	if reader == nil {
		return nil, fmt.Errorf("unsupported cluster source format: %s", name)
	}

	raw, err := reader.Read(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}

	entries, err := BuildEntries(raw, l.idPrefix)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}

	for _, e := range entries {
		l.logger.Debug("inserting cluster",
			zap.String("run_id", runID),
			zap.Int64("cluster_id", e.ClusterID),
			zap.Int("users", len(e.UserIDs)),
		)
	}

	ins, err := l.st.InsertClusters(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("storing clusters from %s: %w", name, err)
	}

	return &LoadResult{
		RunID:      runID,
		Source:     name,
		Clusters:   len(entries),
		Users:      ins.Users,
		Dimensions: ins.Dimensions,
	}, nil
}

func (l *Loader) readerFor(name string) Reader {
	for _, r := range l.readers {
		if r.CanHandle(name) {
			return r
		}
	}
	return nil
}

func (l *Loader) recordFailure(runID, source string, err error) {
	metrics.LoadsTotal.WithLabelValues(metrics.ResultFailure).Inc()
	l.logger.Error("failed to load clusters",
		zap.String("run_id", runID),
		zap.String("source", source),
		zap.Error(err),
	)
}

// BuildEntries assigns 0-based cluster ids in source order and strips the
// id prefix from every token. A cluster without users still consumes its id.
func BuildEntries(raw []RawCluster, idPrefix string) ([]store.ClusterEntry, error) {
	entries := make([]store.ClusterEntry, 0, len(raw))
	for i, c := range raw {
		if len(c.UserIDs) != len(c.Embeddings) {
			return nil, fmt.Errorf("cluster %d: %d user ids but %d embedding rows",
				i, len(c.UserIDs), len(c.Embeddings))
		}
		ids := make([]string, len(c.UserIDs))
		for j, token := range c.UserIDs {
			id, err := StripIDPrefix(token, idPrefix)
			if err != nil {
				return nil, fmt.Errorf("cluster %d row %d: %w", i, j, err)
			}
			ids[j] = id
		}
		entries = append(entries, store.ClusterEntry{
			ClusterID:  int64(i),
			UserIDs:    ids,
			Embeddings: c.Embeddings,
		})
	}
	return entries, nil
}

// StripIDPrefix removes prefix from a raw user-id token. A token without the
// prefix, or with nothing after it, breaks the export contract.
func StripIDPrefix(token, prefix string) (string, error) {
	if prefix == "" {
		if token == "" {
			return "", fmt.Errorf("empty user id")
		}
		return token, nil
	}
	if !strings.HasPrefix(token, prefix) {
		return "", fmt.Errorf("user id %q missing prefix %q", token, prefix)
	}
	id := token[len(prefix):]
	if id == "" {
		return "", fmt.Errorf("user id %q is empty after prefix", token)
	}
	return id, nil
}
