package ingest

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/botlabel/internal/metrics"
	"github.com/hurttlocker/botlabel/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(store.Config{DBPath: store.MemoryDBPath})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const twoClustersJSON = `[
  {"embeddings": [[1.0, 2.5, -3.25]], "user_ids": ["@alice"]},
  {"embeddings": [[0.5, 0.5, 0.5]], "user_ids": ["@bob"]}
]`

func TestLoad_JSON(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loader := NewLoader(s, Options{IDPrefix: DefaultIDPrefix})

	res, err := loader.Load(ctx, writeFile(t, "clusters.json", twoClustersJSON))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Clusters)
	assert.Equal(t, 2, res.Users)
	assert.Equal(t, 3, res.Dimensions)
	assert.NotEmpty(t, res.RunID)

	ids, err := s.ClusterUserIDs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, ids)

	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.ClusterID)
	assert.Equal(t, store.LabelUnassigned, u.Label)

	embs, err := s.ClusterEmbeddings(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1.0, 2.5, -3.25}}, embs)

	ids, err = s.ClusterUserIDs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, ids)
}

func TestLoad_JSONL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := `{"embeddings": [[1, 1], [2, 2]], "user_ids": ["@a", "@b"]}

{"embeddings": [], "user_ids": []}
{"embeddings": [[3, 3]], "user_ids": ["@c"]}
`
	res, err := NewLoader(s, Options{IDPrefix: "@"}).Load(ctx, writeFile(t, "clusters.jsonl", content))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Clusters)
	assert.Equal(t, 3, res.Users)

	// The empty cluster consumed id 1.
	ids, err := s.ClusterUserIDs(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.ClusterUserIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids)
}

func TestLoad_YAML(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := `- embeddings:
    - [0.25, 0.75]
  user_ids: ["#x"]
`
	_, err := NewLoader(s, Options{IDPrefix: "#"}).Load(ctx, writeFile(t, "clusters.yaml", content))
	require.NoError(t, err)

	u, err := s.GetUser(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.75}, u.Embedding)
}

func TestLoad_YAMLMultiDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := `- embeddings: [[1, 0]]
  user_ids: ["@a"]
---
- embeddings: [[0, 1]]
  user_ids: ["@b"]
- embeddings: [[1, 1]]
  user_ids: ["@c"]
`
	res, err := NewLoader(s, Options{IDPrefix: "@"}).Load(ctx, writeFile(t, "clusters.yml", content))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Clusters)

	for id, want := range []string{"a", "b", "c"} {
		ids, err := s.ClusterUserIDs(ctx, int64(id))
		require.NoError(t, err)
		assert.Equal(t, []string{want}, ids)
	}
}

func TestLoad_Zstd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write([]byte(twoClustersJSON))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	res, err := NewLoader(s, Options{IDPrefix: "@"}).LoadReader(ctx, "clusters.json.zst", &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Users)
}

func TestLoad_EmptyList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loader := NewLoader(s, Options{IDPrefix: "@"})

	for name, content := range map[string]string{
		"empty.json":  "[]",
		"blank.json":  "",
		"empty.jsonl": "\n\n",
		"empty.yaml":  "",
	} {
		res, err := loader.Load(ctx, writeFile(t, name, content))
		require.NoError(t, err, name)
		assert.Zero(t, res.Clusters, name)
		assert.Zero(t, res.Users, name)
	}
}

func TestLoad_DuplicateRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Third row of five repeats the first user.
	content := `[{"embeddings": [[1],[2],[3],[4],[5]], "user_ids": ["@u1","@u2","@u1","@u3","@u4"]}]`
	_, err := NewLoader(s, Options{IDPrefix: "@"}).Load(ctx, writeFile(t, "dup.json", content))
	require.Error(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Users)
}

func TestLoad_FailureKeepsEarlierLoads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loader := NewLoader(s, Options{IDPrefix: "@"})

	_, err := loader.Load(ctx, writeFile(t, "ok.json", twoClustersJSON))
	require.NoError(t, err)

	// Same ids again: cluster 0 / alice collides.
	_, err = loader.Load(ctx, writeFile(t, "again.json", twoClustersJSON))
	require.Error(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Users)
}

func TestLoad_Errors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loader := NewLoader(s, Options{IDPrefix: "@"})

	cases := map[string]string{
		"bad.json":      `[{"embeddings": [[1]], "user_ids": [`,
		"mismatch.json": `[{"embeddings": [[1],[2]], "user_ids": ["@a"]}]`,
		"noprefix.json": `[{"embeddings": [[1]], "user_ids": ["a"]}]`,
		"dims.json":     `[{"embeddings": [[1, 2],[3]], "user_ids": ["@a", "@b"]}]`,
		"clusters.pkl":  `not supported`,
		"trailing.json": `[{"embeddings": [[1]], "user_ids": ["@a"]}] {"this is": not json`,
		"second.json":   `[{"embeddings": [[1]], "user_ids": ["@a"]}] []`,
		"bad.yaml":      "- user_ids: [\"@a\"]\n  embeddings: [[1]]\n---\n- user_ids: [\n",
	}
	for name, content := range cases {
		_, err := loader.Load(ctx, writeFile(t, name, content))
		assert.Error(t, err, name)
	}

	_, err := loader.Load(ctx, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Users)
}

func TestStripIDPrefix(t *testing.T) {
	id, err := StripIDPrefix("@alice", "@")
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	id, err = StripIDPrefix("alice", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	_, err = StripIDPrefix("@", "@")
	assert.Error(t, err)

	_, err = StripIDPrefix("alice", "@")
	assert.Error(t, err)
}

func TestBuildEntries_SequentialIDs(t *testing.T) {
	entries, err := BuildEntries([]RawCluster{
		{UserIDs: []string{"@a"}, Embeddings: [][]float32{{1}}},
		{},
		{UserIDs: []string{"@b"}, Embeddings: [][]float32{{2}}},
	}, "@")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, int64(i), e.ClusterID)
	}
	assert.Equal(t, []string{"b"}, entries[2].UserIDs)
}

func TestFormatLoadResult(t *testing.T) {
	out := FormatLoadResult(&LoadResult{RunID: "r1", Source: "c.json", Clusters: 2, Users: 5, Dimensions: 8})
	assert.True(t, strings.HasPrefix(out, "Loaded c.json"))
	assert.Contains(t, out, "Users:      5")
	assert.Contains(t, out, "Dimensions: 8")
}

func TestLoad_RecordsMetrics(t *testing.T) {
	s := newTestStore(t)
	loader := NewLoader(s, Options{IDPrefix: DefaultIDPrefix})

	okBefore := testutil.ToFloat64(metrics.LoadsTotal.WithLabelValues(metrics.ResultSuccess))
	failBefore := testutil.ToFloat64(metrics.LoadsTotal.WithLabelValues(metrics.ResultFailure))
	usersBefore := testutil.ToFloat64(metrics.LoadedUsersTotal)

	_, err := loader.Load(context.Background(), writeFile(t, "clusters.json", twoClustersJSON))
	require.NoError(t, err)
	_, err = loader.Load(context.Background(), writeFile(t, "bad.json", `[{"user_ids": ["alice"], "embeddings": [[1]]}]`))
	require.Error(t, err)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(metrics.LoadsTotal.WithLabelValues(metrics.ResultSuccess)))
	assert.Equal(t, failBefore+1, testutil.ToFloat64(metrics.LoadsTotal.WithLabelValues(metrics.ResultFailure)))
	assert.Equal(t, usersBefore+2, testutil.ToFloat64(metrics.LoadedUsersTotal))
}
