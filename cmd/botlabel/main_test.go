package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/botlabel/internal/label"
	"github.com/hurttlocker/botlabel/internal/store"
)

type testEnv struct {
	dir    string
	dbPath string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	for _, k := range []string{"BOTLABEL_DB", "BOTLABEL_DB_PATH", "BOTLABEL_ID_PREFIX", "BOTLABEL_DIMENSIONS", "BOTLABEL_LOG_LEVEL", "BOTLABEL_LOG_FORMAT"} {
		t.Setenv(k, "")
	}
	return testEnv{dir: dir, dbPath: filepath.Join(dir, "botlabel.db")}
}

func (e testEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func (e testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--db", e.dbPath, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

const clustersJSON = `[
  {"user_ids": ["@alice", "@bob", "@carol"], "embeddings": [[0.1, 0.2], [0.3, 0.4], [0.5, 0.6]]},
  {"user_ids": ["@dave"], "embeddings": [[1.0, 2.5]]}
]`

func TestVersionCommand(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "botlabel "+version+"\n", out)
}

func TestInitAndReset(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized "+env.dbPath)
	assert.FileExists(t, env.dbPath)

	_, err = env.run(t, "load", env.write(t, "clusters.json", clustersJSON))
	require.NoError(t, err)

	out, err = env.run(t, "init", "--reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Reset")

	out, err = env.run(t, "unlabeled")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestLoadLabelWorkflow(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "load", env.write(t, "clusters.json", clustersJSON))
	require.NoError(t, err)
	assert.Contains(t, out, "Clusters:   2")
	assert.Contains(t, out, "Users:      4")

	out, err = env.run(t, "unlabeled", "--json")
	require.NoError(t, err)
	var ids []int64
	require.NoError(t, json.Unmarshal([]byte(out), &ids))
	assert.Equal(t, []int64{0, 1}, ids)

	out, err = env.run(t, "cluster", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "unassigned")

	ann := env.write(t, "ann.csv", "user_id,cluster_id,label\nalice,0,Yes\nbob,0,Yes\ncarol,0,No\n")
	out, err = env.run(t, "label", ann)
	require.NoError(t, err)
	assert.Contains(t, out, "cluster 0: bot (yes=2 no=1")

	out, err = env.run(t, "user", "carol", "--json")
	require.NoError(t, err)
	var rec store.UserRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, store.LabelNotBot, rec.Label)
	assert.Len(t, rec.Embedding, 2)

	out, err = env.run(t, "unlabeled")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = env.run(t, "stats", "--json")
	require.NoError(t, err)
	var stats store.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(4), stats.Users)
	assert.Equal(t, int64(2), stats.Bot)
	assert.Equal(t, int64(1), stats.NotBot)
	assert.Equal(t, int64(1), stats.Unassigned)
}

func TestLabelJSONAnnotations(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "load", env.write(t, "clusters.json", clustersJSON))
	require.NoError(t, err)

	ann := env.write(t, "ann.json", `[{"user_id": "dave", "cluster_id": 1, "label": "No"}]`)
	out, err := env.run(t, "label", "--json", ann)
	require.NoError(t, err)

	var res label.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Clusters, 1)
	assert.Equal(t, store.LabelNotBot, res.Clusters[0].Majority)
}

func TestLabelRejectsInvalidTable(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "load", env.write(t, "clusters.json", clustersJSON))
	require.NoError(t, err)

	ann := env.write(t, "ann.csv", "user_id,cluster_id,label\nalice,0,Yes\nbob,0,Unsure\n")
	_, err = env.run(t, "label", ann)
	require.Error(t, err)
	assert.ErrorIs(t, err, label.ErrInvalidLabel)

	out, err := env.run(t, "unlabeled")
	require.NoError(t, err)
	assert.Equal(t, "0\n1\n", out)
}

func TestLoadIDPrefixFlag(t *testing.T) {
	env := newTestEnv(t)
	src := env.write(t, "clusters.yaml", "- user_ids: [\"#erin\"]\n  embeddings: [[1, 2, 3]]\n")

	_, err := env.run(t, "load", src)
	require.Error(t, err, "default prefix is @")

	_, err = env.run(t, "load", "--id-prefix", "#", src)
	require.NoError(t, err)

	out, err := env.run(t, "user", "erin")
	require.NoError(t, err)
	assert.Contains(t, out, "cluster=0")
	assert.Contains(t, out, "dims=3")
}

func TestUserNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "user", "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = env.run(t, "user", "nobody", "--all")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClusterInvalidID(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "cluster", "-3")
	assert.Error(t, err)

	_, err = env.run(t, "cluster", "abc")
	assert.ErrorContains(t, err, "invalid cluster id")
}
