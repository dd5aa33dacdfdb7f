package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/pkg/version"
)

// run executes the CLI with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// newProject creates a project from the example template with an isolated
// user config.
func newProject(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	_, err := run(t, "-C", dir, "config", "init", "--project")
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, config.ProjectConfigName))
	return dir
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	out, err := run(t, "--help")

	require.NoError(t, err)
	for _, sub := range []string{"load", "query", "stats", "stress", "watch", "logs", "config", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestVersionCmd(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"short", []string{"version", "--short"}, version.Short() + "\n"},
		{"full", []string{"version"}, version.String() + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}

	out, err := run(t, "version", "--json")
	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Short(), info.Version)
}

func TestConfigCmd_InitAndShow(t *testing.T) {
	dir := newProject(t)

	// Given: an existing project config
	out, err := run(t, "-C", dir, "config", "init", "--project")

	// Then: it is kept without --force
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	// When: showing the merged configuration
	out, err = run(t, "-C", dir, "config", "show", "--json")
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))

	// Then: the template's backend and indexes are in effect
	assert.Equal(t, config.BackendSQLite, cfg.Store.Backend)
	require.Len(t, cfg.Indexes, 2)
	assert.Equal(t, "OrdersByCustomer", cfg.Indexes[0].Name)
}

func TestConfigCmd_UserInit(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	out, err := run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Created user configuration")
	assert.FileExists(t, config.GetUserConfigPath())

	out, err = run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	out, err = run(t, "config", "init", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Backup:")
}

func TestConfigCmd_ShowUnknownSource(t *testing.T) {
	_, err := run(t, "config", "show", "--source", "nowhere")
	assert.Error(t, err)
}

func TestLoadQueryStats_EndToEnd(t *testing.T) {
	dir := newProject(t)

	// Given: orders loaded into the project's SQLite store
	out, err := run(t, "-C", dir, "load", "--generate", "20", "--customers", "4", "--plain")
	require.NoError(t, err)
	assert.Contains(t, out, "Complete: 20 documents, 2 indexes")

	// When: querying the reduce index in a new process-like run
	out, err = run(t, "-C", dir, "query", "TotalsByCustomer", "--order", "Customer", "--json")
	require.NoError(t, err)

	// Then: the rebuilt index accounts for every order
	var res resultJSON
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.IsStale)
	assert.Equal(t, uint64(20), res.Generation)
	total := 0.0
	for _, row := range res.Entries {
		total += row["Count"].(float64)
	}
	assert.Equal(t, 20.0, total)

	// And: stats report the store and both indexes
	out, err = run(t, "-C", dir, "stats", "--wait", "10s", "--json")
	require.NoError(t, err)
	var stats struct {
		Documents int `json:"documents"`
		Indexes   []struct {
			Name       string `json:"name"`
			IsStale    bool   `json:"is_stale"`
			EntryCount int    `json:"entry_count"`
		} `json:"indexes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 20, stats.Documents)
	require.Len(t, stats.Indexes, 2)
	assert.Equal(t, "OrdersByCustomer", stats.Indexes[0].Name)
	assert.Equal(t, 20, stats.Indexes[0].EntryCount)
	assert.False(t, stats.Indexes[0].IsStale)

	// And: a filtered table query renders rows
	out, err = run(t, "-C", dir, "query", "OrdersByCustomer", "--where", "Customer=customers/0", "--take", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "results (fresh")
}

func TestLoad_FanOutIndexes(t *testing.T) {
	dir := newProject(t)

	// When: loading 12 orders x 50 lines into 6 identical indexes
	out, err := run(t, "-C", dir, "load", "--generate", "12", "--lines", "50", "--fanout-indexes", "6", "--plain")

	// Then: the run found 600 entries in every fan-out index
	require.NoError(t, err)
	assert.Contains(t, out, "Complete: 12 documents, 8 indexes")
	assert.NotContains(t, out, "ERROR")
}

func TestLoad_FromDirectory(t *testing.T) {
	dir := newProject(t)
	docs := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(docs, "Orders"), 0o755))
	for i, body := range []string{`{"Customer":"c1","Total":5}`, `{"Customer":"c2","Total":7}`, `not json`} {
		name := filepath.Join(docs, "Orders", string(rune('a'+i))+".json")
		require.NoError(t, os.WriteFile(name, []byte(body), 0o644))
	}

	out, err := run(t, "-C", dir, "load", "--from", docs, "--plain")

	require.NoError(t, err)
	assert.Contains(t, out, "Complete: 2 documents")
	assert.Contains(t, out, "1 errors")
}

func TestQuery_InvalidClause(t *testing.T) {
	dir := newProject(t)

	_, err := run(t, "-C", dir, "query", "OrdersByCustomer", "--where", "Total")
	assert.Error(t, err)

	_, err = run(t, "-C", dir, "query", "Missing")
	assert.Error(t, err)
}

func TestStressCmd(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	writes := "2000"
	if testing.Short() {
		writes = "300"
	}

	out, err := run(t, "stress", "--writes", writes, "--readers", "2", "--plain")

	require.NoError(t, err)
	assert.Contains(t, out, "Every non-stale result matched the store")
	assert.Contains(t, out, "Inconsistencies:")
}

func TestLogsCmd_MissingFile(t *testing.T) {
	_, err := run(t, "logs", "--file", filepath.Join(t.TempDir(), "none.log"))
	assert.Error(t, err)
}

func TestLogsCmd_Tail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docindex.log")
	lines := []string{
		`{"time":"2026-01-02T03:04:05Z","level":"INFO","msg":"db_opened","backend":"sqlite"}`,
		`{"time":"2026-01-02T03:04:06Z","level":"WARN","msg":"map_failed","index":"Orders"}`,
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	out, err := run(t, "logs", "--file", path, "--level", "warn", "--no-color")

	require.NoError(t, err)
	assert.Contains(t, out, "map_failed")
	assert.NotContains(t, out, "db_opened")
}
