package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestInitCommand_WritesConfig(t *testing.T) {
	dir := t.TempDir()

	cmd := NewInitCommand()
	cmd.SetArgs([]string{dir})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(filepath.Join(dir, "geoquery.yaml"))
	require.NoError(t, err)

	var cfg map[string]any
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Contains(t, cfg, "database")
	assert.Contains(t, cfg, "llm")
	assert.Contains(t, string(data), "${GEOQUERY_DB_PASSWORD}")
}

func TestInitCommand_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "geoquery.yaml")
	require.NoError(t, os.WriteFile(path, []byte("existing: true\n"), 0o644))

	cmd := NewInitCommand()
	cmd.SetArgs([]string{dir})
	require.Error(t, cmd.Execute())

	// --force overwrites.
	cmd = NewInitCommand()
	cmd.SetArgs([]string{dir, "--force"})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "existing")
}
