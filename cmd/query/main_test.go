package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-analyst/pkg/models"
)

func TestParseContext(t *testing.T) {
	got, err := parseContext("")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseContext(`{"year": 2024}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"year": 2024.0}, got)

	path := filepath.Join(t.TempDir(), "ctx.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"region":"north"}`), 0o644))
	got, err = parseContext("@" + path)
	require.NoError(t, err)
	assert.Equal(t, "north", got["region"])

	_, err = parseContext(`[1,2]`)
	assert.Error(t, err)
}

func TestQueryCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sales.csv"), []byte("region,amount\nnorth,10\n"), 0o644))
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  dsn: \":memory:\"\ntools:\n  data_dir: "+dir+"\n"), 0o644))
	t.Setenv("OPENAI_API_KEY", "")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", cfgPath, "--log-level", "error",
		"--context", `{"plan":[{"id":1,"tool":"load_local","params":{"path":"sales.csv"}}]}`,
		"how", "many", "rows?"})

	require.NoError(t, cmd.Execute())
	var res models.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.True(t, res.Succeeded())
	assert.Len(t, res.Trace, 1)
}

func TestQueryCommand_FailedRun(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  dsn: \"\"\ntools:\n  data_dir: "+dir+"\n"), 0o644))
	t.Setenv("OPENAI_API_KEY", "")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", cfgPath, "--log-level", "error", "anything"})

	err := cmd.Execute()
	assert.ErrorIs(t, err, errRunFailed)
	assert.Contains(t, out.String(), "PlanningFailure")
}

func TestQueryCommand_Format(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sales.csv"), []byte("region,amount\nnorth,10\nsouth,20\n"), 0o644))
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  dsn: \"\"\ntools:\n  data_dir: "+dir+"\n"), 0o644))
	t.Setenv("OPENAI_API_KEY", "")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", cfgPath, "--log-level", "error", "--format", "markdown",
		"--context", `{"plan":[{"id":1,"tool":"load_local","params":{"path":"sales.csv"}}]}`,
		"list", "sales"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "| --- |")
	assert.Contains(t, out.String(), "north")
	assert.NotContains(t, out.String(), `"trace"`)

	cmd = newRootCmd()
	cmd.SetArgs([]string{"--config", cfgPath, "--format", "pdf", "anything"})
	assert.ErrorContains(t, cmd.Execute(), "unknown format")
}
