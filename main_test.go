package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	seed := filepath.Join(dir, "directory.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(`
users:
  - email: a@x.com
teams:
  - tag: design
    members: [a@x.com, b@x.com]
`), 0o644))

	t.Setenv("DATABASE_PATH", filepath.Join(dir, "katcon.db"))
	t.Setenv("DIRECTORY_SEED", seed)
	t.Setenv("JWT_SECRET", "test-secret")
	return seed
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "token", "--email", "b@x.com")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out), "."), "a JWT has three segments")

	_, err = execute(t, "token", "--email", "ghost@x.com")
	assert.Error(t, err)
}

func TestDeadlinesCommand(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "deadlines")
	require.NoError(t, err)

	var report map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 0, report["tasks"])
}

func TestSeedCommand(t *testing.T) {
	seed := setupEnv(t)
	t.Setenv("DIRECTORY_SEED", "")

	_, err := execute(t, "seed", "--file", seed)
	require.NoError(t, err)

	_, err = execute(t, "seed", "--file", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
