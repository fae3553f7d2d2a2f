package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCommand(args ...string) (string, error) {
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand_RejectsInvalidFormat(t *testing.T) {
	_, err := executeCommand("--format", "xml", "stats", "--db", "x.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRootCommand_ListsSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"serve", "import", "migrate", "stats"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestMigrateCommand_CreatesDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "hub.db")

	out, err := executeCommand("migrate", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "current")
	assert.FileExists(t, db)
}

func TestMigrateCommand_RequiresDatabase(t *testing.T) {
	_, err := executeCommand("migrate")
	assert.Error(t, err)
}

func TestStatsCommand_TextOutput(t *testing.T) {
	db := filepath.Join(t.TempDir(), "hub.db")
	_, err := executeCommand("migrate", "--db", db)
	require.NoError(t, err)

	out, err := executeCommand("stats", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "clients")
	assert.Contains(t, out, "posting_history")
}

func TestStatsCommand_JSONOutput(t *testing.T) {
	db := filepath.Join(t.TempDir(), "hub.db")
	_, err := executeCommand("migrate", "--db", db)
	require.NoError(t, err)

	out, err := executeCommand("--format", "json", "stats", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"ok"`)
	assert.Contains(t, out, `"orders":0`)
}
