package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnv_ExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credo.env")
	require.NoError(t, os.WriteFile(path, []byte("CREDO_CLI_TEST_PORT=9999\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("CREDO_CLI_TEST_PORT") })

	require.NoError(t, loadEnv(path))
	assert.Equal(t, "9999", os.Getenv("CREDO_CLI_TEST_PORT"))
}

func TestLoadEnv_MissingExplicitFile(t *testing.T) {
	err := loadEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestRootCommands(t *testing.T) {
	want := map[string]bool{"serve": false, "settle": false, "badges": false, "account": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		assert.True(t, found, "missing subcommand %s", name)
	}
}
