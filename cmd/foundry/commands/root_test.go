package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cerina/foundry/internal/config"
)

// TestRootCommand_ShowsHelpWhenNoSubcommand tests that the root command
// shows help instead of silently succeeding when invoked without a subcommand
func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	testRoot := &cobra.Command{
		Use:   "foundry",
		Short: "Test root command",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	buf := new(bytes.Buffer)
	testRoot.SetOut(buf)
	testRoot.SetErr(buf)

	err := testRoot.Execute()

	assert.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "Usage:", "Help should be displayed")
	assert.Contains(t, output, "foundry", "Help should show command name")
}

func TestLoadConfig_FlagPrecedence(t *testing.T) {
	t.Cleanup(func() {
		rootConfigPath = ""
		rootRedisURL = ""
		rootInstance = ""
	})

	t.Run("defaults when nothing set", func(t *testing.T) {
		rootConfigPath, rootRedisURL, rootInstance = "", "", ""
		t.Setenv("REDIS_URL", "")

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.Equal(t, "default", cfg.Instance)
	})

	t.Run("env overrides default", func(t *testing.T) {
		rootConfigPath, rootRedisURL, rootInstance = "", "", ""
		t.Setenv("REDIS_URL", "redis://env-host:6379")

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "redis://env-host:6379", cfg.RedisURL)
	})

	t.Run("flag overrides env and config", func(t *testing.T) {
		rootConfigPath, rootInstance = "", ""
		rootRedisURL = "redis://flag-host:6379"
		t.Setenv("REDIS_URL", "redis://env-host:6379")

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "redis://flag-host:6379", cfg.RedisURL)
	})

	t.Run("config file values survive when no overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "foundry.yml")
		require.NoError(t, os.WriteFile(path, []byte("version: \"1.0\"\ninstance: \"clinic-a\"\nredis_url: \"redis://cfg-host:6379\"\n"), 0644))

		rootConfigPath = path
		rootRedisURL, rootInstance = "", ""

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "redis://cfg-host:6379", cfg.RedisURL)
		assert.Equal(t, "clinic-a", cfg.Instance)
	})
}

func TestBuildOracle(t *testing.T) {
	t.Run("stub provider", func(t *testing.T) {
		cfg, err := loadConfigForTest(t, "version: \"1.0\"\noracle:\n  provider: \"stub\"\n")
		require.NoError(t, err)
		o, err := buildOracle(cfg)
		require.NoError(t, err)
		assert.NotNil(t, o)
	})

	t.Run("anthropic without key falls back to stub", func(t *testing.T) {
		cfg, err := loadConfigForTest(t, "version: \"1.0\"\noracle:\n  provider: \"anthropic\"\n  api_key_env: \"FOUNDRY_MISSING_KEY\"\n")
		require.NoError(t, err)
		o, err := buildOracle(cfg)
		require.NoError(t, err)
		assert.NotNil(t, o)
	})
}

func loadConfigForTest(t *testing.T, yml string) (*config.FoundryConfig, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "foundry.yml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	rootConfigPath = path
	rootRedisURL, rootInstance = "", ""
	t.Cleanup(func() { rootConfigPath = "" })

	return loadConfig()
}
