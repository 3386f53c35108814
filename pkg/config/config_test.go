package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("file overrides defaults, unset fields keep them", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := "max_sessions: 12\nstop_timeout: 5s\nheadless: true\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 12, cfg.MaxSessions)
		assert.Equal(t, 5*time.Second, cfg.StopTimeout)
		assert.True(t, cfg.Headless)
		assert.Equal(t, Default().BatchConcurrency, cfg.BatchConcurrency)
		assert.Equal(t, Default().DataDir, cfg.DataDir)
	})

	t.Run("invalid yaml is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("max_sessions: [oops"), 0600))

		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("rejects non-positive limits", func(t *testing.T) {
		for _, content := range []string{
			"max_sessions: 0\n",
			"batch_concurrency: -1\n",
			"stop_timeout: 0s\n",
			"data_dir: \"\"\n",
		} {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0600))

			_, err := Load(path)
			assert.Error(t, err, "content %q should not validate", content)
		}
	})
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/tmp/mantle-test"

	assert.Equal(t, filepath.Join("/tmp/mantle-test", "vault.key"), cfg.KeyPath())
	assert.Equal(t, filepath.Join("/tmp/mantle-test", "browser_data", "p1"), cfg.BrowserDataDir("p1"))
	assert.NotEmpty(t, DefaultPath())
}
