package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_CreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docbatch.yaml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.NoError(t, err, "default config file should be written")

	assert.Equal(t, 2, cfg.Processing.MaxWorkers)
	assert.Equal(t, 2, cfg.Processing.ChunkSize)
	assert.Equal(t, "NUMERO", cfg.Render.FilenameField)
	assert.Equal(t, []string{"builtin"}, cfg.Render.Fallbacks)
	assert.Equal(t, filepath.Join(dir, "data", "uploads"), cfg.GetUploadDir())
	assert.Equal(t, "0.0.0.0:8080", cfg.GetServerAddr())
}

func TestLoadConfig_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docbatch.yaml")
	content := `
processing:
  max_workers: 8
  chunk_size: 25
render:
  require_template: true
  output_format: native
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("DOCBATCH_PROCESSING_CHUNK_SIZE", "10")
	t.Setenv("PORT", "9999")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Processing.MaxWorkers)
	assert.Equal(t, 10, cfg.Processing.ChunkSize, "env wins over file")
	assert.True(t, cfg.Render.RequireTemplate)
	assert.Equal(t, "native", cfg.Render.OutputFormat)
	assert.Equal(t, 9999, cfg.Server.Port)
	// untouched keys keep their defaults
	assert.Equal(t, 60, cfg.Processing.JobRetentionMinutes)
	assert.Equal(t, 24*time.Hour, cfg.UploadRetention())
}

func TestLoadConfig_DataDirRelocatesSubdirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docbatch.yaml")
	content := `
storage:
  templates_directory: /srv/shared/templates
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	dataDir := filepath.Join(t.TempDir(), "volume")
	t.Setenv("DATA_DIR", dataDir)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.Storage.DataDirectory)
	assert.Equal(t, filepath.Join(dataDir, "uploads"), cfg.GetUploadDir())
	assert.Equal(t, filepath.Join(dataDir, "temp"), cfg.Storage.TempDirectory)
	assert.Equal(t, filepath.Join(dataDir, "archives"), cfg.Storage.ArchivesDirectory)
	assert.Equal(t, "/srv/shared/templates", cfg.Storage.TemplatesDirectory, "explicit paths are kept")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *AppConfig)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *AppConfig) {}},
		{
			name:    "zero workers",
			mutate:  func(c *AppConfig) { c.Processing.MaxWorkers = 0 },
			wantErr: "MaxWorkers",
		},
		{
			name:    "unknown output format",
			mutate:  func(c *AppConfig) { c.Render.OutputFormat = "png" },
			wantErr: "OutputFormat",
		},
		{
			name:    "unknown fallback",
			mutate:  func(c *AppConfig) { c.Render.Fallbacks = []string{"word"} },
			wantErr: "Fallbacks",
		},
		{
			name:    "publish enabled without bucket",
			mutate:  func(c *AppConfig) { c.Publish.Enabled = true },
			wantErr: "Bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.resolvePaths(dir)

	require.NoError(t, cfg.EnsureDirectories())
	for _, d := range []string{cfg.Storage.UploadsDirectory, cfg.Storage.TemplatesDirectory, cfg.Storage.ArchivesDirectory} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
