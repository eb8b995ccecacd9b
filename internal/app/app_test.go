package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbatch/backend/internal/batch"
	"github.com/docbatch/backend/internal/config"
	"github.com/docbatch/backend/internal/models"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage = config.StorageConfig{
		DataDirectory:      dir,
		UploadsDirectory:   filepath.Join(dir, "uploads"),
		TemplatesDirectory: filepath.Join(dir, "templates"),
		TempDirectory:      filepath.Join(dir, "temp"),
		ArchivesDirectory:  filepath.Join(dir, "archives"),
	}
	cfg.Render.OutputFormat = "native"
	return cfg
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.DirExists(t, cfg.Storage.ArchivesDirectory)
	assert.Nil(t, a.RateLimiter())
	assert.Equal(t, "Cliente", a.TemplateSet.KeyField)
	assert.Equal(t, batch.Naming{Field: "NUMERO", Prefix: "Carta_"}, a.Naming)

	deps := a.Dependencies("v1")
	assert.Equal(t, "v1", deps.Version)
	assert.Nil(t, deps.RateLimiter)
}

func TestNew_RulesFile(t *testing.T) {
	cfg := testConfig(t)
	rules := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(rules, []byte("key_field: Conta\nmax_slots: 3\n"), 0644))
	cfg.Grouping.RulesFile = rules

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "Conta", a.TemplateSet.KeyField)
	assert.Equal(t, 3, a.TemplateSet.MaxSlots)

	cfg.Grouping.RulesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestEvictionRemovesArchive(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	rec := models.NewRecord([]string{"NUMERO", "NOME"}, []any{int64(1), "Ana"})
	rec2 := models.NewRecord([]string{"NUMERO", "NOME"}, []any{int64(2), "Rui"})
	j, err := a.Coordinator.Execute(context.Background(), batch.RecordItems([]models.Record{rec, rec2}, "", a.Naming))
	require.NoError(t, err)
	require.FileExists(t, j.ArchivePath)

	a.Jobs.EvictExpired(time.Now().Add(2*cfg.JobRetention()), cfg.JobRetention())
	assert.NoFileExists(t, j.ArchivePath)
}
