// manager_test.go - Tests for storage layer
package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/docbatch/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestNewLocalStore(t *testing.T) {
	t.Run("creates upload directory", func(t *testing.T) {
		uploadDir := filepath.Join(t.TempDir(), "uploads")

		_, err := NewLocalStore(uploadDir)
		require.NoError(t, err)

		_, err = os.Stat(uploadDir)
		assert.NoError(t, err)
	})
}

func TestLocalStore_Save(t *testing.T) {
	t.Run("keeps extension on disk", func(t *testing.T) {
		store := createTestStore(t)

		info, err := store.Save("Clientes.XLSX", strings.NewReader("data"))
		require.NoError(t, err)
		assert.Equal(t, models.FileKindDataset, info.Kind)
		assert.Equal(t, int64(4), info.Size)

		path, err := store.GetFilePath(info.ID)
		require.NoError(t, err)
		assert.Equal(t, ".xlsx", filepath.Ext(path))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "data", string(data))
	})

	t.Run("failed copy leaves no file", func(t *testing.T) {
		store := createTestStore(t)

		_, err := store.Save("rows.csv", io.MultiReader(strings.NewReader("a,b\n"), iotest.ErrReader(errors.New("boom"))))
		require.Error(t, err)

		entries, err := os.ReadDir(store.dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
		list, _ := store.List(0)
		assert.Empty(t, list)
	})
}

func TestLocalStore_GetAndDelete(t *testing.T) {
	store := createTestStore(t)

	info, err := store.Save("rows.csv", strings.NewReader("x"))
	require.NoError(t, err)

	got, err := store.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.Name, got.Name)

	path, _ := store.GetFilePath(info.ID)
	require.NoError(t, store.Delete(info.ID))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, err = store.Get(info.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(store.Delete(info.ID), ErrNotFound))
	_, err = store.GetFilePath(info.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalStore_List(t *testing.T) {
	store := createTestStore(t)

	for i := 0; i < 5; i++ {
		_, err := store.Save("file.csv", strings.NewReader("content"))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	all, err := store.List(0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].UploadedAt.After(all[i-1].UploadedAt), "newest first")
	}

	limited, err := store.List(3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)
}

func TestLocalStore_Prune(t *testing.T) {
	store := createTestStore(t)
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	old, err := store.Save("old.csv", strings.NewReader("a"))
	require.NoError(t, err)
	oldPath, _ := store.GetFilePath(old.ID)

	clock = clock.Add(50 * time.Minute)
	fresh, err := store.Save("fresh.csv", strings.NewReader("b"))
	require.NoError(t, err)

	clock = clock.Add(20 * time.Minute)
	pruned := store.Prune(time.Hour)
	assert.Equal(t, []string{old.ID}, pruned)

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
	_, err = store.Get(old.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = store.Get(fresh.ID)
	assert.NoError(t, err)
	assert.Empty(t, store.Prune(time.Hour))
}

func TestTemplateStore(t *testing.T) {
	ts, err := NewTemplateStore(t.TempDir())
	require.NoError(t, err)

	t.Run("save and reopen", func(t *testing.T) {
		info, err := ts.Save("carta.svg", strings.NewReader("<svg>v1</svg>"))
		require.NoError(t, err)
		assert.Equal(t, "carta.svg", info.Name)
		assert.Equal(t, models.FileKindTemplate, info.Kind)

		rc, err := ts.Open("carta.svg")
		require.NoError(t, err)
		defer rc.Close()
		data, _ := io.ReadAll(rc)
		assert.Equal(t, "<svg>v1</svg>", string(data))
	})

	t.Run("re-upload replaces content", func(t *testing.T) {
		_, err := ts.Save("carta.svg", strings.NewReader("<svg>v2</svg>"))
		require.NoError(t, err)

		rc, err := ts.Open("carta.svg")
		require.NoError(t, err)
		defer rc.Close()
		data, _ := io.ReadAll(rc)
		assert.Equal(t, "<svg>v2</svg>", string(data))
	})

	t.Run("unknown template", func(t *testing.T) {
		_, err := ts.Open("missing.docx")
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = ts.Stat("missing.docx")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("list filters by extension", func(t *testing.T) {
		_, err := ts.Save("notes.txt", strings.NewReader("x"))
		require.NoError(t, err)
		_, err = ts.Save("letter.docx", strings.NewReader("x"))
		require.NoError(t, err)

		list, err := ts.List()
		require.NoError(t, err)
		names := make([]string, 0, len(list))
		for _, f := range list {
			names = append(names, f.Name)
		}
		assert.Equal(t, []string{"carta.svg", "letter.docx"}, names)
	})
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Carta_123.pdf", "Carta_123.pdf"},
		{`a<b>c:d"e/f\g|h?i*j`, "a_b_c_d_e_f_g_h_i_j"},
		{"  spaced  ", "spaced"},
		{"João Silva_carta_1", "João Silva_carta_1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}
