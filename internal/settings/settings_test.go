package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "settings.yaml")

	store, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultCategories, store.Categories())
	assert.FileExists(t, path)
}

func TestCategoryAddDeleteIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	store, err := Open(path)
	require.NoError(t, err)

	changed, err := store.DeleteCategory("Customs")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotContains(t, store.Categories(), "Customs")

	changed, err = store.DeleteCategory("Customs")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = store.AddCategory("Customs")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.AddCategory("Customs")
	require.NoError(t, err)
	assert.False(t, changed)

	reopened, err := Open(path)
	require.NoError(t, err)
	categories := reopened.Categories()
	assert.Equal(t, "Customs", categories[len(categories)-1])
	assert.Len(t, categories, len(DefaultCategories))
}

func TestAddCategoryRejectsBlank(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)

	_, err = store.AddCategory("   ")
	assert.Error(t, err)
}

func TestSetPersistsFolders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	store, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, store.Set("output_folder", "/tmp/out"))
	require.NoError(t, store.Set("theme", "dark"))
	assert.Error(t, store.Set("expense_categories", "x"))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out", reopened.OutputFolder())
	assert.Equal(t, "", reopened.DataFolder())
	theme, ok := reopened.Get("theme")
	assert.True(t, ok)
	assert.Equal(t, "dark", theme)
}

func TestOpenRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("expense_categories: [unterminated"), 0o644))

	_, err := Open(path)
	assert.Error(t, err)
}
