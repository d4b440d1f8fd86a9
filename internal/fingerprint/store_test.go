package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateHash(t *testing.T) {
	t.Run("is deterministic", func(t *testing.T) {
		content := []byte("# Hello World\nSome content here.")
		assert.Equal(t, CalculateHash(content), CalculateHash(content))
	})

	t.Run("single byte change alters the hash", func(t *testing.T) {
		assert.NotEqual(t, CalculateHash([]byte("Content A")), CalculateHash([]byte("Content B")))
	})

	t.Run("is a 128-bit hex digest", func(t *testing.T) {
		assert.Regexp(t, `^[0-9a-f]{32}$`, CalculateHash([]byte("x")))
	})
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.md")
	require.NoError(t, os.WriteFile(path, []byte("policy"), 0o644))

	hash, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, CalculateHash([]byte("policy")), hash)

	_, err = HashFile(filepath.Join(t.TempDir(), "missing.md"))
	assert.Error(t, err)
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nested", "state.json"))

	require.NoError(t, store.Save(map[string]string{"file.md": "abc123"}))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"file.md": "abc123"}, loaded)
}

func TestStore_LoadMissing(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.json"))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
	assert.NotNil(t, loaded)
}

func TestStore_LoadCorrupt(t *testing.T) {
	dir := t.TempDir()

	t.Run("truncated json", func(t *testing.T) {
		path := filepath.Join(dir, "truncated.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"a.md": "ab`), 0o644))
		_, err := NewStore(path).Load()
		assert.ErrorIs(t, err, ErrCorruptState)
	})

	t.Run("empty hash", func(t *testing.T) {
		path := filepath.Join(dir, "empty-hash.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"a.md": ""}`), 0o644))
		_, err := NewStore(path).Load()
		assert.ErrorIs(t, err, ErrCorruptState)
	})
}

func TestStore_SaveIsByteStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStore(path)
	state := map[string]string{"b.md": "2", "a.md": "1", "c.md": "3"}

	require.NoError(t, store.Save(state))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, store.Save(state))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "state.json"))
	require.NoError(t, store.Save(map[string]string{"a.md": "1"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestDiff(t *testing.T) {
	previous := map[string]string{
		"same.md":    "h1",
		"changed.md": "h2",
		"gone.md":    "h3",
	}
	current := map[string]string{
		"same.md":    "h1",
		"changed.md": "h2-new",
		"fresh.md":   "h4",
	}

	changes := Diff(previous, current)

	assert.Equal(t, []string{"same.md"}, changes.Unchanged)
	assert.Equal(t, []string{"changed.md"}, changes.Modified)
	assert.Equal(t, []string{"fresh.md"}, changes.New)
	assert.Equal(t, []string{"gone.md"}, changes.Deleted)
	assert.True(t, changes.HasChanges())
}

func TestDiff_NoChanges(t *testing.T) {
	state := map[string]string{"a.md": "1", "b.md": "2"}
	changes := Diff(state, state)

	assert.False(t, changes.HasChanges())
	assert.Equal(t, []string{"a.md", "b.md"}, changes.Unchanged)
}
