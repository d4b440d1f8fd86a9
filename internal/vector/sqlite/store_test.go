package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onboarding-agent/backend/internal/vector"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(source string, idx int, text string, emb ...float32) vector.Entry {
	return vector.Entry{
		Chunk:     vector.Chunk{Text: text, Source: source, ChunkIndex: idx, Headings: []string{"Policy"}},
		Embedding: emb,
	}
}

func TestStore_AddSearchCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Add(ctx, []vector.Entry{
		entry("remote.md", 0, "remote stipend", 1, 0),
		entry("pto.md", 0, "paid time off", 0, 1),
		entry("remote.md", 1, "equipment", 0.7, 0.7),
	}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results, err := s.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "remote stipend", results[0].Chunk.Text)
	assert.Equal(t, "equipment", results[1].Chunk.Text)
	assert.Equal(t, []string{"Policy"}, results[0].Chunk.Headings)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestStore_SearchTiesUseInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Add(ctx, []vector.Entry{
		entry("b.md", 0, "second", 1, 1),
		entry("a.md", 0, "first", 1, 1),
	}))

	for i := 0; i < 3; i++ {
		results, err := s.Search(ctx, []float32{1, 1}, 5)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "second", results[0].Chunk.Text)
		assert.Equal(t, "first", results[1].Chunk.Text)
	}
}

func TestStore_DeleteBySource(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Add(ctx, []vector.Entry{
		entry("a.md", 0, "a0", 1, 0),
		entry("a.md", 1, "a1", 1, 0),
		entry("b.md", 0, "b0", 0, 1),
	}))

	require.NoError(t, s.DeleteBySource(ctx, "a.md"))
	require.NoError(t, s.DeleteBySource(ctx, "missing.md"))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := s.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b.md", results[0].Chunk.Source)
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, []vector.Entry{entry("a.md", 0, "kept", 1, 0)}))
	require.NoError(t, s.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_SearchEmpty(t *testing.T) {
	results, err := newTestStore(t).Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1e-6)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, cosineSimilarity([]float32{1}, []float32{1, 1}))
}

func TestFloat32Encoding(t *testing.T) {
	in := []float32{0.25, -1.5, 3}
	assert.Equal(t, in, bytesToFloat32Slice(float32SliceToBytes(in)))
}
