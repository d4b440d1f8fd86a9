package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onboarding-agent/backend/internal/chunker"
	"github.com/onboarding-agent/backend/internal/fingerprint"
	"github.com/onboarding-agent/backend/internal/storage/models"
	"github.com/onboarding-agent/backend/internal/vector"
)

type recordingIndex struct {
	mu      sync.Mutex
	ops     []string
	chunks  map[string][]vector.Chunk
	failOn  string
	blockOn chan struct{}
	entered chan struct{}
}

func newRecordingIndex() *recordingIndex {
	return &recordingIndex{chunks: map[string][]vector.Chunk{}}
}

func (r *recordingIndex) Upsert(_ context.Context, chunks []vector.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	source := chunks[0].Source

	if r.blockOn != nil {
		r.entered <- struct{}{}
		<-r.blockOn
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if source == r.failOn {
		return errors.New("embedding backend unavailable")
	}
	r.ops = append(r.ops, "upsert:"+source)
	r.chunks[source] = append(r.chunks[source], chunks...)
	return nil
}

func (r *recordingIndex) DeleteBySource(_ context.Context, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "delete:"+source)
	delete(r.chunks, source)
	return nil
}

func (r *recordingIndex) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}

func (r *recordingIndex) texts(source string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var parts []string
	for _, c := range r.chunks[source] {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, "\n")
}

type fixture struct {
	dir   string
	state *fingerprint.Store
	index *recordingIndex
	coord *Coordinator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "policies")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	state := fingerprint.NewStore(filepath.Join(root, "state.json"))
	index := newRecordingIndex()
	coord := NewCoordinator(NewLoader(dir), chunker.New(), index, state, opts...)

	return &fixture{dir: dir, state: state, index: index, coord: coord}
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, name), []byte(content), 0o644))
}

func (f *fixture) remove(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(f.dir, name)))
}

func TestCoordinator_FirstRunIndexesEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "remote.md", "# Remote Work\nEmployees receive a $500 stipend.")
	f.write(t, "pto.md", "# PTO\nTwenty days per year.")
	f.write(t, "notes.txt", "ignored")

	report, err := f.coord.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Added)
	assert.Equal(t, 2, report.ChunksUpserted)
	assert.NotEmpty(t, report.RunID)
	assert.Contains(t, f.index.texts("remote.md"), "$500 stipend")

	state, err := f.state.Load()
	require.NoError(t, err)
	assert.Len(t, state, 2)
	assert.Contains(t, state, "remote.md")
	assert.Contains(t, state, "pto.md")
}

func TestCoordinator_SecondRunIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "remote.md", "# Remote Work\nStipend.")

	_, err := f.coord.Run(ctx)
	require.NoError(t, err)
	before, err := os.ReadFile(f.state.Path())
	require.NoError(t, err)

	f.index.reset()
	report, err := f.coord.Run(ctx)
	require.NoError(t, err)

	assert.Empty(t, f.index.ops)
	assert.Equal(t, 1, report.Unchanged)
	assert.Zero(t, report.ChunksUpserted)

	after, err := os.ReadFile(f.state.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCoordinator_ModifiedDocumentReplacesChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "remote.md", "# Remote Work\nThe stipend is $300.")
	f.write(t, "pto.md", "# PTO\nTwenty days.")

	_, err := f.coord.Run(ctx)
	require.NoError(t, err)

	f.write(t, "remote.md", "# Remote Work\nThe stipend is $500.")
	f.index.reset()

	report, err := f.coord.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Modified)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, []string{"delete:remote.md", "upsert:remote.md"}, f.index.ops)

	text := f.index.texts("remote.md")
	assert.Contains(t, text, "$500")
	assert.NotContains(t, text, "$300")
}

func TestCoordinator_DeletedDocumentIsRemoved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "remote.md", "Remote.")
	f.write(t, "legacy.md", "Old policy.")

	_, err := f.coord.Run(ctx)
	require.NoError(t, err)

	f.remove(t, "legacy.md")
	f.index.reset()

	report, err := f.coord.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, []string{"delete:legacy.md"}, f.index.ops)
	assert.Empty(t, f.index.texts("legacy.md"))

	state, err := f.state.Load()
	require.NoError(t, err)
	assert.NotContains(t, state, "legacy.md")
}

func TestCoordinator_DeletesPrecedeInserts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "a.md", "A v1")
	f.write(t, "b.md", "B v1")

	_, err := f.coord.Run(ctx)
	require.NoError(t, err)

	f.write(t, "a.md", "A v2")
	f.remove(t, "b.md")
	f.write(t, "c.md", "C v1")
	f.index.reset()

	_, err = f.coord.Run(ctx)
	require.NoError(t, err)

	lastDelete, firstUpsert := -1, len(f.index.ops)
	for i, op := range f.index.ops {
		if strings.HasPrefix(op, "delete:") {
			lastDelete = i
		} else if i < firstUpsert {
			firstUpsert = i
		}
	}
	assert.Less(t, lastDelete, firstUpsert, "ops: %v", f.index.ops)
}

func TestCoordinator_PartialFailureDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "a.md", "A v1")

	_, err := f.coord.Run(ctx)
	require.NoError(t, err)
	before, err := os.ReadFile(f.state.Path())
	require.NoError(t, err)

	f.write(t, "a.md", "A v2")
	f.write(t, "b.md", "B v1")
	f.index.failOn = "b.md"

	_, err = f.coord.Run(ctx)
	require.Error(t, err)

	after, err := os.ReadFile(f.state.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	f.index.failOn = ""
	report, err := f.coord.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 1, report.Modified)

	assert.Equal(t, "A v2", f.index.texts("a.md"))
	assert.Equal(t, "B v1", f.index.texts("b.md"))
}

func TestCoordinator_UnreadableDocumentIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "good.md", "Good policy.")
	require.NoError(t, os.Symlink(filepath.Join(f.dir, "missing-target"), filepath.Join(f.dir, "broken.md")))

	report, err := f.coord.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"broken.md"}, report.Skipped)
	assert.Equal(t, 1, report.Added)

	state, err := f.state.Load()
	require.NoError(t, err)
	assert.Contains(t, state, "good.md")
	assert.NotContains(t, state, "broken.md")
}

func TestCoordinator_UnreadableDocumentKeepsPreviousVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "policy.md", "Version one.")

	_, err := f.coord.Run(ctx)
	require.NoError(t, err)
	prev, err := f.state.Load()
	require.NoError(t, err)

	f.remove(t, "policy.md")
	require.NoError(t, os.Symlink(filepath.Join(f.dir, "gone"), filepath.Join(f.dir, "policy.md")))
	f.index.reset()

	report, err := f.coord.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, f.index.ops)
	assert.Equal(t, []string{"policy.md"}, report.Skipped)

	state, err := f.state.Load()
	require.NoError(t, err)
	assert.Equal(t, prev["policy.md"], state["policy.md"])
	assert.Equal(t, "Version one.", f.index.texts("policy.md"))
}

func TestCoordinator_MissingDirectoryFails(t *testing.T) {
	root := t.TempDir()
	state := fingerprint.NewStore(filepath.Join(root, "state.json"))
	coord := NewCoordinator(NewLoader(filepath.Join(root, "nope")), chunker.New(), newRecordingIndex(), state)

	_, err := coord.Run(context.Background())
	assert.Error(t, err)

	_, statErr := os.Stat(state.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestCoordinator_CorruptStateFails(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.md", "A")
	require.NoError(t, os.WriteFile(f.state.Path(), []byte("{broken"), 0o644))

	_, err := f.coord.Run(context.Background())
	assert.ErrorIs(t, err, fingerprint.ErrCorruptState)
	assert.Empty(t, f.index.ops)
}

func TestCoordinator_TryRunWhileBusy(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.md", "A")
	f.index.blockOn = make(chan struct{})
	f.index.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Run(context.Background())
		done <- err
	}()

	<-f.index.entered
	_, err := f.coord.TryRun(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(f.index.blockOn)
	require.NoError(t, <-done)
}

type memRecorder struct {
	runs []*models.IngestionRun
}

func (m *memRecorder) RecordIngestionRun(_ context.Context, run *models.IngestionRun) error {
	m.runs = append(m.runs, run)
	return nil
}

func TestCoordinator_RecordsRuns(t *testing.T) {
	rec := &memRecorder{}
	f := newFixture(t, WithRecorder(rec))
	f.write(t, "a.md", "A")

	_, err := f.coord.Run(context.Background())
	require.NoError(t, err)

	f.index.failOn = "b.md"
	f.write(t, "b.md", "B")
	_, err = f.coord.Run(context.Background())
	require.Error(t, err)

	require.Len(t, rec.runs, 2)
	assert.Equal(t, "completed", rec.runs[0].Status)
	assert.Equal(t, 1, rec.runs[0].Added)
	assert.Equal(t, "failed", rec.runs[1].Status)
	assert.Contains(t, rec.runs[1].Error, "b.md")
}
