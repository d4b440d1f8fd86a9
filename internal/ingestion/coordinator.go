package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/internal/chunker"
	"github.com/onboarding-agent/backend/internal/fingerprint"
	"github.com/onboarding-agent/backend/internal/metrics"
	"github.com/onboarding-agent/backend/internal/storage/models"
	"github.com/onboarding-agent/backend/internal/vector"
	"github.com/onboarding-agent/backend/pkg/logger"
)

var ErrRunInProgress = errors.New("ingestion run already in progress")

const (
	statusCompleted = "completed"
	statusFailed    = "failed"
)

// Index is the write side of the vector index used during reconciliation.
type Index interface {
	Upsert(ctx context.Context, chunks []vector.Chunk) error
	DeleteBySource(ctx context.Context, source string) error
}

type RunRecorder interface {
	RecordIngestionRun(ctx context.Context, run *models.IngestionRun) error
}

type Report struct {
	RunID          string        `json:"run_id"`
	Scanned        int           `json:"scanned"`
	Unchanged      int           `json:"unchanged"`
	Added          int           `json:"added"`
	Modified       int           `json:"modified"`
	Deleted        int           `json:"deleted"`
	Skipped        []string      `json:"skipped,omitempty"`
	ChunksUpserted int           `json:"chunks_upserted"`
	Duration       time.Duration `json:"duration"`
}

// Coordinator keeps the vector index in step with the policy documents on
// disk. Runs are serialized.
type Coordinator struct {
	loader   *Loader
	chunker  *chunker.Chunker
	index    Index
	state    *fingerprint.Store
	recorder RunRecorder

	mu sync.Mutex
}

type Option func(*Coordinator)

func WithRecorder(r RunRecorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

func NewCoordinator(loader *Loader, ch *chunker.Chunker, index Index, state *fingerprint.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		loader:  loader,
		chunker: ch,
		index:   index,
		state:   state,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run performs one SCAN, DIFF, RECONCILE, PERSIST cycle, waiting for any run
// already in progress.
func (c *Coordinator) Run(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run(ctx)
}

// TryRun is Run but fails with ErrRunInProgress instead of waiting.
func (c *Coordinator) TryRun(ctx context.Context) (*Report, error) {
	if !c.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer c.mu.Unlock()
	return c.run(ctx)
}

func (c *Coordinator) run(ctx context.Context) (*Report, error) {
	started := time.Now()
	report := &Report{RunID: uuid.New().String()}

	logger.Info("Ingestion run started",
		zap.String("run_id", report.RunID),
		zap.String("dir", c.loader.Dir()),
	)

	err := c.reconcile(ctx, report)
	report.Duration = time.Since(started)

	c.record(ctx, report, started, err)

	if err != nil {
		metrics.IngestionRuns.WithLabelValues(statusFailed).Inc()
		logger.Error("Ingestion run failed", zap.String("run_id", report.RunID), zap.Error(err))
		return nil, err
	}

	metrics.IngestionRuns.WithLabelValues(statusCompleted).Inc()
	metrics.IngestionDuration.Observe(report.Duration.Seconds())
	metrics.IngestionDocuments.WithLabelValues("unchanged").Add(float64(report.Unchanged))
	metrics.IngestionDocuments.WithLabelValues("new").Add(float64(report.Added))
	metrics.IngestionDocuments.WithLabelValues("modified").Add(float64(report.Modified))
	metrics.IngestionDocuments.WithLabelValues("deleted").Add(float64(report.Deleted))
	metrics.IngestionDocuments.WithLabelValues("skipped").Add(float64(len(report.Skipped)))
	metrics.ChunksUpserted.Add(float64(report.ChunksUpserted))

	logger.Info("Ingestion run completed",
		zap.String("run_id", report.RunID),
		zap.Int("scanned", report.Scanned),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("added", report.Added),
		zap.Int("modified", report.Modified),
		zap.Int("deleted", report.Deleted),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("chunks_upserted", report.ChunksUpserted),
		zap.Duration("duration", report.Duration),
	)

	return report, nil
}

func (c *Coordinator) reconcile(ctx context.Context, report *Report) error {
	previous, err := c.state.Load()
	if err != nil {
		return fmt.Errorf("failed to load fingerprint state: %w", err)
	}

	// SCAN
	docs, failures, err := c.loader.Scan()
	if err != nil {
		return err
	}

	current := make(map[string]string, len(docs))
	byID := make(map[string]Document, len(docs))
	for _, d := range docs {
		current[d.ID] = d.Hash
		byID[d.ID] = d
	}

	// Unreadable documents keep their previous fingerprint so they are
	// neither dropped from the index nor marked as ingested.
	for _, f := range failures {
		logger.Warn("Skipping unreadable document", zap.String("document", f.ID), zap.Error(f.Err))
		report.Skipped = append(report.Skipped, f.ID)
		if hash, ok := previous[f.ID]; ok {
			current[f.ID] = hash
		}
	}

	// DIFF
	changes := fingerprint.Diff(previous, current)
	report.Scanned = len(docs)
	report.Unchanged = len(changes.Unchanged)
	report.Added = len(changes.New)
	report.Modified = len(changes.Modified)
	report.Deleted = len(changes.Deleted)

	// RECONCILE: every delete happens before any insert. New documents are
	// cleared too so a retry after a failed run cannot duplicate chunks.
	var toClear []string
	toClear = append(toClear, changes.Deleted...)
	toClear = append(toClear, changes.Modified...)
	toClear = append(toClear, changes.New...)

	for _, id := range toClear {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.index.DeleteBySource(ctx, id); err != nil {
			return fmt.Errorf("failed to clear %s: %w", id, err)
		}
	}

	var toIndex []string
	toIndex = append(toIndex, changes.New...)
	toIndex = append(toIndex, changes.Modified...)

	for _, id := range toIndex {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunks := c.chunker.Chunk(byID[id].Text, id)
		if err := c.index.Upsert(ctx, chunks); err != nil {
			return fmt.Errorf("failed to index %s: %w", id, err)
		}
		report.ChunksUpserted += len(chunks)

		logger.Debug("Document indexed", zap.String("document", id), zap.Int("chunks", len(chunks)))
	}

	// PERSIST
	if err := c.state.Save(current); err != nil {
		return fmt.Errorf("failed to save fingerprint state: %w", err)
	}

	return nil
}

func (c *Coordinator) record(ctx context.Context, report *Report, started time.Time, runErr error) {
	if c.recorder == nil {
		return
	}

	run := &models.IngestionRun{
		ID:             report.RunID,
		Status:         statusCompleted,
		Scanned:        report.Scanned,
		Unchanged:      report.Unchanged,
		Added:          report.Added,
		Modified:       report.Modified,
		Deleted:        report.Deleted,
		Skipped:        len(report.Skipped),
		ChunksUpserted: report.ChunksUpserted,
		StartedAt:      started.UTC(),
		FinishedAt:     started.Add(report.Duration).UTC(),
	}
	if runErr != nil {
		run.Status = statusFailed
		run.Error = runErr.Error()
	}

	if err := c.recorder.RecordIngestionRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("Failed to record ingestion run", zap.String("run_id", run.ID), zap.Error(err))
	}
}
