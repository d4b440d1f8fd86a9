package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/internal/storage/models"
	"github.com/onboarding-agent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_call_id TEXT,
		name TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, id);

	CREATE TABLE IF NOT EXISTS ingestion_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		scanned INTEGER NOT NULL,
		unchanged INTEGER NOT NULL,
		added INTEGER NOT NULL,
		modified INTEGER NOT NULL,
		deleted INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		chunks_upserted INTEGER NOT NULL,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ingestion_runs_started ON ingestion_runs(started_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// Load returns a thread's messages in append order. Unknown threads are
// empty.
func (c *Client) Load(ctx context.Context, threadID string) ([]models.Message, error) {
	query := `
		SELECT role, content, tool_calls, tool_call_id, name, created_at
		FROM messages
		WHERE thread_id = ?
		ORDER BY id
	`

	rows, err := c.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var (
			m          models.Message
			role       string
			toolCalls  sql.NullString
			toolCallID sql.NullString
			name       sql.NullString
			createdAt  int64
		)

		if err := rows.Scan(&role, &m.Content, &toolCalls, &toolCallID, &name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		m.Role = models.Role(role)
		m.ToolCallID = toolCallID.String
		m.Name = name.String
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls: %w", err)
			}
		}

		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return msgs, nil
}

// Append stores msgs at the end of the thread in one transaction.
func (c *Client) Append(ctx context.Context, threadID string, msgs ...models.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO threads (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, threadID, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert thread: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (thread_id, role, content, tool_calls, tool_call_id, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		var toolCalls sql.NullString
		if len(m.ToolCalls) > 0 {
			data, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("failed to encode tool calls: %w", err)
			}
			toolCalls = sql.NullString{String: string(data), Valid: true}
		}

		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		if _, err := stmt.ExecContext(ctx,
			threadID,
			string(m.Role),
			m.Content,
			toolCalls,
			nullIfEmpty(m.ToolCallID),
			nullIfEmpty(m.Name),
			createdAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}

	logger.Debug("Thread messages appended", zap.String("thread_id", threadID), zap.Int("count", len(msgs)))
	return nil
}

func (c *Client) RecordIngestionRun(ctx context.Context, run *models.IngestionRun) error {
	query := `
		INSERT INTO ingestion_runs (id, status, scanned, unchanged, added, modified, deleted, skipped,
			chunks_upserted, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx,
		query,
		run.ID,
		run.Status,
		run.Scanned,
		run.Unchanged,
		run.Added,
		run.Modified,
		run.Deleted,
		run.Skipped,
		run.ChunksUpserted,
		nullIfEmpty(run.Error),
		run.StartedAt.UnixMilli(),
		run.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record ingestion run: %w", err)
	}

	return nil
}

func (c *Client) RecentIngestionRuns(ctx context.Context, limit int) ([]models.IngestionRun, error) {
	query := `
		SELECT id, status, scanned, unchanged, added, modified, deleted, skipped, chunks_upserted,
			error, started_at, finished_at
		FROM ingestion_runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion runs: %w", err)
	}
	defer rows.Close()

	var runs []models.IngestionRun
	for rows.Next() {
		var (
			r                   models.IngestionRun
			errMsg              sql.NullString
			started, finishedAt int64
		)
		if err := rows.Scan(&r.ID, &r.Status, &r.Scanned, &r.Unchanged, &r.Added, &r.Modified,
			&r.Deleted, &r.Skipped, &r.ChunksUpserted, &errMsg, &started, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Error = errMsg.String
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(finishedAt).UTC()
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
