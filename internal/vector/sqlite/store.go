package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/internal/vector"
	"github.com/onboarding-agent/backend/pkg/logger"
)

// Store keeps chunk embeddings in a local SQLite file and ranks them by
// brute-force cosine similarity. Ties are broken by insertion order.
type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create vector store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite vector store initialized", zap.String("path", dbPath))
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vector_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		headings TEXT,
		embedding BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_vector_entries_source ON vector_entries(source);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize vector schema: %w", err)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, entries []vector.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vector_entries (source, chunk_index, text, headings, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		headings, err := json.Marshal(e.Chunk.Headings)
		if err != nil {
			return fmt.Errorf("failed to encode headings: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.Chunk.Source,
			e.Chunk.ChunkIndex,
			e.Chunk.Text,
			string(headings),
			float32SliceToBytes(e.Embedding),
		); err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entries: %w", err)
	}
	return nil
}

func (s *Store) DeleteBySource(ctx context.Context, source string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vector_entries WHERE source = ?`, source)
	if err != nil {
		return fmt.Errorf("failed to delete entries: %w", err)
	}

	n, _ := res.RowsAffected()
	logger.Debug("Vector entries deleted", zap.String("source", source), zap.Int64("count", n))
	return nil
}

type scored struct {
	id     int64
	result vector.Result
}

func (s *Store) Search(ctx context.Context, embedding []float32, k int) ([]vector.Result, error) {
	if k <= 0 {
		return []vector.Result{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, chunk_index, text, headings, embedding FROM vector_entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan vector entries: %w", err)
	}
	defer rows.Close()

	var candidates []scored
	for rows.Next() {
		var (
			id       int64
			chunk    vector.Chunk
			headings sql.NullString
			blob     []byte
		)
		if err := rows.Scan(&id, &chunk.Source, &chunk.ChunkIndex, &chunk.Text, &headings, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if headings.Valid && headings.String != "" {
			if err := json.Unmarshal([]byte(headings.String), &chunk.Headings); err != nil {
				return nil, fmt.Errorf("failed to decode headings for entry %d: %w", id, err)
			}
		}

		candidates = append(candidates, scored{
			id: id,
			result: vector.Result{
				Chunk: chunk,
				Score: cosineSimilarity(embedding, bytesToFloat32Slice(blob)),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vector entries: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].result.Score != candidates[j].result.Score {
			return candidates[i].result.Score > candidates[j].result.Score
		}
		return candidates[i].id < candidates[j].id
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]vector.Result, len(candidates))
	for i, c := range candidates {
		results[i] = c.result
	}
	return results, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count vector entries: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
