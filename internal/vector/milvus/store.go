package milvus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/internal/vector"
	"github.com/onboarding-agent/backend/pkg/logger"
)

const (
	fieldID         = "id"
	fieldEmbedding  = "embedding"
	fieldText       = "text"
	fieldSource     = "source"
	fieldHeadings   = "headings"
	fieldChunkIndex = "chunk_index"
)

var outputFields = []string{fieldText, fieldSource, fieldHeadings, fieldChunkIndex}

// Store is a Milvus/Zilliz backed vector store. Embeddings are expected to be
// unit length, so inner product ranks like cosine similarity.
type Store struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

type Config struct {
	Address    string
	APIKey     string
	Collection string
	Dimension  int
}

func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: cfg.Address,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	s := &Store{
		client:         c,
		collectionName: cfg.Collection,
		vectorDim:      cfg.Dimension,
	}

	if err := s.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}

	logger.Info("Milvus vector store initialized",
		zap.String("address", cfg.Address),
		zap.String("collection", cfg.Collection),
	)

	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	has, err := s.client.HasCollection(ctx, s.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		if err := s.client.CreateCollection(ctx, s.schema(), entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexIvfFlat(entity.IP, 128)
		if err != nil {
			return fmt.Errorf("failed to build index params: %w", err)
		}
		if err := s.client.CreateIndex(ctx, s.collectionName, fieldEmbedding, idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}

		logger.Info("Collection created", zap.String("collection", s.collectionName))
	}

	if err := s.client.LoadCollection(ctx, s.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (s *Store) schema() *entity.Schema {
	return &entity.Schema{
		CollectionName: s.collectionName,
		Description:    "Onboarding policy chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       fieldID,
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     true,
			},
			{
				Name:     fieldEmbedding,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", s.vectorDim),
				},
			},
			{
				Name:     fieldText,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "8192",
				},
			},
			{
				Name:     fieldSource,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     fieldHeadings,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "1024",
				},
			},
			{
				Name:     fieldChunkIndex,
				DataType: entity.FieldTypeInt64,
			},
		},
	}
}

func (s *Store) Add(ctx context.Context, entries []vector.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	columns, err := columnsFor(entries, s.vectorDim)
	if err != nil {
		return err
	}

	if _, err := s.client.Insert(ctx, s.collectionName, "", columns...); err != nil {
		return fmt.Errorf("failed to insert entries: %w", err)
	}

	if err := s.client.Flush(ctx, s.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Debug("Entries inserted into milvus", zap.Int("count", len(entries)))
	return nil
}

func (s *Store) DeleteBySource(ctx context.Context, source string) error {
	if err := s.client.Delete(ctx, s.collectionName, "", sourceExpr(source)); err != nil {
		return fmt.Errorf("failed to delete entries for %s: %w", source, err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, embedding []float32, k int) ([]vector.Result, error) {
	if k <= 0 {
		return []vector.Result{}, nil
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := s.client.Search(
		ctx,
		s.collectionName,
		[]string{},
		"",
		outputFields,
		[]entity.Vector{entity.FloatVector(embedding)},
		fieldEmbedding,
		entity.IP,
		k,
		sp,
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]vector.Result, 0, k)
	for _, sr := range searchResult {
		textCol := sr.Fields.GetColumn(fieldText)
		sourceCol := sr.Fields.GetColumn(fieldSource)
		headingsCol := sr.Fields.GetColumn(fieldHeadings)
		indexCol := sr.Fields.GetColumn(fieldChunkIndex)
		if textCol == nil || sourceCol == nil || headingsCol == nil || indexCol == nil {
			return nil, fmt.Errorf("search result is missing output fields")
		}

		for i := 0; i < sr.ResultCount; i++ {
			text, _ := textCol.GetAsString(i)
			source, _ := sourceCol.GetAsString(i)
			headingsJSON, _ := headingsCol.GetAsString(i)
			chunkIndex, _ := indexCol.GetAsInt64(i)

			chunk := vector.Chunk{
				Text:       text,
				Source:     source,
				ChunkIndex: int(chunkIndex),
			}
			if headingsJSON != "" {
				if err := json.Unmarshal([]byte(headingsJSON), &chunk.Headings); err != nil {
					logger.Warn("Discarding malformed headings", zap.String("source", source), zap.Error(err))
				}
			}

			results = append(results, vector.Result{Chunk: chunk, Score: sr.Scores[i]})
		}
	}

	return results, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	rs, err := s.client.Query(
		ctx,
		s.collectionName,
		[]string{},
		"",
		[]string{"count(*)"},
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}

	col := rs.GetColumn("count(*)")
	if col == nil || col.Len() == 0 {
		return 0, nil
	}
	n, err := col.GetAsInt64(0)
	if err != nil {
		return 0, fmt.Errorf("failed to read count: %w", err)
	}
	return int(n), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func sourceExpr(source string) string {
	return fmt.Sprintf("%s == %q", fieldSource, source)
}

func columnsFor(entries []vector.Entry, dim int) ([]entity.Column, error) {
	embeddings := make([][]float32, len(entries))
	texts := make([]string, len(entries))
	sources := make([]string, len(entries))
	headings := make([]string, len(entries))
	indices := make([]int64, len(entries))

	for i, e := range entries {
		if len(e.Embedding) != dim {
			return nil, fmt.Errorf("embedding for %s chunk %d has dimension %d, expected %d",
				e.Chunk.Source, e.Chunk.ChunkIndex, len(e.Embedding), dim)
		}
		h, err := json.Marshal(e.Chunk.Headings)
		if err != nil {
			return nil, fmt.Errorf("failed to encode headings: %w", err)
		}

		embeddings[i] = e.Embedding
		texts[i] = e.Chunk.Text
		sources[i] = e.Chunk.Source
		headings[i] = string(h)
		indices[i] = int64(e.Chunk.ChunkIndex)
	}

	return []entity.Column{
		entity.NewColumnFloatVector(fieldEmbedding, dim, embeddings),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldSource, sources),
		entity.NewColumnVarChar(fieldHeadings, headings),
		entity.NewColumnInt64(fieldChunkIndex, indices),
	}, nil
}
