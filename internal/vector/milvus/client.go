package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/pkg/logger"
)

// Client indexes corpus passages for semantic top-k retrieval. It is an
// optional acceleration layer; retrieval degrades to an exhaustive store
// scan when it is unavailable.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

type Passage struct {
	ID         string
	Embedding  []float32
	Text       string
	SourceName string
	Kind       string
	IngestedAt time.Time
}

type SearchHit struct {
	PassageID  string
	Text       string
	SourceName string
	Kind       string
	Score      float32
}

func NewClient(endpoint, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) CreateCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Portfolio corpus passage embeddings",
		Fields: []*entity.Field{
			{
				Name:       "passage_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "8192",
				},
			},
			{
				Name:     "source_name",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "256",
				},
			},
			{
				Name:     "kind",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "32",
				},
			},
			{
				Name:     "ingested_at",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx := entity.NewIndexIVFFlat(entity.L2, 1024)
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Insert(ctx context.Context, passages []Passage) error {
	if len(passages) == 0 {
		return nil
	}

	ids := make([]string, len(passages))
	embeddings := make([][]float32, len(passages))
	texts := make([]string, len(passages))
	sources := make([]string, len(passages))
	kinds := make([]string, len(passages))
	timestamps := make([]int64, len(passages))

	for i, p := range passages {
		ids[i] = p.ID
		embeddings[i] = p.Embedding
		texts[i] = p.Text
		sources[i] = p.SourceName
		kinds[i] = p.Kind
		timestamps[i] = p.IngestedAt.Unix()
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("passage_id", ids),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("source_name", sources),
		entity.NewColumnVarChar("kind", kinds),
		entity.NewColumnInt64("ingested_at", timestamps),
	)

	if err != nil {
		return fmt.Errorf("failed to insert passages: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Passages indexed", zap.Int("count", len(passages)))

	return nil
}

func (m *Client) Delete(ctx context.Context, passageID string) error {
	expr := fmt.Sprintf(`passage_id == "%s"`, passageID)
	if err := m.client.Delete(ctx, m.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete passage: %w", err)
	}
	return nil
}

func (m *Client) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]SearchHit, error) {
	sp, _ := entity.NewIndexIVFFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		"",
		[]string{"passage_id", "text", "source_name", "kind"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.L2,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchHit, 0)
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn("passage_id")
		textCol := sr.Fields.GetColumn("text")
		sourceCol := sr.Fields.GetColumn("source_name")
		kindCol := sr.Fields.GetColumn("kind")

		for i := 0; i < sr.ResultCount; i++ {
			id, _ := idCol.Get(i)
			text, _ := textCol.Get(i)
			source, _ := sourceCol.Get(i)
			kind, _ := kindCol.Get(i)

			results = append(results, SearchHit{
				PassageID:  id.(string),
				Text:       text.(string),
				SourceName: source.(string),
				Kind:       kind.(string),
				Score:      sr.Scores[i],
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
	)

	return results, nil
}
