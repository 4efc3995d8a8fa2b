package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/catalyst-agent/backend/pkg/logger"
)

// Client is a Milvus-backed similarity index for the response cache,
// used instead of the linear scan when the deployment is configured
// with a vector database. Payloads stay in the durable SQLite table;
// Milvus only answers "which cache_key is nearest".
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus index client initialized",
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
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Classification response cache embeddings",
		Fields: []*entity.Field{
			{
				Name:       "cache_key",
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
				Name:     "feature",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "expires_at",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Milvus collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Insert(ctx context.Context, cacheKey, feature string, embedding []float32, expiresAt time.Time) error {
	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("cache_key", []string{cacheKey}),
		entity.NewColumnFloatVector("embedding", m.vectorDim, [][]float32{embedding}),
		entity.NewColumnVarChar("feature", []string{feature}),
		entity.NewColumnInt64("expires_at", []int64{expiresAt.UnixMilli()}),
	)
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}

	return nil
}

// Search returns the cache_key of the best live match above threshold
// within the feature partition. Embeddings are unit-normalized, so
// inner product equals cosine similarity.
func (m *Client) Search(ctx context.Context, feature string, embedding []float32, threshold float64) (string, bool, error) {
	expr := fmt.Sprintf(`feature == "%s" && expires_at > %d`, feature, time.Now().UnixMilli())

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	results, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"cache_key"},
		[]entity.Vector{entity.FloatVector(embedding)},
		"embedding",
		entity.IP,
		1,
		sp,
	)
	if err != nil {
		return "", false, fmt.Errorf("failed to search: %w", err)
	}

	for _, sr := range results {
		for i := 0; i < sr.ResultCount; i++ {
			if float64(sr.Scores[i]) < threshold {
				continue
			}
			keyCol := sr.Fields.GetColumn("cache_key")
			key, err := keyCol.Get(i)
			if err != nil {
				continue
			}
			return key.(string), true, nil
		}
	}

	return "", false, nil
}
