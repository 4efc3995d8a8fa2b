package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/catalyst-agent/backend/internal/models"
	"github.com/catalyst-agent/backend/pkg/logger"
)

// Index finds the best stored entry above a similarity threshold within
// a feature partition. The default is a linear cosine scan over the
// durable table; a Milvus-backed implementation can be plugged in when
// the entry count outgrows linear search.
type Index interface {
	Search(ctx context.Context, feature string, embedding []float32, threshold float64) (string, bool, error)
}

// ExactLayer is an optional hot path for byte-identical prompts,
// consulted before any similarity search. Failures degrade to a miss.
type ExactLayer interface {
	GetResult(ctx context.Context, promptHash string) (models.ResultPayload, bool, error)
	SetResult(ctx context.Context, promptHash string, payload models.ResultPayload, ttl time.Duration) error
}

// ResponseCache maps similarity buckets of classification prompts to
// previously computed results. It is strictly an optimization: callers
// treat every error as a miss.
type ResponseCache struct {
	db        *sql.DB
	threshold float64
	index     Index
	exact     ExactLayer
}

func NewResponseCache(dbPath string, threshold float64) (*ResponseCache, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if threshold <= 0 || threshold > 1 {
		threshold = 0.95
	}

	c := &ResponseCache{
		db:        db,
		threshold: threshold,
	}
	c.index = &linearIndex{cache: c}

	logger.Info("Response cache initialized",
		zap.String("path", dbPath),
		zap.Float64("threshold", threshold),
	)

	return c, nil
}

// SetIndex swaps the similarity index. The durable table stays the
// source of truth for payloads either way.
func (c *ResponseCache) SetIndex(index Index) {
	c.index = index
}

func (c *ResponseCache) SetExactLayer(exact ExactLayer) {
	c.exact = exact
}

func (c *ResponseCache) Close() error {
	return c.db.Close()
}

func (c *ResponseCache) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cached_responses (
		cache_key TEXT PRIMARY KEY,
		feature TEXT NOT NULL,
		embedding TEXT NOT NULL,
		payload TEXT NOT NULL,
		stored_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_cached_feature ON cached_responses(feature, expires_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Lookup returns the best cached response for the prompt, trying the
// exact layer first and then the similarity index. A miss is (nil,
// false, nil); expired entries are misses, not errors.
func (c *ResponseCache) Lookup(ctx context.Context, feature, promptText string, embedding []float32) (*models.CachedResponse, bool, error) {
	if c.exact != nil {
		payload, ok, err := c.exact.GetResult(ctx, promptHash(feature, promptText))
		if err != nil {
			logger.Warn("Exact cache lookup failed, falling through", zap.Error(err))
		} else if ok {
			return &models.CachedResponse{
				CacheKey: promptHash(feature, promptText),
				Feature:  feature,
				Payload:  payload,
			}, true, nil
		}
	}

	cacheKey, found, err := c.index.Search(ctx, feature, embedding, c.threshold)
	if err != nil {
		return nil, false, fmt.Errorf("similarity search failed: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	entry, err := c.get(ctx, cacheKey)
	if err != nil {
		return nil, false, err
	}
	if entry == nil || !entry.ExpiresAt.After(time.Now()) {
		return nil, false, nil
	}

	// Best effort; a lost increment is harmless.
	c.db.ExecContext(ctx,
		`UPDATE cached_responses SET hit_count = hit_count + 1 WHERE cache_key = ?`,
		cacheKey,
	)
	entry.HitCount++

	logger.Debug("Response cache hit",
		zap.String("feature", feature),
		zap.String("cache_key", cacheKey),
	)

	return entry, true, nil
}

// Store writes a computed result under the embedding's similarity
// bucket. Concurrent stores for near-identical embeddings may both
// land; each row becomes visible atomically via a single INSERT.
func (c *ResponseCache) Store(ctx context.Context, feature, promptText string, embedding []float32, payload models.ResultPayload, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now()
	key := CacheKey(feature, embedding)

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO cached_responses (cache_key, feature, embedding, payload, stored_at, expires_at, hit_count)
		 VALUES (?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT(cache_key) DO UPDATE SET
			feature = excluded.feature,
			payload = excluded.payload,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at`,
		key, feature, string(embeddingJSON), string(payloadJSON),
		now.UnixMilli(), now.Add(ttl).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store cached response: %w", err)
	}

	if c.exact != nil {
		if err := c.exact.SetResult(ctx, promptHash(feature, promptText), payload, ttl); err != nil {
			logger.Warn("Exact cache store failed", zap.Error(err))
		}
	}

	if inserter, ok := c.index.(interface {
		Insert(ctx context.Context, cacheKey, feature string, embedding []float32, expiresAt time.Time) error
	}); ok {
		if err := inserter.Insert(ctx, key, feature, embedding, now.Add(ttl)); err != nil {
			logger.Warn("Index insert failed", zap.Error(err))
		}
	}

	return nil
}

// Sweep deletes expired entries and returns how many were removed.
func (c *ResponseCache) Sweep(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM cached_responses WHERE expires_at <= ?`,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep cache: %w", err)
	}

	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		logger.Debug("Cache sweep completed", zap.Int64("deleted", deleted))
	}

	return deleted, nil
}

func (c *ResponseCache) get(ctx context.Context, cacheKey string) (*models.CachedResponse, error) {
	var feature, embeddingJSON, payloadJSON string
	var storedAt, expiresAt int64
	var hitCount int

	err := c.db.QueryRowContext(ctx,
		`SELECT feature, embedding, payload, stored_at, expires_at, hit_count
		 FROM cached_responses WHERE cache_key = ?`,
		cacheKey,
	).Scan(&feature, &embeddingJSON, &payloadJSON, &storedAt, &expiresAt, &hitCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached response: %w", err)
	}

	entry := &models.CachedResponse{
		CacheKey:  cacheKey,
		Feature:   feature,
		StoredAt:  time.UnixMilli(storedAt),
		ExpiresAt: time.UnixMilli(expiresAt),
		HitCount:  hitCount,
	}
	if err := json.Unmarshal([]byte(embeddingJSON), &entry.Embedding); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	if err := json.Unmarshal([]byte(payloadJSON), &entry.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return entry, nil
}

// linearIndex scans every live embedding in the feature partition. Fine
// for the entry counts a 24h TTL produces.
type linearIndex struct {
	cache *ResponseCache
}

func (l *linearIndex) Search(ctx context.Context, feature string, embedding []float32, threshold float64) (string, bool, error) {
	rows, err := l.cache.db.QueryContext(ctx,
		`SELECT cache_key, embedding FROM cached_responses WHERE feature = ? AND expires_at > ?`,
		feature, time.Now().UnixMilli(),
	)
	if err != nil {
		return "", false, fmt.Errorf("failed to scan partition: %w", err)
	}
	defer rows.Close()

	bestKey := ""
	bestScore := threshold

	for rows.Next() {
		var key, embeddingJSON string
		if err := rows.Scan(&key, &embeddingJSON); err != nil {
			return "", false, fmt.Errorf("failed to scan row: %w", err)
		}

		var stored []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &stored); err != nil {
			continue
		}

		score := CosineSimilarity(embedding, stored)
		if score >= bestScore {
			bestScore = score
			bestKey = key
		}
	}
	if err := rows.Err(); err != nil {
		return "", false, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return bestKey, bestKey != "", nil
}

// CacheKey derives the similarity-bucket key for an embedding within a
// feature partition. The feature is folded into the digest so the same
// prompt embedded for two features never shares a row. The vector is
// rounded before hashing so that float noise from re-encoding does not
// split a bucket.
func CacheKey(feature string, embedding []float32) string {
	rounded := make([]int32, len(embedding))
	for i, v := range embedding {
		rounded[i] = int32(math.Round(float64(v) * 1000))
	}

	h := sha256.New()
	h.Write([]byte(feature))
	h.Write([]byte{'|'})
	buf := make([]byte, 4)
	for _, v := range rounded {
		buf[0] = byte(v)
		buf[1] = byte(v >> 8)
		buf[2] = byte(v >> 16)
		buf[3] = byte(v >> 24)
		h.Write(buf)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func CosineSimilarity(a, b []float32) float64 {
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

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func promptHash(feature, promptText string) string {
	h := sha256.Sum256([]byte(feature + "|" + promptText))
	return fmt.Sprintf("%x", h)
}
