package models

import "time"

// CatalystItem is the raw unit of work produced by a source adapter.
// Immutable once created. PublishedAt is source-claimed and untrusted;
// FetchedAt is observed at ingestion and trusted.
type CatalystItem struct {
	SourceID    string    `json:"source_id"`
	Ticker      string    `json:"ticker,omitempty"`
	Title       string    `json:"title"`
	BodyExcerpt string    `json:"body_excerpt,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	FetchedAt   time.Time `json:"fetched_at"`
	SourceName  string    `json:"source_name"`
}

// SeenRecord is the dedup store's per-fingerprint state. At most one
// exists per fingerprint at a time.
type SeenRecord struct {
	Fingerprint string
	FirstSeenAt time.Time
	ExpiresAt   time.Time
	SourceCount int
}

type ClassificationRequest struct {
	PromptText         string
	DeclaredComplexity int
	MaxLatencyBudget   time.Duration
	FeatureName        string
}

// ResultPayload is the classification verdict a backend produces.
type ResultPayload struct {
	Label     string  `json:"label"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// ClassificationResult is terminal: handed to the notifier and never
// mutated afterwards.
type ClassificationResult struct {
	ID           string                `json:"id"`
	Request      ClassificationRequest `json:"-"`
	Ticker       string                `json:"ticker,omitempty"`
	Title        string                `json:"title,omitempty"`
	SourceName   string                `json:"source_name,omitempty"`
	BackendUsed  string                `json:"backend_used"`
	Payload      ResultPayload         `json:"payload"`
	CacheHit     bool                  `json:"cache_hit"`
	Degraded     bool                  `json:"degraded,omitempty"`
	LatencyMS    int                   `json:"latency_ms"`
	CostEstimate float64               `json:"cost_estimate"`
	CreatedAt    time.Time             `json:"created_at"`
}

// CachedResponse is one entry in the semantic response cache. CacheKey
// identifies the similarity bucket and is unrelated to the dedup
// fingerprint.
type CachedResponse struct {
	CacheKey  string
	Feature   string
	Embedding []float32
	Payload   ResultPayload
	StoredAt  time.Time
	ExpiresAt time.Time
	HitCount  int
}
