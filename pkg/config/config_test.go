package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 120, cfg.Dedup.WindowMinutes)
	assert.Equal(t, 24, cfg.Cache.TTLHours)
	assert.InDelta(t, 0.95, cfg.Cache.SimilarityThreshold, 1e-9)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30, cfg.Breaker.CooldownSeconds)
	assert.Equal(t, 3, cfg.Router.MaxAttempts)
	assert.Equal(t, 256, cfg.Orchestrator.QueueCapacity)
	assert.True(t, cfg.Orchestrator.DegradedFallback)
}

func TestLoadDefaultBackendFleet(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	// Without a config file the pipeline still has a backend to route
	// to, not an empty registry.
	require.Len(t, cfg.Backends, 1)
	assert.Equal(t, "local-heuristic", cfg.Backends[0].Name)
	assert.Equal(t, "local", cfg.Backends[0].Type)
	assert.Zero(t, cfg.Backends[0].CostPerCall)
}

func TestLoadDefaultRoutingWeights(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Contains(t, cfg.Router.Weights, "low")
	assert.Equal(t, 70, cfg.Router.Weights["low"]["cheap"])
	assert.Equal(t, 25, cfg.Router.Weights["low"]["mid"])
	assert.Equal(t, 5, cfg.Router.Weights["low"]["premium"])
	assert.Equal(t, 100, cfg.Router.Weights["high"]["premium"])
}
