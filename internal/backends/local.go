package backends

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/catalyst-agent/backend/internal/models"
)

// LocalBackend is a deterministic keyword scorer: zero cost, near-zero
// latency, low quality ceiling. It is the cheapest routing tier and
// doubles as the degraded-result fallback when every remote backend is
// exhausted.
type LocalBackend struct {
	desc Descriptor
}

var bullishSignals = map[string]float64{
	"fda approval":      0.9,
	"approval granted":  0.9,
	"acquisition":       0.7,
	"merger":            0.7,
	"buyback":           0.6,
	"beats estimates":   0.7,
	"raises guidance":   0.8,
	"record revenue":    0.6,
	"partnership":       0.4,
	"contract award":    0.5,
	"patent granted":    0.4,
	"upgrade":           0.5,
}

var bearishSignals = map[string]float64{
	"bankruptcy":        -0.9,
	"chapter 11":        -0.9,
	"delisting":         -0.8,
	"sec investigation": -0.8,
	"misses estimates":  -0.7,
	"cuts guidance":     -0.8,
	"lowers guidance":   -0.8,
	"dilution":          -0.6,
	"offering":          -0.5,
	"recall":            -0.6,
	"downgrade":         -0.5,
	"lawsuit":           -0.4,
	"clinical hold":     -0.7,
	"crl":               -0.7,
}

func NewLocalBackend(name string) *LocalBackend {
	return &LocalBackend{
		desc: Descriptor{
			Name:            name,
			Tier:            "local",
			CostPerCall:     0,
			ExpectedLatency: time.Millisecond,
			MaxComplexity:   30,
		},
	}
}

func (b *LocalBackend) Descriptor() Descriptor {
	return b.desc
}

func (b *LocalBackend) Invoke(ctx context.Context, promptText string) (models.ResultPayload, error) {
	text := strings.ToLower(promptText)

	var score float64
	var hits []string

	for phrase, weight := range bullishSignals {
		if strings.Contains(text, phrase) {
			score += weight
			hits = append(hits, phrase)
		}
	}
	for phrase, weight := range bearishSignals {
		if strings.Contains(text, phrase) {
			score += weight
			hits = append(hits, phrase)
		}
	}

	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}

	label := "neutral"
	if score >= 0.3 {
		label = "bullish"
	} else if score <= -0.3 {
		label = "bearish"
	}

	reasoning := "no catalyst keywords matched"
	if len(hits) > 0 {
		sort.Strings(hits)
		reasoning = "matched: " + strings.Join(hits, ", ")
	}

	return models.ResultPayload{
		Label:     label,
		Score:     score,
		Reasoning: reasoning,
	}, nil
}
