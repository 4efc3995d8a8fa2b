package router

import (
	"strings"

	prose "github.com/jdkato/prose/v2"

	"github.com/catalyst-agent/backend/internal/models"
)

// domainKeywords are terms whose presence makes a prompt harder to
// classify with a cheap model: multi-step corporate actions, regulatory
// nuance, accounting language.
var domainKeywords = []string{
	"guidance", "merger", "acquisition", "divestiture", "spinoff",
	"restructuring", "covenant", "dilution", "warrant", "convertible",
	"fda", "sec", "doj", "ftc", "phase 3", "phase 2", "endpoint",
	"non-gaap", "impairment", "goodwill", "writedown", "restatement",
}

// Scorer assigns a deterministic complexity score in [0, 100] to a
// classification request. Same input, same score: routing stays
// reproducible even though backend selection is randomized.
type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

func (s *Scorer) Score(req models.ClassificationRequest) int {
	if req.DeclaredComplexity > 0 {
		return clamp(req.DeclaredComplexity)
	}

	score := lengthComponent(req.PromptText)

	lower := strings.ToLower(req.PromptText)
	keywordHits := 0
	for _, kw := range domainKeywords {
		if strings.Contains(lower, kw) {
			keywordHits++
		}
	}
	if keywordHits > 6 {
		keywordHits = 6
	}
	score += keywordHits * 5

	// Structured output requests need a backend that reliably emits
	// valid JSON.
	if strings.Contains(lower, "json") || strings.Contains(lower, "schema") {
		score += 20
	}

	return clamp(score)
}

func lengthComponent(text string) int {
	tokens := tokenCount(text)
	switch {
	case tokens <= 50:
		return 10
	case tokens <= 200:
		return 25
	default:
		return 40
	}
}

func tokenCount(text string) int {
	doc, err := prose.NewDocument(text,
		prose.WithSegmentation(false),
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return len(strings.Fields(text))
	}
	return len(doc.Tokens())
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
