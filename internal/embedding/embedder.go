package embedding

import "context"

// Embedder turns prompt text into a vector for the response cache's
// similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
