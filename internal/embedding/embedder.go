// Package embedding defines the text embedding port and a local implementation.
package embedding

import "context"

// Embedder converts text into fixed-dimensionality vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}
