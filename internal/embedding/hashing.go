package embedding

import (
	"context"
	"hash/fnv"

	"github.com/coursebot/courserag/internal/utils"
)

// DefaultHashingDimension is the vector size of the hashing embedder.
const DefaultHashingDimension = 512

// HashingEmbedder maps words into a fixed number of buckets (the hashing trick)
// and L2-normalises the counts. It needs no network and is deterministic, which
// makes it suitable for development and tests; similarity is purely lexical.
type HashingEmbedder struct {
	dim int
}

func NewHashingEmbedder(dimension int) *HashingEmbedder {
	if dimension <= 0 {
		dimension = DefaultHashingDimension
	}
	return &HashingEmbedder{dim: dimension}
}

func (e *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, w := range utils.Words(text) {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%uint32(e.dim)]++
	}
	utils.Normalize(vec)
	return vec, nil
}

func (e *HashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *HashingEmbedder) ModelName() string { return "hashing" }
