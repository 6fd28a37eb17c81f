package embedding

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited caps the number of embedding requests per second sent to the
// wrapped embedder. A batch counts as one request.
type RateLimited struct {
	next    Embedder
	limiter *rate.Limiter
}

// NewRateLimited wraps e. A non-positive perSecond disables limiting.
func NewRateLimited(e Embedder, perSecond float64, burst int) Embedder {
	if perSecond <= 0 {
		return e
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: e, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Embed(ctx, text)
}

func (r *RateLimited) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.EmbedBatch(ctx, texts)
}

func (r *RateLimited) ModelName() string { return r.next.ModelName() }
