// Package embedding converts text into vectors through an external embedding
// service under a bounded retry policy.
package embedding

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/adapter"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/maplebond/maplebond/pkg/utils/retry"
)

type Client struct {
	embedder  adapter.Embedder
	policy    retry.Policy
	dimension int
}

func New(embedder adapter.Embedder, cfg model.Config) *Client {
	return &Client{
		embedder: embedder,
		policy: retry.Policy{
			MaxRetries:          cfg.RetryCount,
			InitialInterval:     cfg.RetryInitialInterval,
			MaxInterval:         cfg.RetryMaxInterval,
			RandomizationFactor: model.RetryJitter,
			AttemptTimeout:      cfg.EmbeddingTimeout,
		},
		dimension: cfg.EmbeddingDimension,
	}
}

// Embed returns the vector of text. Transient failures are retried; a permanent
// failure or an exhausted policy is reported as model.ErrEmbeddingService.
// Cancellation of ctx is returned as is.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, goerr.Wrap(model.ErrInvalidInput, "text to embed is empty")
	}

	vector, attempts, err := retry.Do(ctx, c.policy, adapter.IsTransient, func(ctx context.Context) ([]float32, error) {
		v, err := c.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if c.dimension > 0 && len(v) != c.dimension {
			return nil, goerr.Wrap(adapter.ErrPermanent, "unexpected embedding dimension",
				goerr.V("expected", c.dimension), goerr.V("actual", len(v)))
		}
		if !model.FiniteVector(v) {
			return nil, goerr.Wrap(adapter.ErrPermanent, "embedding has a NaN or infinite component")
		}
		return v, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, goerr.Wrap(ctxErr, "embedding abandoned", goerr.V("attempts", attempts))
		}
		return nil, goerr.Wrap(model.ErrEmbeddingService, "failed to embed text",
			goerr.V("attempts", attempts),
			goerr.V("cause", err.Error()))
	}

	return vector, nil
}

// Dimension returns the expected vector size, or 0 when unchecked
func (c *Client) Dimension() int {
	return c.dimension
}
