package adapter

import (
	"context"

	"github.com/maplebond/maplebond/pkg/model"
)

// Embedder converts text into an embedding vector via an external service
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GenerateOptions carries the sampling caps of a completion request
type GenerateOptions struct {
	MaxTokens   int32
	Temperature float32
}

// Generator sends a rendered prompt to an external completion service.
// A content-policy refusal is reported as ErrContentRejected.
type Generator interface {
	Generate(ctx context.Context, prompt *model.PromptPayload, opts GenerateOptions) (string, error)
}
