// Package completion sends rendered prompts to an external language model
// under a bounded retry policy.
package completion

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/adapter"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/maplebond/maplebond/pkg/utils/retry"
)

// errEmptyAnswer marks a response without text; it is retried like a transient failure
var errEmptyAnswer = goerr.New("empty answer from completion service")

type Client struct {
	generator adapter.Generator
	policy    retry.Policy
	options   adapter.GenerateOptions
}

func New(generator adapter.Generator, cfg model.Config) *Client {
	return &Client{
		generator: generator,
		policy: retry.Policy{
			MaxRetries:          cfg.RetryCount,
			InitialInterval:     cfg.RetryInitialInterval,
			MaxInterval:         cfg.RetryMaxInterval,
			RandomizationFactor: model.RetryJitter,
			AttemptTimeout:      cfg.CompletionTimeout,
		},
		options: adapter.GenerateOptions{
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		},
	}
}

// Complete returns the generated answer for prompt. A content policy rejection
// is returned as model.ErrContentRejected without retry. Other failures are
// retried while transient and reported as model.ErrCompletionService.
func (c *Client) Complete(ctx context.Context, prompt *model.PromptPayload) (string, error) {
	if prompt == nil || len(prompt.Messages) == 0 {
		return "", goerr.Wrap(model.ErrInvalidInput, "prompt has no message")
	}

	text, attempts, err := retry.Do(ctx, c.policy, isRetryable, func(ctx context.Context) (string, error) {
		text, err := c.generator.Generate(ctx, prompt, c.options)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) == "" {
			return "", errEmptyAnswer
		}
		return text, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", goerr.Wrap(ctxErr, "completion abandoned", goerr.V("attempts", attempts))
		}
		if errors.Is(err, adapter.ErrContentRejected) {
			return "", goerr.Wrap(model.ErrContentRejected, "completion rejected by content policy",
				goerr.V("domain", prompt.Domain),
				goerr.V("cause", err.Error()))
		}
		return "", goerr.Wrap(model.ErrCompletionService, "failed to complete prompt",
			goerr.V("domain", prompt.Domain),
			goerr.V("attempts", attempts),
			goerr.V("cause", err.Error()))
	}

	return strings.TrimSpace(text), nil
}

func isRetryable(err error) bool {
	if errors.Is(err, errEmptyAnswer) {
		return true
	}
	return adapter.IsTransient(err)
}
