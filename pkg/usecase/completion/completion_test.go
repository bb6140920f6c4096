package completion_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/maplebond/maplebond/pkg/adapter"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/maplebond/maplebond/pkg/usecase/completion"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

type mockGenerator struct {
	calls        atomic.Int32
	lastOptions  adapter.GenerateOptions
	generateFunc func(ctx context.Context, prompt *model.PromptPayload) (string, error)
}

func (m *mockGenerator) Generate(ctx context.Context, prompt *model.PromptPayload, opts adapter.GenerateOptions) (string, error) {
	m.calls.Add(1)
	m.lastOptions = opts
	return m.generateFunc(ctx, prompt)
}

func testConfig() model.Config {
	cfg := model.DefaultConfig()
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = 2 * time.Millisecond
	cfg.CompletionTimeout = 50 * time.Millisecond
	return cfg
}

var testPrompt = &model.PromptPayload{
	Domain:   model.DomainImmigration,
	System:   "You are a test.",
	Messages: []model.Message{{Role: model.RoleUser, Text: "How do I apply for a study permit?"}},
}

func TestComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("forwards options and trims the answer", func(t *testing.T) {
		m := &mockGenerator{generateFunc: func(ctx context.Context, prompt *model.PromptPayload) (string, error) {
			return "  Apply online.\n", nil
		}}
		cfg := testConfig()
		text, err := completion.New(m, cfg).Complete(ctx, testPrompt)
		gt.NoError(t, err)
		gt.Equal(t, text, "Apply online.")
		gt.Equal(t, m.lastOptions.MaxTokens, cfg.MaxTokens)
		gt.Equal(t, m.lastOptions.Temperature, cfg.Temperature)
	})

	t.Run("content rejection is not retried", func(t *testing.T) {
		m := &mockGenerator{generateFunc: func(ctx context.Context, prompt *model.PromptPayload) (string, error) {
			return "", goerr.Wrap(adapter.ErrContentRejected, "blocked")
		}}
		_, err := completion.New(m, testConfig()).Complete(ctx, testPrompt)
		gt.True(t, errors.Is(err, model.ErrContentRejected))
		gt.False(t, errors.Is(err, model.ErrCompletionService))
		gt.Equal(t, m.calls.Load(), int32(1))
	})

	t.Run("persistent transient failure uses every retry", func(t *testing.T) {
		m := &mockGenerator{generateFunc: func(ctx context.Context, prompt *model.PromptPayload) (string, error) {
			return "", &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}
		}}
		_, err := completion.New(m, testConfig()).Complete(ctx, testPrompt)
		gt.True(t, errors.Is(err, model.ErrCompletionService))
		gt.Equal(t, m.calls.Load(), int32(3))
	})

	t.Run("permanent failure", func(t *testing.T) {
		m := &mockGenerator{generateFunc: func(ctx context.Context, prompt *model.PromptPayload) (string, error) {
			return "", genai.APIError{Code: 403, Status: "PERMISSION_DENIED"}
		}}
		_, err := completion.New(m, testConfig()).Complete(ctx, testPrompt)
		gt.True(t, errors.Is(err, model.ErrCompletionService))
		gt.Equal(t, m.calls.Load(), int32(1))
	})

	t.Run("empty answer is retried", func(t *testing.T) {
		m := &mockGenerator{}
		m.generateFunc = func(ctx context.Context, prompt *model.PromptPayload) (string, error) {
			if m.calls.Load() == 1 {
				return "", nil
			}
			return "Second try.", nil
		}
		text, err := completion.New(m, testConfig()).Complete(ctx, testPrompt)
		gt.NoError(t, err)
		gt.Equal(t, text, "Second try.")
		gt.Equal(t, m.calls.Load(), int32(2))
	})

	t.Run("slow service times out per attempt", func(t *testing.T) {
		m := &mockGenerator{generateFunc: func(ctx context.Context, prompt *model.PromptPayload) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}}
		cfg := testConfig()
		cfg.RetryCount = 1
		_, err := completion.New(m, cfg).Complete(ctx, testPrompt)
		gt.True(t, errors.Is(err, model.ErrCompletionService))
		gt.Equal(t, m.calls.Load(), int32(2))
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		m := &mockGenerator{generateFunc: func(ctx context.Context, prompt *model.PromptPayload) (string, error) {
			cancel()
			return "", ctx.Err()
		}}
		_, err := completion.New(m, testConfig()).Complete(cctx, testPrompt)
		gt.True(t, errors.Is(err, context.Canceled))
		gt.Equal(t, model.CodeOf(err), model.CodeCancelled)
	})

	t.Run("prompt without message", func(t *testing.T) {
		m := &mockGenerator{}
		_, err := completion.New(m, testConfig()).Complete(ctx, &model.PromptPayload{})
		gt.True(t, errors.Is(err, model.ErrInvalidInput))
		gt.Equal(t, m.calls.Load(), int32(0))
	})
}
