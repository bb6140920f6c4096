package chat_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/maplebond/maplebond/pkg/adapter"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/maplebond/maplebond/pkg/repository"
	"github.com/maplebond/maplebond/pkg/usecase/chat"
	"github.com/maplebond/maplebond/pkg/usecase/classifier"
	"github.com/maplebond/maplebond/pkg/usecase/completion"
	"github.com/maplebond/maplebond/pkg/usecase/embedding"
	"github.com/maplebond/maplebond/pkg/usecase/grounding"
	"github.com/maplebond/maplebond/pkg/usecase/prompt"
	"github.com/maplebond/maplebond/pkg/usecase/retrieval"
	"github.com/maplebond/maplebond/pkg/usecase/session"
)

type mockEmbedder struct {
	calls     atomic.Int32
	embedFunc func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	return m.embedFunc(ctx, text)
}

type mockGenerator struct {
	calls        atomic.Int32
	generateFunc func(ctx context.Context, prompt *model.PromptPayload) (string, error)
}

func (m *mockGenerator) Generate(ctx context.Context, prompt *model.PromptPayload, opts adapter.GenerateOptions) (string, error) {
	m.calls.Add(1)
	return m.generateFunc(ctx, prompt)
}

// spyIndex records the domains it was asked for
type spyIndex struct {
	repository.PassageIndex
	mu      sync.Mutex
	domains []model.Domain
}

func (s *spyIndex) Candidates(ctx context.Context, domain model.Domain, vector []float32, k int) ([]*model.Passage, error) {
	s.mu.Lock()
	s.domains = append(s.domains, domain)
	s.mu.Unlock()
	return s.PassageIndex.Candidates(ctx, domain, vector, k)
}

func (s *spyIndex) calls() []model.Domain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Domain(nil), s.domains...)
}

const permitText = "Apply for a study permit online with your letter of acceptance."

func testPassages() []*model.Passage {
	return []*model.Passage{
		{ID: "imm-1", Domain: model.DomainImmigration, Title: "Study permit", Text: permitText, Embedding: firestore.Vector32{1, 0, 0}},
		{ID: "imm-2", Domain: model.DomainImmigration, Text: "Biometrics are required for most applicants.", Embedding: firestore.Vector32{0.6, 0.8, 0}},
		{ID: "life-1", Domain: model.DomainLife, Text: "Bring ID to open a bank account.", Embedding: firestore.Vector32{0, 0, 1}},
	}
}

func testConfig() model.Config {
	cfg := model.DefaultConfig()
	cfg.EmbeddingDimension = 3
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = 2 * time.Millisecond
	cfg.EmbeddingTimeout = 30 * time.Millisecond
	cfg.CompletionTimeout = 30 * time.Millisecond
	return cfg
}

type fixture struct {
	orchestrator *chat.Orchestrator
	embedder     *mockEmbedder
	generator    *mockGenerator
	index        *spyIndex
	sessions     *session.Manager
}

func newFixture(t *testing.T, cfg model.Config) *fixture {
	mem, err := repository.NewMemory(testPassages())
	gt.NoError(t, err)

	f := &fixture{
		embedder: &mockEmbedder{embedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{1, 0, 0}, nil
		}},
		// answers with the first reference passage found in the system prompt
		generator: &mockGenerator{generateFunc: func(ctx context.Context, p *model.PromptPayload) (string, error) {
			if i := strings.Index(p.System, "[1] "); i >= 0 {
				return "According to " + p.System[i:], nil
			}
			return "I'm not sure.", nil
		}},
		index:    &spyIndex{PassageIndex: mem},
		sessions: session.NewManager(cfg),
	}

	prompts, err := prompt.New()
	gt.NoError(t, err)

	f.orchestrator, err = chat.New(chat.Input{
		Classifier: classifier.New(cfg),
		Embedder:   embedding.New(f.embedder, cfg),
		Retriever:  retrieval.New(f.index),
		Assembler:  grounding.New(),
		Prompts:    prompts,
		Completer:  completion.New(f.generator, cfg),
		Sessions:   f.sessions,
		Config:     cfg,
	})
	gt.NoError(t, err)
	return f
}

func TestHandleChatStudyPermit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	reply, err := f.orchestrator.HandleChat(ctx, "conv-1", "How do I apply for a study permit?")
	gt.NoError(t, err)

	gt.Equal(t, reply.Domain, model.DomainImmigration)
	gt.Equal(t, reply.ErrorCode, model.CodeNone)
	gt.Equal(t, f.index.calls(), []model.Domain{model.DomainImmigration})
	gt.S(t, reply.Answer).Contains(permitText)
	gt.Equal(t, reply.Sources, []model.PassageID{"imm-1", "imm-2"})
	gt.Equal(t, reply.TurnIndex, 1)

	s, ok := f.sessions.Get("conv-1")
	gt.True(t, ok)
	turns := s.Turns()
	gt.A(t, turns).Length(1)
	gt.Equal(t, turns[0].Index, 1)
	gt.Equal(t, turns[0].Domain, model.DomainImmigration)
	gt.Equal(t, turns[0].Answer, reply.Answer)

	// a follow-up keeps the domain and continues the numbering
	reply, err = f.orchestrator.HandleChat(ctx, "conv-1", "How long does it take?")
	gt.NoError(t, err)
	gt.Equal(t, reply.Domain, model.DomainImmigration)
	gt.Equal(t, reply.TurnIndex, 2)
}

func TestHandleChatContentRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.generator.generateFunc = func(ctx context.Context, p *model.PromptPayload) (string, error) {
		return "", goerr.Wrap(adapter.ErrContentRejected, "blocked by safety filter")
	}

	reply, err := f.orchestrator.HandleChat(ctx, "conv-2", "How do I apply for a study permit?")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrContentRejected))

	var stageErr *model.StageError
	gt.True(t, errors.As(err, &stageErr))
	gt.Equal(t, stageErr.Stage, model.StageCompleted)

	gt.Equal(t, reply.Answer, model.FallbackMessage(model.CodeContentRejected))
	gt.Equal(t, reply.ErrorCode, model.CodeContentRejected)
	gt.Equal(t, reply.Domain, model.DomainImmigration)
	gt.Equal(t, f.generator.calls.Load(), int32(1))

	if s, ok := f.sessions.Get("conv-2"); ok {
		gt.A(t, s.Turns()).Length(0)
	}
}

func TestHandleChatEmbeddingTimeout(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	f := newFixture(t, cfg)
	f.embedder.embedFunc = func(ctx context.Context, text string) ([]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	reply, err := f.orchestrator.HandleChat(ctx, "conv-3", "How do I apply for a study permit?")
	gt.True(t, errors.Is(err, model.ErrEmbeddingService))

	var stageErr *model.StageError
	gt.True(t, errors.As(err, &stageErr))
	gt.Equal(t, stageErr.Stage, model.StageEmbedded)

	gt.Equal(t, reply.ErrorCode, model.CodeEmbeddingUnavailable)
	gt.Equal(t, reply.Answer, model.FallbackMessage(model.CodeEmbeddingUnavailable))
	gt.Equal(t, f.embedder.calls.Load(), int32(1+cfg.RetryCount))
	gt.A(t, f.index.calls()).Length(0)
	gt.Equal(t, f.generator.calls.Load(), int32(0))

	_, ok := f.sessions.Get("conv-3")
	gt.False(t, ok)
}

func TestHandleChatCompletionRetriesFitDefaultTimeouts(t *testing.T) {
	// the default timeouts scaled down a hundredfold keep their ratios
	cfg := model.DefaultConfig()
	cfg.EmbeddingDimension = 3
	for _, d := range []*time.Duration{
		&cfg.RequestTimeout, &cfg.EmbeddingTimeout, &cfg.CompletionTimeout,
		&cfg.RetryInitialInterval, &cfg.RetryMaxInterval,
	} {
		*d /= 100
	}
	gt.NoError(t, cfg.Validate())

	f := newFixture(t, cfg)
	f.generator.generateFunc = func(ctx context.Context, p *model.PromptPayload) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	reply, err := f.orchestrator.HandleChat(context.Background(), "conv-timeout", "How do I apply for a study permit?")
	gt.True(t, errors.Is(err, model.ErrCompletionService))
	gt.False(t, errors.Is(err, context.DeadlineExceeded))
	gt.Equal(t, reply.ErrorCode, model.CodeCompletionUnavailable)
	gt.Equal(t, f.generator.calls.Load(), int32(1+cfg.RetryCount))
}

func TestHandleChatEmptyIndex(t *testing.T) {
	ctx := context.Background()
	const query = "How should I write my resume?"

	t.Run("ungrounded", func(t *testing.T) {
		f := newFixture(t, testConfig())
		reply, err := f.orchestrator.HandleChat(ctx, "conv-4", query)
		gt.NoError(t, err)
		gt.Equal(t, reply.Domain, model.DomainJobSearch)
		gt.Equal(t, reply.Answer, "I'm not sure.")
		gt.A(t, reply.Sources).Length(0)
		gt.Equal(t, f.generator.calls.Load(), int32(1))
		gt.Equal(t, reply.TurnIndex, 1)
	})

	t.Run("decline", func(t *testing.T) {
		cfg := testConfig()
		cfg.EmptyIndexPolicy = model.EmptyIndexDecline
		f := newFixture(t, cfg)

		reply, err := f.orchestrator.HandleChat(ctx, "conv-5", query)
		gt.NoError(t, err)
		gt.Equal(t, reply.Answer, model.InsufficientInformationMessage)
		gt.Equal(t, f.generator.calls.Load(), int32(0))
		gt.Equal(t, reply.TurnIndex, 1)
	})
}

func TestHandleChatInvalidInput(t *testing.T) {
	f := newFixture(t, testConfig())

	reply, err := f.orchestrator.HandleChat(context.Background(), "conv-6", "   ")
	gt.True(t, errors.Is(err, model.ErrInvalidInput))
	gt.Equal(t, reply.ErrorCode, model.CodeInvalidInput)
	gt.Equal(t, reply.Domain, model.DomainGeneral)
	gt.Equal(t, f.embedder.calls.Load(), int32(0))

	_, err = f.orchestrator.HandleChat(context.Background(), "", "hello")
	gt.True(t, errors.Is(err, model.ErrInvalidInput))
}

func TestHandleChatCancelled(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	f.generator.generateFunc = func(ctx context.Context, p *model.PromptPayload) (string, error) {
		cancel()
		return "too late", nil
	}

	reply, err := f.orchestrator.HandleChat(ctx, "conv-7", "How do I apply for a study permit?")
	gt.True(t, errors.Is(err, context.Canceled))
	gt.Equal(t, reply.ErrorCode, model.CodeCancelled)

	var stageErr *model.StageError
	gt.True(t, errors.As(err, &stageErr))
	gt.Equal(t, stageErr.Stage, model.StageRecorded)

	_, ok := f.sessions.Get("conv-7")
	gt.False(t, ok)
}

func TestHandleChatRetrievalFailure(t *testing.T) {
	f := newFixture(t, testConfig())
	f.index.PassageIndex = failingIndex{}

	reply, err := f.orchestrator.HandleChat(context.Background(), "conv-8", "How do I apply for a study permit?")
	gt.True(t, errors.Is(err, model.ErrRetrievalService))
	gt.Equal(t, reply.ErrorCode, model.CodeRetrievalUnavailable)
	gt.Equal(t, f.generator.calls.Load(), int32(0))
}

type failingIndex struct{}

func (failingIndex) Candidates(ctx context.Context, domain model.Domain, vector []float32, k int) ([]*model.Passage, error) {
	return nil, goerr.New("index is down")
}

func TestHandleChatConcurrentTurns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orchestrator.HandleChat(ctx, "shared", "How do I apply for a study permit?")
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	s, ok := f.sessions.Get("shared")
	gt.True(t, ok)
	turns := s.Turns()
	gt.A(t, turns).Length(n)
	for i, turn := range turns {
		gt.Equal(t, turn.Index, i+1)
	}
}

func TestQuickReply(t *testing.T) {
	f := newFixture(t, testConfig())

	reply, err := f.orchestrator.QuickReply(context.Background(), "What is MapleBond?")
	gt.NoError(t, err)
	gt.Equal(t, reply.Domain, model.DomainGeneral)
	gt.Equal(t, reply.Answer, "I'm not sure.")
	gt.Equal(t, f.embedder.calls.Load(), int32(0))
	gt.Equal(t, f.sessions.Len(), 0)
}

func TestNewRejectsMissingTemplate(t *testing.T) {
	cfg := testConfig()
	prompts, err := prompt.NewFromFS(fstest.MapFS{})
	gt.NoError(t, err)

	_, err = chat.New(chat.Input{
		Classifier: classifier.New(cfg),
		Embedder:   embedding.New(&mockEmbedder{}, cfg),
		Retriever:  retrieval.New(&spyIndex{}),
		Assembler:  grounding.New(),
		Prompts:    prompts,
		Completer:  completion.New(&mockGenerator{}, cfg),
		Sessions:   session.NewManager(cfg),
		Config:     cfg,
	})
	gt.True(t, errors.Is(err, model.ErrTemplateMissing))
}
