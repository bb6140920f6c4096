// Package chat runs the consultation pipeline for one user message:
// classify, embed, retrieve, assemble, build prompt, complete and record.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/maplebond/maplebond/pkg/usecase/session"
	"github.com/maplebond/maplebond/pkg/utils/logging"
)

type Classifier interface {
	Classify(ctx context.Context, query string, recent []model.Turn) (model.Domain, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, vector []float32, domain model.Domain, k int) (*model.RetrievalResult, error)
}

type Assembler interface {
	Assemble(result *model.RetrievalResult, history []model.Turn, budget int) *model.GroundingContext
}

type PromptBuilder interface {
	Build(domain model.Domain, gc *model.GroundingContext, query string) (*model.PromptPayload, error)
	Validate() error
}

type Completer interface {
	Complete(ctx context.Context, prompt *model.PromptPayload) (string, error)
}

// Input holds the components of an Orchestrator
type Input struct {
	Classifier Classifier
	Embedder   Embedder
	Retriever  Retriever
	Assembler  Assembler
	Prompts    PromptBuilder
	Completer  Completer
	Sessions   *session.Manager
	Config     model.Config
}

// Orchestrator sequences the pipeline stages. It is safe for concurrent use.
type Orchestrator struct {
	classifier Classifier
	embedder   Embedder
	retriever  Retriever
	assembler  Assembler
	prompts    PromptBuilder
	completer  Completer
	sessions   *session.Manager
	cfg        model.Config
}

// New validates the configuration and every prompt template before returning
// an Orchestrator, so that a missing template fails at startup
func New(input Input) (*Orchestrator, error) {
	switch {
	case input.Classifier == nil, input.Embedder == nil, input.Retriever == nil,
		input.Assembler == nil, input.Prompts == nil, input.Completer == nil, input.Sessions == nil:
		return nil, goerr.New("orchestrator component is missing")
	}
	if err := input.Config.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid configuration")
	}
	if err := input.Prompts.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid prompt templates")
	}

	return &Orchestrator{
		classifier: input.Classifier,
		embedder:   input.Embedder,
		retriever:  input.Retriever,
		assembler:  input.Assembler,
		prompts:    input.Prompts,
		completer:  input.Completer,
		sessions:   input.Sessions,
		cfg:        input.Config,
	}, nil
}

// Sessions returns the session store used by the orchestrator
func (o *Orchestrator) Sessions() *session.Manager {
	return o.sessions
}

// request tracks one pipeline run
type request struct {
	query  model.Query
	reply  *model.Reply
	stage  model.Stage
	logger *slog.Logger
}

func (r *request) elapsedMS() int64 {
	return time.Since(r.query.ReceivedAt).Milliseconds()
}

func (r *request) advance(ctx context.Context, next model.Stage) error {
	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "request abandoned", goerr.V("stage", next))
	}
	r.logger.Debug("stage transition",
		"from", r.stage,
		"to", next,
		"elapsed_ms", r.elapsedMS(),
	)
	r.stage = next
	return nil
}

// fail turns err at stage into the fallback reply and a StageError
func (r *request) fail(stage model.Stage, err error) (*model.Reply, error) {
	code := model.CodeOf(err)
	r.reply.Answer = model.FallbackMessage(code)
	r.reply.ErrorCode = code
	r.reply.Sources = nil
	r.reply.TurnIndex = 0

	level := slog.LevelWarn
	if code == model.CodeInternal || code == model.CodeTemplateMissing {
		level = slog.LevelError
	}
	r.logger.Log(context.Background(), level, "chat request failed",
		"stage", stage,
		"error_code", code,
		"elapsed_ms", r.elapsedMS(),
		"error", err,
	)
	return r.reply, &model.StageError{Stage: stage, Err: err}
}

// HandleChat answers text within conversation id. On failure it returns a
// reply carrying the fallback message and error code together with a
// *model.StageError; the session is left untouched in that case.
func (o *Orchestrator) HandleChat(ctx context.Context, id model.ConversationID, text string) (*model.Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	r := &request{
		query: model.Query{ConversationID: id, Text: text, ReceivedAt: time.Now()},
		reply: &model.Reply{ConversationID: id, Domain: model.DomainGeneral},
		stage: model.StageReceived,
	}
	r.logger = logging.From(ctx).With("conversation_id", id)
	ctx = logging.With(ctx, r.logger)

	if id == "" {
		return r.fail(model.StageReceived, goerr.Wrap(model.ErrInvalidInput, "conversation ID is empty"))
	}
	if strings.TrimSpace(text) == "" {
		return r.fail(model.StageReceived, goerr.Wrap(model.ErrInvalidInput, "query is empty"))
	}

	var recent []model.Turn
	if s, ok := o.sessions.Get(id); ok {
		recent = s.Recent(o.cfg.HistoryWindow)
	}

	// classified
	if err := r.advance(ctx, model.StageClassified); err != nil {
		return r.fail(model.StageClassified, err)
	}
	domain, err := o.classifier.Classify(ctx, text, recent)
	if err != nil {
		return r.fail(model.StageClassified, err)
	}
	r.reply.Domain = domain
	r.logger = r.logger.With("domain", domain)

	// embedded
	if err := r.advance(ctx, model.StageEmbedded); err != nil {
		return r.fail(model.StageEmbedded, err)
	}
	vector, err := o.embedder.Embed(ctx, text)
	if err != nil {
		return r.fail(model.StageEmbedded, err)
	}

	// retrieved
	if err := r.advance(ctx, model.StageRetrieved); err != nil {
		return r.fail(model.StageRetrieved, err)
	}
	result, err := o.retriever.Retrieve(ctx, vector, domain, o.cfg.TopK)
	if err != nil {
		return r.fail(model.StageRetrieved, err)
	}

	var answer string
	if result.Empty && o.cfg.EmptyIndexPolicy == model.EmptyIndexDecline {
		r.logger.Info("declining without grounding", "reason", model.ErrEmptyIndex.Error())
		answer = model.InsufficientInformationMessage
	} else {
		if result.Empty {
			r.logger.Info("answering without grounding", "reason", model.ErrEmptyIndex.Error())
		}

		// context_built
		if err := r.advance(ctx, model.StageContextBuilt); err != nil {
			return r.fail(model.StageContextBuilt, err)
		}
		gc := o.assembler.Assemble(result, recent, o.cfg.ContextBudget)
		r.reply.Sources = passageIDs(gc.Passages)

		// prompt_built
		if err := r.advance(ctx, model.StagePromptBuilt); err != nil {
			return r.fail(model.StagePromptBuilt, err)
		}
		payload, err := o.prompts.Build(domain, gc, text)
		if err != nil {
			return r.fail(model.StagePromptBuilt, err)
		}

		// completed
		if err := r.advance(ctx, model.StageCompleted); err != nil {
			return r.fail(model.StageCompleted, err)
		}
		answer, err = o.completer.Complete(ctx, payload)
		if err != nil {
			return r.fail(model.StageCompleted, err)
		}
	}

	// recorded
	if err := r.advance(ctx, model.StageRecorded); err != nil {
		return r.fail(model.StageRecorded, err)
	}
	turn, err := o.sessions.Append(ctx, o.sessions.GetOrCreate(id), model.Turn{
		Query:  text,
		Domain: domain,
		Answer: answer,
	})
	if err != nil {
		return r.fail(model.StageRecorded, err)
	}

	r.stage = model.StageDone
	r.reply.Answer = answer
	r.reply.TurnIndex = turn.Index
	r.logger.Info("chat request done",
		"turn_index", turn.Index,
		"sources", len(r.reply.Sources),
		"elapsed_ms", r.elapsedMS(),
	)
	return r.reply, nil
}

// QuickReply answers text once with the general template, without retrieval
// and without touching any session
func (o *Orchestrator) QuickReply(ctx context.Context, text string) (*model.Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	r := &request{
		query:  model.Query{Text: text, ReceivedAt: time.Now()},
		reply:  &model.Reply{Domain: model.DomainGeneral},
		stage:  model.StageReceived,
		logger: logging.From(ctx).With("mode", "quick_reply"),
	}

	if err := r.advance(ctx, model.StagePromptBuilt); err != nil {
		return r.fail(model.StagePromptBuilt, err)
	}
	payload, err := o.prompts.Build(model.DomainGeneral, &model.GroundingContext{}, text)
	if err != nil {
		return r.fail(model.StagePromptBuilt, err)
	}

	if err := r.advance(ctx, model.StageCompleted); err != nil {
		return r.fail(model.StageCompleted, err)
	}
	answer, err := o.completer.Complete(ctx, payload)
	if err != nil {
		return r.fail(model.StageCompleted, err)
	}

	r.stage = model.StageDone
	r.reply.Answer = answer
	return r.reply, nil
}

func passageIDs(passages []model.ScoredPassage) []model.PassageID {
	if len(passages) == 0 {
		return nil
	}
	ids := make([]model.PassageID, 0, len(passages))
	for _, sp := range passages {
		ids = append(ids, sp.Passage.ID)
	}
	return ids
}
