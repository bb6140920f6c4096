package cli

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
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
	"github.com/maplebond/maplebond/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const (
	providerGemini = "gemini"
	providerOpenAI = "openai"
)

// config holds configuration values
type config struct {
	// Engine
	topK                int64
	contextBudget       int64
	confidenceThreshold float64
	sessionTurnCap      int64
	historyWindow       int64
	retryCount          int64
	retryInitial        time.Duration
	retryMax            time.Duration
	requestTimeout      time.Duration
	embeddingTimeout    time.Duration
	completionTimeout   time.Duration
	maxTokens           int64
	temperature         float64
	embeddingDimension  int64
	emptyIndexPolicy    string

	// Classifier
	exemplarsPath string
	policyDir     string

	// Index
	corpusPath string
	watch      bool
	project    string
	database   string
	collection string

	// Adapters
	llmProvider          string
	geminiProject        string
	geminiLocation       string
	geminiModel          string
	geminiEmbeddingModel string
	openaiAPIKey         string
	openaiBaseURL        string
	openaiModel          string
	openaiEmbeddingModel string
	azureEndpoint        string
	azureAPIVersion      string

	// Archive
	archiveBucket string
	archivePrefix string
}

// engineFlags returns flags for the pipeline parameters with destination config
func engineFlags(cfg *config) []cli.Flag {
	def := model.DefaultConfig()
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "Number of passages retrieved per request",
			Value:       int64(def.TopK),
			Sources:     cli.EnvVars("MAPLEBOND_TOP_K"),
			Destination: &cfg.topK,
		},
		&cli.IntFlag{
			Name:        "context-budget",
			Usage:       "Maximum characters of grounding context",
			Value:       int64(def.ContextBudget),
			Sources:     cli.EnvVars("MAPLEBOND_CONTEXT_BUDGET"),
			Destination: &cfg.contextBudget,
		},
		&cli.FloatFlag{
			Name:        "confidence-threshold",
			Usage:       "Classifier confidence below which a query is routed to general",
			Value:       def.ConfidenceThreshold,
			Sources:     cli.EnvVars("MAPLEBOND_CLASSIFIER_CONFIDENCE_THRESHOLD"),
			Destination: &cfg.confidenceThreshold,
		},
		&cli.IntFlag{
			Name:        "session-turn-cap",
			Usage:       "Maximum turns kept per conversation",
			Value:       int64(def.SessionTurnCap),
			Sources:     cli.EnvVars("MAPLEBOND_SESSION_TURN_CAP"),
			Destination: &cfg.sessionTurnCap,
		},
		&cli.IntFlag{
			Name:        "history-window",
			Usage:       "Recent turns offered to the classifier and context assembler",
			Value:       int64(def.HistoryWindow),
			Sources:     cli.EnvVars("MAPLEBOND_HISTORY_WINDOW"),
			Destination: &cfg.historyWindow,
		},
		&cli.IntFlag{
			Name:        "retry-count",
			Usage:       "Retries after a transient embedding or completion failure",
			Value:       int64(def.RetryCount),
			Sources:     cli.EnvVars("MAPLEBOND_RETRY_COUNT"),
			Destination: &cfg.retryCount,
		},
		&cli.DurationFlag{
			Name:        "retry-initial-interval",
			Value:       def.RetryInitialInterval,
			Sources:     cli.EnvVars("MAPLEBOND_RETRY_INITIAL_INTERVAL"),
			Destination: &cfg.retryInitial,
		},
		&cli.DurationFlag{
			Name:        "retry-max-interval",
			Value:       def.RetryMaxInterval,
			Sources:     cli.EnvVars("MAPLEBOND_RETRY_MAX_INTERVAL"),
			Destination: &cfg.retryMax,
		},
		&cli.DurationFlag{
			Name:        "request-timeout",
			Usage:       "Upper bound of one request through the whole pipeline",
			Value:       def.RequestTimeout,
			Sources:     cli.EnvVars("MAPLEBOND_REQUEST_TIMEOUT"),
			Destination: &cfg.requestTimeout,
		},
		&cli.DurationFlag{
			Name:        "embedding-timeout",
			Value:       def.EmbeddingTimeout,
			Sources:     cli.EnvVars("MAPLEBOND_EMBEDDING_TIMEOUT"),
			Destination: &cfg.embeddingTimeout,
		},
		&cli.DurationFlag{
			Name:        "completion-timeout",
			Value:       def.CompletionTimeout,
			Sources:     cli.EnvVars("MAPLEBOND_COMPLETION_TIMEOUT"),
			Destination: &cfg.completionTimeout,
		},
		&cli.IntFlag{
			Name:        "max-tokens",
			Value:       int64(def.MaxTokens),
			Sources:     cli.EnvVars("MAPLEBOND_MAX_TOKENS"),
			Destination: &cfg.maxTokens,
		},
		&cli.FloatFlag{
			Name:        "temperature",
			Value:       float64(def.Temperature),
			Sources:     cli.EnvVars("MAPLEBOND_TEMPERATURE"),
			Destination: &cfg.temperature,
		},
		&cli.IntFlag{
			Name:        "embedding-dimension",
			Usage:       "Expected embedding vector size, 0 disables the check",
			Value:       int64(def.EmbeddingDimension),
			Sources:     cli.EnvVars("MAPLEBOND_EMBEDDING_DIMENSION"),
			Destination: &cfg.embeddingDimension,
		},
		&cli.StringFlag{
			Name:        "empty-index-policy",
			Usage:       "Behaviour when the routed domain has no passages (ungrounded, decline)",
			Value:       string(def.EmptyIndexPolicy),
			Sources:     cli.EnvVars("MAPLEBOND_EMPTY_INDEX_POLICY"),
			Destination: &cfg.emptyIndexPolicy,
		},
		&cli.StringFlag{
			Name:        "exemplars",
			Usage:       "YAML file replacing the built-in classifier exemplars",
			Sources:     cli.EnvVars("MAPLEBOND_EXEMPLARS"),
			Destination: &cfg.exemplarsPath,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego routing policies",
			Sources:     cli.EnvVars("MAPLEBOND_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// indexFlags returns flags for the passage index with destination config
func indexFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "corpus",
			Usage:       "Corpus file (JSON or YAML) served from memory instead of Firestore",
			Sources:     cli.EnvVars("MAPLEBOND_CORPUS"),
			Destination: &cfg.corpusPath,
		},
		&cli.BoolFlag{
			Name:        "watch",
			Usage:       "Reload the corpus file when it changes",
			Sources:     cli.EnvVars("MAPLEBOND_WATCH"),
			Destination: &cfg.watch,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "collection",
			Usage:       "Firestore collection of passages",
			Value:       "passages",
			Sources:     cli.EnvVars("MAPLEBOND_COLLECTION"),
			Destination: &cfg.collection,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm-provider",
			Usage:       "Embedding and completion provider (gemini, openai)",
			Value:       providerGemini,
			Sources:     cli.EnvVars("MAPLEBOND_LLM_PROVIDER"),
			Destination: &cfg.llmProvider,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "gemini-embedding-model",
			Sources:     cli.EnvVars("GEMINI_EMBEDDING_MODEL"),
			Destination: &cfg.geminiEmbeddingModel,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI or Azure OpenAI API key",
			Sources:     cli.EnvVars("OPENAI_API_KEY", "AZURE_OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Usage:       "OpenAI compatible endpoint",
			Sources:     cli.EnvVars("OPENAI_BASE_URL"),
			Destination: &cfg.openaiBaseURL,
		},
		&cli.StringFlag{
			Name:        "openai-model",
			Usage:       "Chat model, or deployment name on Azure",
			Sources:     cli.EnvVars("OPENAI_MODEL", "AZURE_OPENAI_CHAT_DEPLOYMENT"),
			Destination: &cfg.openaiModel,
		},
		&cli.StringFlag{
			Name:        "openai-embedding-model",
			Usage:       "Embedding model, or deployment name on Azure",
			Sources:     cli.EnvVars("OPENAI_EMBEDDING_MODEL", "AZURE_OPENAI_EMBEDDING_DEPLOYMENT"),
			Destination: &cfg.openaiEmbeddingModel,
		},
		&cli.StringFlag{
			Name:        "azure-endpoint",
			Usage:       "Azure OpenAI resource endpoint. Enables Azure mode.",
			Sources:     cli.EnvVars("AZURE_OPENAI_ENDPOINT"),
			Destination: &cfg.azureEndpoint,
		},
		&cli.StringFlag{
			Name:        "azure-api-version",
			Sources:     cli.EnvVars("AZURE_OPENAI_API_VERSION"),
			Destination: &cfg.azureAPIVersion,
		},
	}
}

// archiveFlags returns flags for the conversation archive with destination config
func archiveFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "archive-bucket",
			Usage:       "Cloud Storage bucket where conversations are archived",
			Sources:     cli.EnvVars("MAPLEBOND_ARCHIVE_BUCKET"),
			Destination: &cfg.archiveBucket,
		},
		&cli.StringFlag{
			Name:        "archive-prefix",
			Usage:       "Object prefix inside the archive bucket",
			Sources:     cli.EnvVars("MAPLEBOND_ARCHIVE_PREFIX"),
			Destination: &cfg.archivePrefix,
		},
	}
}

// engineConfig converts flag values into a validated model.Config
func (cfg *config) engineConfig() (model.Config, error) {
	mc := model.Config{
		TopK:                 int(cfg.topK),
		ContextBudget:        int(cfg.contextBudget),
		ConfidenceThreshold:  cfg.confidenceThreshold,
		SessionTurnCap:       int(cfg.sessionTurnCap),
		HistoryWindow:        int(cfg.historyWindow),
		RetryCount:           int(cfg.retryCount),
		RetryInitialInterval: cfg.retryInitial,
		RetryMaxInterval:     cfg.retryMax,
		RequestTimeout:       cfg.requestTimeout,
		EmbeddingTimeout:     cfg.embeddingTimeout,
		CompletionTimeout:    cfg.completionTimeout,
		MaxTokens:            int32(cfg.maxTokens),
		Temperature:          float32(cfg.temperature),
		EmbeddingDimension:   int(cfg.embeddingDimension),
		EmptyIndexPolicy:     model.EmptyIndexPolicy(cfg.emptyIndexPolicy),
	}
	if err := mc.Validate(); err != nil {
		return model.Config{}, goerr.Wrap(err, "invalid configuration")
	}
	return mc, nil
}

// backend serves both embeddings and completions
type backend interface {
	adapter.Embedder
	adapter.Generator
}

// newBackend creates the LLM adapter selected by --llm-provider. documentTask
// selects document embeddings for ingestion.
func (cfg *config) newBackend(ctx context.Context, documentTask bool) (backend, error) {
	switch cfg.llmProvider {
	case providerGemini:
		return cfg.newGemini(ctx, documentTask)
	case providerOpenAI:
		return cfg.newOpenAI()
	default:
		return nil, goerr.New("unknown llm provider", goerr.V("provider", cfg.llmProvider))
	}
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context, documentTask bool) (*adapter.GeminiClient, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	opts := []adapter.GeminiOption{
		adapter.WithEmbeddingDimension(int(cfg.embeddingDimension)),
	}
	if cfg.geminiModel != "" {
		opts = append(opts, adapter.WithGenerativeModel(cfg.geminiModel))
	}
	if cfg.geminiEmbeddingModel != "" {
		opts = append(opts, adapter.WithEmbeddingModel(cfg.geminiEmbeddingModel))
	}
	if documentTask {
		opts = append(opts, adapter.WithEmbeddingTaskType("RETRIEVAL_DOCUMENT"))
	}

	client, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return client, nil
}

// newOpenAI creates an OpenAI or Azure OpenAI adapter instance
func (cfg *config) newOpenAI() (*adapter.OpenAIClient, error) {
	opts := []adapter.OpenAIOption{
		adapter.WithOpenAIDimensions(int(cfg.embeddingDimension)),
	}
	if cfg.openaiModel != "" {
		opts = append(opts, adapter.WithOpenAIChatModel(cfg.openaiModel))
	}
	if cfg.openaiEmbeddingModel != "" {
		opts = append(opts, adapter.WithOpenAIEmbeddingModel(cfg.openaiEmbeddingModel))
	}
	switch {
	case cfg.azureEndpoint != "":
		opts = append(opts, adapter.WithAzure(cfg.azureEndpoint, cfg.azureAPIVersion))
	case cfg.openaiBaseURL != "":
		opts = append(opts, adapter.WithOpenAIBaseURL(cfg.openaiBaseURL))
	}

	client, err := adapter.NewOpenAI(cfg.openaiAPIKey, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create openai client")
	}
	return client, nil
}

// newFirestore creates a new Firestore passage repository
func (cfg *config) newFirestore(ctx context.Context) (*repository.Firestore, error) {
	if cfg.project == "" {
		return nil, goerr.New("project is required")
	}
	if cfg.database == "" {
		return nil, goerr.New("database is required")
	}

	repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database, repository.WithCollection(cfg.collection))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, nil
}

// newIndex creates the passage index: the corpus file in memory when --corpus
// is given, otherwise Firestore. The returned func releases it.
func (cfg *config) newIndex(ctx context.Context) (repository.PassageIndex, func(), error) {
	if cfg.corpusPath == "" {
		repo, err := cfg.newFirestore(ctx)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	}

	passages, err := repository.LoadCorpus(cfg.corpusPath)
	if err != nil {
		return nil, nil, err
	}
	index, err := repository.NewMemory(passages)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to build passage index", goerr.V("corpus", cfg.corpusPath))
	}
	logging.From(ctx).Info("corpus loaded", "path", cfg.corpusPath, "passages", index.Len())

	if !cfg.watch {
		return index, func() {}, nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	if err := index.Watch(watchCtx, cfg.corpusPath); err != nil {
		cancel()
		return nil, nil, err
	}
	return index, cancel, nil
}

// newClassifier loads exemplars and the optional routing policy
func (cfg *config) newClassifier(ctx context.Context, mc model.Config) (*classifier.Classifier, error) {
	var opts []classifier.Option

	if cfg.exemplarsPath != "" {
		ex, err := classifier.LoadExemplars(cfg.exemplarsPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, classifier.WithExemplars(ex))
	}

	if cfg.policyDir != "" {
		policy, err := classifier.LoadPolicy(ctx, cfg.policyDir)
		if err != nil {
			return nil, err
		}
		if policy == nil {
			logging.From(ctx).Warn("no routing policy found", "dir", cfg.policyDir)
		} else {
			opts = append(opts, classifier.WithPolicy(policy))
		}
	}

	return classifier.New(mc, opts...), nil
}

// newStorage creates the conversation archive, or nil when no bucket is set
func (cfg *config) newStorage(ctx context.Context) (*adapter.CloudStorage, error) {
	if cfg.archiveBucket == "" {
		return nil, nil
	}

	var opts []adapter.StorageOption
	if cfg.archivePrefix != "" {
		opts = append(opts, adapter.WithStoragePrefix(cfg.archivePrefix))
	}
	storage, err := adapter.NewCloudStorage(ctx, cfg.archiveBucket, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

// engine is a fully wired consultation pipeline
type engine struct {
	orchestrator *chat.Orchestrator
	classifier   *classifier.Classifier
	close        func()
}

// newEngine wires every component. Templates and configuration are validated
// before any request is served.
func (cfg *config) newEngine(ctx context.Context) (*engine, error) {
	mc, err := cfg.engineConfig()
	if err != nil {
		return nil, err
	}

	cls, err := cfg.newClassifier(ctx, mc)
	if err != nil {
		return nil, err
	}

	prompts, err := prompt.New()
	if err != nil {
		return nil, err
	}

	llm, err := cfg.newBackend(ctx, false)
	if err != nil {
		return nil, err
	}

	index, closeIndex, err := cfg.newIndex(ctx)
	if err != nil {
		return nil, err
	}

	orchestrator, err := chat.New(chat.Input{
		Classifier: cls,
		Embedder:   embedding.New(llm, mc),
		Retriever:  retrieval.New(index),
		Assembler:  grounding.New(),
		Prompts:    prompts,
		Completer:  completion.New(llm, mc),
		Sessions:   session.NewManager(mc),
		Config:     mc,
	})
	if err != nil {
		closeIndex()
		return nil, goerr.Wrap(err, "failed to create orchestrator")
	}

	return &engine{
		orchestrator: orchestrator,
		classifier:   cls,
		close:        closeIndex,
	}, nil
}
