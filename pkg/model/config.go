package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// EmptyIndexPolicy decides how a request proceeds when its domain has no passages
type EmptyIndexPolicy string

const (
	// EmptyIndexUngrounded answers without grounding
	EmptyIndexUngrounded EmptyIndexPolicy = "ungrounded"
	// EmptyIndexDecline answers with InsufficientInformationMessage
	EmptyIndexDecline EmptyIndexPolicy = "decline"
)

// RetryJitter is the randomization factor applied to every backoff wait, so a
// single wait lasts at most (1+RetryJitter) times RetryMaxInterval
const RetryJitter = 0.5

// Config holds the engine parameters. It is built once at startup, validated,
// and passed by value afterwards.
type Config struct {
	TopK                int
	ContextBudget       int
	ConfidenceThreshold float64
	SessionTurnCap      int
	HistoryWindow       int

	RetryCount           int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	RequestTimeout    time.Duration
	EmbeddingTimeout  time.Duration
	CompletionTimeout time.Duration

	MaxTokens          int32
	Temperature        float32
	EmbeddingDimension int

	EmptyIndexPolicy EmptyIndexPolicy
}

// DefaultConfig returns the default engine parameters
func DefaultConfig() Config {
	return Config{
		TopK:                 5,
		ContextBudget:        6000,
		ConfidenceThreshold:  0.5,
		SessionTurnCap:       20,
		HistoryWindow:        6,
		RetryCount:           2,
		RetryInitialInterval: 200 * time.Millisecond,
		RetryMaxInterval:     2 * time.Second,
		RequestTimeout:       90 * time.Second,
		EmbeddingTimeout:     5 * time.Second,
		CompletionTimeout:    20 * time.Second,
		MaxTokens:            1024,
		Temperature:          0.2,
		EmbeddingDimension:   768,
		EmptyIndexPolicy:     EmptyIndexUngrounded,
	}
}

// Validate checks every parameter
func (c Config) Validate() error {
	if c.TopK < 0 {
		return goerr.New("top_k must not be negative", goerr.V("top_k", c.TopK))
	}
	if c.ContextBudget <= 0 {
		return goerr.New("context_budget must be positive", goerr.V("context_budget", c.ContextBudget))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return goerr.New("classifier_confidence_threshold must be in [0,1]", goerr.V("threshold", c.ConfidenceThreshold))
	}
	if c.SessionTurnCap <= 0 {
		return goerr.New("session_turn_cap must be positive", goerr.V("session_turn_cap", c.SessionTurnCap))
	}
	if c.HistoryWindow < 0 {
		return goerr.New("history_window must not be negative", goerr.V("history_window", c.HistoryWindow))
	}
	if c.RetryCount < 0 {
		return goerr.New("retry_count must not be negative", goerr.V("retry_count", c.RetryCount))
	}
	if c.RetryInitialInterval <= 0 || c.RetryMaxInterval < c.RetryInitialInterval {
		return goerr.New("invalid retry interval",
			goerr.V("initial", c.RetryInitialInterval),
			goerr.V("max", c.RetryMaxInterval))
	}
	if c.RequestTimeout <= 0 || c.EmbeddingTimeout <= 0 || c.CompletionTimeout <= 0 {
		return goerr.New("timeouts must be positive",
			goerr.V("request", c.RequestTimeout),
			goerr.V("embedding", c.EmbeddingTimeout),
			goerr.V("completion", c.CompletionTimeout))
	}
	if worst := c.WorstCaseLatency(); c.RequestTimeout < worst {
		return goerr.New("request_timeout is shorter than the retry budget of embedding and completion",
			goerr.V("request", c.RequestTimeout),
			goerr.V("worst_case", worst))
	}
	if c.MaxTokens <= 0 {
		return goerr.New("max_tokens must be positive", goerr.V("max_tokens", c.MaxTokens))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return goerr.New("temperature must be in [0,2]", goerr.V("temperature", c.Temperature))
	}
	if c.EmbeddingDimension < 0 {
		return goerr.New("embedding_dimension must not be negative", goerr.V("embedding_dimension", c.EmbeddingDimension))
	}
	switch c.EmptyIndexPolicy {
	case EmptyIndexUngrounded, EmptyIndexDecline:
	default:
		return goerr.New("invalid empty index policy", goerr.V("policy", c.EmptyIndexPolicy))
	}
	return nil
}

// WorstCaseLatency is the longest time embedding and completion can take when
// every attempt times out and every backoff wait is at its maximum. A request
// timeout below it would cut retries short.
func (c Config) WorstCaseLatency() time.Duration {
	attempts := time.Duration(c.RetryCount + 1)
	calls := attempts * (c.EmbeddingTimeout + c.CompletionTimeout)
	maxWait := time.Duration(float64(c.RetryMaxInterval) * (1 + RetryJitter))
	return calls + 2*time.Duration(c.RetryCount)*maxWait
}
