package model

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrInvalidInput is a caller mistake; never retried
	ErrInvalidInput = goerr.New("invalid input")

	// ErrEmbeddingService means the embedding service failed after retries
	ErrEmbeddingService = goerr.New("embedding service error")

	// ErrCompletionService means the completion service failed after retries
	ErrCompletionService = goerr.New("completion service error")

	// ErrRetrievalService means the passage index could not be reached
	ErrRetrievalService = goerr.New("retrieval service error")

	// ErrContentRejected means the completion service refused the prompt by content policy
	ErrContentRejected = goerr.New("content rejected")

	// ErrTemplateMissing means no prompt template is registered for a domain
	ErrTemplateMissing = goerr.New("template missing")

	// ErrEmptyIndex is the reason reported when no passage exists for a domain.
	// Retrieval signals it through RetrievalResult.Empty, not as a returned error.
	ErrEmptyIndex = goerr.New("no grounding available")
)

// ErrorCode is a stable identifier of a failure class surfaced to callers
type ErrorCode string

const (
	CodeNone                  ErrorCode = ""
	CodeInvalidInput          ErrorCode = "invalid_input"
	CodeEmbeddingUnavailable  ErrorCode = "embedding_unavailable"
	CodeRetrievalUnavailable  ErrorCode = "retrieval_unavailable"
	CodeCompletionUnavailable ErrorCode = "completion_unavailable"
	CodeContentRejected       ErrorCode = "content_rejected"
	CodeTemplateMissing       ErrorCode = "template_missing"
	CodeCancelled             ErrorCode = "cancelled"
	CodeTimeout               ErrorCode = "timeout"
	CodeInternal              ErrorCode = "internal"
)

// CodeOf maps an error to its error code
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return CodeNone
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrContentRejected):
		return CodeContentRejected
	case errors.Is(err, ErrEmbeddingService):
		return CodeEmbeddingUnavailable
	case errors.Is(err, ErrRetrievalService):
		return CodeRetrievalUnavailable
	case errors.Is(err, ErrCompletionService):
		return CodeCompletionUnavailable
	case errors.Is(err, ErrTemplateMissing):
		return CodeTemplateMissing
	default:
		return CodeInternal
	}
}

const (
	// InsufficientInformationMessage is answered when no grounding exists and the policy declines
	InsufficientInformationMessage = "I'm not sure. I could not find information about this topic in my knowledge base, so you may want to explore official sources on your own."
)

var fallbackMessages = map[ErrorCode]string{
	CodeInvalidInput:          "Please enter a question so I can help you.",
	CodeEmbeddingUnavailable:  "Sorry, I could not understand your question right now because a language service is unavailable. Please try again in a moment.",
	CodeRetrievalUnavailable:  "Sorry, I could not reach my knowledge base right now. Please try again in a moment.",
	CodeCompletionUnavailable: "Sorry, I could not generate an answer right now. Please try again in a moment.",
	CodeContentRejected:       "Sorry, I can't help with that request. Please rephrase your question about immigration, daily life, education or job search.",
	CodeTemplateMissing:       "Sorry, this service is misconfigured and cannot answer right now.",
	CodeCancelled:             "The request was cancelled before an answer was ready.",
	CodeTimeout:               "Sorry, answering your question took too long. Please try again.",
	CodeInternal:              "Sorry, something went wrong while answering your question. Please try again.",
}

// FallbackMessage returns the user-visible answer for an error code
func FallbackMessage(code ErrorCode) string {
	if msg, ok := fallbackMessages[code]; ok {
		return msg
	}
	return fallbackMessages[CodeInternal]
}
