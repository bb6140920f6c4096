package adapter

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

var (
	// ErrContentRejected is returned when the service refuses a prompt or its answer by content policy
	ErrContentRejected = goerr.New("content rejected by service policy")

	// ErrPermanent marks a failure that will not go away by retrying, such as a malformed response
	ErrPermanent = goerr.New("permanent service failure")
)

// IsTransient reports whether a failed call to an external service may succeed if retried.
// Timeouts, rate limiting, 5xx and network failures are transient. Other 4xx, content
// rejections and cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrContentRejected) || errors.Is(err, ErrPermanent) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return isTransientStatus(genaiErr.Code)
	}
	var genaiErrPtr *genai.APIError
	if errors.As(err, &genaiErrPtr) {
		return isTransientStatus(genaiErrPtr.Code)
	}

	var openaiErr *openai.APIError
	if errors.As(err, &openaiErr) {
		return isTransientStatus(openaiErr.HTTPStatusCode)
	}
	var requestErr *openai.RequestError
	if errors.As(err, &requestErr) {
		return isTransientStatus(requestErr.HTTPStatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Unknown failures are usually transport level
	return true
}

func isTransientStatus(code int) bool {
	switch {
	case code == 0:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
