package modelsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Invoker is the surface the rest of the system uses to talk to a
// language model service. An empty session token starts a fresh
// conversation; a non-empty token resumes the matching transcript.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, sessionToken string) (*Invocation, error)
}

// Invocation is the outcome of a single model call
type Invocation struct {
	ResultText   string `json:"result_text"`
	SessionToken string `json:"session_token"`
	CostUnits    int    `json:"cost_units"`
}

// ErrServiceUnavailable indicates the model service could not be reached
// or refused the call.
var ErrServiceUnavailable = errors.New("model service unavailable")

// ErrInvalidSession indicates the session token does not match any
// known transcript.
var ErrInvalidSession = errors.New("invalid session token")

// ServiceError wraps a provider failure with its origin
type ServiceError struct {
	Provider string
	Err      error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s service error: %v", e.Provider, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Message represents a message in the conversation sent to a provider
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request contains the request parameters for a model call
type Request struct {
	Model        string
	Messages     []Message
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Response contains the response from a model call
type Response struct {
	Content string
	Usage   *TokenUsage
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// IsRetryableError checks if a provider error is transient
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errMsg := err.Error()

	// Network errors
	if strings.Contains(errMsg, "ECONNRESET") || strings.Contains(errMsg, "ETIMEDOUT") {
		return true
	}

	// Rate limits
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "rate limit") {
		return true
	}

	// Server errors
	if strings.Contains(errMsg, "500") || strings.Contains(errMsg, "502") ||
		strings.Contains(errMsg, "503") || strings.Contains(errMsg, "504") {
		return true
	}

	return false
}
