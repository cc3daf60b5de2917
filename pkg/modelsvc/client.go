package modelsvc

import (
	"context"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nandika/steward/internal/config"
	"github.com/nandika/steward/internal/observability"
	"github.com/nandika/steward/internal/tracing"
	"github.com/nandika/steward/pkg/transcript"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tokenPrefix = "sess_"

// Client implements Invoker on top of a Provider, persisting each
// conversation in the transcript store keyed by an opaque session token.
type Client struct {
	provider    Provider
	transcripts *transcript.Store
	cfg         config.ModelConfig
}

// NewClient creates a Client backed by the given provider and store
func NewClient(provider Provider, transcripts *transcript.Store, cfg config.ModelConfig) *Client {
	observability.EnsureRegistered()

	return &Client{
		provider:    provider,
		transcripts: transcripts,
		cfg:         cfg,
	}
}

// NewClientFromConfig builds the provider from model configuration
func NewClientFromConfig(cfg config.ModelConfig, transcripts *transcript.Store) (*Client, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(provider, transcripts, cfg), nil
}

// mintToken generates a fresh opaque session token
func mintToken() (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return tokenPrefix + id, nil
}

// Invoke sends a prompt to the model service. An empty sessionToken
// starts a new conversation and the returned Invocation carries the
// minted token; a non-empty token must reference an existing transcript
// or ErrInvalidSession is returned.
func (c *Client) Invoke(ctx context.Context, prompt string, sessionToken string) (*Invocation, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"steward.modelsvc",
		"modelsvc.invoke",
		attribute.String("provider", c.provider.Name()),
		attribute.String("model", c.cfg.Model),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().
		Str("provider", c.provider.Name()).
		Logger()

	if prompt == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}

	token := sessionToken
	if token == "" {
		minted, err := mintToken()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		token = minted
		if err := c.transcripts.CreateWithContext(ctx, token); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to create transcript: %w", err)
		}
		logger.Debug().Str("session_token", token).Msg("New session started")
	} else if !c.transcripts.Exists(token) {
		err := fmt.Errorf("%w: %s", ErrInvalidSession, token)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	history, err := c.transcripts.LoadWithContext(ctx, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}

	messages := make([]Message, 0, len(history)+1)
	for _, entry := range history {
		messages = append(messages, Message{
			Role:    entry.Turn.Role,
			Content: entry.Turn.Content,
		})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})

	request := Request{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	start := time.Now()
	response, err := c.provider.Call(ctx, request)
	duration := time.Since(start)
	observability.RecordInvocation(c.provider.Name(), duration, err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Dur("duration", duration).
			Err(err).
			Msg("Model call failed")
		if IsRetryableError(err) {
			return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
		return nil, &ServiceError{Provider: c.provider.Name(), Err: err}
	}

	// Persist both turns so the token resumes the full conversation
	if err := c.transcripts.AppendWithContext(ctx, token, transcript.Turn{
		Role:    "user",
		Content: prompt,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to record prompt: %w", err)
	}
	if response.Content != "" {
		if err := c.transcripts.AppendWithContext(ctx, token, transcript.Turn{
			Role:    "assistant",
			Content: response.Content,
		}); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to record response: %w", err)
		}
	}

	cost := 0
	if response.Usage != nil {
		cost = response.Usage.InputTokens + response.Usage.OutputTokens
	}

	logger.Debug().
		Str("session_token", token).
		Dur("duration", duration).
		Int("cost_units", cost).
		Msg("Model call completed")

	return &Invocation{
		ResultText:   response.Content,
		SessionToken: token,
		CostUnits:    cost,
	}, nil
}

// ForkSession duplicates an existing conversation under a freshly
// minted token and returns the new token. The new token always differs
// from the source.
func (c *Client) ForkSession(ctx context.Context, sessionToken string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"steward.modelsvc",
		"modelsvc.fork_session",
		attribute.String("provider", c.provider.Name()),
	)
	defer span.End()

	if !c.transcripts.Exists(sessionToken) {
		err := fmt.Errorf("%w: %s", ErrInvalidSession, sessionToken)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	newToken, err := mintToken()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	if err := c.transcripts.Copy(sessionToken, newToken); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to fork session: %w", err)
	}

	log.Info().
		Str("source_token", sessionToken).
		Str("new_token", newToken).
		Msg("Session forked")

	return newToken, nil
}

// DropSession discards a conversation and its transcript
func (c *Client) DropSession(ctx context.Context, sessionToken string) error {
	return c.transcripts.DeleteWithContext(ctx, sessionToken)
}
