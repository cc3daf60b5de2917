package modelsvc

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nandika/steward/internal/config"
	"github.com/nandika/steward/pkg/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider returns canned responses and records requests
type fakeProvider struct {
	responses []string
	callIdx   int
	requests  []Request
	err       error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Call(ctx context.Context, request Request) (*Response, error) {
	f.requests = append(f.requests, request)
	if f.err != nil {
		return nil, f.err
	}
	content := "ok"
	if f.callIdx < len(f.responses) {
		content = f.responses[f.callIdx]
	}
	f.callIdx++
	return &Response{
		Content: content,
		Usage:   &TokenUsage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func setupTestClient(t *testing.T, provider Provider) *Client {
	store, err := transcript.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.ModelConfig{
		Provider:    "anthropic",
		Model:       "claude-sonnet-4",
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	return NewClient(provider, store, cfg)
}

func TestClient_InvokeNewSession(t *testing.T) {
	fake := &fakeProvider{responses: []string{"hello back"}}
	client := setupTestClient(t, fake)

	inv, err := client.Invoke(context.Background(), "hello", "")
	require.NoError(t, err)

	assert.Equal(t, "hello back", inv.ResultText)
	assert.True(t, strings.HasPrefix(inv.SessionToken, "sess_"))
	assert.Equal(t, 15, inv.CostUnits)
}

func TestClient_InvokeResumesSession(t *testing.T) {
	fake := &fakeProvider{responses: []string{"first", "second"}}
	client := setupTestClient(t, fake)

	inv1, err := client.Invoke(context.Background(), "one", "")
	require.NoError(t, err)

	inv2, err := client.Invoke(context.Background(), "two", inv1.SessionToken)
	require.NoError(t, err)

	assert.Equal(t, inv1.SessionToken, inv2.SessionToken)

	// Second request carries the full history plus the new prompt
	require.Len(t, fake.requests, 2)
	msgs := fake.requests[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "first", msgs[1].Content)
	assert.Equal(t, "two", msgs[2].Content)
}

func TestClient_InvokeUnknownToken(t *testing.T) {
	fake := &fakeProvider{}
	client := setupTestClient(t, fake)

	_, err := client.Invoke(context.Background(), "hello", "sess_does_not_exist")
	assert.ErrorIs(t, err, ErrInvalidSession)
	assert.Empty(t, fake.requests, "Unknown token must not reach the provider")
}

func TestClient_InvokeEmptyPrompt(t *testing.T) {
	client := setupTestClient(t, &fakeProvider{})

	_, err := client.Invoke(context.Background(), "", "")
	assert.Error(t, err)
}

func TestClient_InvokeRetryableErrorMapsToUnavailable(t *testing.T) {
	fake := &fakeProvider{err: errors.New("429 rate limit exceeded")}
	client := setupTestClient(t, fake)

	_, err := client.Invoke(context.Background(), "hello", "")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestClient_InvokePermanentErrorWrapsServiceError(t *testing.T) {
	fake := &fakeProvider{err: errors.New("invalid request body")}
	client := setupTestClient(t, fake)

	_, err := client.Invoke(context.Background(), "hello", "")
	require.Error(t, err)

	var svcErr *ServiceError
	assert.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "fake", svcErr.Provider)
}

func TestClient_FailedCallLeavesNoTurns(t *testing.T) {
	store, err := transcript.NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	fake := &fakeProvider{responses: []string{"ok"}}
	client := NewClient(fake, store, config.ModelConfig{Model: "m"})

	inv, err := client.Invoke(context.Background(), "works", "")
	require.NoError(t, err)

	fake.err = errors.New("503 bad gateway")
	_, err = client.Invoke(context.Background(), "fails", inv.SessionToken)
	require.Error(t, err)

	entries, err := store.Load(inv.SessionToken)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "Failed call must not leave partial turns")
}

func TestClient_ForkSession(t *testing.T) {
	fake := &fakeProvider{responses: []string{"original answer", "forked answer"}}
	client := setupTestClient(t, fake)

	inv, err := client.Invoke(context.Background(), "seed", "")
	require.NoError(t, err)

	forkToken, err := client.ForkSession(context.Background(), inv.SessionToken)
	require.NoError(t, err)
	assert.NotEqual(t, inv.SessionToken, forkToken)

	// The fork resumes with the source's history
	inv2, err := client.Invoke(context.Background(), "continue", forkToken)
	require.NoError(t, err)
	assert.Equal(t, forkToken, inv2.SessionToken)

	msgs := fake.requests[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "seed", msgs[0].Content)
}

func TestClient_ForkUnknownToken(t *testing.T) {
	client := setupTestClient(t, &fakeProvider{})

	_, err := client.ForkSession(context.Background(), "sess_nope")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("429 too many requests"), true},
		{"server error", errors.New("502 bad gateway"), true},
		{"timeout", errors.New("ETIMEDOUT"), true},
		{"bad request", errors.New("invalid model name"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryableError(tt.err))
		})
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(config.ModelConfig{Provider: "anthropic", APIKey: "sk-ant-test"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	p, err = NewProvider(config.ModelConfig{Provider: "openai", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = NewProvider(config.ModelConfig{Provider: "acme"})
	assert.Error(t, err)
}
