package mailbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestMailbox(t *testing.T, timeout time.Duration) *Mailbox {
	dbPath := filepath.Join(t.TempDir(), "mailbox.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, timeout, "proceed with your best judgment")
}

func TestMailbox_AskAndAnswer(t *testing.T) {
	m := setupTestMailbox(t, 5*time.Second)

	q, err := m.Ask(context.Background(), "Tester", "Which theme?", []string{"Technical", "Casual"}, "")
	require.NoError(t, err)
	assert.Equal(t, StateCreated, q.State)

	resultCh := make(chan *AnswerResult, 1)
	go func() {
		result, err := m.Await(context.Background(), q.ID)
		assert.NoError(t, err)
		resultCh <- result
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, m.Answer(q.ID, "Technical"))

	result := <-resultCh
	assert.Equal(t, "Technical", result.Value)
	assert.False(t, result.Expired)

	stored, err := m.store.GetQuestion(q.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAnswered, stored.State)
	assert.True(t, stored.Answered)
	assert.Equal(t, "Technical", *stored.Answer)
	assert.False(t, stored.AnsweredAt.Before(stored.Timestamp))
}

func TestMailbox_AnswerIsIdempotent(t *testing.T) {
	m := setupTestMailbox(t, 5*time.Second)

	q, err := m.Ask(context.Background(), "Tester", "Pick one", nil, "")
	require.NoError(t, err)

	go func() {
		_, _ = m.Await(context.Background(), q.ID)
	}()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, m.Answer(q.ID, "first"))

	first, err := m.store.GetQuestion(q.ID)
	require.NoError(t, err)

	// A second answer is accepted as a no-op and changes nothing
	require.NoError(t, m.Answer(q.ID, "second"))

	second, err := m.store.GetQuestion(q.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", *second.Answer)
	assert.True(t, second.AnsweredAt.Equal(*first.AnsweredAt))
}

func TestMailbox_AnswerUnknownQuestion(t *testing.T) {
	m := setupTestMailbox(t, time.Second)

	err := m.Answer("never-existed", "value")
	assert.Error(t, err)
}

func TestMailbox_ExpiryResumesWithDefault(t *testing.T) {
	m := setupTestMailbox(t, 100*time.Millisecond)

	q, err := m.Ask(context.Background(), "Tester", "Anyone there?", nil, "")
	require.NoError(t, err)

	result, err := m.Await(context.Background(), q.ID)
	require.NoError(t, err)
	assert.True(t, result.Expired)
	assert.Equal(t, "proceed with your best judgment", result.Value)

	stored, err := m.store.GetQuestion(q.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, stored.State)
	assert.False(t, stored.Answered)

	// Answering after expiry is a no-op
	require.NoError(t, m.Answer(q.ID, "too late"))
	stored, err = m.store.GetQuestion(q.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Answer)
}

func TestMailbox_CancelRemovesQuestion(t *testing.T) {
	m := setupTestMailbox(t, 5*time.Second)

	q, err := m.Ask(context.Background(), "Tester", "Cancelled before answer", nil, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Await(ctx, q.ID)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	err = <-errCh
	assert.ErrorIs(t, err, context.Canceled)

	// No trace remains
	stored, err := m.store.GetQuestion(q.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Empty(t, m.Pending())
}

func TestMailbox_ResponseTimestampAfterAnswer(t *testing.T) {
	m := setupTestMailbox(t, 5*time.Second)

	q, err := m.Ask(context.Background(), "Tester", "Which theme?", []string{"Technical"}, "")
	require.NoError(t, err)

	go func() {
		_, _ = m.Await(context.Background(), q.ID)
	}()
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, m.Answer(q.ID, "Technical"))

	answered, err := m.store.GetQuestion(q.ID)
	require.NoError(t, err)

	out, err := m.RecordExchange("Tester", answered, "Proceeding with Technical theme")
	require.NoError(t, err)

	// The outbox message is never dated before the answer
	assert.False(t, out.Timestamp.Before(*answered.AnsweredAt))

	outbox, err := m.store.Messages("Tester", CollectionOutbox)
	require.NoError(t, err)
	require.Len(t, outbox, 1)
	assert.Equal(t, "response", outbox[0].Type)

	conversation, err := m.store.Messages("Tester", CollectionConversation)
	require.NoError(t, err)
	require.Len(t, conversation, 1)
	assert.Equal(t, "question", conversation[0].Type)
}

func TestMailbox_RoleStatusTracksWaiting(t *testing.T) {
	m := setupTestMailbox(t, 5*time.Second)

	q, err := m.Ask(context.Background(), "Tester", "Waiting...", nil, "")
	require.NoError(t, err)

	status, err := m.store.GetStatus("Tester")
	require.NoError(t, err)
	assert.True(t, status.WaitingForResponse)

	done := make(chan struct{})
	go func() {
		_, _ = m.Await(context.Background(), q.ID)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, m.Answer(q.ID, "done"))
	<-done

	status, err = m.store.GetStatus("Tester")
	require.NoError(t, err)
	assert.False(t, status.WaitingForResponse)
	assert.Equal(t, "ready", status.Status)
}

func TestMailbox_ExpireStale(t *testing.T) {
	m := setupTestMailbox(t, 50*time.Millisecond)

	q, err := m.Ask(context.Background(), "Tester", "Forgotten", nil, "")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	expired := m.ExpireStale()
	assert.Equal(t, 1, expired)

	stored, err := m.store.GetQuestion(q.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, stored.State)
	assert.Empty(t, m.Pending())
}

func TestMailbox_AskValidation(t *testing.T) {
	m := setupTestMailbox(t, time.Second)

	_, err := m.Ask(context.Background(), "", "text", nil, "")
	assert.Error(t, err)

	_, err = m.Ask(context.Background(), "Tester", "", nil, "")
	assert.Error(t, err)
}
