package mailbox

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	dbPath := filepath.Join(t.TempDir(), "mailbox.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestMessage(from, content string) Message {
	return Message{
		ID:      uuid.New().String(),
		From:    from,
		To:      "external",
		Content: content,
		Type:    "task",
	}
}

func TestStore_MessagesPreserveInsertionOrder(t *testing.T) {
	s := setupTestStore(t)

	for _, content := range []string{"first", "second", "third"} {
		require.NoError(t, s.AppendMessage("Tester", CollectionInbox, newTestMessage("ext", content)))
	}

	messages, err := s.Messages("Tester", CollectionInbox)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)
	assert.Equal(t, "third", messages[2].Content)
}

func TestStore_CollectionsAreIndependent(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.AppendMessage("A", CollectionInbox, newTestMessage("ext", "in")))
	require.NoError(t, s.AppendMessage("A", CollectionOutbox, newTestMessage("A", "out")))
	require.NoError(t, s.AppendMessage("B", CollectionInbox, newTestMessage("ext", "other role")))

	inbox, err := s.Messages("A", CollectionInbox)
	require.NoError(t, err)
	assert.Len(t, inbox, 1)
	assert.Equal(t, "in", inbox[0].Content)

	outbox, err := s.Messages("A", CollectionOutbox)
	require.NoError(t, err)
	assert.Len(t, outbox, 1)
	assert.Equal(t, "out", outbox[0].Content)
}

func TestStore_AppendMessageValidation(t *testing.T) {
	s := setupTestStore(t)

	err := s.AppendMessage("", CollectionInbox, newTestMessage("x", "y"))
	assert.Error(t, err)

	err = s.AppendMessage("A", "attic", newTestMessage("x", "y"))
	assert.Error(t, err)

	err = s.AppendMessage("A", CollectionInbox, Message{From: "x", Content: "no id"})
	assert.Error(t, err)
}

func TestStore_DequeueMessage(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.AppendMessage("A", CollectionInbox, newTestMessage("ext", "one")))
	require.NoError(t, s.AppendMessage("A", CollectionInbox, newTestMessage("ext", "two")))

	msg, err := s.DequeueMessage("A", CollectionInbox)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "one", msg.Content)
	assert.True(t, msg.Processed)

	msg, err = s.DequeueMessage("A", CollectionInbox)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "two", msg.Content)

	msg, err = s.DequeueMessage("A", CollectionInbox)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestStore_MarkProcessedUnknown(t *testing.T) {
	s := setupTestStore(t)

	err := s.MarkProcessed("no-such-id")
	assert.Error(t, err)
}

func TestStore_QuestionRoundtrip(t *testing.T) {
	s := setupTestStore(t)

	q := Question{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		From:      "Tester",
		Text:      "Which environment?",
		Options:   []string{"staging", "production"},
		Context:   "deployment",
		State:     StateCreated,
	}
	require.NoError(t, s.InsertQuestion(q))

	loaded, err := s.GetQuestion(q.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, q.Text, loaded.Text)
	assert.Equal(t, []string{"staging", "production"}, loaded.Options)
	assert.Equal(t, StateCreated, loaded.State)
	assert.False(t, loaded.Answered)
	assert.Nil(t, loaded.Answer)

	// Transition to answered
	answer := "staging"
	answeredAt := time.Now()
	loaded.State = StateAnswered
	loaded.Answered = true
	loaded.Answer = &answer
	loaded.AnsweredAt = &answeredAt
	require.NoError(t, s.UpdateQuestion(*loaded))

	reloaded, err := s.GetQuestion(q.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAnswered, reloaded.State)
	assert.Equal(t, "staging", *reloaded.Answer)
	assert.False(t, reloaded.AnsweredAt.Before(reloaded.Timestamp))
}

func TestStore_GetQuestionMissing(t *testing.T) {
	s := setupTestStore(t)

	q, err := s.GetQuestion("missing")
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestStore_PendingQuestions(t *testing.T) {
	s := setupTestStore(t)

	q1 := Question{ID: "q1", Timestamp: time.Now(), From: "A", Text: "one", State: StateCreated}
	q2 := Question{ID: "q2", Timestamp: time.Now(), From: "B", Text: "two", State: StateExpired}
	require.NoError(t, s.InsertQuestion(q1))
	require.NoError(t, s.InsertQuestion(q2))

	pending, err := s.PendingQuestions()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "q1", pending[0].ID)
}

func TestStore_DeleteQuestion(t *testing.T) {
	s := setupTestStore(t)

	q := Question{ID: "gone", Timestamp: time.Now(), From: "A", Text: "x", State: StateCreated}
	require.NoError(t, s.InsertQuestion(q))
	require.NoError(t, s.DeleteQuestion("gone"))

	loaded, err := s.GetQuestion("gone")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStore_StatusUpsert(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.UpsertStatus(RoleStatus{
		Name:         "Tester",
		Status:       "ready",
		Capabilities: []string{"qa"},
	}))

	status, err := s.GetStatus("Tester")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "ready", status.Status)
	assert.Equal(t, []string{"qa"}, status.Capabilities)
	assert.False(t, status.WaitingForResponse)

	require.NoError(t, s.UpsertStatus(RoleStatus{
		Name:               "Tester",
		Status:             "waiting",
		WaitingForResponse: true,
	}))

	status, err = s.GetStatus("Tester")
	require.NoError(t, err)
	assert.Equal(t, "waiting", status.Status)
	assert.True(t, status.WaitingForResponse)

	missing, err := s.GetStatus("Nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_Compact(t *testing.T) {
	s := setupTestStore(t)

	old := newTestMessage("ext", "old and done")
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	old.Processed = true
	require.NoError(t, s.AppendMessage("A", CollectionInbox, old))

	fresh := newTestMessage("ext", "fresh")
	fresh.Processed = true
	require.NoError(t, s.AppendMessage("A", CollectionInbox, fresh))

	unprocessed := newTestMessage("ext", "old but pending")
	unprocessed.Timestamp = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.AppendMessage("A", CollectionInbox, unprocessed))

	removed, err := s.Compact(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	messages, err := s.Messages("A", CollectionInbox)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}
