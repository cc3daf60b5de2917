package mailbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nandika/steward/internal/observability"
	"github.com/nandika/steward/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// Mailbox implements the question/answer suspension protocol on top of
// the durable Store. A running task asks a question and blocks on Await;
// an external caller answers it, the timeout expires it, or the task's
// context cancels it. Answering a terminal question is a no-op.
type Mailbox struct {
	store         *Store
	timeout       time.Duration
	defaultAnswer string

	pending map[string]*pendingQuestion
	mu      sync.Mutex
}

type pendingQuestion struct {
	question Question
	answerCh chan string
}

// New creates a Mailbox. timeout bounds how long a question may stay
// unanswered; defaultAnswer is what an expired question resumes with.
func New(store *Store, timeout time.Duration, defaultAnswer string) *Mailbox {
	observability.EnsureRegistered()

	return &Mailbox{
		store:         store,
		timeout:       timeout,
		defaultAnswer: defaultAnswer,
		pending:       make(map[string]*pendingQuestion),
	}
}

// Ask creates a Question for the role and returns it without blocking.
// The caller suspends by calling Await with the question's id.
func (m *Mailbox) Ask(ctx context.Context, role, text string, options []string, questionContext string) (*Question, error) {
	if role == "" {
		return nil, fmt.Errorf("role cannot be empty")
	}
	if text == "" {
		return nil, fmt.Errorf("question text cannot be empty")
	}

	q := Question{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		From:      role,
		Text:      text,
		Options:   options,
		Context:   questionContext,
		State:     StateCreated,
	}

	if err := m.store.InsertQuestion(q); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.pending[q.ID] = &pendingQuestion{
		question: q,
		answerCh: make(chan string, 1),
	}
	pendingCount := len(m.pending)
	m.mu.Unlock()

	observability.SetQuestionsPending(pendingCount)

	_, span := tracing.StartSpan(ctx, "steward.mailbox", "mailbox.ask",
		attribute.String("role", role),
		attribute.String("question_id", q.ID),
	)
	span.End()

	if err := m.store.UpsertStatus(RoleStatus{
		Name:               role,
		Status:             "waiting",
		LastActivity:       q.Timestamp,
		WaitingForResponse: true,
	}); err != nil {
		log.Warn().Str("role", role).Err(err).Msg("Failed to update role status")
	}

	log.Info().
		Str("role", role).
		Str("question_id", q.ID).
		Msg("Question created")

	return &q, nil
}

// Await blocks until the question is answered, the timeout elapses, or
// ctx is cancelled. On expiry it returns the default answer with
// Expired set; on cancellation the question is removed with no side
// effects and an error is returned.
func (m *Mailbox) Await(ctx context.Context, questionID string) (*AnswerResult, error) {
	m.mu.Lock()
	pq, ok := m.pending[questionID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no pending question: %s", questionID)
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case answer := <-pq.answerCh:
		m.settleRole(pq.question.From)
		return &AnswerResult{Value: answer}, nil

	case <-timer.C:
		expired, answer := m.expire(questionID)
		if !expired {
			// Lost the race to a concurrent answer; its send is imminent
			grace := time.NewTimer(time.Second)
			defer grace.Stop()
			select {
			case answer := <-pq.answerCh:
				m.settleRole(pq.question.From)
				return &AnswerResult{Value: answer}, nil
			case <-grace.C:
				// Settled by Cancel, not Answer
				m.settleRole(pq.question.From)
				return nil, fmt.Errorf("question cancelled: %s", questionID)
			}
		}
		m.settleRole(pq.question.From)
		return &AnswerResult{Value: answer, Expired: true}, nil

	case <-ctx.Done():
		if err := m.Cancel(questionID); err != nil {
			log.Warn().Str("question_id", questionID).Err(err).Msg("Failed to cancel question")
		}
		m.settleRole(pq.question.From)
		return nil, ctx.Err()
	}
}

// Answer supplies the value for a pending question. Answering a question
// that is already answered or expired is a no-op, not an error. The
// stored answeredAt is always at or after the question's creation time.
func (m *Mailbox) Answer(questionID, value string) error {
	m.mu.Lock()
	pq, ok := m.pending[questionID]
	if !ok {
		m.mu.Unlock()
		// Terminal or unknown: check the store to distinguish
		q, err := m.store.GetQuestion(questionID)
		if err != nil {
			return err
		}
		if q == nil {
			return fmt.Errorf("question not found: %s", questionID)
		}
		// Already answered or expired: idempotent no-op
		return nil
	}

	q := pq.question
	now := time.Now()
	if now.Before(q.Timestamp) {
		now = q.Timestamp
	}
	q.State = StateAnswered
	q.Answered = true
	q.Answer = &value
	q.AnsweredAt = &now

	delete(m.pending, questionID)
	pendingCount := len(m.pending)
	m.mu.Unlock()

	if err := m.store.UpdateQuestion(q); err != nil {
		return err
	}

	pq.answerCh <- value
	observability.SetQuestionsPending(pendingCount)
	observability.RecordQuestionAnswered()
	observability.RecordQuestionAudit(context.Background(), "answer", q.From, "answered", map[string]interface{}{
		"question_id": questionID,
	})

	log.Info().
		Str("question_id", questionID).
		Str("role", q.From).
		Msg("Question answered")

	return nil
}

// expire transitions a still-pending question to expired. Returns false
// if the question was already settled.
func (m *Mailbox) expire(questionID string) (bool, string) {
	m.mu.Lock()
	pq, ok := m.pending[questionID]
	if !ok {
		m.mu.Unlock()
		return false, m.defaultAnswer
	}

	q := pq.question
	q.State = StateExpired
	delete(m.pending, questionID)
	pendingCount := len(m.pending)
	m.mu.Unlock()

	if err := m.store.UpdateQuestion(q); err != nil {
		log.Error().Str("question_id", questionID).Err(err).Msg("Failed to persist question expiry")
	}

	observability.SetQuestionsPending(pendingCount)
	observability.RecordQuestionExpired()
	observability.RecordQuestionAudit(context.Background(), "expire", q.From, "expired", map[string]interface{}{
		"question_id": questionID,
	})

	log.Warn().
		Str("question_id", questionID).
		Str("role", q.From).
		Dur("timeout", m.timeout).
		Msg("Question expired, resuming with default answer")

	return true, m.defaultAnswer
}

// Cancel removes a pending question with no side effects. The role is
// released; nothing is recorded.
func (m *Mailbox) Cancel(questionID string) error {
	m.mu.Lock()
	_, ok := m.pending[questionID]
	if ok {
		delete(m.pending, questionID)
	}
	pendingCount := len(m.pending)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending question: %s", questionID)
	}

	observability.SetQuestionsPending(pendingCount)

	if err := m.store.DeleteQuestion(questionID); err != nil {
		return err
	}

	log.Info().Str("question_id", questionID).Msg("Question cancelled")
	return nil
}

// RecordExchange appends the question/answer exchange to the role's
// collections: the question to the conversation, the response to the
// outbox. The response timestamp is never before answeredAt.
func (m *Mailbox) RecordExchange(role string, q *Question, response string) (*Message, error) {
	now := time.Now()
	if q.AnsweredAt != nil && now.Before(*q.AnsweredAt) {
		now = *q.AnsweredAt
	}

	conv := Message{
		ID:        uuid.New().String(),
		Timestamp: q.Timestamp,
		From:      role,
		To:        "external",
		Content:   q.Text,
		Type:      "question",
		Processed: true,
	}
	if err := m.store.AppendMessage(role, CollectionConversation, conv); err != nil {
		return nil, err
	}

	out := Message{
		ID:        uuid.New().String(),
		Timestamp: now,
		From:      role,
		To:        "external",
		Content:   response,
		Type:      "response",
	}
	if err := m.store.AppendMessage(role, CollectionOutbox, out); err != nil {
		return nil, err
	}

	return &out, nil
}

// ExpireStale expires pending questions older than the timeout. The
// maintenance service runs this as a safety net for waiters that died
// without settling their question.
func (m *Mailbox) ExpireStale() int {
	m.mu.Lock()
	var stale []string
	cutoff := time.Now().Add(-m.timeout)
	for id, pq := range m.pending {
		if pq.question.Timestamp.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	expired := 0
	for _, id := range stale {
		if ok, _ := m.expire(id); ok {
			expired++
		}
	}
	return expired
}

// Pending returns the ids of questions still awaiting an answer
func (m *Mailbox) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	return ids
}

// DefaultAnswer returns the fallback answer used on expiry
func (m *Mailbox) DefaultAnswer() string {
	return m.defaultAnswer
}

// Store exposes the durable store for collection reads
func (m *Mailbox) Store() *Store {
	return m.store
}

func (m *Mailbox) settleRole(role string) {
	if err := m.store.UpsertStatus(RoleStatus{
		Name:               role,
		Status:             "ready",
		LastActivity:       time.Now(),
		WaitingForResponse: false,
	}); err != nil {
		log.Warn().Str("role", role).Err(err).Msg("Failed to update role status")
	}
}
