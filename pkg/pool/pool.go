package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nandika/steward/internal/observability"
	"github.com/nandika/steward/internal/tracing"
	"github.com/nandika/steward/pkg/commandqueue"
	"github.com/nandika/steward/pkg/modelsvc"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// AgentSession tracks one role's persistent conversation
type AgentSession struct {
	Role         string    `json:"role"`
	SessionToken string    `json:"session_token"`
	CreatedAt    time.Time `json:"created_at"`
	RequestCount int       `json:"request_count"`
	TotalCost    int       `json:"total_cost"`
}

// Pool owns one AgentSession per logical role and serializes calls per
// role through a command queue lane. Calls for distinct roles proceed
// independently. The pool is constructed by the daemon and passed to
// collaborators; there is no ambient instance.
type Pool struct {
	invoker  modelsvc.Invoker
	queue    *commandqueue.CommandQueue
	sessions map[string]*AgentSession
	mu       sync.RWMutex
}

// New creates a Pool backed by the given invoker and queue
func New(invoker modelsvc.Invoker, queue *commandqueue.CommandQueue) *Pool {
	observability.EnsureRegistered()

	return &Pool{
		invoker:  invoker,
		queue:    queue,
		sessions: make(map[string]*AgentSession),
	}
}

func laneFor(role string) string {
	return "role:" + role
}

// bootstrapPrompt seeds a role's conversation
func bootstrapPrompt(role string) string {
	return fmt.Sprintf("You are the %s agent. Acknowledge that you are ready to receive tasks.", role)
}

// EnsureSession returns the role's session token, bootstrapping a new
// session via the model service if none exists. The call is serialized
// on the role's lane.
func (p *Pool) EnsureSession(ctx context.Context, role string) (string, error) {
	if role == "" {
		return "", fmt.Errorf("role cannot be empty")
	}

	p.mu.RLock()
	if sess, ok := p.sessions[role]; ok {
		token := sess.SessionToken
		p.mu.RUnlock()
		return token, nil
	}
	p.mu.RUnlock()

	result, err := p.queue.EnqueueWithContext(ctx, laneFor(role), func(taskCtx context.Context) (interface{}, error) {
		sess, err := p.ensureSessionLocked(taskCtx, role)
		if err != nil {
			return nil, err
		}
		return sess.SessionToken, nil
	}, nil)
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// ensureSessionLocked bootstraps the session if missing. Callers must
// already hold the role's lane.
func (p *Pool) ensureSessionLocked(ctx context.Context, role string) (*AgentSession, error) {
	p.mu.RLock()
	sess, ok := p.sessions[role]
	p.mu.RUnlock()
	if ok {
		return sess, nil
	}

	inv, err := p.invoker.Invoke(ctx, bootstrapPrompt(role), "")
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap session for role %s: %w", role, err)
	}

	sess = &AgentSession{
		Role:         role,
		SessionToken: inv.SessionToken,
		CreatedAt:    time.Now(),
		RequestCount: 1,
		TotalCost:    inv.CostUnits,
	}

	p.mu.Lock()
	p.sessions[role] = sess
	count := len(p.sessions)
	p.mu.Unlock()

	observability.SetActiveSessions(count)
	observability.AddCostUnits(role, float64(inv.CostUnits))

	log.Info().
		Str("role", role).
		Str("session_token", inv.SessionToken).
		Msg("Session bootstrapped")

	return sess, nil
}

// SendTask forwards text as a continuation of the role's session and
// returns the result text. If the backend rejects the session token as
// invalid, a new session is created once and the call retried exactly
// once before the error surfaces.
func (p *Pool) SendTask(ctx context.Context, role string, text string) (string, error) {
	if role == "" {
		return "", fmt.Errorf("role cannot be empty")
	}
	if text == "" {
		return "", fmt.Errorf("task text cannot be empty")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithRole(ctx, role)
	ctx, span := tracing.StartSpan(
		ctx,
		"steward.pool",
		"pool.send_task",
		attribute.String("role", role),
	)
	defer span.End()

	result, err := p.queue.EnqueueWithContext(ctx, laneFor(role), func(taskCtx context.Context) (interface{}, error) {
		return p.sendLocked(taskCtx, role, text)
	}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return result.(string), nil
}

// sendLocked performs the invocation. Callers must already hold the
// role's lane.
func (p *Pool) sendLocked(ctx context.Context, role string, text string) (string, error) {
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("role", role).Logger()

	sess, err := p.ensureSessionLocked(ctx, role)
	if err != nil {
		return "", err
	}

	inv, err := p.invoker.Invoke(ctx, text, sess.SessionToken)
	if errors.Is(err, modelsvc.ErrInvalidSession) {
		// Stale token: rebuild the session once and retry
		logger.Warn().
			Str("session_token", sess.SessionToken).
			Msg("Session token rejected, rebuilding session")

		p.mu.Lock()
		delete(p.sessions, role)
		p.mu.Unlock()

		sess, err = p.ensureSessionLocked(ctx, role)
		if err != nil {
			return "", err
		}
		inv, err = p.invoker.Invoke(ctx, text, sess.SessionToken)
	}
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	sess.RequestCount++
	sess.TotalCost += inv.CostUnits
	if inv.SessionToken != "" {
		sess.SessionToken = inv.SessionToken
	}
	p.mu.Unlock()

	observability.AddCostUnits(role, float64(inv.CostUnits))

	logger.Debug().
		Int("cost_units", inv.CostUnits).
		Msg("Task sent")

	return inv.ResultText, nil
}

// GetSession returns a copy of the role's session, if present
func (p *Pool) GetSession(role string) (AgentSession, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	sess, ok := p.sessions[role]
	if !ok {
		return AgentSession{}, false
	}
	return *sess, true
}

// Sessions returns a snapshot of all sessions keyed by role
func (p *Pool) Sessions() map[string]AgentSession {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snapshot := make(map[string]AgentSession, len(p.sessions))
	for role, sess := range p.sessions {
		snapshot[role] = *sess
	}
	return snapshot
}

// Has reports whether the role has a live session
func (p *Pool) Has(role string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.sessions[role]
	return ok
}

// Count returns the number of live sessions
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Adopt registers an externally created session token under a role.
// Guardian forking uses this to hand a fork's session to the pool.
func (p *Pool) Adopt(role, token string) error {
	if role == "" {
		return fmt.Errorf("role cannot be empty")
	}
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	p.mu.Lock()
	if _, exists := p.sessions[role]; exists {
		p.mu.Unlock()
		return fmt.Errorf("role already has a session: %s", role)
	}
	p.sessions[role] = &AgentSession{
		Role:         role,
		SessionToken: token,
		CreatedAt:    time.Now(),
	}
	count := len(p.sessions)
	p.mu.Unlock()

	observability.SetActiveSessions(count)
	log.Info().Str("role", role).Str("session_token", token).Msg("Session adopted")
	return nil
}

// Drain waits for all in-flight tasks to complete, up to timeout
func (p *Pool) Drain(timeout time.Duration) bool {
	return p.queue.WaitForActive(timeout)
}

// DrainRole waits for one role's in-flight tasks to complete, up to
// timeout, without waiting on any other role's lane.
func (p *Pool) DrainRole(role string, timeout time.Duration) bool {
	return p.queue.WaitForLane(laneFor(role), timeout)
}

// CancelRole drains the role's lane, failing any queued tasks. In-flight
// work is not interrupted; callers that need full quiescence should wait
// on the queue afterwards.
func (p *Pool) CancelRole(role string) {
	p.queue.ResetLane(laneFor(role))
	log.Info().Str("role", role).Msg("Role lane cancelled")
}

// Remove drops the role's session from the pool and returns its token.
// Guardian revert uses this to discard experimental sessions.
func (p *Pool) Remove(role string) (string, bool) {
	p.mu.Lock()
	sess, ok := p.sessions[role]
	var token string
	if ok {
		token = sess.SessionToken
		delete(p.sessions, role)
	}
	count := len(p.sessions)
	p.mu.Unlock()

	if ok {
		observability.SetActiveSessions(count)
		log.Info().Str("role", role).Msg("Session removed")
	}
	return token, ok
}
