package guardian

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nandika/steward/internal/observability"
	"github.com/nandika/steward/internal/tracing"
	"github.com/nandika/steward/pkg/modelsvc"
	"github.com/nandika/steward/pkg/pool"
)

const (
	snapshotPrompt = "Summarize your current configuration, role, and accumulated context so another agent can continue from it."

	// revertDrainTimeout bounds how long revert waits for in-flight
	// experimental work before discarding sessions.
	revertDrainTimeout = 30 * time.Second
)

// Manager owns the guardian baseline and the experimental instance set.
// Experimental instances are forked from a source session, exercised with
// test variations, and discarded wholesale by Revert. The guardian is
// never part of the experimental set and survives every revert.
type Manager struct {
	pool    *pool.Pool
	invoker modelsvc.Invoker
	store   InstanceStore

	mu           sync.RWMutex
	guardian     *Instance
	experimental map[string]*Instance
}

// sessionAdmin is implemented by invokers that manage per-session
// transcript state. When available, forks snapshot a disposable copy of
// the source session so its transcript stays untouched, and revert
// discards the transcripts of terminated sessions.
type sessionAdmin interface {
	ForkSession(ctx context.Context, sessionToken string) (string, error)
	DropSession(ctx context.Context, sessionToken string) error
}

// NewManager reconciles persisted instance records against the pool:
// active instances get their sessions re-adopted, terminated ones are
// left as history.
func NewManager(p *pool.Pool, invoker modelsvc.Invoker, store InstanceStore) (*Manager, error) {
	if p == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	if invoker == nil {
		return nil, fmt.Errorf("invoker cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	m := &Manager{
		pool:         p,
		invoker:      invoker,
		store:        store,
		experimental: make(map[string]*Instance),
	}

	persisted, err := store.List()
	if err != nil {
		return nil, fmt.Errorf("failed to load instance records: %w", err)
	}
	for _, inst := range persisted {
		if inst.Status != StatusActive {
			continue
		}
		if err := p.Adopt(inst.Name, inst.SessionToken); err != nil {
			log.Warn().Err(err).Str("instance", inst.Name).Msg("Failed to re-adopt persisted session")
			continue
		}
		if inst.Name == GuardianName {
			m.guardian = inst
		} else {
			m.experimental[inst.Name] = inst
		}
	}
	observability.SetExperimentalActive(len(m.experimental))
	return m, nil
}

// CreateGuardian establishes the baseline instance. Idempotent: calling
// it when a guardian already exists returns the existing instance.
func (m *Manager) CreateGuardian(ctx context.Context) (*Instance, error) {
	m.mu.RLock()
	existing := m.guardian
	m.mu.RUnlock()
	if existing != nil {
		return existing, nil
	}

	token, err := m.pool.EnsureSession(ctx, GuardianName)
	if err != nil {
		return nil, fmt.Errorf("failed to create guardian session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.guardian != nil {
		return m.guardian, nil
	}

	inst := &Instance{
		Name:         GuardianName,
		SessionToken: token,
		Status:       StatusActive,
		CreatedAt:    time.Now(),
	}
	if err := m.store.Save(inst); err != nil {
		return nil, err
	}
	m.guardian = inst
	observability.RecordLifecycleAudit(ctx, "create", GuardianName, "active", nil)

	log.Info().Str("session_token", token).Msg("Guardian instance created")
	return inst, nil
}

// Guardian returns the baseline instance, or nil if none exists yet.
func (m *Manager) Guardian() *Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.guardian
}

// CreateExperimental starts a fresh experimental instance with its own
// session, optionally priming it with an initial task.
func (m *Manager) CreateExperimental(ctx context.Context, name, task string) (*Instance, error) {
	if name == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	if name == GuardianName {
		return nil, fmt.Errorf("instance name %q is reserved", GuardianName)
	}
	m.mu.RLock()
	_, exists := m.experimental[name]
	m.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("experimental instance already exists: %s", name)
	}
	if m.pool.Has(name) {
		return nil, fmt.Errorf("role already has a session: %s", name)
	}

	token, err := m.pool.EnsureSession(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create experimental session %s: %w", name, err)
	}
	if task != "" {
		if _, err := m.pool.SendTask(ctx, name, task); err != nil {
			return nil, fmt.Errorf("failed to prime experimental instance %s: %w", name, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.experimental[name]; exists {
		return nil, fmt.Errorf("experimental instance already exists: %s", name)
	}

	inst := &Instance{
		Name:         name,
		SessionToken: token,
		Status:       StatusActive,
		CreatedAt:    time.Now(),
	}
	if err := m.store.Save(inst); err != nil {
		return nil, err
	}
	m.experimental[name] = inst
	observability.SetExperimentalActive(len(m.experimental))

	log.Info().Str("instance", name).Msg("Experimental instance created")
	return inst, nil
}

// Fork creates an experimental instance seeded from an existing session's
// state, with a variation applied. The fork gets a brand-new session
// token; the source session is never modified.
func (m *Manager) Fork(ctx context.Context, originalToken, forkName, variation string) (*Instance, error) {
	ctx, span := tracing.StartSpan(ctx, "steward.guardian", "guardian.Fork",
		attribute.String("fork.name", forkName),
	)
	defer span.End()

	if originalToken == "" {
		return nil, fmt.Errorf("original session token cannot be empty")
	}
	if forkName == "" {
		return nil, fmt.Errorf("fork name cannot be empty")
	}
	if forkName == GuardianName {
		return nil, fmt.Errorf("fork name %q is reserved", GuardianName)
	}
	m.mu.RLock()
	_, exists := m.experimental[forkName]
	m.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("experimental instance already exists: %s", forkName)
	}

	// Snapshot the source session's state. When the invoker manages
	// transcripts, run the snapshot prompt against a disposable copy so
	// the source transcript is left exactly as it was.
	snapshotToken := originalToken
	if admin, ok := m.invoker.(sessionAdmin); ok {
		scratch, err := admin.ForkSession(ctx, originalToken)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "session copy failed")
			return nil, fmt.Errorf("failed to copy source session state: %w", err)
		}
		snapshotToken = scratch
		defer func() {
			if err := admin.DropSession(ctx, scratch); err != nil {
				log.Warn().Err(err).Str("session_token", scratch).Msg("Failed to discard snapshot session")
			}
		}()
	}

	snapshot, err := m.invoker.Invoke(ctx, snapshotPrompt, snapshotToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot failed")
		return nil, fmt.Errorf("failed to snapshot source session: %w", err)
	}

	seed := fmt.Sprintf("You are a fork of another agent. Its state:\n%s\n\nApply this variation to your behavior: %s\nAcknowledge when ready.",
		snapshot.ResultText, variation)
	seeded, err := m.invoker.Invoke(ctx, seed, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "seed failed")
		return nil, fmt.Errorf("failed to seed fork session: %w", err)
	}
	if seeded.SessionToken == originalToken {
		return nil, fmt.Errorf("fork produced the same session token as its source: %s", originalToken)
	}

	if err := m.pool.Adopt(forkName, seeded.SessionToken); err != nil {
		return nil, fmt.Errorf("failed to adopt fork session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.experimental[forkName]; exists {
		m.pool.Remove(forkName)
		return nil, fmt.Errorf("experimental instance already exists: %s", forkName)
	}

	inst := &Instance{
		Name:         forkName,
		SessionToken: seeded.SessionToken,
		ForkedFrom:   originalToken,
		Variation:    variation,
		Status:       StatusActive,
		CreatedAt:    time.Now(),
	}
	if err := m.store.Save(inst); err != nil {
		return nil, err
	}
	m.experimental[forkName] = inst
	observability.RecordFork()
	observability.SetExperimentalActive(len(m.experimental))
	observability.RecordLifecycleAudit(ctx, "fork", forkName, "active", map[string]interface{}{
		"forked_from": originalToken,
	})

	log.Info().
		Str("instance", forkName).
		Str("forked_from", originalToken).
		Str("session_token", seeded.SessionToken).
		Msg("Experimental fork created")
	return inst, nil
}

// Experimental returns the active experimental instances keyed by name.
func (m *Manager) Experimental() map[string]*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*Instance, len(m.experimental))
	for name, inst := range m.experimental {
		copied := *inst
		out[name] = &copied
	}
	return out
}

// TestVariations runs every test case against every active experimental
// instance, sequentially per instance in name order. Each instance's
// result slice has exactly one entry per test case; a failing call is
// recorded in its entry rather than aborting the run.
func (m *Manager) TestVariations(ctx context.Context, testCases []string) (map[string][]VariationResult, error) {
	if len(testCases) == 0 {
		return nil, fmt.Errorf("test cases cannot be empty")
	}

	m.mu.RLock()
	names := make([]string, 0, len(m.experimental))
	for name := range m.experimental {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string][]VariationResult, len(names))
	for _, name := range names {
		entries := make([]VariationResult, 0, len(testCases))
		for _, test := range testCases {
			entries = append(entries, m.runVariation(ctx, name, test))
		}
		results[name] = entries
	}
	return results, nil
}

func (m *Manager) runVariation(ctx context.Context, name, test string) VariationResult {
	before, _ := m.pool.GetSession(name)
	start := time.Now()
	response, err := m.pool.SendTask(ctx, name, test)
	elapsed := time.Since(start)
	after, _ := m.pool.GetSession(name)

	result := VariationResult{
		Test:     test,
		Duration: elapsed,
		Cost:     after.TotalCost - before.TotalCost,
	}
	if err != nil {
		result.Err = err.Error()
		log.Warn().Err(err).Str("instance", name).Msg("Variation test failed")
		return result
	}
	result.Response = response
	result.Success = true
	return result
}

// Revert discards the entire experimental set: queued tasks are failed,
// in-flight work is drained, sessions are removed from the pool, and
// every record is marked terminated. The guardian instance is untouched.
// Reverting with no experimental instances is a no-op.
func (m *Manager) Revert(ctx context.Context) error {
	m.mu.Lock()
	detached := m.experimental
	m.experimental = make(map[string]*Instance)
	m.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "steward.guardian", "guardian.Revert",
		attribute.Int("experimental.count", len(detached)),
	)
	defer span.End()

	if len(detached) == 0 {
		return nil
	}

	for name := range detached {
		m.pool.CancelRole(name)
	}

	// Drain only the experimental lanes: the guardian (and any other
	// role) may keep working through a revert.
	deadline := time.Now().Add(revertDrainTimeout)
	for name := range detached {
		remaining := time.Until(deadline)
		if remaining <= 0 || !m.pool.DrainRole(name, remaining) {
			log.Warn().Str("instance", name).Msg("Revert drain timed out; discarding session anyway")
		}
	}

	admin, hasAdmin := m.invoker.(sessionAdmin)
	terminated := len(detached)
	var errs []error
	for name, inst := range detached {
		m.pool.Remove(name)
		if hasAdmin {
			if err := admin.DropSession(ctx, inst.SessionToken); err != nil {
				log.Warn().Err(err).Str("instance", name).Msg("Failed to discard session transcript")
			}
		}
		inst.Status = StatusTerminated
		if err := m.store.Save(inst); err != nil {
			errs = append(errs, err)
		}
	}

	observability.RecordRevert()
	observability.SetExperimentalActive(0)
	observability.RecordLifecycleAudit(ctx, "revert", "experimental", "terminated", map[string]interface{}{
		"count": terminated,
	})
	log.Info().Msg("Experimental set reverted")

	if len(errs) > 0 {
		revertErr := &RevertError{Errs: errs}
		span.RecordError(revertErr)
		span.SetStatus(codes.Error, "revert persistence failed")
		return revertErr
	}
	return nil
}
