package strategist

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nandika/steward/internal/observability"
	"github.com/nandika/steward/internal/tracing"
	"github.com/nandika/steward/pkg/mailbox"
	"github.com/nandika/steward/pkg/modelsvc"
	"github.com/nandika/steward/pkg/pool"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// resultSummaryLimit caps how much of the execution result is fed back
// to the evaluation call.
const resultSummaryLimit = 500

// Router selects and executes a strategy per task. It owns nothing
// global: the learner, pool, invoker and mailbox are injected by the
// daemon.
type Router struct {
	learner *Learner
	pool    *pool.Pool
	invoker modelsvc.Invoker
	mailbox *mailbox.Mailbox
}

// NewRouter creates a Router
func NewRouter(learner *Learner, p *pool.Pool, invoker modelsvc.Invoker, mb *mailbox.Mailbox) *Router {
	observability.EnsureRegistered()

	return &Router{
		learner: learner,
		pool:    p,
		invoker: invoker,
		mailbox: mb,
	}
}

// questionPayload is the control payload a role response may carry to
// suspend its task pending external input.
type questionPayload struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Context  string   `json:"context,omitempty"`
}

// detectQuestion checks whether a role response asks for external input
func detectQuestion(response string) (*questionPayload, bool) {
	doc, err := extractJSON(response)
	if err != nil {
		return nil, false
	}
	var p questionPayload
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, false
	}
	if p.Question == "" {
		return nil, false
	}
	return &p, true
}

// Route implements the learn-propose-execute-evaluate-record loop.
// Callers always receive a terminating result; failures after execution
// begins are returned as failed RoutingResults and still logged.
func (r *Router) Route(ctx context.Context, task string) (*RoutingResult, error) {
	if task == "" {
		return nil, fmt.Errorf("task cannot be empty")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.NewTaskContext(ctx)
	ctx, span := tracing.StartSpan(ctx, "steward.strategist", "strategist.route")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	start := time.Now()

	// Steps 1-2: similarity lookup and approach hint
	hint, frequencies, hasPrior := r.learner.Hint(task)
	if hasPrior {
		logger.Debug().
			Str("hint", hint).
			Interface("frequencies", frequencies).
			Msg("Prior experience found")
	}

	// Step 3: propose a strategy; any failure here degrades to the
	// deterministic fallback rather than aborting the task
	strategy, degraded := r.proposeStrategy(ctx, task, hint, frequencies, hasPrior)
	if !hasPrior && strategy.Reasoning == "" {
		strategy.Reasoning = "no prior learnings"
	}
	span.SetAttributes(attribute.String("approach", strategy.Approach))

	// Step 4: execute
	responses, cost, cancelled, questionDegraded, execErr := r.execute(ctx, task, strategy)
	if cancelled {
		// Cancellation while awaiting a question records nothing
		span.SetStatus(codes.Error, "task cancelled")
		return nil, execErr
	}
	degraded = degraded || questionDegraded
	executionTime := time.Since(start)

	kind := KindSingle
	if strategy.Approach == ApproachCoordination {
		kind = KindCoordination
	}

	// Step 5: evaluate
	var evaluation Evaluation
	if execErr != nil {
		evaluation = Evaluation{
			Successful: false,
			Reason:     fmt.Sprintf("execution failed: %v", execErr),
		}
	} else {
		evaluation = r.evaluate(ctx, task, strategy, responses)
	}

	// Step 6: exactly one record now that execution ran
	record := StrategyRecord{
		Timestamp: time.Now(),
		Task:      task,
		Strategy:  strategy,
		Result: ExecutionResult{
			Kind:          kind,
			Success:       execErr == nil,
			ExecutionTime: executionTime,
			Cost:          cost,
		},
		Success: evaluation,
	}
	if degraded {
		record.Success.Improvements = append(record.Success.Improvements, "degraded: fallback or default answer used")
	}
	if err := r.learner.Append(record); err != nil {
		logger.Error().Err(err).Msg("Failed to append strategy record")
	}

	observability.RecordRoute(strategy.Approach, executionTime, execErr == nil)
	if degraded {
		observability.RecordStrategyFallback()
	}
	observability.RecordRouteAudit(ctx, tracing.GetTaskID(ctx), strategy.Approach,
		statusWord(execErr == nil), map[string]interface{}{
			"degraded": degraded,
			"roles":    strategy.Roles,
		})

	result := &RoutingResult{
		Task:      task,
		Strategy:  strategy,
		Responses: responses,
		Success:   execErr == nil && evaluation.Successful,
		Degraded:  degraded,
		Duration:  executionTime,
		Cost:      cost,
	}
	if execErr != nil {
		result.Reason = execErr.Error()
		span.SetStatus(codes.Error, execErr.Error())
	} else {
		result.Reason = evaluation.Reason
	}

	logger.Info().
		Str("approach", strategy.Approach).
		Bool("success", result.Success).
		Dur("duration", executionTime).
		Msg("Task routed")

	return result, nil
}

func statusWord(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// proposeStrategy asks the model service for a strategy. Service errors
// and parse failures both take the fallback arm, marked degraded.
func (r *Router) proposeStrategy(ctx context.Context, task, hint string, frequencies map[string]int, hasPrior bool) (Strategy, bool) {
	role, _ := r.learner.BestRole(task)
	prompt := buildStrategyPrompt(task, hint, role, frequencies, hasPrior)

	inv, err := r.invoker.Invoke(ctx, prompt, "")
	if err != nil {
		log.Warn().Err(err).Msg("Strategy proposal failed, using fallback")
		return FallbackStrategy(), true
	}

	parsed := ParseStrategy(inv.ResultText)
	if parsed.Failure != nil {
		log.Warn().Err(parsed.Failure).Msg("Strategy response unparseable, using fallback")
		return parsed.Strategy, true
	}
	return parsed.Strategy, false
}

// execute runs the strategy through the session pool. Cost is the
// delta the route added across its roles' sessions.
func (r *Router) execute(ctx context.Context, task string, strategy Strategy) (responses map[string]string, cost int, cancelled, degraded bool, err error) {
	responses = make(map[string]string)

	roles := strategy.Roles
	if len(roles) == 0 {
		roles = []string{"GeneralAI"}
	}

	if strategy.Approach != ApproachCoordination {
		roles = roles[:1]
	}

	costBefore := r.costOf(roles)

	for _, role := range roles {
		response, expired, wasCancelled, roleErr := r.executeRole(ctx, role, task)
		if wasCancelled {
			return responses, 0, true, degraded, roleErr
		}
		if roleErr != nil {
			responses[role] = ""
			return responses, r.costOf(roles) - costBefore, false, degraded, fmt.Errorf("role %s: %w", role, roleErr)
		}
		degraded = degraded || expired
		responses[role] = response
	}

	return responses, r.costOf(roles) - costBefore, false, degraded, nil
}

// costOf sums the roles' cumulative session costs; callers diff
// before/after to get a route's own cost.
func (r *Router) costOf(roles []string) int {
	total := 0
	for _, role := range roles {
		if sess, ok := r.pool.GetSession(role); ok {
			total += sess.TotalCost
		}
	}
	return total
}

// executeRole sends the task to one role and, if the response carries a
// question payload, suspends until it is answered or expires. The
// suspension happens outside the role's lane: other tasks for the same
// role proceed while this one waits.
func (r *Router) executeRole(ctx context.Context, role, task string) (response string, expired, cancelled bool, err error) {
	response, err = r.pool.SendTask(ctx, role, task)
	if err != nil {
		return "", false, false, err
	}

	payload, isQuestion := detectQuestion(response)
	if !isQuestion {
		return response, false, false, nil
	}

	q, err := r.mailbox.Ask(ctx, role, payload.Question, payload.Options, payload.Context)
	if err != nil {
		return "", false, false, fmt.Errorf("failed to create question: %w", err)
	}

	answer, err := r.mailbox.Await(ctx, q.ID)
	if err != nil {
		// Cancelled: question already removed, nothing recorded
		return "", false, true, err
	}

	followup := fmt.Sprintf("Answer: %s\nContinue with the task.", answer.Value)
	response, err = r.pool.SendTask(ctx, role, followup)
	if err != nil {
		return "", answer.Expired, false, err
	}

	answered, qErr := r.questionForExchange(q.ID)
	if qErr == nil {
		if _, err := r.mailbox.RecordExchange(role, answered, response); err != nil {
			log.Warn().Str("role", role).Err(err).Msg("Failed to record exchange")
		}
	}

	return response, answer.Expired, false, nil
}

// questionForExchange rebuilds the question for outbox recording; for
// expired questions the stored record has no answer, so synthesize the
// default for the exchange timestamping.
func (r *Router) questionForExchange(questionID string) (*mailbox.Question, error) {
	q, err := r.mailbox.Store().GetQuestion(questionID)
	if err != nil || q == nil {
		return nil, fmt.Errorf("question %s not found", questionID)
	}
	if q.AnsweredAt == nil {
		now := time.Now()
		q.AnsweredAt = &now
	}
	return q, nil
}

// evaluate asks the model service to judge the execution outcome. Parse
// or service failure yields the failed-evaluation default.
func (r *Router) evaluate(ctx context.Context, task string, strategy Strategy, responses map[string]string) Evaluation {
	inv, err := r.invoker.Invoke(ctx, buildEvaluationPrompt(task, strategy, responses), "")
	if err != nil {
		log.Warn().Err(err).Msg("Evaluation call failed")
		return FailedEvaluation()
	}

	parsed := ParseEvaluation(inv.ResultText)
	if parsed.Failure != nil {
		log.Warn().Err(parsed.Failure).Msg("Evaluation response unparseable")
	}
	return parsed.Evaluation
}

func buildStrategyPrompt(task, hint, role string, frequencies map[string]int, hasPrior bool) string {
	var b strings.Builder
	b.WriteString("Propose an execution strategy for the following task.\n")
	b.WriteString("Task: " + task + "\n")

	if hasPrior {
		b.WriteString("Prior experience suggests the approach: " + hint + "\n")
		if role != "" {
			b.WriteString("Prior experience suggests the role: " + role + "\n")
		}
		b.WriteString("Approach frequencies among similar successful tasks:\n")
		keys := make([]string, 0, len(frequencies))
		for k := range frequencies {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %d\n", k, frequencies[k])
		}
	} else {
		b.WriteString("No prior experience with similar tasks.\n")
	}

	b.WriteString(`Respond with a JSON object: {"approach": "single"|"coordination"|"specialized", "description": string, "roles": [string, ...], "reasoning": string}`)
	return b.String()
}

func buildEvaluationPrompt(task string, strategy Strategy, responses map[string]string) string {
	summary, _ := json.Marshal(responses)
	text := string(summary)
	if len(text) > resultSummaryLimit {
		text = text[:resultSummaryLimit]
	}

	var b strings.Builder
	b.WriteString("Evaluate whether this task was completed successfully.\n")
	b.WriteString("Task: " + task + "\n")
	b.WriteString("Strategy: " + strategy.Description + "\n")
	b.WriteString("Result: " + text + "\n")
	b.WriteString(`Respond with a JSON object: {"successful": bool, "reason": string, "improvements": [string, ...]}`)
	return b.String()
}
