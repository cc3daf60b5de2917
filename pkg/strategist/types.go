package strategist

import (
	"time"
)

// Strategy approaches
const (
	ApproachSingle       = "single"
	ApproachCoordination = "coordination"
	ApproachSpecialized  = "specialized"
)

// Result kinds
const (
	KindSingle       = "single"
	KindCoordination = "coordination"
)

// Strategy describes how a task should be executed
type Strategy struct {
	Approach    string   `json:"approach"`
	Description string   `json:"description"`
	Roles       []string `json:"roles"`
	Reasoning   string   `json:"reasoning,omitempty"`
}

// FallbackStrategy is the deterministic default used when strategy
// parsing fails or the model service cannot propose one.
func FallbackStrategy() Strategy {
	return Strategy{
		Approach:    ApproachSingle,
		Description: "Fallback strategy.",
		Roles:       []string{"GeneralAI"},
	}
}

// ExecutionResult summarizes how a strategy's execution went
type ExecutionResult struct {
	Kind          string        `json:"kind"`
	Success       bool          `json:"success"`
	ExecutionTime time.Duration `json:"executionTime"`
	Cost          int           `json:"cost"`
}

// Evaluation is the model's judgment of a completed execution
type Evaluation struct {
	Successful   bool     `json:"successful"`
	Reason       string   `json:"reason"`
	Improvements []string `json:"improvements,omitempty"`
}

// FailedEvaluation is the default arm when evaluation parsing fails
func FailedEvaluation() Evaluation {
	return Evaluation{
		Successful: false,
		Reason:     "evaluation failed",
	}
}

// StrategyRecord is one append-only log entry. Never mutated after
// write; appended in completion order.
type StrategyRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Task      string          `json:"task"`
	Strategy  Strategy        `json:"strategy"`
	Result    ExecutionResult `json:"result"`
	Success   Evaluation      `json:"success"`
}

// RoutingResult is what a route() caller receives: always a terminating
// structured outcome, success or failure.
type RoutingResult struct {
	Task      string            `json:"task"`
	Strategy  Strategy          `json:"strategy"`
	Responses map[string]string `json:"responses"`
	Success   bool              `json:"success"`
	Reason    string            `json:"reason,omitempty"`
	Degraded  bool              `json:"degraded,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Cost      int               `json:"cost"`
}
