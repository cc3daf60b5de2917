// Package strategist routes tasks through learned strategies.
//
// The loop per task: look up similar prior successes in the append-only
// strategy log, ask the model service to propose a strategy (falling
// back to a deterministic default when the proposal fails to parse),
// execute it through the session pool, evaluate the outcome with a
// second model call, and append exactly one record.
//
// Invariants:
// - Similarity is the literal shared-token heuristic: more than one
//   distinct case-insensitive whitespace-delimited token in common.
//   Deliberately unrefined; preserved as observed.
// - Records are appended in completion order and never mutated.
// - A failure before execution begins appends nothing; a failure after
//   is still recorded.
package strategist
