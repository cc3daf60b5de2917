// Package guardian manages the baseline agent instance and a disposable
// set of experimental variants.
//
// The guardian is a long-lived session that is never experimented on
// directly. Variants are forked from an existing session's state with a
// behavioral variation applied, exercised with test cases, and discarded
// as a set by Revert. Instance records persist to disk so sessions
// survive daemon restarts.
package guardian
