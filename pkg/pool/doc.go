// Package pool owns one long-lived agent session per logical role.
//
// Invariants:
// - Calls for the same role are strictly serialized; distinct roles run
//   concurrently.
// - An invalid session token triggers exactly one rebuild-and-retry
//   before the error surfaces.
// - Sessions are removed only explicitly (guardian revert of
//   experimental roles).
package pool
