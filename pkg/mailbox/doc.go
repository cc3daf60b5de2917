// Package mailbox holds per-role message collections and the
// question/answer suspension protocol.
//
// Invariants:
// - Message collections preserve insertion order per role.
// - A question moves Created -> Answered or Created -> Expired, both
//   terminal; answering a terminal question is an idempotent no-op.
// - answeredAt is never before the question's creation time.
// - Cancellation removes the pending question with no recorded side
//   effects.
package mailbox
