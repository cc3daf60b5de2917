// Package transcript persists per-token conversation history using JSONL files.
//
// Invariants:
// - Session tokens are validated and path-safe.
// - Writes for the same token are serialized.
// - Append/load/delete/copy operations are observable via tracing and metrics.
//
// Usage:
//
//	store, _ := transcript.NewStore("/tmp/steward/transcripts")
//	_ = store.Append("sess_abc", transcript.Turn{Role: "user", Content: "hello"})
//	entries, _ := store.Load("sess_abc")
//	_ = entries
package transcript
