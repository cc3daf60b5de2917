// Package modelsvc talks to language model services and hides session
// bookkeeping behind opaque tokens.
//
// Invariants:
// - An empty session token starts a fresh conversation; the minted token
//   comes back on the Invocation.
// - A non-empty token must match a stored transcript or the call fails
//   with ErrInvalidSession.
// - Forked sessions always receive a token different from their source.
//
// Usage:
//
//	client, _ := modelsvc.NewClientFromConfig(cfg.Model, store)
//	inv, _ := client.Invoke(ctx, "summarize the logs", "")
//	_ = inv.SessionToken
package modelsvc
