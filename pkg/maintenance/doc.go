// Package maintenance runs the daemon's periodic housekeeping: expiring
// stale questions, sweeping idle transcripts, and compacting the mailbox
// store. Jobs are registered in code with an interval or cron schedule;
// runtime state persists across restarts keyed by job name.
package maintenance
