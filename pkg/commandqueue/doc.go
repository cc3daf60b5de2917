// Package commandqueue provides lane-based task execution with FIFO
// ordering per lane. The session pool gives every agent role its own
// lane at concurrency 1, which is how per-role call serialization is
// enforced while distinct roles run concurrently.
//
// Invariants:
// - Tasks in the same lane execute in FIFO order.
// - Tasks in different lanes may execute concurrently.
// - Queue activity is observable through enqueued/completed events and metrics.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	result, err := queue.Enqueue("role:Tester", func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
package commandqueue
