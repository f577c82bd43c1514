// Package limiter bounds how many expensive operations run at once inside a
// single process.
//
// A Limiter holds a priority queue of submitted operations and dispatches
// them while fewer than its ceiling are running. Higher priorities start
// first; equal priorities start in submission order. Two timeouts apply and
// are reported as different errors:
//
//   - the operation timeout bounds how long a started operation may run.
//     On expiry its future is rejected, its context is cancelled and its
//     slot is handed to the next queued operation at once.
//   - the queue timeout bounds how long an operation may wait for a slot.
//     A background sweep rejects entries that waited longer.
//
// Limiters are usually obtained by name from a Set built once from
// configuration:
//
//	set := limiter.NewSet(cfg.LimiterConfigs(), limiter.WithLogger(logger))
//	defer set.Close()
//
//	spawn, _ := set.Get(limiter.NameSpawn)
//	err := spawn.Run(ctx, launchWorker, limiter.RunOptions{Priority: 10, Label: "worker-3"})
//	if errors.Is(err, errors.ErrQueueTimeout) {
//	    // never got a turn
//	}
package limiter
