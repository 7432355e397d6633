// Package batch implements the bounded-concurrency executor every remote call
// is routed through.
//
// Items are split into fixed-size batches that run sequentially; within a
// batch up to a configured number of mapper goroutines run behind a counting
// semaphore. Each item gets a per-attempt timeout and an exponential-backoff
// retry with full jitter, and a shared rate limiter paces attempts across
// items. Results preserve input order with per-item error isolation, and
// progress events flow through an advisory [ProgressSink] that is never
// load-bearing for correctness.
package batch
