// Package prefetch warms the cache ahead of predicted accesses. A
// bounded queue feeds a fixed worker pool; every speculative fetch is
// best effort and fully decoupled from client requests. Backpressure
// comes from three directions: the queue sheds when full, at most one
// fetch per key is outstanding, and a circuit breaker suspends all
// speculative traffic while the backend error budget is exhausted.
package prefetch
