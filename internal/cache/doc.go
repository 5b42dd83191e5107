// Package cache implements the bounded byte cache for small robotics
// objects: sharded storage with per-shard locking, frequency-weighted
// LRU eviction, per-entry TTL, and checksum verification on read.
//
// The store exclusively owns entry storage. The request interceptor
// and the prefetch scheduler only reference entries through the
// store's API and never mutate them directly.
package cache
