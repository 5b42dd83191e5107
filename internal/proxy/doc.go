// Package proxy implements the client-facing request interceptor.
// Clients speak plain S3-style HTTP (GET/PUT/HEAD on /{bucket}/{key})
// and never learn whether a response came from cache or backend; the
// only differences are latency and an advisory X-Cache header. Every
// GET feeds the access pattern tracker, which may hand candidates to
// the prefetch scheduler.
package proxy
