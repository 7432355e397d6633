// Package metadata caches per-service track metadata and metrics with
// per-metric freshness windows.
//
// [Registry] maps metric names to TTL, owning service and the field key the
// value travels under in adapter payloads. [Manager] refreshes metadata over
// the stored external ids, persists metric observations, and serves cached
// bags; it never re-matches an already-mapped track.
package metadata
