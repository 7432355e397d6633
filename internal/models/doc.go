// Package models defines domain entities and data transfer objects for the
// music-library integration engine.
//
// The package contains two categories of types:
//
// 1. Data Transfer Objects (DTOs): Lightweight structs moving data between layers
//   - [TrackInfo] : Track description fed to the confidence scorer
//   - [MatchResult] : Outcome of resolving a track against a service
//   - [PlayRecord] : Raw listening event fetched from a service
//   - [PlayResolution] : Outcome of mapping a play to an internal track
//   - [LikedRecord] : Raw liked/loved track fetched from a service
//   - [OperationResult] : Uniform use-case result with counts and errors
//
// 2. Persistent Entities: Database-backed models with full lifecycle management
//   - [Track] : Canonical internal track
//   - [ConnectorTrack] : Per-service track record keyed by (service, external id)
//   - [TrackMapping] : Edge between a Track and a ConnectorTrack with confidence
//   - [TrackMetric] : Per-service per-track metric value with freshness timestamp
//   - [TrackLike] : Per-service liked flag with sync bookkeeping
//   - [Play] : A single listening event with preserved original metadata
//   - [SyncCheckpoint] : Durable cursor through a service's incremental feed
//   - [Playlist] : Internal playlist with ordered tracks and connector ids
//   - [User] : Account owning checkpoints
//
// All persistent entities implement the [Model] interface providing identity,
// timestamps, validation, and soft delete support.
package models
