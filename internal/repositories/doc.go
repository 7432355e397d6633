// Package repositories implements SQLite persistence for all domain entities.
//
// All database access goes through a [Store], which bundles one repository per
// entity family over a shared connection pool. Bulk operations are atomic per
// call; multi-repository writes run inside a unit of work created by
// [Store.WithUnitOfWork], with nested work using SQLite savepoints rather than
// new connections. Every row carries a deleted_at column and reads always
// filter soft-deleted rows.
//
// Key implementations:
//   - [TrackRepository] : Canonical tracks with external-id lookups
//   - [ConnectorTrackRepository] : Per-service records, bulk upsert on (service, external id)
//   - [MappingRepository] : Track↔connector edges, one live mapping per (track, service)
//   - [MetricRepository] : Metric observations with freshness-windowed reads
//   - [LikeRepository] : Per-service liked flags with unsynced queries
//   - [PlayRepository] : Plays with idempotent bulk insert on the dedup key
//   - [CheckpointRepository] : Monotonic sync checkpoints with explicit reset
//   - [PlaylistRepository] : Playlists with ordered tracks and connector items
//   - [JobRepository] : Import job bookkeeping rows from operation results
//   - [TokenRepository] : OAuth tokens per service
package repositories
