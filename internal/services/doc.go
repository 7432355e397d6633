// Package services implements the adapters that talk to external music
// services.
//
// # Capability protocol
//
// [Adapter] is the only mandatory surface. Everything else is an optional
// capability interface ([TrackBatchGetter], [ISRCSearcher], [TrackSearcher],
// [TrackInfoBatchGetter], [LikedTracksPager], [RecentPlaysPager],
// [TrackLover], [PlaylistReader], [PlaylistWriter]); adapters implement the
// subset their service supports and callers discover support with a type
// assertion. A missing capability is an expected condition, not an error.
//
// # Implementations
//
// [SpotifyAdapter] authenticates with OAuth2 (tokens persisted through a
// [TokenStore]) and covers batch track lookup with market relinking, search,
// the saved-tracks library, recently-played history and playlist CRUD.
//
// [LastfmAdapter] authenticates read calls with an API key and write calls
// with an md5-signed session. It covers listening history, loved tracks,
// track search and per-user track info, paced at one request per 200ms.
//
// # Error classification
//
// Remote failures are wrapped so the batch executor retries only transient
// ones: HTTP 429 → [shared.ErrRateLimited], 5xx → [shared.ErrServiceUnavailable],
// any other 4xx → [shared.ErrPermanent].
package services
