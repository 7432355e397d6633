package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/shared"
)

// Adapter is the minimal surface every service adapter provides. Everything
// else is an optional capability.
type Adapter interface {
	// Name returns the lowercase service name (e.g. "spotify").
	Name() string
}

// TrackBatchGetter fetches raw track payloads for external ids in one call.
// The result maps external id → attribute bag; ids the service does not know
// have no entry. Request order does not matter to callers.
type TrackBatchGetter interface {
	BatchGetTracks(ctx context.Context, externalIDs []string) (map[string]models.Attributes, error)
}

// ISRCSearcher finds a track by its recording code.
type ISRCSearcher interface {
	SearchByISRC(ctx context.Context, isrc string) (models.Attributes, error)
}

// TrackSearcher finds the best candidate for an artist and title.
type TrackSearcher interface {
	SearchTrack(ctx context.Context, artist, title string) (models.Attributes, error)
}

// TrackInfoBatchGetter fetches per-track info keyed by internal track id, for
// metadata refresh. Values are adapter-specific; the metadata manager converts
// them to attribute bags.
type TrackInfoBatchGetter interface {
	BatchGetTrackInfo(ctx context.Context, tracks []*models.Track) (map[int64]any, error)
}

// LikedTracksPager pages through the user's liked tracks. The returned cursor
// requests the next page; an empty cursor means the feed is exhausted.
type LikedTracksPager interface {
	GetLikedTracks(ctx context.Context, limit int, cursor string) ([]models.LikedRecord, string, error)
}

// RecentPlaysPager pages through the user's listening history, newest first.
// The boolean reports whether more pages remain.
type RecentPlaysPager interface {
	GetRecentPlays(ctx context.Context, limit int, from *time.Time, page int) ([]models.PlayRecord, bool, error)
}

// TrackLover marks a track loved/liked on the service. Returns false when the
// service accepted the call but did not apply it.
type TrackLover interface {
	LoveTrack(ctx context.Context, artist, title string) (bool, error)
}

// PlaylistReader lists and fetches the user's playlists on the service.
type PlaylistReader interface {
	GetPlaylists(ctx context.Context) ([]models.Attributes, error)
	GetPlaylistTracks(ctx context.Context, playlistID string) ([]models.Attributes, error)
}

// PlaylistWriter creates and updates playlists on the service.
type PlaylistWriter interface {
	CreatePlaylist(ctx context.Context, name, description string) (string, error)
	ReplacePlaylistTracks(ctx context.Context, playlistID string, externalIDs []string) error
}

// MetricRegistrar is implemented by the metadata metric registry. Adapters
// register the metrics they own at construction time.
type MetricRegistrar interface {
	Register(name string, ttl time.Duration, service, fieldKey string)
}

// Registry holds the configured adapters by service name. Registration
// happens once at startup; reads afterwards are lock-free.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Add registers an adapter under its own name. Reserved names denote the
// engine's internal storage and are rejected; so are duplicates.
func (r *Registry) Add(adapter Adapter) error {
	name := adapter.Name()
	for _, reserved := range models.ReservedServiceNames {
		if name == reserved {
			return fmt.Errorf("%w: %q is reserved", shared.ErrInvalidArgument, name)
		}
	}
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("%w: adapter %q already registered", shared.ErrInvalidArgument, name)
	}
	r.adapters[name] = adapter
	return nil
}

// Get returns the adapter for a service, or [shared.ErrUnknownService].
func (r *Registry) Get(service string) (Adapter, error) {
	adapter, ok := r.adapters[service]
	if !ok {
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownService, service)
	}
	return adapter, nil
}

// Names returns the registered service names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// wrapStatus classifies an HTTP error status so the batch executor retries
// only transient failures: 429 and 5xx stay retryable, every other 4xx is
// wrapped permanent.
func wrapStatus(service string, status int, body []byte) error {
	detail := string(body)
	if len(detail) > 200 {
		detail = detail[:200]
	}
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s returned 429: %s", shared.ErrRateLimited, service, detail)
	case status >= 500:
		return fmt.Errorf("%w: %s returned %d: %s", shared.ErrServiceUnavailable, service, status, detail)
	default:
		return fmt.Errorf("%w: %s returned %d: %s", shared.ErrPermanent, service, status, detail)
	}
}

// readBody drains a response body for error reporting, capped small.
func readBody(r io.Reader) []byte {
	body, _ := io.ReadAll(io.LimitReader(r, 2048))
	return body
}
