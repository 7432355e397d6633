// Spotify implementation of the adapter capability protocol.
//
// Response types follow https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/shared"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	// The several-tracks endpoint caps each request at 50 ids.
	spotifyMaxBatch = 50
)

// SpotifyTrackURI matches canonical track URIs ("spotify:track:" + 22 base62).
var SpotifyTrackURI = regexp.MustCompile(`^spotify:track:([0-9A-Za-z]{22})$`)

type spotifyExternalIDs struct {
	ISRC string `json:"isrc"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ReleaseDate string `json:"release_date"`
	URI         string `json:"uri"`
}

// SpotifyLinkedTrack is the relinking origin carried on a track when market
// relinking replaced the requested id.
type SpotifyLinkedTrack struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Artists     []SpotifyArtist     `json:"artists"`
	Album       SpotifyAlbum        `json:"album"`
	DurationMS  int64               `json:"duration_ms"`
	Explicit    bool                `json:"explicit"`
	ExternalIDs spotifyExternalIDs  `json:"external_ids"`
	Popularity  int                 `json:"popularity"`
	URI         string              `json:"uri"`
	LinkedFrom  *SpotifyLinkedTrack `json:"linked_from"`
}

// AttributeMap flattens the track into an attribute bag. Implements
// [models.AttributeMapper] so the metadata manager converts without JSON
// round-trips.
func (t SpotifyTrack) AttributeMap() map[string]any {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}
	bag := map[string]any{
		"external_id":  t.ID,
		"title":        t.Name,
		"artists":      artists,
		"album":        t.Album.Name,
		"duration_ms":  t.DurationMS,
		"release_date": t.Album.ReleaseDate,
		"isrc":         t.ExternalIDs.ISRC,
		"popularity":   float64(t.Popularity),
		"explicit":     t.Explicit,
		"uri":          t.URI,
	}
	if t.LinkedFrom != nil {
		bag["linked_from"] = t.LinkedFrom.ID
	}
	return bag
}

// Info flattens the track into the scorer's input shape.
func (t SpotifyTrack) Info() models.TrackInfo {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}
	duration := t.DurationMS
	return models.TrackInfo{
		Title:       t.Name,
		Artists:     artists,
		Album:       t.Album.Name,
		DurationMS:  &duration,
		ReleaseDate: t.Album.ReleaseDate,
		ISRC:        t.ExternalIDs.ISRC,
		ExternalID:  t.ID,
		Popularity:  float64(t.Popularity),
	}
}

type spotifySavedTrack struct {
	AddedAt string       `json:"added_at"`
	Track   SpotifyTrack `json:"track"`
}

type spotifyPage[T any] struct {
	Items  []T     `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Next   *string `json:"next"`
}

type spotifyPlayHistory struct {
	Track    SpotifyTrack `json:"track"`
	PlayedAt string       `json:"played_at"`
	Context  *struct {
		Type string `json:"type"`
		URI  string `json:"uri"`
	} `json:"context"`
}

type spotifyPlaylist struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Public      bool   `json:"public"`
	Tracks      struct {
		Total int `json:"total"`
	} `json:"tracks"`
	URI string `json:"uri"`
}

type spotifyPlaylistItem struct {
	AddedAt string       `json:"added_at"`
	AddedBy struct {
		ID string `json:"id"`
	} `json:"added_by"`
	Track SpotifyTrack `json:"track"`
}

// TokenStore persists OAuth tokens across runs. Implemented by the token
// repository.
type TokenStore interface {
	Get(ctx context.Context, service string) (*oauth2.Token, error)
	Save(ctx context.Context, service string, token *oauth2.Token) error
}

// SpotifyAdapter talks to the Spotify Web API. It implements
// [TrackBatchGetter], [ISRCSearcher], [TrackSearcher], [TrackInfoBatchGetter],
// [LikedTracksPager], [RecentPlaysPager], [PlaylistReader] and
// [PlaylistWriter].
type SpotifyAdapter struct {
	config     *oauth2.Config
	tokens     TokenStore
	httpClient *http.Client
	baseURL    string
	logger     *log.Logger
}

// NewSpotifyAdapter creates a Spotify adapter and registers its popularity
// metric. The token store provides the persisted authorization; calls fail
// with [shared.ErrNotAuthenticated] until a token exists.
func NewSpotifyAdapter(cfg shared.SpotifyConfig, tokens TokenStore, metrics MetricRegistrar, logger *log.Logger) (*SpotifyAdapter, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_id and client_secret are required", shared.ErrMissingCredentials)
	}
	redirectURI := cfg.RedirectURI
	if redirectURI == "" {
		redirectURI = "http://localhost:8080/callback"
	}

	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes: []string{
			"user-read-private",
			"user-library-read",
			"user-library-modify",
			"user-read-recently-played",
			"playlist-read-private",
			"playlist-modify-private",
			"playlist-modify-public",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	if metrics != nil {
		metrics.Register("popularity", 24*time.Hour, models.ServiceSpotify, "popularity")
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	return &SpotifyAdapter{
		config:     config,
		tokens:     tokens,
		httpClient: http.DefaultClient,
		baseURL:    spotifyBaseURL,
		logger:     logger,
	}, nil
}

func (s *SpotifyAdapter) Name() string { return models.ServiceSpotify }

// AuthURL returns the OAuth2 authorization URL for the interactive login flow.
func (s *SpotifyAdapter) AuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token and persists it.
func (s *SpotifyAdapter) Exchange(ctx context.Context, code string) error {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange auth code: %w", err)
	}
	if err := s.tokens.Save(ctx, s.Name(), token); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}
	return nil
}

// token loads the stored token, refreshing and re-persisting it when expired.
func (s *SpotifyAdapter) token(ctx context.Context) (*oauth2.Token, error) {
	stored, err := s.tokens.Get(ctx, s.Name())
	if err != nil {
		return nil, fmt.Errorf("%w: run auth spotify first: %v", shared.ErrNotAuthenticated, err)
	}
	if stored.Valid() {
		return stored, nil
	}

	refreshed, err := s.config.TokenSource(ctx, stored).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}
	if refreshed.AccessToken != stored.AccessToken {
		if err := s.tokens.Save(ctx, s.Name(), refreshed); err != nil {
			return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
		}
	}
	return refreshed, nil
}

// doRequest performs an authenticated request against the API and decodes the
// JSON response into result when non-nil.
func (s *SpotifyAdapter) doRequest(ctx context.Context, method, endpoint string, query url.Values, body, result any) error {
	token, err := s.token(ctx)
	if err != nil {
		return err
	}

	apiURL := s.baseURL + endpoint
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return wrapStatus(s.Name(), resp.StatusCode, readBody(resp.Body))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// BatchGetTracks fetches raw payloads for up to any number of ids, chunked at
// the API's 50-id cap. Ids the service does not know are absent from the
// result; relinked tracks keep their requested id as the key and surface the
// replacement under "linked_from".
func (s *SpotifyAdapter) BatchGetTracks(ctx context.Context, externalIDs []string) (map[string]models.Attributes, error) {
	found := make(map[string]models.Attributes, len(externalIDs))

	for start := 0; start < len(externalIDs); start += spotifyMaxBatch {
		end := min(start+spotifyMaxBatch, len(externalIDs))
		chunk := externalIDs[start:end]

		query := url.Values{"ids": {strings.Join(chunk, ",")}}
		var response struct {
			Tracks []*SpotifyTrack `json:"tracks"`
		}
		if err := s.doRequest(ctx, http.MethodGet, "/tracks", query, nil, &response); err != nil {
			return nil, err
		}

		// The response preserves request order with null slots for unknown
		// ids, so position i answers chunk[i] even under relinking.
		for i, track := range response.Tracks {
			if track == nil || i >= len(chunk) {
				continue
			}
			found[chunk[i]] = models.Attributes(track.AttributeMap())
		}
	}
	return found, nil
}

// SearchByISRC finds the track registered under a recording code.
func (s *SpotifyAdapter) SearchByISRC(ctx context.Context, isrc string) (models.Attributes, error) {
	return s.searchOne(ctx, fmt.Sprintf("isrc:%q", isrc))
}

// SearchTrack finds the best candidate for an artist and title.
func (s *SpotifyAdapter) SearchTrack(ctx context.Context, artist, title string) (models.Attributes, error) {
	return s.searchOne(ctx, fmt.Sprintf("artist:%q track:%q", artist, title))
}

func (s *SpotifyAdapter) searchOne(ctx context.Context, q string) (models.Attributes, error) {
	query := url.Values{
		"q":     {q},
		"type":  {"track"},
		"limit": {"1"},
	}
	var response struct {
		Tracks struct {
			Items []SpotifyTrack `json:"items"`
		} `json:"tracks"`
	}
	if err := s.doRequest(ctx, http.MethodGet, "/search", query, nil, &response); err != nil {
		return nil, err
	}
	if len(response.Tracks.Items) == 0 {
		return nil, fmt.Errorf("%w: no result for %s", shared.ErrTrackNotFound, q)
	}
	return models.Attributes(response.Tracks.Items[0].AttributeMap()), nil
}

// BatchGetTrackInfo fetches info for tracks by their stored external id.
// The result values are [SpotifyTrack] structs.
func (s *SpotifyAdapter) BatchGetTrackInfo(ctx context.Context, tracks []*models.Track) (map[int64]any, error) {
	byExternal := make(map[string]int64, len(tracks))
	ids := make([]string, 0, len(tracks))
	for _, track := range tracks {
		externalID, ok := track.ConnectorID(s.Name())
		if !ok || externalID == "" {
			continue
		}
		byExternal[externalID] = track.ID()
		ids = append(ids, externalID)
	}
	if len(ids) == 0 {
		return map[int64]any{}, nil
	}

	found := make(map[int64]any, len(ids))
	for start := 0; start < len(ids); start += spotifyMaxBatch {
		end := min(start+spotifyMaxBatch, len(ids))
		chunk := ids[start:end]

		query := url.Values{"ids": {strings.Join(chunk, ",")}}
		var response struct {
			Tracks []*SpotifyTrack `json:"tracks"`
		}
		if err := s.doRequest(ctx, http.MethodGet, "/tracks", query, nil, &response); err != nil {
			return nil, err
		}
		for i, track := range response.Tracks {
			if track == nil || i >= len(chunk) {
				continue
			}
			if trackID, ok := byExternal[chunk[i]]; ok {
				found[trackID] = *track
			}
		}
	}
	return found, nil
}

// GetLikedTracks pages through the user's saved tracks. The cursor is the
// numeric offset; an empty next cursor means the library is exhausted.
func (s *SpotifyAdapter) GetLikedTracks(ctx context.Context, limit int, cursor string) ([]models.LikedRecord, string, error) {
	if limit <= 0 || limit > spotifyMaxBatch {
		limit = spotifyMaxBatch
	}
	offset := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("%w: bad cursor %q", shared.ErrInvalidArgument, cursor)
		}
		offset = parsed
	}

	query := url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
	var response spotifyPage[spotifySavedTrack]
	if err := s.doRequest(ctx, http.MethodGet, "/me/tracks", query, nil, &response); err != nil {
		return nil, "", err
	}

	records := make([]models.LikedRecord, 0, len(response.Items))
	for _, item := range response.Items {
		record := models.LikedRecord{
			Service:    s.Name(),
			ExternalID: item.Track.ID,
			Title:      item.Track.Name,
			Album:      item.Track.Album.Name,
			ISRC:       item.Track.ExternalIDs.ISRC,
			Raw:        models.Attributes(item.Track.AttributeMap()),
		}
		for _, artist := range item.Track.Artists {
			record.Artists = append(record.Artists, artist.Name)
		}
		duration := item.Track.DurationMS
		record.DurationMS = &duration
		if addedAt, err := time.Parse(time.RFC3339, item.AddedAt); err == nil {
			utc := addedAt.UTC()
			record.LikedAt = &utc
		}
		records = append(records, record)
	}

	next := ""
	if response.Next != nil {
		next = strconv.Itoa(offset + limit)
	}
	return records, next, nil
}

// GetRecentPlays fetches the user's recently played tracks, newest first. The
// endpoint only exposes the head of history, so there is never a further page.
func (s *SpotifyAdapter) GetRecentPlays(ctx context.Context, limit int, from *time.Time, page int) ([]models.PlayRecord, bool, error) {
	if limit <= 0 || limit > spotifyMaxBatch {
		limit = spotifyMaxBatch
	}

	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if from != nil {
		query.Set("after", strconv.FormatInt(from.UTC().UnixMilli(), 10))
	}

	var response struct {
		Items []spotifyPlayHistory `json:"items"`
	}
	if err := s.doRequest(ctx, http.MethodGet, "/me/player/recently-played", query, nil, &response); err != nil {
		return nil, false, err
	}

	records := make([]models.PlayRecord, 0, len(response.Items))
	for _, item := range response.Items {
		playedAt, err := time.Parse(time.RFC3339, item.PlayedAt)
		if err != nil {
			s.logger.Warn("skipping play with bad timestamp", "played_at", item.PlayedAt)
			continue
		}
		record := models.PlayRecord{
			Service:    s.Name(),
			ExternalID: item.Track.URI,
			Title:      item.Track.Name,
			Album:      item.Track.Album.Name,
			PlayedAt:   playedAt.UTC(),
			Raw:        models.Attributes(item.Track.AttributeMap()),
		}
		if len(item.Track.Artists) > 0 {
			record.Artist = item.Track.Artists[0].Name
		}
		if item.Context != nil {
			record.Raw["context_type"] = item.Context.Type
			record.Raw["context_uri"] = item.Context.URI
		}
		records = append(records, record)
	}
	return records, false, nil
}

// SaveTracks adds tracks to the user's library.
func (s *SpotifyAdapter) SaveTracks(ctx context.Context, externalIDs []string) error {
	for start := 0; start < len(externalIDs); start += spotifyMaxBatch {
		end := min(start+spotifyMaxBatch, len(externalIDs))
		query := url.Values{"ids": {strings.Join(externalIDs[start:end], ",")}}
		if err := s.doRequest(ctx, http.MethodPut, "/me/tracks", query, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// GetPlaylists lists the user's playlists as attribute bags.
func (s *SpotifyAdapter) GetPlaylists(ctx context.Context) ([]models.Attributes, error) {
	var playlists []models.Attributes
	offset := 0

	for {
		query := url.Values{
			"limit":  {strconv.Itoa(spotifyMaxBatch)},
			"offset": {strconv.Itoa(offset)},
		}
		var response spotifyPage[spotifyPlaylist]
		if err := s.doRequest(ctx, http.MethodGet, "/me/playlists", query, nil, &response); err != nil {
			return nil, err
		}

		for _, item := range response.Items {
			playlists = append(playlists, models.Attributes{
				"external_id": item.ID,
				"name":        item.Name,
				"description": item.Description,
				"public":      item.Public,
				"track_count": float64(item.Tracks.Total),
				"uri":         item.URI,
			})
		}

		if response.Next == nil {
			return playlists, nil
		}
		offset += spotifyMaxBatch
	}
}

// GetPlaylistTracks fetches all entries of a playlist in order.
func (s *SpotifyAdapter) GetPlaylistTracks(ctx context.Context, playlistID string) ([]models.Attributes, error) {
	var items []models.Attributes
	offset := 0

	for {
		query := url.Values{
			"limit":  {strconv.Itoa(spotifyMaxBatch)},
			"offset": {strconv.Itoa(offset)},
		}
		endpoint := fmt.Sprintf("/playlists/%s/tracks", playlistID)
		var response spotifyPage[spotifyPlaylistItem]
		if err := s.doRequest(ctx, http.MethodGet, endpoint, query, nil, &response); err != nil {
			return nil, err
		}

		for _, item := range response.Items {
			bag := models.Attributes(item.Track.AttributeMap())
			bag["added_at"] = item.AddedAt
			bag["added_by"] = item.AddedBy.ID
			items = append(items, bag)
		}

		if response.Next == nil {
			return items, nil
		}
		offset += spotifyMaxBatch
	}
}

// CreatePlaylist creates a private playlist and returns its external id.
func (s *SpotifyAdapter) CreatePlaylist(ctx context.Context, name, description string) (string, error) {
	var profile struct {
		ID string `json:"id"`
	}
	if err := s.doRequest(ctx, http.MethodGet, "/me", nil, nil, &profile); err != nil {
		return "", err
	}

	body := map[string]any{
		"name":        name,
		"description": description,
		"public":      false,
	}
	var created spotifyPlaylist
	endpoint := fmt.Sprintf("/users/%s/playlists", profile.ID)
	if err := s.doRequest(ctx, http.MethodPost, endpoint, nil, body, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// ReplacePlaylistTracks replaces a playlist's contents with the given tracks,
// in order. The replace endpoint takes at most 100 URIs; overflow is appended.
func (s *SpotifyAdapter) ReplacePlaylistTracks(ctx context.Context, playlistID string, externalIDs []string) error {
	uris := make([]string, len(externalIDs))
	for i, id := range externalIDs {
		uris[i] = "spotify:track:" + id
	}

	endpoint := fmt.Sprintf("/playlists/%s/tracks", playlistID)
	first := min(100, len(uris))
	if err := s.doRequest(ctx, http.MethodPut, endpoint, nil, map[string]any{"uris": uris[:first]}, nil); err != nil {
		return err
	}

	for start := first; start < len(uris); start += 100 {
		end := min(start+100, len(uris))
		if err := s.doRequest(ctx, http.MethodPost, endpoint, nil, map[string]any{"uris": uris[start:end]}, nil); err != nil {
			return err
		}
	}
	return nil
}
