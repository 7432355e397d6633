// Last.fm implementation of the adapter capability protocol.
//
// Response types follow https://www.last.fm/api. Read calls are api-key
// authenticated; write calls carry an md5-signed session.
package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/shared"
)

const lastfmBaseURL = "https://ws.audioscrobbler.com/2.0/"

type lastfmText struct {
	Text string `json:"#text"`
	MBID string `json:"mbid"`
}

type lastfmDate struct {
	UTS  string `json:"uts"`
	Text string `json:"#text"`
}

type lastfmRecentTrack struct {
	Name   string     `json:"name"`
	MBID   string     `json:"mbid"`
	URL    string     `json:"url"`
	Artist lastfmText `json:"artist"`
	Album  lastfmText `json:"album"`
	Date   *lastfmDate `json:"date"`
	Attr   *struct {
		NowPlaying string `json:"nowplaying"`
	} `json:"@attr"`
}

type lastfmPageAttr struct {
	Page       string `json:"page"`
	TotalPages string `json:"totalPages"`
	Total      string `json:"total"`
}

type lastfmLovedTrack struct {
	Name   string     `json:"name"`
	MBID   string     `json:"mbid"`
	URL    string     `json:"url"`
	Artist lastfmText `json:"artist"`
	Date   *lastfmDate `json:"date"`
}

// LastfmAdapter talks to the Last.fm API. It implements [TrackSearcher],
// [TrackInfoBatchGetter], [LikedTracksPager], [RecentPlaysPager] and
// [TrackLover]. There is no ISRC search; that capability is absent by design.
type LastfmAdapter struct {
	apiKey     string
	apiSecret  string
	sessionKey string
	username   string
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *log.Logger
}

// NewLastfmAdapter creates a Last.fm adapter and registers its metrics. All
// calls are paced at one request per 200ms per the API's client guidelines.
func NewLastfmAdapter(cfg shared.LastfmConfig, metrics MetricRegistrar, logger *log.Logger) (*LastfmAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: lastfm api_key is required", shared.ErrMissingCredentials)
	}

	if metrics != nil {
		metrics.Register("user_playcount", time.Hour, models.ServiceLastfm, "userplaycount")
		metrics.Register("global_playcount", 24*time.Hour, models.ServiceLastfm, "playcount")
		metrics.Register("listeners", 24*time.Hour, models.ServiceLastfm, "listeners")
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	return &LastfmAdapter{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		sessionKey: cfg.SessionKey,
		username:   cfg.Username,
		httpClient: http.DefaultClient,
		baseURL:    lastfmBaseURL,
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		logger:     logger,
	}, nil
}

func (l *LastfmAdapter) Name() string { return models.ServiceLastfm }

// Username returns the account the adapter reads history for.
func (l *LastfmAdapter) Username() string { return l.username }

// call performs a GET API method call with api_key and json format applied.
func (l *LastfmAdapter) call(ctx context.Context, method string, params url.Values, result any) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("method", method)
	params.Set("api_key", l.apiKey)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return wrapStatus(l.Name(), resp.StatusCode, readBody(resp.Body))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// signedCall performs a session-authenticated POST with an api_sig computed
// per the API's signing rules: params sorted by key, concatenated key+value,
// secret appended, md5 hex.
func (l *LastfmAdapter) signedCall(ctx context.Context, method string, params url.Values, result any) error {
	if l.sessionKey == "" || l.apiSecret == "" {
		return fmt.Errorf("%w: lastfm session_key and api_secret required for %s", shared.ErrNotAuthenticated, method)
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("method", method)
	params.Set("api_key", l.apiKey)
	params.Set("sk", l.sessionKey)
	params.Set("api_sig", l.sign(params))
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return wrapStatus(l.Name(), resp.StatusCode, readBody(resp.Body))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// sign computes the api_sig for a parameter set. The format and callback
// parameters are excluded from the signature by the API's rules.
func (l *LastfmAdapter) sign(params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		if key == "format" || key == "callback" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		sb.WriteString(key)
		sb.WriteString(params.Get(key))
	}
	sb.WriteString(l.apiSecret)

	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// GetRecentPlays fetches one page of the user's listening history. Rows
// flagged nowplaying have no timestamp and are skipped. The boolean reports
// whether later pages remain.
func (l *LastfmAdapter) GetRecentPlays(ctx context.Context, limit int, from *time.Time, page int) ([]models.PlayRecord, bool, error) {
	if l.username == "" {
		return nil, false, fmt.Errorf("%w: lastfm username is required", shared.ErrMissingCredentials)
	}
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	if page <= 0 {
		page = 1
	}

	params := url.Values{
		"user":  {l.username},
		"limit": {strconv.Itoa(limit)},
		"page":  {strconv.Itoa(page)},
	}
	if from != nil {
		params.Set("from", strconv.FormatInt(from.UTC().Unix(), 10))
	}

	var response struct {
		RecentTracks struct {
			Track []lastfmRecentTrack `json:"track"`
			Attr  lastfmPageAttr      `json:"@attr"`
		} `json:"recenttracks"`
	}
	if err := l.call(ctx, "user.getrecenttracks", params, &response); err != nil {
		return nil, false, err
	}

	records := make([]models.PlayRecord, 0, len(response.RecentTracks.Track))
	for _, item := range response.RecentTracks.Track {
		if item.Attr != nil && item.Attr.NowPlaying == "true" {
			continue
		}
		if item.Date == nil {
			continue
		}
		uts, err := strconv.ParseInt(item.Date.UTS, 10, 64)
		if err != nil {
			l.logger.Warn("skipping play with bad timestamp", "uts", item.Date.UTS)
			continue
		}
		records = append(records, models.PlayRecord{
			Service:  l.Name(),
			Title:    item.Name,
			Artist:   item.Artist.Text,
			Album:    item.Album.Text,
			MBID:     item.MBID,
			PlayedAt: time.Unix(uts, 0).UTC(),
			Raw: models.Attributes{
				"url":         item.URL,
				"artist_mbid": item.Artist.MBID,
				"album_mbid":  item.Album.MBID,
			},
		})
	}

	currentPage, _ := strconv.Atoi(response.RecentTracks.Attr.Page)
	totalPages, _ := strconv.Atoi(response.RecentTracks.Attr.TotalPages)
	return records, currentPage < totalPages, nil
}

// SearchTrack finds the best candidate for an artist and title.
func (l *LastfmAdapter) SearchTrack(ctx context.Context, artist, title string) (models.Attributes, error) {
	params := url.Values{
		"track":  {title},
		"artist": {artist},
		"limit":  {"1"},
	}

	var response struct {
		Results struct {
			TrackMatches struct {
				Track []struct {
					Name      string `json:"name"`
					Artist    string `json:"artist"`
					MBID      string `json:"mbid"`
					URL       string `json:"url"`
					Listeners string `json:"listeners"`
				} `json:"track"`
			} `json:"trackmatches"`
		} `json:"results"`
	}
	if err := l.call(ctx, "track.search", params, &response); err != nil {
		return nil, err
	}

	matches := response.Results.TrackMatches.Track
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no result for %s - %s", shared.ErrTrackNotFound, artist, title)
	}

	best := matches[0]
	listeners, _ := strconv.ParseFloat(best.Listeners, 64)
	return models.Attributes{
		"external_id": best.URL,
		"title":       best.Name,
		"artists":     []string{best.Artist},
		"mbid":        best.MBID,
		"listeners":   listeners,
	}, nil
}

// BatchGetTrackInfo fetches track.getInfo per track, carrying the configured
// username so userplaycount and userloved are present. Result values are
// plain attribute maps.
func (l *LastfmAdapter) BatchGetTrackInfo(ctx context.Context, tracks []*models.Track) (map[int64]any, error) {
	found := make(map[int64]any, len(tracks))

	for _, track := range tracks {
		info, err := l.trackInfo(ctx, track.FirstArtist(), track.Title())
		if err != nil {
			l.logger.Warn("track info lookup failed", "track", track.Title(), "err", err)
			continue
		}
		found[track.ID()] = info
	}
	return found, nil
}

func (l *LastfmAdapter) trackInfo(ctx context.Context, artist, title string) (map[string]any, error) {
	params := url.Values{
		"artist":      {artist},
		"track":       {title},
		"autocorrect": {"1"},
	}
	if l.username != "" {
		params.Set("username", l.username)
	}

	var response struct {
		Track struct {
			Name      string `json:"name"`
			MBID      string `json:"mbid"`
			URL       string `json:"url"`
			Duration  string `json:"duration"`
			Listeners string `json:"listeners"`
			Playcount string `json:"playcount"`
			Artist    struct {
				Name string `json:"name"`
				MBID string `json:"mbid"`
			} `json:"artist"`
			UserPlaycount string `json:"userplaycount"`
			UserLoved     string `json:"userloved"`
		} `json:"track"`
	}
	if err := l.call(ctx, "track.getInfo", params, &response); err != nil {
		return nil, err
	}
	if response.Track.Name == "" {
		return nil, fmt.Errorf("%w: %s - %s", shared.ErrTrackNotFound, artist, title)
	}

	t := response.Track
	info := map[string]any{
		"title":       t.Name,
		"artists":     []string{t.Artist.Name},
		"mbid":        t.MBID,
		"artist_mbid": t.Artist.MBID,
		"url":         t.URL,
	}
	if v, err := strconv.ParseFloat(t.Listeners, 64); err == nil {
		info["listeners"] = v
	}
	if v, err := strconv.ParseFloat(t.Playcount, 64); err == nil {
		info["playcount"] = v
	}
	if v, err := strconv.ParseFloat(t.UserPlaycount, 64); err == nil {
		info["userplaycount"] = v
	}
	if v, err := strconv.ParseInt(t.Duration, 10, 64); err == nil && v > 0 {
		info["duration_ms"] = v
	}
	info["userloved"] = t.UserLoved == "1"
	return info, nil
}

// GetLikedTracks pages through the user's loved tracks. The cursor is the
// 1-based page number; an empty next cursor means the feed is exhausted.
func (l *LastfmAdapter) GetLikedTracks(ctx context.Context, limit int, cursor string) ([]models.LikedRecord, string, error) {
	if l.username == "" {
		return nil, "", fmt.Errorf("%w: lastfm username is required", shared.ErrMissingCredentials)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	page := 1
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("%w: bad cursor %q", shared.ErrInvalidArgument, cursor)
		}
		page = parsed
	}

	params := url.Values{
		"user":  {l.username},
		"limit": {strconv.Itoa(limit)},
		"page":  {strconv.Itoa(page)},
	}

	var response struct {
		LovedTracks struct {
			Track []lastfmLovedTrack `json:"track"`
			Attr  lastfmPageAttr     `json:"@attr"`
		} `json:"lovedtracks"`
	}
	if err := l.call(ctx, "user.getlovedtracks", params, &response); err != nil {
		return nil, "", err
	}

	records := make([]models.LikedRecord, 0, len(response.LovedTracks.Track))
	for _, item := range response.LovedTracks.Track {
		record := models.LikedRecord{
			Service:    l.Name(),
			ExternalID: item.URL,
			Title:      item.Name,
			Artists:    []string{item.Artist.Text},
			MBID:       item.MBID,
			Raw: models.Attributes{
				"url":         item.URL,
				"artist_mbid": item.Artist.MBID,
			},
		}
		if item.Date != nil {
			if uts, err := strconv.ParseInt(item.Date.UTS, 10, 64); err == nil {
				lovedAt := time.Unix(uts, 0).UTC()
				record.LikedAt = &lovedAt
			}
		}
		records = append(records, record)
	}

	currentPage, _ := strconv.Atoi(response.LovedTracks.Attr.Page)
	totalPages, _ := strconv.Atoi(response.LovedTracks.Attr.TotalPages)
	next := ""
	if currentPage < totalPages {
		next = strconv.Itoa(currentPage + 1)
	}
	return records, next, nil
}

// LoveTrack marks a track loved on the account via a signed call.
func (l *LastfmAdapter) LoveTrack(ctx context.Context, artist, title string) (bool, error) {
	params := url.Values{
		"artist": {artist},
		"track":  {title},
	}

	var response struct {
		Error   int    `json:"error"`
		Message string `json:"message"`
	}
	if err := l.signedCall(ctx, "track.love", params, &response); err != nil {
		return false, err
	}
	if response.Error != 0 {
		return false, fmt.Errorf("%w: track.love error %d: %s", shared.ErrAPIRequest, response.Error, response.Message)
	}
	return true, nil
}
