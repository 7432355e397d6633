package models

import (
	"strings"
	"time"
)

// isrcLength is the fixed length of an International Standard Recording Code.
const isrcLength = 12

// NormalizeISRC uppercases and trims an ISRC. Returns "" for blank input.
func NormalizeISRC(isrc string) string {
	return strings.ToUpper(strings.TrimSpace(isrc))
}

// Track represents a canonical internal track. The row identity is assigned on
// first persist and immutable afterwards. Connector ids are reconstructed from
// mapping joins and carried here as an auxiliary map for workflow convenience.
type Track struct {
	id           int64
	title        string
	artists      []string
	album        string
	durationMS   *int64
	releaseDate  string
	isrc         string
	connectorIDs map[string]string
	createdAt    time.Time
	updatedAt    time.Time
	deletedAt    *time.Time
}

// NewTrack creates a Track with the required title and artist list.
func NewTrack(title string, artists []string) *Track {
	now := time.Now().UTC()
	return &Track{
		title:     title,
		artists:   artists,
		createdAt: now,
		updatedAt: now,
	}
}

func (t *Track) ID() int64            { return t.id }
func (t *Track) CreatedAt() time.Time { return t.createdAt }
func (t *Track) UpdatedAt() time.Time { return t.updatedAt }

// Validate checks the track invariants: non-empty title, at least one artist,
// and a well-formed ISRC when one is present. ISRC uniqueness is deliberately
// not an invariant: alternate uploads of one recording legitimately share it.
func (t *Track) Validate() error {
	if strings.TrimSpace(t.title) == "" {
		return ErrInvalidModel
	}
	if len(t.artists) == 0 || strings.TrimSpace(t.artists[0]) == "" {
		return ErrInvalidModel
	}
	if t.isrc != "" && (len(t.isrc) != isrcLength || t.isrc != strings.ToUpper(t.isrc)) {
		return ErrInvalidModel
	}
	return nil
}

func (t *Track) Title() string       { return t.title }
func (t *Track) Artists() []string   { return t.artists }
func (t *Track) Album() string       { return t.album }
func (t *Track) DurationMS() *int64  { return t.durationMS }
func (t *Track) ReleaseDate() string { return t.releaseDate }
func (t *Track) ISRC() string        { return t.isrc }

// FirstArtist returns the primary artist name, or "" for an invalid track.
func (t *Track) FirstArtist() string {
	if len(t.artists) == 0 {
		return ""
	}
	return t.artists[0]
}

// SetID assigns the row identity once. Later calls are ignored: the id is
// immutable after first persist.
func (t *Track) SetID(id int64) {
	if t.id == 0 {
		t.id = id
	}
}

func (t *Track) SetTitle(title string)     { t.title = title }
func (t *Track) SetArtists(a []string)     { t.artists = a }
func (t *Track) SetAlbum(album string)     { t.album = album }
func (t *Track) SetDurationMS(ms *int64)   { t.durationMS = ms }
func (t *Track) SetReleaseDate(d string)   { t.releaseDate = d }
func (t *Track) SetISRC(isrc string)       { t.isrc = NormalizeISRC(isrc) }
func (t *Track) SetCreatedAt(ts time.Time) { t.createdAt = ts }
func (t *Track) SetUpdatedAt(ts time.Time) { t.updatedAt = ts }

// DeletedAt returns when this track was soft deleted (nil if not deleted)
func (t *Track) DeletedAt() *time.Time     { return t.deletedAt }
func (t *Track) SetDeletedAt(ts *time.Time) { t.deletedAt = ts }

// ConnectorID returns the external id mapped for a service, when loaded.
func (t *Track) ConnectorID(service string) (string, bool) {
	id, ok := t.connectorIDs[service]
	return id, ok
}

// SetConnectorID records the external id for a service on the in-memory track.
// Persistence of the edge itself goes through the mapping repository.
func (t *Track) SetConnectorID(service, externalID string) {
	if t.connectorIDs == nil {
		t.connectorIDs = map[string]string{}
	}
	t.connectorIDs[service] = externalID
}

// Info flattens the track into the scorer's input shape.
func (t *Track) Info() TrackInfo {
	return TrackInfo{
		Title:      t.title,
		Artists:    t.artists,
		Album:      t.album,
		DurationMS: t.durationMS,
		ISRC:       t.isrc,
	}
}
