package models

import (
	"strings"
	"time"
)

// ConnectorTrack represents a per-service track record, keyed by the unique
// pair (service, external id). Created on first observation; the raw metadata
// bag and last-updated timestamp are replaced on refresh. The core never hard
// deletes connector tracks.
type ConnectorTrack struct {
	id          int64
	service     string
	externalID  string
	title       string
	artists     []string
	album       string
	durationMS  *int64
	releaseDate string
	isrc        string
	rawMetadata Attributes
	lastUpdated time.Time
	createdAt   time.Time
	updatedAt   time.Time
	deletedAt   *time.Time
}

// NewConnectorTrack creates a ConnectorTrack for a service observation.
func NewConnectorTrack(service, externalID, title string, artists []string) *ConnectorTrack {
	now := time.Now().UTC()
	return &ConnectorTrack{
		service:     service,
		externalID:  externalID,
		title:       title,
		artists:     artists,
		lastUpdated: now,
		createdAt:   now,
		updatedAt:   now,
	}
}

func (c *ConnectorTrack) ID() int64            { return c.id }
func (c *ConnectorTrack) CreatedAt() time.Time { return c.createdAt }
func (c *ConnectorTrack) UpdatedAt() time.Time { return c.updatedAt }

// Validate checks service, external id and title presence.
func (c *ConnectorTrack) Validate() error {
	if strings.TrimSpace(c.service) == "" || strings.TrimSpace(c.externalID) == "" {
		return ErrInvalidModel
	}
	if strings.TrimSpace(c.title) == "" {
		return ErrInvalidModel
	}
	return nil
}

func (c *ConnectorTrack) Service() string         { return c.service }
func (c *ConnectorTrack) ExternalID() string      { return c.externalID }
func (c *ConnectorTrack) Title() string           { return c.title }
func (c *ConnectorTrack) Artists() []string       { return c.artists }
func (c *ConnectorTrack) Album() string           { return c.album }
func (c *ConnectorTrack) DurationMS() *int64      { return c.durationMS }
func (c *ConnectorTrack) ReleaseDate() string     { return c.releaseDate }
func (c *ConnectorTrack) ISRC() string            { return c.isrc }
func (c *ConnectorTrack) RawMetadata() Attributes { return c.rawMetadata }
func (c *ConnectorTrack) LastUpdated() time.Time  { return c.lastUpdated }
func (c *ConnectorTrack) DeletedAt() *time.Time   { return c.deletedAt }

func (c *ConnectorTrack) SetID(id int64) {
	if c.id == 0 {
		c.id = id
	}
}

func (c *ConnectorTrack) SetAlbum(album string)      { c.album = album }
func (c *ConnectorTrack) SetDurationMS(ms *int64)    { c.durationMS = ms }
func (c *ConnectorTrack) SetReleaseDate(d string)    { c.releaseDate = d }
func (c *ConnectorTrack) SetISRC(isrc string)        { c.isrc = NormalizeISRC(isrc) }
func (c *ConnectorTrack) SetCreatedAt(ts time.Time)  { c.createdAt = ts }
func (c *ConnectorTrack) SetUpdatedAt(ts time.Time)  { c.updatedAt = ts }
func (c *ConnectorTrack) SetDeletedAt(ts *time.Time) { c.deletedAt = ts }

// SetRawMetadata replaces the metadata bag and stamps last-updated.
func (c *ConnectorTrack) SetRawMetadata(a Attributes, observed time.Time) {
	c.rawMetadata = a
	c.lastUpdated = observed.UTC()
}

// Info flattens the connector track into the scorer's input shape.
func (c *ConnectorTrack) Info() TrackInfo {
	return TrackInfo{
		Title:      c.title,
		Artists:    c.artists,
		Album:      c.album,
		DurationMS: c.durationMS,
		ISRC:       c.isrc,
		ExternalID: c.externalID,
	}
}
