package models

import (
	"fmt"
	"strings"
	"time"
)

// Playlist is an internal playlist: a name, an ordered list of canonical track
// ids, and the per-service connector playlist ids it has been published to.
type Playlist struct {
	id           int64
	name         string
	description  string
	trackIDs     []int64
	connectorIDs map[string]string
	createdAt    time.Time
	updatedAt    time.Time
	deletedAt    *time.Time
}

// NewPlaylist creates a named playlist.
func NewPlaylist(name, description string) *Playlist {
	now := time.Now().UTC()
	return &Playlist{
		name:        name,
		description: description,
		createdAt:   now,
		updatedAt:   now,
	}
}

func (p *Playlist) ID() int64            { return p.id }
func (p *Playlist) CreatedAt() time.Time { return p.createdAt }
func (p *Playlist) UpdatedAt() time.Time { return p.updatedAt }

// Validate checks the name and rejects connector ids under reserved service names.
func (p *Playlist) Validate() error {
	if strings.TrimSpace(p.name) == "" {
		return ErrInvalidModel
	}
	for _, reserved := range ReservedServiceNames {
		if _, ok := p.connectorIDs[reserved]; ok {
			return ErrInvalidModel
		}
	}
	return nil
}

func (p *Playlist) Name() string        { return p.name }
func (p *Playlist) Description() string { return p.description }
func (p *Playlist) TrackIDs() []int64   { return p.trackIDs }
func (p *Playlist) DeletedAt() *time.Time { return p.deletedAt }

// ConnectorID returns the external playlist id for a service, when present.
func (p *Playlist) ConnectorID(service string) (string, bool) {
	id, ok := p.connectorIDs[service]
	return id, ok
}

// ConnectorIDs returns the full service to external id map.
func (p *Playlist) ConnectorIDs() map[string]string { return p.connectorIDs }

func (p *Playlist) SetID(id int64) {
	if p.id == 0 {
		p.id = id
	}
}

func (p *Playlist) SetName(name string)           { p.name = name }
func (p *Playlist) SetDescription(d string)       { p.description = d }
func (p *Playlist) SetTrackIDs(ids []int64)       { p.trackIDs = ids }
func (p *Playlist) SetCreatedAt(ts time.Time)     { p.createdAt = ts }
func (p *Playlist) SetUpdatedAt(ts time.Time)     { p.updatedAt = ts }
func (p *Playlist) SetDeletedAt(ts *time.Time)    { p.deletedAt = ts }

// SetConnectorID records the external playlist id for a service. Reserved
// names denote the engine's own storage and are rejected.
func (p *Playlist) SetConnectorID(service, externalID string) error {
	for _, reserved := range ReservedServiceNames {
		if service == reserved {
			return fmt.Errorf("%w: reserved service name %q", ErrInvalidModel, service)
		}
	}
	if p.connectorIDs == nil {
		p.connectorIDs = map[string]string{}
	}
	p.connectorIDs[service] = externalID
	return nil
}

// ConnectorPlaylistItem is a row snapshot of one entry in a connector
// playlist, ordered by position.
type ConnectorPlaylistItem struct {
	ConnectorPlaylistID int64
	ConnectorTrackID    int64
	Position            int
	AddedAt             *time.Time
	AddedBy             string
}

// User is an account owning sync checkpoints.
type User struct {
	id        int64
	username  string
	createdAt time.Time
	updatedAt time.Time
	deletedAt *time.Time
}

// NewUser creates a user account.
func NewUser(username string) *User {
	now := time.Now().UTC()
	return &User{username: username, createdAt: now, updatedAt: now}
}

func (u *User) ID() int64            { return u.id }
func (u *User) CreatedAt() time.Time { return u.createdAt }
func (u *User) UpdatedAt() time.Time { return u.updatedAt }

// Validate checks the username.
func (u *User) Validate() error {
	if strings.TrimSpace(u.username) == "" {
		return ErrInvalidModel
	}
	return nil
}

func (u *User) Username() string       { return u.username }
func (u *User) DeletedAt() *time.Time  { return u.deletedAt }

func (u *User) SetID(id int64) {
	if u.id == 0 {
		u.id = id
	}
}

func (u *User) SetCreatedAt(ts time.Time)  { u.createdAt = ts }
func (u *User) SetUpdatedAt(ts time.Time)  { u.updatedAt = ts }
func (u *User) SetDeletedAt(ts *time.Time) { u.deletedAt = ts }
