package models

import (
	"strings"
	"time"
)

// SyncCheckpoint is a durable cursor marking progress through a service's
// incremental feed, keyed by (user, service, entity type). Advances are
// monotonic: writes carrying an older timestamp are a no-op. Resetting for a
// full-history import goes through the repository's explicit Reset.
type SyncCheckpoint struct {
	id            int64
	userID        int64
	service       string
	entityType    string
	lastTimestamp *time.Time
	cursor        string
	createdAt     time.Time
	updatedAt     time.Time
	deletedAt     *time.Time
}

// NewSyncCheckpoint creates an empty checkpoint for a feed.
func NewSyncCheckpoint(userID int64, service, entityType string) *SyncCheckpoint {
	now := time.Now().UTC()
	return &SyncCheckpoint{
		userID:     userID,
		service:    service,
		entityType: entityType,
		createdAt:  now,
		updatedAt:  now,
	}
}

func (c *SyncCheckpoint) ID() int64            { return c.id }
func (c *SyncCheckpoint) CreatedAt() time.Time { return c.createdAt }
func (c *SyncCheckpoint) UpdatedAt() time.Time { return c.updatedAt }

// Validate checks the key triple and that the entity type is known.
func (c *SyncCheckpoint) Validate() error {
	if c.userID == 0 || strings.TrimSpace(c.service) == "" {
		return ErrInvalidModel
	}
	if c.entityType != EntityPlays && c.entityType != EntityLikes {
		return ErrInvalidModel
	}
	return nil
}

func (c *SyncCheckpoint) UserID() int64             { return c.userID }
func (c *SyncCheckpoint) Service() string           { return c.service }
func (c *SyncCheckpoint) EntityType() string        { return c.entityType }
func (c *SyncCheckpoint) LastTimestamp() *time.Time { return c.lastTimestamp }
func (c *SyncCheckpoint) Cursor() string            { return c.cursor }
func (c *SyncCheckpoint) DeletedAt() *time.Time     { return c.deletedAt }

func (c *SyncCheckpoint) SetID(id int64) {
	if c.id == 0 {
		c.id = id
	}
}

func (c *SyncCheckpoint) SetCursor(cursor string)            { c.cursor = cursor }
func (c *SyncCheckpoint) SetLastTimestamp(ts *time.Time)     { c.lastTimestamp = ts }
func (c *SyncCheckpoint) SetCreatedAt(ts time.Time)          { c.createdAt = ts }
func (c *SyncCheckpoint) SetUpdatedAt(ts time.Time)          { c.updatedAt = ts }
func (c *SyncCheckpoint) SetDeletedAt(ts *time.Time)         { c.deletedAt = ts }

// Advance moves the timestamp forward. Older or equal timestamps are ignored,
// keeping checkpoint progress monotonic. Reports whether the value changed.
func (c *SyncCheckpoint) Advance(ts time.Time) bool {
	ts = ts.UTC()
	if c.lastTimestamp != nil && !ts.After(*c.lastTimestamp) {
		return false
	}
	c.lastTimestamp = &ts
	return true
}
