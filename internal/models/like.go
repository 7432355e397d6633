package models

import (
	"strings"
	"time"
)

// TrackLike is the per-service liked flag for a track, keyed by
// (track id, service). LikedAt carries the service's own timestamp when it
// reports one; LastSynced records when the engine last reconciled the flag
// with that service.
type TrackLike struct {
	id         int64
	trackID    int64
	service    string
	isLiked    bool
	likedAt    *time.Time
	lastSynced *time.Time
	createdAt  time.Time
	updatedAt  time.Time
	deletedAt  *time.Time
}

// NewTrackLike creates a like row for a (track, service) pair.
func NewTrackLike(trackID int64, service string, isLiked bool) *TrackLike {
	now := time.Now().UTC()
	return &TrackLike{
		trackID:   trackID,
		service:   service,
		isLiked:   isLiked,
		createdAt: now,
		updatedAt: now,
	}
}

func (l *TrackLike) ID() int64            { return l.id }
func (l *TrackLike) CreatedAt() time.Time { return l.createdAt }
func (l *TrackLike) UpdatedAt() time.Time { return l.updatedAt }

// Validate checks the key pair.
func (l *TrackLike) Validate() error {
	if l.trackID == 0 || strings.TrimSpace(l.service) == "" {
		return ErrInvalidModel
	}
	return nil
}

func (l *TrackLike) TrackID() int64         { return l.trackID }
func (l *TrackLike) Service() string        { return l.service }
func (l *TrackLike) IsLiked() bool          { return l.isLiked }
func (l *TrackLike) LikedAt() *time.Time    { return l.likedAt }
func (l *TrackLike) LastSynced() *time.Time { return l.lastSynced }
func (l *TrackLike) DeletedAt() *time.Time  { return l.deletedAt }

func (l *TrackLike) SetID(id int64) {
	if l.id == 0 {
		l.id = id
	}
}

func (l *TrackLike) SetIsLiked(liked bool)         { l.isLiked = liked }
func (l *TrackLike) SetLikedAt(ts *time.Time)      { l.likedAt = ts }
func (l *TrackLike) SetLastSynced(ts *time.Time)   { l.lastSynced = ts }
func (l *TrackLike) SetCreatedAt(ts time.Time)     { l.createdAt = ts }
func (l *TrackLike) SetUpdatedAt(ts time.Time)     { l.updatedAt = ts }
func (l *TrackLike) SetDeletedAt(ts *time.Time)    { l.deletedAt = ts }
