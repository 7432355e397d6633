package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Context keys preserved on every play regardless of resolution outcome.
const (
	ContextTitle  = "title"
	ContextArtist = "artist"
	ContextAlbum  = "album"
)

// Play is a single listening event. TrackID is nil when resolution could not
// map the event to an internal track; the original title, artist and album are
// always preserved in the context bag so the row stays recoverable.
type Play struct {
	id              int64
	trackID         *int64
	service         string
	playedAt        time.Time
	msPlayed        *int64
	context         Attributes
	importTimestamp time.Time
	importSource    string
	importBatchID   string
	createdAt       time.Time
	updatedAt       time.Time
	deletedAt       *time.Time
}

// NewPlay creates a play for a service at a UTC timestamp.
func NewPlay(service string, playedAt time.Time) *Play {
	now := time.Now().UTC()
	return &Play{
		service:         service,
		playedAt:        playedAt.UTC(),
		context:         Attributes{},
		importTimestamp: now,
		createdAt:       now,
		updatedAt:       now,
	}
}

func (p *Play) ID() int64            { return p.id }
func (p *Play) CreatedAt() time.Time { return p.createdAt }
func (p *Play) UpdatedAt() time.Time { return p.updatedAt }

// Validate checks service, timestamp and import bookkeeping.
func (p *Play) Validate() error {
	if strings.TrimSpace(p.service) == "" || p.playedAt.IsZero() {
		return ErrInvalidModel
	}
	if p.importSource == "" || p.importBatchID == "" {
		return ErrInvalidModel
	}
	return nil
}

func (p *Play) TrackID() *int64            { return p.trackID }
func (p *Play) Service() string            { return p.service }
func (p *Play) PlayedAt() time.Time        { return p.playedAt }
func (p *Play) MSPlayed() *int64           { return p.msPlayed }
func (p *Play) Context() Attributes        { return p.context }
func (p *Play) ImportTimestamp() time.Time { return p.importTimestamp }
func (p *Play) ImportSource() string       { return p.importSource }
func (p *Play) ImportBatchID() string      { return p.importBatchID }
func (p *Play) DeletedAt() *time.Time      { return p.deletedAt }

func (p *Play) SetID(id int64) {
	if p.id == 0 {
		p.id = id
	}
}

func (p *Play) SetTrackID(id *int64)               { p.trackID = id }
func (p *Play) SetMSPlayed(ms *int64)              { p.msPlayed = ms }
func (p *Play) SetContext(a Attributes)            { p.context = a }
func (p *Play) SetImportTimestamp(ts time.Time)    { p.importTimestamp = ts.UTC() }
func (p *Play) SetImportSource(source string)      { p.importSource = source }
func (p *Play) SetImportBatchID(batchID string)    { p.importBatchID = batchID }
func (p *Play) SetCreatedAt(ts time.Time)          { p.createdAt = ts }
func (p *Play) SetUpdatedAt(ts time.Time)          { p.updatedAt = ts }
func (p *Play) SetDeletedAt(ts *time.Time)         { p.deletedAt = ts }

// DedupKey derives the value-based deduplication key
// (service, played at, ms played, track identity). Resolved plays use the
// internal track id as identity; unresolved plays fall back to a fingerprint
// over the preserved original metadata so re-imports of the same export stay
// idempotent.
func (p *Play) DedupKey() string {
	ms := "-"
	if p.msPlayed != nil {
		ms = fmt.Sprintf("%d", *p.msPlayed)
	}
	identity := ""
	if p.trackID != nil {
		identity = fmt.Sprintf("track:%d", *p.trackID)
	} else {
		identity = "fp:" + PlayFingerprint(p.service, p.context.String(ContextTitle), p.context.String(ContextArtist), p.context.String(ContextAlbum))
	}
	return fmt.Sprintf("%s|%d|%s|%s", p.service, p.playedAt.UTC().Unix(), ms, identity)
}

// PlayFingerprint is a stable hash over lowercased (service, title, artist,
// album), used as the track identity for plays without a resolved track id.
func PlayFingerprint(service, title, artist, album string) string {
	key := strings.ToLower(strings.Join([]string{service, title, artist, album}, "|"))
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}
