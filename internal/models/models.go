package models

import (
	"fmt"
	"time"
)

// Model defines the base interface for all persistent models in the engine.
// Implementations include Track, ConnectorTrack, TrackMapping, Play, etc.
type Model interface {
	ID() int64            // ID returns the row identifier, zero until first persist
	CreatedAt() time.Time // CreatedAt returns when this model was created
	UpdatedAt() time.Time // UpdatedAt returns when this model was last updated
	Validate() error      // Validate checks if the model's data is valid and returns an error if not
}

// ErrInvalidModel is returned by Validate when a model's data is incomplete or inconsistent.
var ErrInvalidModel = fmt.Errorf("invalid model data")

// Service names used throughout the engine. Adapters register under these.
const (
	ServiceSpotify  = "spotify"
	ServiceLastfm   = "lastfm"
	ServiceInternal = "internal"
)

// ReservedServiceNames can never carry connector ids: they denote the engine's
// own storage rather than an external service.
var ReservedServiceNames = []string{"internal database", "this system"}

// Match methods recorded on a [TrackMapping] and in [MatchResult].
const (
	MethodISRC                  = "isrc"
	MethodMBID                  = "mbid"
	MethodArtistTitle           = "artist_title"
	MethodDirect                = "direct"
	MethodExistingMapping       = "existing_mapping"
	MethodCrossServiceTimeMatch = "cross_service_time_match"
	MethodDirectID              = "direct_id"
	MethodRelinkedID            = "relinked_id"
	MethodSearchMatch           = "search_match"
	MethodPreservedMetadata     = "preserved_metadata"
)

// Checkpoint entity types.
const (
	EntityPlays = "plays"
	EntityLikes = "likes"
)
