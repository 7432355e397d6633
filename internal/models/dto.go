package models

import (
	"fmt"
	"time"
)

// TrackInfo is the flattened track description consumed by the confidence
// scorer. Either side of a comparison, internal or external, is expressed in
// this shape.
type TrackInfo struct {
	Title       string
	Artists     []string
	Album       string
	DurationMS  *int64
	ReleaseDate string
	ISRC        string
	MBID        string
	ExternalID  string
	Popularity  float64 // candidate's own popularity or playcount, for tie-breaks
}

// FirstArtist returns the primary artist name, or "".
func (t TrackInfo) FirstArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0]
}

// MatchResult is the outcome of resolving one internal track against a
// service: the chosen external id with its confidence annotation.
type MatchResult struct {
	Track       *Track
	ConnectorID string
	Confidence  int
	Method      string
	Evidence    *MatchEvidence
	Candidate   TrackInfo // the external description the score was computed from
}

// PlayRecord is a raw listening event as fetched from a service, before
// resolution. Raw preserves the service-specific behavioral flags verbatim.
type PlayRecord struct {
	Service    string
	ExternalID string // track id or URI when the service reports one
	Title      string
	Artist     string
	Album      string
	MBID       string
	PlayedAt   time.Time
	MSPlayed   *int64
	Raw        Attributes
}

// LikedRecord is a raw liked/loved track as fetched from a service.
type LikedRecord struct {
	Service    string
	ExternalID string
	Title      string
	Artists    []string
	Album      string
	DurationMS *int64
	ISRC       string
	MBID       string
	LikedAt    *time.Time
	Raw        Attributes
}

// Info flattens the liked record into the scorer's input shape.
func (r LikedRecord) Info() TrackInfo {
	return TrackInfo{
		Title:      r.Title,
		Artists:    r.Artists,
		Album:      r.Album,
		DurationMS: r.DurationMS,
		ISRC:       r.ISRC,
		MBID:       r.MBID,
		ExternalID: r.ExternalID,
	}
}

// PlayResolution is the uniform per-record outcome of the play resolver.
// Every input record yields exactly one resolution; unresolved records carry a
// nil TrackID and their original metadata.
type PlayResolution struct {
	URI        string
	TrackID    *int64
	Method     string
	Confidence int
	Evidence   *MatchEvidence
	Metadata   Attributes
}

// ResolutionStats aggregates play resolver outcomes for one batch.
type ResolutionStats struct {
	DirectID          int `json:"direct_id"`
	RelinkedID        int `json:"relinked_id"`
	SearchMatch       int `json:"search_match"`
	PreservedMetadata int `json:"preserved_metadata"`
	TotalWithTrackID  int `json:"total_with_track_id"`
}

// Total returns the number of records the stats cover.
func (s ResolutionStats) Total() int {
	return s.DirectID + s.RelinkedID + s.SearchMatch + s.PreservedMetadata
}

// RatePercent is the share of records that ended up with a track id.
func (s ResolutionStats) RatePercent() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.TotalWithTrackID) / float64(total) * 100
}

// OperationResult is the uniform result every use-case returns. Components
// never raise past the use-case boundary; failures surface here as an
// error-shaped result with Success false.
type OperationResult struct {
	Operation  string     `json:"operation"`
	Service    string     `json:"service"`
	Strategy   string     `json:"strategy,omitempty"`
	BatchID    string     `json:"batch_id"`
	Success    bool       `json:"success"`
	Cancelled  bool       `json:"cancelled,omitempty"`
	Processed  int        `json:"processed"`
	Imported   int        `json:"imported"`
	Exported   int        `json:"exported"`
	Skipped    int        `json:"skipped"`
	Errors     []string   `json:"errors,omitempty"`
	Details    Attributes `json:"details,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// NewOperationResult starts a result for an operation, stamped now.
func NewOperationResult(operation, service, strategy, batchID string) *OperationResult {
	return &OperationResult{
		Operation: operation,
		Service:   service,
		Strategy:  strategy,
		BatchID:   batchID,
		Success:   true,
		Details:   Attributes{},
		StartedAt: time.Now().UTC(),
	}
}

// AddError records a formatted error message. Results with errors can still be
// successful overall (per-item failures); use Fail for fatal ones.
func (r *OperationResult) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Fail marks the result as a failure and records the error.
func (r *OperationResult) Fail(err error) *OperationResult {
	r.Success = false
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
	return r.Finish()
}

// Finish stamps the finish time and returns the result for chaining.
func (r *OperationResult) Finish() *OperationResult {
	r.FinishedAt = time.Now().UTC()
	return r
}

// ErrorCount returns the number of recorded error messages.
func (r *OperationResult) ErrorCount() int { return len(r.Errors) }
