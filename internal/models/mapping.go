package models

import "time"

// MatchEvidence is the structured audit record stored alongside a mapping.
// It captures every input to the confidence computation so that stored scores
// can be re-checked without re-running matching.
type MatchEvidence struct {
	Base             int     `json:"base"`
	TitleSimilarity  float64 `json:"title_similarity"`
	ArtistSimilarity float64 `json:"artist_similarity"`
	TitlePenalty     float64 `json:"title_penalty"`
	ArtistPenalty    float64 `json:"artist_penalty"`
	DurationPenalty  float64 `json:"duration_penalty"`
	DurationDiffMS   *int64  `json:"duration_diff_ms,omitempty"`
	Final            int     `json:"final"`
}

// TrackMapping is a persisted edge between a [Track] and a [ConnectorTrack],
// unique on (track id, connector track id). The repository additionally
// enforces at most one live mapping per (track, service) pair.
type TrackMapping struct {
	id               int64
	trackID          int64
	connectorTrackID int64
	matchMethod      string
	confidence       int
	evidence         *MatchEvidence
	createdAt        time.Time
	updatedAt        time.Time
	deletedAt        *time.Time
}

// NewTrackMapping creates a mapping edge with its confidence annotation.
func NewTrackMapping(trackID, connectorTrackID int64, method string, confidence int, evidence *MatchEvidence) *TrackMapping {
	now := time.Now().UTC()
	return &TrackMapping{
		trackID:          trackID,
		connectorTrackID: connectorTrackID,
		matchMethod:      method,
		confidence:       confidence,
		evidence:         evidence,
		createdAt:        now,
		updatedAt:        now,
	}
}

func (m *TrackMapping) ID() int64            { return m.id }
func (m *TrackMapping) CreatedAt() time.Time { return m.createdAt }
func (m *TrackMapping) UpdatedAt() time.Time { return m.updatedAt }

// Validate checks referenced ids, a known method and the confidence range.
func (m *TrackMapping) Validate() error {
	if m.trackID == 0 || m.connectorTrackID == 0 {
		return ErrInvalidModel
	}
	switch m.matchMethod {
	case MethodISRC, MethodMBID, MethodArtistTitle, MethodDirect, MethodExistingMapping, MethodCrossServiceTimeMatch:
	default:
		return ErrInvalidModel
	}
	if m.confidence < 0 || m.confidence > 100 {
		return ErrInvalidModel
	}
	return nil
}

func (m *TrackMapping) TrackID() int64           { return m.trackID }
func (m *TrackMapping) ConnectorTrackID() int64  { return m.connectorTrackID }
func (m *TrackMapping) MatchMethod() string      { return m.matchMethod }
func (m *TrackMapping) Confidence() int          { return m.confidence }
func (m *TrackMapping) Evidence() *MatchEvidence { return m.evidence }
func (m *TrackMapping) DeletedAt() *time.Time    { return m.deletedAt }

func (m *TrackMapping) SetID(id int64) {
	if m.id == 0 {
		m.id = id
	}
}

func (m *TrackMapping) SetConnectorTrackID(id int64)     { m.connectorTrackID = id }
func (m *TrackMapping) SetMatchMethod(method string)     { m.matchMethod = method }
func (m *TrackMapping) SetConfidence(c int)              { m.confidence = c }
func (m *TrackMapping) SetEvidence(e *MatchEvidence)     { m.evidence = e }
func (m *TrackMapping) SetCreatedAt(ts time.Time)        { m.createdAt = ts }
func (m *TrackMapping) SetUpdatedAt(ts time.Time)        { m.updatedAt = ts }
func (m *TrackMapping) SetDeletedAt(ts *time.Time)       { m.deletedAt = ts }
