// package testing contains shared test doubles for the adapter capability
// protocol and small I/O fakes used across packages.
package testing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/shared"
)

// MockAdapter is a configurable test double for the service capability
// protocol. Each capability delegates to the matching function field; unset
// fields report [shared.ErrCapability] so tests only wire what they exercise.
type MockAdapter struct {
	ServiceName string

	BatchGetTracksFn    func(ctx context.Context, externalIDs []string) (map[string]models.Attributes, error)
	SearchByISRCFn      func(ctx context.Context, isrc string) (models.Attributes, error)
	SearchTrackFn       func(ctx context.Context, artist, title string) (models.Attributes, error)
	BatchGetTrackInfoFn func(ctx context.Context, tracks []*models.Track) (map[int64]any, error)
	GetLikedTracksFn    func(ctx context.Context, limit int, cursor string) ([]models.LikedRecord, string, error)
	GetRecentPlaysFn    func(ctx context.Context, limit int, from *time.Time, page int) ([]models.PlayRecord, bool, error)
	LoveTrackFn         func(ctx context.Context, artist, title string) (bool, error)
	CreatePlaylistFn    func(ctx context.Context, name, description string) (string, error)
	ReplaceTracksFn     func(ctx context.Context, playlistID string, externalIDs []string) error
}

func (m *MockAdapter) Name() string {
	if m.ServiceName == "" {
		return "mock"
	}
	return m.ServiceName
}

func (m *MockAdapter) BatchGetTracks(ctx context.Context, externalIDs []string) (map[string]models.Attributes, error) {
	if m.BatchGetTracksFn == nil {
		return nil, shared.ErrCapability
	}
	return m.BatchGetTracksFn(ctx, externalIDs)
}

func (m *MockAdapter) SearchByISRC(ctx context.Context, isrc string) (models.Attributes, error) {
	if m.SearchByISRCFn == nil {
		return nil, shared.ErrCapability
	}
	return m.SearchByISRCFn(ctx, isrc)
}

func (m *MockAdapter) SearchTrack(ctx context.Context, artist, title string) (models.Attributes, error) {
	if m.SearchTrackFn == nil {
		return nil, shared.ErrCapability
	}
	return m.SearchTrackFn(ctx, artist, title)
}

func (m *MockAdapter) BatchGetTrackInfo(ctx context.Context, tracks []*models.Track) (map[int64]any, error) {
	if m.BatchGetTrackInfoFn == nil {
		return nil, shared.ErrCapability
	}
	return m.BatchGetTrackInfoFn(ctx, tracks)
}

func (m *MockAdapter) GetLikedTracks(ctx context.Context, limit int, cursor string) ([]models.LikedRecord, string, error) {
	if m.GetLikedTracksFn == nil {
		return nil, "", shared.ErrCapability
	}
	return m.GetLikedTracksFn(ctx, limit, cursor)
}

func (m *MockAdapter) GetRecentPlays(ctx context.Context, limit int, from *time.Time, page int) ([]models.PlayRecord, bool, error) {
	if m.GetRecentPlaysFn == nil {
		return nil, false, shared.ErrCapability
	}
	return m.GetRecentPlaysFn(ctx, limit, from, page)
}

func (m *MockAdapter) LoveTrack(ctx context.Context, artist, title string) (bool, error) {
	if m.LoveTrackFn == nil {
		return false, shared.ErrCapability
	}
	return m.LoveTrackFn(ctx, artist, title)
}

func (m *MockAdapter) CreatePlaylist(ctx context.Context, name, description string) (string, error) {
	if m.CreatePlaylistFn == nil {
		return "", shared.ErrCapability
	}
	return m.CreatePlaylistFn(ctx, name, description)
}

func (m *MockAdapter) ReplacePlaylistTracks(ctx context.Context, playlistID string, externalIDs []string) error {
	if m.ReplaceTracksFn == nil {
		return shared.ErrCapability
	}
	return m.ReplaceTracksFn(ctx, playlistID, externalIDs)
}

// FWriter always returns an error on Write.
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes.
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing.
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
