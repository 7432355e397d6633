// package formatter renders plays, playlists and operation results as CSV,
// plain text and JSON for exports and terminal output.
package formatter

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"encoding/csv"

	"github.com/charmbracelet/lipgloss"

	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/shared"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
)

// PlaysToCSV renders plays with columns: PlayedAt, Service, Title, Artist,
// Album, MsPlayed, TrackID, ImportSource. Unresolved plays have an empty
// TrackID column; their title/artist/album come from the preserved context.
func PlaysToCSV(plays []*models.Play) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"PlayedAt", "Service", "Title", "Artist", "Album", "MsPlayed", "TrackID", "ImportSource"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, play := range plays {
		bag := play.Context()
		ms := ""
		if v := play.MSPlayed(); v != nil {
			ms = strconv.FormatInt(*v, 10)
		}
		trackID := ""
		if v := play.TrackID(); v != nil {
			trackID = strconv.FormatInt(*v, 10)
		}
		record := []string{
			play.PlayedAt().UTC().Format(time.RFC3339),
			play.Service(),
			bag.String(models.ContextTitle),
			bag.String(models.ContextArtist),
			bag.String(models.ContextAlbum),
			ms,
			trackID,
			play.ImportSource(),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// PlaysToText renders plays as a numbered listing, newest first order is the
// caller's responsibility.
func PlaysToText(plays []*models.Play) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Plays: %d\n\n", len(plays)))
	for i, play := range plays {
		bag := play.Context()
		line := fmt.Sprintf("%d. %s - %s", i+1, bag.String(models.ContextArtist), bag.String(models.ContextTitle))
		if album := bag.String(models.ContextAlbum); album != "" {
			line += fmt.Sprintf(" (%s)", album)
		}
		line += fmt.Sprintf(" [%s %s]", play.Service(), play.PlayedAt().UTC().Format("2006-01-02 15:04"))
		if play.TrackID() == nil {
			line += " *"
		}
		buf.WriteString(line + "\n")
	}
	if hasUnresolved(plays) {
		buf.WriteString("\n* play not resolved to a library track\n")
	}
	return buf.Bytes(), nil
}

func hasUnresolved(plays []*models.Play) bool {
	for _, play := range plays {
		if play.TrackID() == nil {
			return true
		}
	}
	return false
}

// WritePlaysExport writes plays to a file in the given format ("csv" or
// "text"). An empty path defaults to plays_<batch>.<ext> using the batch id of
// the first play.
func WritePlaysExport(plays []*models.Play, format, path string) (string, error) {
	var (
		data []byte
		ext  string
		err  error
	)
	switch format {
	case "csv", "":
		data, err = PlaysToCSV(plays)
		ext = "csv"
	case "text":
		data, err = PlaysToText(plays)
		ext = "txt"
	default:
		return "", fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidInput, format)
	}
	if err != nil {
		return "", err
	}

	if path == "" {
		base := "plays"
		if len(plays) > 0 && plays[0].ImportBatchID() != "" {
			base = "plays_" + plays[0].ImportBatchID()
		}
		path = fmt.Sprintf("%s.%s", base, ext)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}

// PlaylistToText renders a playlist with its ordered tracks. Track order
// follows the playlist's track id list; tracks is the library lookup for it.
func PlaylistToText(playlist *models.Playlist, tracks map[int64]*models.Track) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Playlist: %s\n", playlist.Name()))
	if playlist.Description() != "" {
		buf.WriteString(fmt.Sprintf("Description: %s\n", playlist.Description()))
	}
	buf.WriteString(fmt.Sprintf("Tracks: %d\n", len(playlist.TrackIDs())))
	for service, externalID := range playlist.ConnectorIDs() {
		buf.WriteString(fmt.Sprintf("Published: %s (%s)\n", service, externalID))
	}
	buf.WriteString("\n")

	for i, id := range playlist.TrackIDs() {
		track, ok := tracks[id]
		if !ok {
			buf.WriteString(fmt.Sprintf("%d. (missing track %d)\n", i+1, id))
			continue
		}
		line := fmt.Sprintf("%d. %s - %s", i+1, track.FirstArtist(), track.Title())
		if ms := track.DurationMS(); ms != nil {
			line += fmt.Sprintf(" [%s]", shared.FormatDuration(int(*ms)))
		}
		buf.WriteString(line + "\n")
	}
	return buf.Bytes(), nil
}

// ResultJSON serializes an operation result, indented for terminal output.
func ResultJSON(result *models.OperationResult) ([]byte, error) {
	return shared.MarshalJSON(result, true)
}

// ResultSummary renders a styled one-screen summary of an operation result.
// Styles degrade to plain text on non-TTY writers via lipgloss.
func ResultSummary(result *models.OperationResult) string {
	var buf strings.Builder

	status := okStyle.Render("ok")
	if result.Cancelled {
		status = warnStyle.Render("cancelled")
	} else if !result.Success {
		status = errStyle.Render("failed")
	}

	header := fmt.Sprintf("%s (%s", result.Operation, result.Service)
	if result.Strategy != "" {
		header += ", " + result.Strategy
	}
	header += ")"
	buf.WriteString(fmt.Sprintf("%s %s\n", header, status))

	buf.WriteString(fmt.Sprintf("  %s %d  %s %d  %s %d  %s %d\n",
		labelStyle.Render("processed"), result.Processed,
		labelStyle.Render("imported"), result.Imported,
		labelStyle.Render("exported"), result.Exported,
		labelStyle.Render("skipped"), result.Skipped))

	if !result.FinishedAt.IsZero() {
		buf.WriteString(fmt.Sprintf("  %s %s  %s %s\n",
			labelStyle.Render("batch"), result.BatchID,
			labelStyle.Render("took"), result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond)))
	}

	for _, key := range sortedDetailKeys(result.Details) {
		buf.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render(key+":"), detailString(result.Details[key])))
	}

	if len(result.Errors) > 0 {
		buf.WriteString(fmt.Sprintf("  %s\n", errStyle.Render(fmt.Sprintf("errors (%d):", len(result.Errors)))))
		shown := result.Errors
		if len(shown) > 10 {
			shown = shown[:10]
		}
		for _, msg := range shown {
			buf.WriteString(fmt.Sprintf("    %s\n", msg))
		}
		if extra := len(result.Errors) - len(shown); extra > 0 {
			buf.WriteString(fmt.Sprintf("    ... and %d more\n", extra))
		}
	}
	return buf.String()
}

func sortedDetailKeys(details models.Attributes) []string {
	keys := make([]string, 0, len(details))
	for key := range details {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// detailString flattens a detail value; nested bags render as sorted k=v
// pairs so resolution stats stay readable on one line.
func detailString(v any) string {
	if bag, ok := v.(models.Attributes); ok {
		pairs := make([]string, 0, len(bag))
		for _, key := range sortedDetailKeys(bag) {
			pairs = append(pairs, fmt.Sprintf("%s=%v", key, bag[key]))
		}
		return strings.Join(pairs, " ")
	}
	return fmt.Sprintf("%v", v)
}
