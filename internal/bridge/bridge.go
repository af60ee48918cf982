// Package bridge decodes schedule-board selection messages and builds the read-only
// preview shown for the selected cue.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/references"
)

const (
	// MessageTrackSelect is the only inbound message type handled.
	MessageTrackSelect = "SCHEDULE_TRACK_SELECT"
	// HistoryLimit caps each log in a preview.
	HistoryLimit     = 20
	scopeSeparator   = "__"
	defaultTrackName = "(no title)"
)

var (
	// ErrUnsupportedMessage indicates a message type other than track selection.
	ErrUnsupportedMessage = errors.New("bridge: unsupported message type")
	// ErrMissingCueID indicates a selection without a cue id.
	ErrMissingCueID = errors.New("bridge: missing cue id")
	// ErrForeignProject indicates a selection scoped to another project.
	ErrForeignProject = errors.New("bridge: selection targets another project")
)

// Message is the inbound wire shape.
type Message struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	CueID     string `json:"cueId"`
	TrackID   string `json:"trackId"`
	TrackName string `json:"trackName"`
}

// Selection is a validated selection resolved against the current project.
type Selection struct {
	ProjectID string
	RowID     string
	TrackID   string
	TrackName string
}

// Decode parses a raw message.
func Decode(payload []byte) (Message, error) {
	var message Message
	if err := json.Unmarshal(payload, &message); err != nil {
		return Message{}, fmt.Errorf("bridge: decode message: %w", err)
	}
	return message, nil
}

// Resolve validates message against the current project. The cue id may be scoped as
// "<projectId>__<cueId>"; an absent projectId means the current project.
func Resolve(message Message, currentProjectID string) (Selection, error) {
	if message.Type != MessageTrackSelect {
		return Selection{}, fmt.Errorf("%w: %q", ErrUnsupportedMessage, message.Type)
	}
	projectID := strings.TrimSpace(message.ProjectID)
	if projectID == "" {
		projectID = currentProjectID
	}
	cueID := strings.TrimSpace(message.CueID)
	if scope, rest, scoped := strings.Cut(cueID, scopeSeparator); scoped {
		if scope != projectID {
			return Selection{}, fmt.Errorf("%w: %q", ErrForeignProject, scope)
		}
		cueID = rest
	}
	if cueID == "" {
		return Selection{}, ErrMissingCueID
	}
	if projectID != currentProjectID {
		return Selection{}, fmt.Errorf("%w: %q", ErrForeignProject, projectID)
	}
	trackName := strings.TrimSpace(message.TrackName)
	if trackName == "" {
		trackName = defaultTrackName
	}
	return Selection{
		ProjectID: projectID,
		RowID:     cueID,
		TrackID:   strings.TrimSpace(message.TrackID),
		TrackName: trackName,
	}, nil
}

// HistoryEntry is one preview line.
type HistoryEntry struct {
	Text     string `json:"text"`
	At       string `json:"at"`
	By       string `json:"by"`
	Archived bool   `json:"archived"`
}

// Preview is the read-only pane for a selected cue. Found is false when the row is
// unknown, in which case every list is empty.
type Preview struct {
	RowID       string            `json:"rowId"`
	TrackID     string            `json:"trackId"`
	TrackName   string            `json:"trackName"`
	Found       bool              `json:"found"`
	DirectorLog []HistoryEntry    `json:"directorLog"`
	CommentLog  []HistoryEntry    `json:"commentLog"`
	References  []references.Link `json:"references"`
}

// BuildPreview assembles the preview from the row, if any.
func BuildPreview(selection Selection, row cues.Row, found bool) Preview {
	preview := Preview{
		RowID:       selection.RowID,
		TrackID:     selection.TrackID,
		TrackName:   selection.TrackName,
		Found:       found,
		DirectorLog: []HistoryEntry{},
		CommentLog:  []HistoryEntry{},
		References:  []references.Link{},
	}
	if !found {
		return preview
	}
	preview.DirectorLog = history(row.DirectorLog)
	preview.CommentLog = history(row.CommentLog)
	preview.References = references.Links(row.Reference, 0)
	return preview
}

func history(entries []cues.LogEntry) []HistoryEntry {
	recent := cues.RecentEntries(entries, HistoryLimit)
	lines := make([]HistoryEntry, 0, len(recent))
	for _, entry := range recent {
		lines = append(lines, HistoryEntry{
			Text:     entry.Text,
			At:       entry.At.Format("2006/01/02 15:04"),
			By:       cues.FormatByName(entry.By),
			Archived: entry.IsArchived(),
		})
	}
	return lines
}
