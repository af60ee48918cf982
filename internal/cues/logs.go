package cues

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// PreviewLength is the rune budget of a collapsed log preview.
const PreviewLength = 60

var (
	// ErrUnknownLogKind indicates a log name outside the schema.
	ErrUnknownLogKind = errors.New("cues: unknown log kind")
	// ErrEntryNotFound indicates a log lookup that matched nothing.
	ErrEntryNotFound = errors.New("cues: log entry not found")
	// ErrEmptyLogText indicates an append with blank text.
	ErrEmptyLogText = errors.New("cues: empty log text")
)

// LogKind names one of the per-row append-only logs.
type LogKind string

const (
	LogDirector LogKind = "directorLog"
	LogComment  LogKind = "commentLog"
)

// ParseLogKind validates a raw log name.
func ParseLogKind(raw string) (LogKind, error) {
	switch LogKind(strings.TrimSpace(raw)) {
	case LogDirector:
		return LogDirector, nil
	case LogComment:
		return LogComment, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLogKind, raw)
	}
}

// LogEntry is one timestamped log line. ID is stable across archive toggles; rows
// written before IDs existed are matched by (Text, By, At seconds).
type LogEntry struct {
	ID         string     `json:"id,omitempty"`
	Text       string     `json:"text"`
	At         time.Time  `json:"at"`
	By         string     `json:"by"`
	Archived   bool       `json:"archived"`
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`
	ArchivedBy string     `json:"archivedBy,omitempty"`
	V          string     `json:"v,omitempty"`
}

// NewLogEntry builds an entry for an append. The row version is copied only when set.
func NewLogEntry(id string, text string, at time.Time, by string, version string) (LogEntry, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return LogEntry{}, ErrEmptyLogText
	}
	entry := LogEntry{ID: id, Text: trimmed, At: at.UTC(), By: by}
	if version = strings.TrimSpace(version); version != "" {
		entry.V = version
	}
	return entry, nil
}

// IsArchived reports whether the entry is hidden from the default view. Entries
// stored with only an archive stamp count as archived.
func (e LogEntry) IsArchived() bool {
	return e.Archived || e.ArchivedAt != nil
}

// sameIdentity matches two entries by ID when both carry one, otherwise by the
// legacy (text, by, at-seconds) triple.
func (e LogEntry) sameIdentity(other LogEntry) bool {
	if e.ID != "" && other.ID != "" {
		return e.ID == other.ID
	}
	return e.Text == other.Text && e.By == other.By && e.At.Unix() == other.At.Unix()
}

// ViewEntries returns the entries a user sees: archived ones are hidden unless
// showArchived, and the result is stable-sorted by At ascending.
func ViewEntries(entries []LogEntry, showArchived bool) []LogEntry {
	view := make([]LogEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsArchived() && !showArchived {
			continue
		}
		view = append(view, entry)
	}
	sort.SliceStable(view, func(left, right int) bool {
		return view[left].At.Before(view[right].At)
	})
	return view
}

// EntryAt resolves a position in the filtered and sorted view.
func EntryAt(entries []LogEntry, showArchived bool, index int) (LogEntry, error) {
	view := ViewEntries(entries, showArchived)
	if index < 0 || index >= len(view) {
		return LogEntry{}, fmt.Errorf("%w: index %d of %d", ErrEntryNotFound, index, len(view))
	}
	return view[index], nil
}

// AppendEntry returns a copy of entries with entry appended.
func AppendEntry(entries []LogEntry, entry LogEntry) []LogEntry {
	updated := cloneEntries(entries)
	return append(updated, entry)
}

// SetArchived returns a copy of entries with the target's archive flag set. Restoring
// clears the archive stamp.
func SetArchived(entries []LogEntry, target LogEntry, archived bool, at time.Time, by string) ([]LogEntry, error) {
	updated := cloneEntries(entries)
	for index := range updated {
		if !updated[index].sameIdentity(target) {
			continue
		}
		updated[index].Archived = archived
		if archived {
			stamp := at.UTC()
			updated[index].ArchivedAt = &stamp
			updated[index].ArchivedBy = by
		} else {
			updated[index].ArchivedAt = nil
			updated[index].ArchivedBy = ""
		}
		return updated, nil
	}
	return nil, ErrEntryNotFound
}

// RemoveEntry returns a copy of entries without the target.
func RemoveEntry(entries []LogEntry, target LogEntry) ([]LogEntry, error) {
	for index, entry := range entries {
		if !entry.sameIdentity(target) {
			continue
		}
		updated := make([]LogEntry, 0, len(entries)-1)
		updated = append(updated, entries[:index]...)
		updated = append(updated, entries[index+1:]...)
		return cloneEntries(updated), nil
	}
	return nil, ErrEntryNotFound
}

// LatestText returns the text of the most recent non-archived entry.
func LatestText(entries []LogEntry) string {
	var latest *LogEntry
	for index := range entries {
		entry := &entries[index]
		if entry.IsArchived() {
			continue
		}
		if latest == nil || !entry.At.Before(latest.At) {
			latest = entry
		}
	}
	if latest == nil {
		return ""
	}
	return latest.Text
}

// Preview collapses whitespace and truncates text to limit runes with an ellipsis.
func Preview(text string, limit int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if limit <= 0 || utf8.RuneCountInString(collapsed) <= limit {
		return collapsed
	}
	runes := []rune(collapsed)
	return string(runes[:limit-1]) + "…"
}

// RecentEntries returns up to limit entries, newest first.
func RecentEntries(entries []LogEntry, limit int) []LogEntry {
	ordered := ViewEntries(entries, true)
	recent := make([]LogEntry, 0, limit)
	for index := len(ordered) - 1; index >= 0 && len(recent) < limit; index-- {
		recent = append(recent, ordered[index])
	}
	return recent
}

// FormatByName strips the mail domain from an author address.
func FormatByName(by string) string {
	name, _, _ := strings.Cut(strings.TrimSpace(by), "@")
	return name
}

func cloneEntries(entries []LogEntry) []LogEntry {
	if entries == nil {
		return nil
	}
	copied := make([]LogEntry, len(entries))
	for index, entry := range entries {
		copied[index] = entry
		if entry.ArchivedAt != nil {
			stamp := *entry.ArchivedAt
			copied[index].ArchivedAt = &stamp
		}
	}
	return copied
}

func sameEntries(left, right []LogEntry) bool {
	if len(left) != len(right) {
		return false
	}
	for index := range left {
		a, b := left[index], right[index]
		if a.ID != b.ID || a.Text != b.Text || a.By != b.By || a.Archived != b.Archived || (a.ArchivedAt == nil) != (b.ArchivedAt == nil) || a.V != b.V {
			return false
		}
		if !a.At.Equal(b.At) {
			return false
		}
	}
	return true
}
