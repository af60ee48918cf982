// Package cues defines the cue row record, its partial patches and the log entry rules
// shared by the store and the editing engine.
package cues

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidRowID indicates that a row identifier is empty or exceeds storage bounds.
	ErrInvalidRowID = errors.New("cues: invalid row id")
	// ErrInvalidProjectID indicates that a project identifier is empty or exceeds storage bounds.
	ErrInvalidProjectID = errors.New("cues: invalid project id")
	// ErrUnknownField indicates a field name outside the persisted schema.
	ErrUnknownField = errors.New("cues: unknown field")
)

// Field names a scalar column of a cue row. Values match the persisted schema.
type Field string

const (
	FieldM         Field = "m"
	FieldV         Field = "v"
	FieldDemo      Field = "demo"
	FieldScene     Field = "scene"
	FieldLen       Field = "len"
	FieldStatus    Field = "status"
	FieldReference Field = "reference"
	FieldIn        Field = "in"
	FieldOut       Field = "out"
	FieldInterval  Field = "interval"
)

var scalarFields = []Field{
	FieldM, FieldV, FieldDemo, FieldScene, FieldLen, FieldStatus,
	FieldReference, FieldIn, FieldOut, FieldInterval,
}

// ScalarFields lists every scalar field in schema order.
func ScalarFields() []Field {
	return append([]Field(nil), scalarFields...)
}

// ParseField validates a raw field name.
func ParseField(raw string) (Field, error) {
	candidate := Field(strings.TrimSpace(raw))
	for _, field := range scalarFields {
		if field == candidate {
			return field, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, raw)
}

// Known reports whether f is a field of the persisted schema.
func (f Field) Known() bool {
	for _, field := range scalarFields {
		if field == f {
			return true
		}
	}
	return false
}

// IsTimecodeBoundary reports whether the field feeds the derived interval.
func (f Field) IsTimecodeBoundary() bool {
	return f == FieldIn || f == FieldOut
}

// String returns the field name.
func (f Field) String() string {
	return string(f)
}

// NewRowID validates a row identifier.
func NewRowID(raw string) (string, error) {
	return validateIdentifier(raw, ErrInvalidRowID)
}

// NewProjectID validates a project identifier.
func NewProjectID(raw string) (string, error) {
	return validateIdentifier(raw, ErrInvalidProjectID)
}

func validateIdentifier(raw string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return trimmed, nil
}

// Row is one cue sheet entry.
type Row struct {
	ID          string        `json:"id"`
	M           string        `json:"m"`
	V           string        `json:"v"`
	Demo        string        `json:"demo"`
	Scene       string        `json:"scene"`
	Len         string        `json:"len"`
	Status      string        `json:"status"`
	Reference   string        `json:"reference"`
	In          string        `json:"in"`
	Out         string        `json:"out"`
	Interval    string        `json:"interval"`
	DirectorLog []LogEntry    `json:"directorLog"`
	CommentLog  []LogEntry    `json:"commentLog"`
	CreatedAt   time.Time     `json:"createdAt"`
	CreatedBy   string        `json:"createdBy"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	UpdatedBy   string        `json:"updatedBy"`
	Next        *NextSchedule `json:"nextSchedule,omitempty"`
}

// NextSchedule is the nearest upcoming schedule-board mark for a row. It is never
// persisted on the row.
type NextSchedule struct {
	Status    string `json:"status"`
	Date      string `json:"date"`
	DateLabel string `json:"dateLabel"`
	Color     string `json:"color"`
}

// Value returns the scalar value stored under field.
func (r Row) Value(field Field) string {
	switch field {
	case FieldM:
		return r.M
	case FieldV:
		return r.V
	case FieldDemo:
		return r.Demo
	case FieldScene:
		return r.Scene
	case FieldLen:
		return r.Len
	case FieldStatus:
		return r.Status
	case FieldReference:
		return r.Reference
	case FieldIn:
		return r.In
	case FieldOut:
		return r.Out
	case FieldInterval:
		return r.Interval
	default:
		return ""
	}
}

// Set assigns a scalar value. Unknown fields are ignored.
func (r *Row) Set(field Field, value string) {
	switch field {
	case FieldM:
		r.M = value
	case FieldV:
		r.V = value
	case FieldDemo:
		r.Demo = value
	case FieldScene:
		r.Scene = value
	case FieldLen:
		r.Len = value
	case FieldStatus:
		r.Status = value
	case FieldReference:
		r.Reference = value
	case FieldIn:
		r.In = value
	case FieldOut:
		r.Out = value
	case FieldInterval:
		r.Interval = value
	}
}

// Log returns the entries of the given log.
func (r Row) Log(kind LogKind) []LogEntry {
	switch kind {
	case LogDirector:
		return r.DirectorLog
	case LogComment:
		return r.CommentLog
	default:
		return nil
	}
}

// SetLog replaces the entries of the given log.
func (r *Row) SetLog(kind LogKind, entries []LogEntry) {
	switch kind {
	case LogDirector:
		r.DirectorLog = entries
	case LogComment:
		r.CommentLog = entries
	}
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	copied := r
	copied.DirectorLog = cloneEntries(r.DirectorLog)
	copied.CommentLog = cloneEntries(r.CommentLog)
	if r.Next != nil {
		next := *r.Next
		copied.Next = &next
	}
	return copied
}

// Ordinal parses m. Rows with a non-numeric marker sort after numbered rows.
func (r Row) Ordinal() (int, bool) {
	value, err := strconv.Atoi(strings.TrimSpace(r.M))
	if err != nil {
		return 0, false
	}
	return value, true
}

// Less orders rows by numeric m, then raw m, then id.
func Less(left, right Row) bool {
	leftOrdinal, leftOK := left.Ordinal()
	rightOrdinal, rightOK := right.Ordinal()
	switch {
	case leftOK && rightOK && leftOrdinal != rightOrdinal:
		return leftOrdinal < rightOrdinal
	case leftOK != rightOK:
		return leftOK
	case left.M != right.M:
		return left.M < right.M
	default:
		return left.ID < right.ID
	}
}

// NextOrdinal returns the marker for a newly appended row: one past the largest
// numeric m.
func NextOrdinal(rows []Row) string {
	highest := 0
	for _, row := range rows {
		if ordinal, ok := row.Ordinal(); ok && ordinal > highest {
			highest = ordinal
		}
	}
	return strconv.Itoa(highest + 1)
}

// FieldPatch is a partial scalar update.
type FieldPatch map[Field]string

// Clone copies the patch.
func (p FieldPatch) Clone() FieldPatch {
	if p == nil {
		return nil
	}
	copied := make(FieldPatch, len(p))
	for field, value := range p {
		copied[field] = value
	}
	return copied
}

// RowPatch is a partial row update: scalar fields and whole-log replacements.
type RowPatch struct {
	Fields FieldPatch
	Logs   map[LogKind][]LogEntry
}

// Empty reports whether the patch changes nothing.
func (p RowPatch) Empty() bool {
	return len(p.Fields) == 0 && len(p.Logs) == 0
}

// Clone deep-copies the patch.
func (p RowPatch) Clone() RowPatch {
	copied := RowPatch{Fields: p.Fields.Clone()}
	if p.Logs != nil {
		copied.Logs = make(map[LogKind][]LogEntry, len(p.Logs))
		for kind, entries := range p.Logs {
			copied.Logs[kind] = cloneEntries(entries)
		}
	}
	return copied
}

// Apply merges the patch into row.
func (p RowPatch) Apply(row *Row) {
	for field, value := range p.Fields {
		row.Set(field, value)
	}
	for kind, entries := range p.Logs {
		row.SetLog(kind, cloneEntries(entries))
	}
}

// Matches reports whether row already holds every value in the patch.
func (p RowPatch) Matches(row Row) bool {
	for field, value := range p.Fields {
		if row.Value(field) != value {
			return false
		}
	}
	for kind, entries := range p.Logs {
		if !sameEntries(row.Log(kind), entries) {
			return false
		}
	}
	return true
}
