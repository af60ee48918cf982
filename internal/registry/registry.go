// Package registry holds the per-project tag enumerations (statuses, length buckets)
// and the color metadata used to render them.
package registry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	defaultColor      = "#a78bfa"
	tintBackgroundHex = "22"
	tintBorderHex     = "55"
	darkTextColor     = "rgba(15,23,42,.85)"
	lightTextColor    = "white"
	luminanceCutoff   = 0.65
)

var (
	// ErrUnknownValue indicates a value that is not registered.
	ErrUnknownValue = errors.New("registry: unknown value")
	// ErrDuplicateValue indicates two entries share the same storage key.
	ErrDuplicateValue = errors.New("registry: duplicate value")
)

// Entry is one selectable tag. Value is the storage key.
type Entry struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Color string `json:"color"`
}

// DefaultStatuses seeds a project's status registry on first access.
func DefaultStatuses() []Entry {
	return []Entry{
		{Value: "wip", Label: "wip", Color: "#f59e0b"},
		{Value: "rev", Label: "rev", Color: "#60a5fa"},
		{Value: "fix", Label: "fix", Color: "#2dd4bf"},
	}
}

// LengthBuckets is the fixed set of length tags.
func LengthBuckets() []Entry {
	return []Entry{
		{Value: "very_long", Label: "very long", Color: "#ef4444"},
		{Value: "long", Label: "long", Color: "#f97316"},
		{Value: "mid", Label: "mid", Color: "#60a5fa"},
		{Value: "short", Label: "short", Color: "#34d399"},
	}
}

// Registry is an immutable lookup over entries.
type Registry struct {
	entries []Entry
	index   map[string]Entry
}

// New builds a registry. Entries must have unique values.
func New(entries []Entry) (Registry, error) {
	index := make(map[string]Entry, len(entries))
	copied := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if _, exists := index[entry.Value]; exists {
			return Registry{}, fmt.Errorf("%w: %q", ErrDuplicateValue, entry.Value)
		}
		index[entry.Value] = entry
		copied = append(copied, entry)
	}
	return Registry{entries: copied, index: index}, nil
}

// MustNew is New for entry sets known to be valid.
func MustNew(entries []Entry) Registry {
	registry, err := New(entries)
	if err != nil {
		panic(err)
	}
	return registry
}

// Entries returns a copy of the registered entries in order.
func (r Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Lookup resolves value to its entry.
func (r Registry) Lookup(value string) (Entry, bool) {
	entry, ok := r.index[value]
	return entry, ok
}

// Validate accepts the empty value or any registered value.
func (r Registry) Validate(value string) error {
	if value == "" {
		return nil
	}
	if _, ok := r.index[value]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownValue, value)
	}
	return nil
}

// Tag is the render form of a cell value.
type Tag struct {
	Value      string `json:"value"`
	Label      string `json:"label"`
	Background string `json:"background,omitempty"`
	Border     string `json:"border,omitempty"`
	Known      bool   `json:"known"`
}

// Resolve produces the tag for value. Unknown values render with their raw text.
func (r Registry) Resolve(value string) Tag {
	entry, ok := r.index[value]
	if !ok {
		return Tag{Value: value, Label: value}
	}
	background, border := Tint(entry.Color)
	return Tag{Value: value, Label: entry.Label, Background: background, Border: border, Known: true}
}

// Tint returns the translucent background and border colors for a tag color.
func Tint(color string) (string, string) {
	return color + tintBackgroundHex, color + tintBorderHex
}

// TextColor picks a readable foreground for a solid background color.
func TextColor(backgroundHex string) string {
	red, green, blue := hexToRGB(backgroundHex)
	luminance := (0.2126*float64(red) + 0.7152*float64(green) + 0.0722*float64(blue)) / 255
	if luminance > luminanceCutoff {
		return darkTextColor
	}
	return lightTextColor
}

func hexToRGB(hex string) (int, int, int) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(trimmed) != 6 {
		return 0, 0, 0
	}
	channels := [3]int{}
	for index := range channels {
		value, err := strconv.ParseUint(trimmed[index*2:index*2+2], 16, 8)
		if err != nil {
			return 0, 0, 0
		}
		channels[index] = int(value)
	}
	return channels[0], channels[1], channels[2]
}

// NormalizeStatuses applies the save rules for an edited status list: labels are
// trimmed and NFC-normalized, the value always mirrors the label, empty entries are
// dropped and later duplicates lose to earlier ones.
func NormalizeStatuses(entries []Entry) []Entry {
	seen := make(map[string]struct{}, len(entries))
	normalized := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		label := NormalizeText(entry.Label)
		if label == "" {
			label = NormalizeText(entry.Value)
		}
		if label == "" {
			continue
		}
		if _, duplicate := seen[label]; duplicate {
			continue
		}
		seen[label] = struct{}{}
		color := strings.TrimSpace(entry.Color)
		if color == "" {
			color = defaultColor
		}
		normalized = append(normalized, Entry{Value: label, Label: label, Color: color})
	}
	return normalized
}

// NormalizeText trims and NFC-normalizes user-entered text.
func NormalizeText(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}
