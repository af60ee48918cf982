package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// ErrInvalidSeedFile indicates a seed file that cannot be used.
var ErrInvalidSeedFile = errors.New("registry: invalid seed file")

type seedFile struct {
	Statuses []Entry `json:"statuses"`
}

// LoadSeedFile reads a JSONC document of the form {"statuses": [...]} and returns the
// normalized status list. An empty path yields the default statuses.
func LoadSeedFile(path string) ([]Entry, error) {
	if path == "" {
		return DefaultStatuses(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSeedFile, path, err)
	}
	return ParseSeed(data)
}

// ParseSeed parses JSONC seed content.
func ParseSeed(data []byte) ([]Entry, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid JSONC: %w", ErrInvalidSeedFile, err)
	}
	var parsed seedFile
	if err := json.Unmarshal(standardized, &parsed); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %w", ErrInvalidSeedFile, err)
	}
	statuses := NormalizeStatuses(parsed.Statuses)
	if len(statuses) == 0 {
		return nil, fmt.Errorf("%w: no statuses", ErrInvalidSeedFile)
	}
	return statuses, nil
}
