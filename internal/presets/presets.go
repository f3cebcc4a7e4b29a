// Package presets stores named breakpoint sets so a debugging session's
// breakpoint layout can be recalled across luaud runs. The live bridge
// state is never persisted; presets are an explicit convenience store
// (saving under an existing name replaces it), backed by Redis, with an optional file watcher for
// externally edited preset files.
package presets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sssooonnnggg/luaud/internal/ids"
	"github.com/sssooonnnggg/luaud/internal/logging"
)

const keyPrefix = "luaud:preset:"

// Breakpoint is one saved breakpoint location.
type Breakpoint struct {
	Path       string `json:"path"`
	Line       int    `json:"line"`
	Condition  string `json:"condition,omitempty"`
	LogMessage string `json:"logMessage,omitempty"`
}

// Preset is a named breakpoint set.
type Preset struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	CreatedAt   time.Time    `json:"createdAt"`
	Breakpoints []Breakpoint `json:"breakpoints"`
}

// Store saves and recalls presets in Redis.
type Store struct {
	client *Client
	log    *logging.Logger
}

// NewStore builds a Store over a connected Client.
func NewStore(client *Client, log *logging.Logger) *Store {
	return &Store{client: client, log: log}
}

// Save stores a preset under name, replacing any previous one.
func (s *Store) Save(ctx context.Context, name string, bps []Breakpoint) (*Preset, error) {
	p := &Preset{
		ID:          ids.NewPresetID(),
		Name:        name,
		CreatedAt:   time.Now().UTC(),
		Breakpoints: bps,
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal preset %q: %w", name, err)
	}
	if err := s.client.Set(ctx, keyPrefix+name, data); err != nil {
		return nil, fmt.Errorf("save preset %q: %w", name, err)
	}
	s.log.Infof("saved breakpoint preset %q (%d breakpoints)", name, len(bps))
	return p, nil
}

// Load recalls the preset stored under name.
func (s *Store) Load(ctx context.Context, name string) (*Preset, error) {
	data, err := s.client.Get(ctx, keyPrefix+name)
	if err != nil {
		if err == Nil {
			return nil, fmt.Errorf("no preset %q", name)
		}
		return nil, fmt.Errorf("load preset %q: %w", name, err)
	}
	var p Preset
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode preset %q: %w", name, err)
	}
	return &p, nil
}

// List returns the names of every stored preset.
func (s *Store) List(ctx context.Context) ([]string, error) {
	keys, err := s.client.Keys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, keyPrefix))
	}
	return names, nil
}

// Delete removes the preset stored under name.
func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.client.Del(ctx, keyPrefix+name); err != nil {
		return fmt.Errorf("delete preset %q: %w", name, err)
	}
	return nil
}
