package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Endpoint is one upstream base URL.
type Endpoint struct {
	Name   string `yaml:"name" json:"name"`
	URL    string `yaml:"url" json:"url"`
	Custom bool   `yaml:"custom,omitempty" json:"custom,omitempty"`
}

// EndpointList is a versioned list of endpoints. Shipped defaults bump
// Version whenever their contents change.
type EndpointList struct {
	Version   int        `yaml:"version" json:"version"`
	Endpoints []Endpoint `yaml:"endpoints" json:"endpoints"`
}

// URLs returns the endpoint URLs in order.
func (l EndpointList) URLs() []string {
	out := make([]string, 0, len(l.Endpoints))
	for _, e := range l.Endpoints {
		out = append(out, e.URL)
	}
	return out
}

// MergeEndpoints reconciles a saved list with the shipped defaults. A saved
// list older than the defaults is replaced by the defaults followed by the
// saved custom endpoints not already present. A saved list at the same or a
// newer version is kept as is. An empty saved list yields the defaults.
func MergeEndpoints(defaults, saved EndpointList) EndpointList {
	if len(saved.Endpoints) == 0 {
		return cloneList(defaults)
	}
	if saved.Version >= defaults.Version {
		return cloneList(saved)
	}

	merged := EndpointList{Version: defaults.Version}
	seen := make(map[string]struct{}, len(defaults.Endpoints))
	for _, e := range defaults.Endpoints {
		seen[normalizeURL(e.URL)] = struct{}{}
		merged.Endpoints = append(merged.Endpoints, e)
	}
	for _, e := range saved.Endpoints {
		if !e.Custom {
			continue
		}
		key := normalizeURL(e.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged.Endpoints = append(merged.Endpoints, e)
	}
	return merged
}

func cloneList(l EndpointList) EndpointList {
	return EndpointList{Version: l.Version, Endpoints: append([]Endpoint(nil), l.Endpoints...)}
}

func normalizeURL(u string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(u), "/"))
}

// SavedEndpoints is the on-disk document of user endpoint lists.
type SavedEndpoints struct {
	LCD   EndpointList `yaml:"lcd"`
	Drand EndpointList `yaml:"drand"`
}

// LoadSavedEndpoints reads path. A missing file is an empty document.
func LoadSavedEndpoints(path string) (SavedEndpoints, error) {
	var saved SavedEndpoints
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return saved, nil
	}
	if err != nil {
		return saved, fmt.Errorf("read saved endpoints: %w", err)
	}
	if err := yaml.Unmarshal(data, &saved); err != nil {
		return saved, fmt.Errorf("parse saved endpoints: %w", err)
	}
	return saved, nil
}

// SaveEndpoints writes saved to path, creating parent directories.
func SaveEndpoints(path string, saved SavedEndpoints) error {
	data, err := yaml.Marshal(saved)
	if err != nil {
		return fmt.Errorf("encode saved endpoints: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create endpoints dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write saved endpoints: %w", err)
	}
	return nil
}
