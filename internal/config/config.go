// Package config reads goalline.yml, the per-workspace settings file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"goalline/internal/domain"
)

// FileName is the settings file looked up in the workspace root.
const FileName = "goalline.yml"

const (
	DefaultClaimDurationMinutes = 30
	DefaultTurnLimit            = 3
)

// Settings models goalline.yml.
type Settings struct {
	Claims struct {
		ClaimDurationMinutes int `yaml:"claim_duration_minutes" json:"claim_duration_minutes"`
	} `yaml:"claims" json:"claims"`
	QA struct {
		DefaultTurnLimit int `yaml:"default_turn_limit" json:"default_turn_limit"`
	} `yaml:"qa" json:"qa"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// WebhookConfig is one outbound event subscription.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"-"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Active reports whether the hook should receive events.
func (w WebhookConfig) Active() bool {
	return (w.Enabled == nil || *w.Enabled) && strings.TrimSpace(w.URL) != ""
}

// Validate ensures settings are usable.
func (s *Settings) Validate() error {
	if s.Claims.ClaimDurationMinutes <= 0 {
		return fmt.Errorf("claims.claim_duration_minutes must be positive")
	}
	if s.QA.DefaultTurnLimit <= 0 {
		return fmt.Errorf("qa.default_turn_limit must be positive")
	}
	known := make(map[string]struct{}, len(domain.EventTypes))
	for _, t := range domain.EventTypes {
		known[string(t)] = struct{}{}
	}
	for i, hook := range s.Webhooks {
		u, err := url.Parse(strings.TrimSpace(hook.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhooks[%d].url must be an absolute http(s) URL", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
		for _, evt := range hook.Events {
			if _, ok := known[strings.TrimSpace(evt)]; !ok {
				return fmt.Errorf("webhooks[%d] subscribes to unknown event type %s", i, evt)
			}
		}
	}
	return nil
}

// Path returns the settings file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Default returns the settings used when no file exists.
func Default() *Settings {
	var s Settings
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&s)
	return &s
}

// GenerateDefault returns the default settings file contents.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates settings from workspace. A missing file is an error.
func Load(workspace string) (*Settings, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config %s not found; create one with gl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil, nil if the settings file does not exist.
func LoadOptional(workspace string) (*Settings, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses settings over the defaults and validates the result, so a
// file only needs the keys it changes.
func FromYAML(data []byte) (*Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// FromFile reads settings from the given path.
func FromFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Reader loads settings for one workspace. Commands call Read once and use
// the result for their whole run.
type Reader struct {
	Workspace string
}

// Read returns the workspace settings, or defaults when no file exists.
func (r Reader) Read() (*Settings, error) {
	s, err := LoadOptional(r.Workspace)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return Default(), nil
	}
	return s, nil
}

const defaultTemplate = `claims:
  # How long a start or resume holds the goal for one worker.
  claim_duration_minutes: 30

qa:
  # Review turns before a goal should be escalated instead of resubmitted.
  default_turn_limit: 3

# webhooks:
#   - url: https://example.com/hooks/goalline
#     events: [goal.completed]
#     secret: change-me
`
