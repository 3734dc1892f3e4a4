package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultSettings(t *testing.T) {
	s := Default()
	if s.Claims.ClaimDurationMinutes != DefaultClaimDurationMinutes {
		t.Fatalf("claim duration %d", s.Claims.ClaimDurationMinutes)
	}
	if s.QA.DefaultTurnLimit != DefaultTurnLimit {
		t.Fatalf("turn limit %d", s.QA.DefaultTurnLimit)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("default settings invalid: %v", err)
	}
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	s, err := FromYAML([]byte("claims:\n  claim_duration_minutes: 5\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Claims.ClaimDurationMinutes != 5 || s.QA.DefaultTurnLimit != DefaultTurnLimit {
		t.Fatalf("unexpected settings %+v", s)
	}
}

func TestFromYAMLValidation(t *testing.T) {
	cases := map[string]string{
		"zero duration":    "claims:\n  claim_duration_minutes: 0\n",
		"negative limit":   "qa:\n  default_turn_limit: -1\n",
		"relative url":     "webhooks:\n  - url: /hooks\n",
		"unknown event":    "webhooks:\n  - url: https://example.com\n    events: [goal.exploded]\n",
		"broken yaml":      "claims: [",
		"negative timeout": "webhooks:\n  - url: https://example.com\n    timeout_seconds: -2\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected error for %q", doc)
			}
		})
	}
}

func TestReaderFallsBackToDefaults(t *testing.T) {
	s, err := Reader{Workspace: t.TempDir()}.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if s.Claims.ClaimDurationMinutes != DefaultClaimDurationMinutes {
		t.Fatalf("expected defaults, got %+v", s)
	}
}

func TestReaderReadsWorkspaceFile(t *testing.T) {
	ws := t.TempDir()
	doc := "qa:\n  default_turn_limit: 7\nwebhooks:\n  - url: https://example.com/hook\n    events: [goal.completed]\n    enabled: false\n"
	if err := os.WriteFile(filepath.Join(ws, FileName), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Reader{Workspace: ws}.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if s.QA.DefaultTurnLimit != 7 || len(s.Webhooks) != 1 {
		t.Fatalf("unexpected settings %+v", s)
	}
	if s.Webhooks[0].Active() {
		t.Fatalf("disabled webhook reported active")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "gl config init") {
		t.Fatalf("expected hint to run config init, got %v", err)
	}
}

func TestGeneratedDefaultParses(t *testing.T) {
	if _, err := FromYAML([]byte(GenerateDefault())); err != nil {
		t.Fatalf("generated default does not parse: %v", err)
	}
}
