package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"appbee/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Reward(domain.DifficultyEasy) != 100 || cfg.Reward(domain.DifficultyMedium) != 300 || cfg.Reward(domain.DifficultyHard) != 500 {
		t.Fatalf("unexpected default rewards: %v", cfg.Rewards)
	}
	if cfg.TokenTTLDuration() != 24*time.Hour {
		t.Fatalf("unexpected ttl %s", cfg.TokenTTLDuration())
	}
	if len(cfg.Bootstrap.Companies) != 3 {
		t.Fatalf("expected 3 seed companies, got %d", len(cfg.Bootstrap.Companies))
	}
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("rewards:\n  HARD: 900\nleaderboard:\n  default_limit: 5\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.Reward(domain.DifficultyHard) != 900 {
		t.Fatalf("override not applied")
	}
	if cfg.Reward(domain.DifficultyEasy) != 100 {
		t.Fatalf("default reward lost on overlay")
	}
	if cfg.Leaderboard.DefaultLimit != 5 || cfg.Leaderboard.MaxLimit != 100 {
		t.Fatalf("unexpected leaderboard config %+v", cfg.Leaderboard)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"ttl":        "auth:\n  token_ttl: soon\n",
		"reward":     "rewards:\n  EASY: -1\n",
		"difficulty": "rewards:\n  LEGENDARY: 1000\n",
		"limits":     "leaderboard:\n  default_limit: 50\n  max_limit: 10\n",
		"base path":  "server:\n  base_path: api\n",
		"companies":  "bootstrap:\n  companies:\n    - name: Acme\n    - name: acme\n",
		"log format": "log:\n  format: xml\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config for missing file, got %v %v", cfg, err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "bee config init") {
		t.Fatalf("expected hint in missing config error, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.BasePath != "/api" {
		t.Fatalf("unexpected base path %q", cfg.Server.BasePath)
	}
}
