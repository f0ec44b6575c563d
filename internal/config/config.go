package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"appbee/internal/domain"
)

const FileName = "appbee.yml"

// Config models appbee.yml. Secrets are never read from this file; the JWT
// secret and the bootstrap admin password come from the environment.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		Issuer   string `yaml:"issuer"`
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Rewards     map[string]int64 `yaml:"rewards"`
	Leaderboard struct {
		DefaultLimit int `yaml:"default_limit"`
		MaxLimit     int `yaml:"max_limit"`
	} `yaml:"leaderboard"`
	Bootstrap struct {
		Admin struct {
			Email    string `yaml:"email"`
			FullName string `yaml:"full_name"`
		} `yaml:"admin"`
		Companies []CompanySeed `yaml:"companies"`
	} `yaml:"bootstrap"`
}

type CompanySeed struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Reward returns the XP credited per engineer for approving a task of the
// given difficulty.
func (c *Config) Reward(d domain.Difficulty) int64 {
	if c == nil {
		return Default().Reward(d)
	}
	return c.Rewards[string(d)]
}

// TokenTTLDuration returns the parsed auth.token_ttl. Validate guarantees it parses.
func (c *Config) TokenTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Auth.Issuer == "" {
		return fmt.Errorf("config.auth.issuer is required")
	}
	ttl, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("config.auth.token_ttl: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("config.auth.token_ttl must be positive")
	}
	for _, d := range domain.Difficulties {
		v, ok := c.Rewards[string(d)]
		if !ok {
			return fmt.Errorf("config.rewards.%s is required", d)
		}
		if v < 0 {
			return fmt.Errorf("config.rewards.%s must not be negative", d)
		}
	}
	for key := range c.Rewards {
		if _, err := domain.ParseDifficulty(key); err != nil || key != strings.ToUpper(key) {
			return fmt.Errorf("config.rewards has unknown difficulty %s", key)
		}
	}
	if c.Leaderboard.DefaultLimit <= 0 {
		return fmt.Errorf("config.leaderboard.default_limit must be positive")
	}
	if c.Leaderboard.MaxLimit < c.Leaderboard.DefaultLimit {
		return fmt.Errorf("config.leaderboard.max_limit must be >= default_limit")
	}
	if c.Bootstrap.Admin.Email != "" && !strings.Contains(c.Bootstrap.Admin.Email, "@") {
		return fmt.Errorf("config.bootstrap.admin.email is not an email address")
	}
	seen := map[string]bool{}
	for i, seed := range c.Bootstrap.Companies {
		name := strings.TrimSpace(seed.Name)
		if name == "" {
			return fmt.Errorf("config.bootstrap.companies[%d].name is required", i)
		}
		if seen[strings.ToLower(name)] {
			return fmt.Errorf("config.bootstrap.companies has duplicate name %s", name)
		}
		seen[strings.ToLower(name)] = true
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with bee config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config from raw YAML bytes on top of the defaults, then
// validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api

auth:
  issuer: appbee
  token_ttl: 24h

log:
  level: info
  format: json

rewards:
  EASY: 100
  MEDIUM: 300
  HARD: 500

leaderboard:
  default_limit: 10
  max_limit: 100

bootstrap:
  admin:
    email: admin@bee.com
    full_name: Platform Admin
  companies:
    - name: Tech Solutions Inc.
      description: Software consultancy posting backend and tooling work
    - name: BeeHive Systems
      description: Infrastructure and platform engineering
    - name: Global Networks
      description: Networking and operations tasks
`
