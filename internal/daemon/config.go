// Package daemon wires the GreenProof service together: configuration,
// storage, the verification client, the decision orchestrator, the HTTP API,
// and the background resync schedule.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/greenproof/greenproof/internal/domain"
)

// Config is the on-disk daemon configuration (TOML).
// The vision API key is never stored here; it comes from the
// GREENPROOF_API_KEY or OPENAI_API_KEY environment variable.
type Config struct {
	API          APIConfig          `toml:"api"`
	Vision       VisionConfig       `toml:"vision"`
	Ledger       LedgerConfig       `toml:"ledger"`
	Cooldown     CooldownConfig     `toml:"cooldown"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
}

// APIConfig controls the HTTP surface.
type APIConfig struct {
	Host           string  `toml:"host"`
	Port           int     `toml:"port"`
	EnableMetrics  bool    `toml:"enable_metrics"`
	RateLimitRPS   float64 `toml:"rate_limit_rps"`   // 0 disables the limiter
	RateLimitBurst int     `toml:"rate_limit_burst"`
}

// VisionConfig controls the external classification client.
type VisionConfig struct {
	BaseURL     string  `toml:"base_url"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
	Timeout     string  `toml:"timeout"` // e.g. "30s"
}

// LedgerConfig controls local and remote ledger storage.
type LedgerConfig struct {
	SQLitePath     string `toml:"sqlite_path"`
	RedisAddr      string `toml:"redis_addr"`
	RedisPassword  string `toml:"redis_password"`
	RedisDB        int    `toml:"redis_db"`
	ResyncSchedule string `toml:"resync_schedule"` // cron spec, e.g. "@every 1m"
}

// CooldownConfig overrides per-category cooldown minutes. Empty sections fall
// back to the built-in policy table.
type CooldownConfig struct {
	PeriodsMinutes map[string]int `toml:"periods_minutes"`
	DefaultMinutes int            `toml:"default_minutes"`
}

// OrchestratorConfig controls decision policy.
type OrchestratorConfig struct {
	ConfidenceThreshold int    `toml:"confidence_threshold"`
	ConfirmationTTL     string `toml:"confirmation_ttl"` // e.g. "5m"
	VerifyTimeout       string `toml:"verify_timeout"`   // e.g. "45s"
}

// DefaultConfig returns safe daemon defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8090,
			EnableMetrics:  false,
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Vision: VisionConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   200,
			Temperature: 0.3,
			Timeout:     "30s",
		},
		Ledger: LedgerConfig{
			SQLitePath:     filepath.Join(homeDir(), ".greenproof", "ledger.db"),
			RedisAddr:      "127.0.0.1:6379",
			ResyncSchedule: "@every 1m",
		},
		Orchestrator: OrchestratorConfig{
			ConfidenceThreshold: 60,
			ConfirmationTTL:     "5m",
			VerifyTimeout:       "45s",
		},
	}
}

// ConfigPath returns the well-known config file location.
func ConfigPath() string {
	return filepath.Join(homeDir(), ".greenproof", "config.toml")
}

// Load reads the config at path, applying defaults for anything unset.
// A missing file is not an error; the defaults stand.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = ConfigPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// APIKey returns the vision service credential from the environment.
func APIKey() string {
	if key := os.Getenv("GREENPROOF_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("OPENAI_API_KEY")
}

// CooldownPolicy builds the policy table, applying any configured overrides.
func (c Config) CooldownPolicy() domain.CooldownPolicy {
	policy := domain.DefaultCooldownPolicy()
	if c.Cooldown.DefaultMinutes > 0 {
		policy.Default = time.Duration(c.Cooldown.DefaultMinutes) * time.Minute
	}
	for raw, minutes := range c.Cooldown.PeriodsMinutes {
		if minutes <= 0 {
			continue
		}
		policy.Periods[domain.ActionCategory(raw)] = time.Duration(minutes) * time.Minute
	}
	return policy
}

// parseDuration parses a config duration string, returning fallback on any
// problem.
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
