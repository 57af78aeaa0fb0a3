// Package config handles Montage configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/Montage/config.yaml,
// ~/.config/montage/config.yaml, /etc/montage/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, "Montage", "config.yaml"),
			filepath.Join(home, ".config", "montage", "config.yaml"),
		)
	}

	paths = append(paths, "/etc/montage/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Montage configuration.
type Config struct {
	Listen       ListenConfig `yaml:"listen"`
	Models       ModelsConfig `yaml:"models"`
	ProjectsRoot string       `yaml:"projects_root"`
	DataDir      string       `yaml:"data_dir"`
	SkillsDirs   []string     `yaml:"skills_dirs"`
	API          APIConfig    `yaml:"api"`
	Shell        ShellConfig  `yaml:"shell"`
	MQTT         MQTTConfig   `yaml:"mqtt"`
	Notify       NotifyConfig `yaml:"notify"`
	Review       ReviewConfig `yaml:"review"`
	LogLevel     string       `yaml:"log_level"`
	LogFormat    string       `yaml:"log_format"` // text, json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines model settings. APIKey usually arrives via
// ${GEMINI_API_KEY} expansion in the YAML.
type ModelsConfig struct {
	APIKey   string `yaml:"api_key"`
	Default  string `yaml:"default"`
	MaxSteps int    `yaml:"max_steps"`
	// Pricing maps model name to per-million-token prices for the
	// usage ledger. Models not listed are treated as free.
	Pricing map[string]PricingEntry `yaml:"pricing"`
}

// PricingEntry is the per-million-token price for one model.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// APIConfig defines the HTTP front-end extras beyond the bind address.
type APIConfig struct {
	// PasswordHash is a bcrypt hash; when set, API requests must carry
	// the matching bearer token. Empty disables auth.
	PasswordHash string `yaml:"password_hash"`
	// PublicURL is the externally reachable UI URL, shown (and QR
	// encoded) at serve startup.
	PublicURL string `yaml:"public_url"`
}

// ShellConfig defines run_terminal execution capabilities.
type ShellConfig struct {
	// Enabled allows shell command execution. Disabled by default for safety.
	Enabled bool `yaml:"enabled"`
	// DeniedPatterns are command patterns to block (e.g., "rm -rf /").
	// Merged with the built-in denied list.
	DeniedPatterns []string `yaml:"denied_patterns"`
	// DefaultTimeoutSec is the default timeout in seconds (default 120).
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
}

// MQTTConfig defines the optional studio status publisher.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"` // e.g. mqtt://10.0.0.2:1883
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// NotifyConfig defines optional mail notifications for finished runs
// and renders.
type NotifyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// ImplicitTLS selects TLS-on-connect; otherwise STARTTLS is used.
	ImplicitTLS bool     `yaml:"implicit_tls"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
	// CrewVCF is an optional vCard roster whose EMAIL entries are added
	// to the recipient list.
	CrewVCF string `yaml:"crew_vcf"`
}

// ReviewConfig defines the optional IMAP review-inbox poller.
type ReviewConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// Insecure disables TLS on the IMAP connection (for local test
	// servers). TLS is on by default.
	Insecure        bool   `yaml:"insecure"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Mailbox         string `yaml:"mailbox"`
	PollIntervalSec int    `yaml:"poll_interval_sec"`
}

// Load reads configuration from a YAML file, expands environment
// variables in the raw bytes, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Models.Default == "" {
		c.Models.Default = "gemini-3-flash-preview"
	}
	if c.Models.MaxSteps <= 0 {
		c.Models.MaxSteps = 100
	}
	if c.Models.APIKey == "" {
		c.Models.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.ProjectsRoot == "" {
		c.ProjectsRoot = "~/Montage/projects"
	}
	if c.DataDir == "" {
		c.DataDir = "~/Montage/data"
	}
	if len(c.SkillsDirs) == 0 {
		c.SkillsDirs = []string{"~/Montage/skills"}
	}
	c.ProjectsRoot = expandHome(c.ProjectsRoot)
	c.DataDir = expandHome(c.DataDir)
	for i, d := range c.SkillsDirs {
		c.SkillsDirs[i] = expandHome(d)
	}
	if c.Shell.DefaultTimeoutSec <= 0 {
		c.Shell.DefaultTimeoutSec = 120
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "montage"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "montage"
	}
	if c.Notify.Port == 0 {
		c.Notify.Port = 587
	}
	if c.Review.Port == 0 {
		c.Review.Port = 993
	}
	if c.Review.Mailbox == "" {
		c.Review.Mailbox = "INBOX"
	}
	if c.Review.PollIntervalSec <= 0 {
		c.Review.PollIntervalSec = 300
	}
}

// Validate reports configuration errors that must stop startup before
// any model call is made.
func (c *Config) Validate() error {
	if c.Models.APIKey == "" {
		return fmt.Errorf("models.api_key is required (set it or export GEMINI_API_KEY)")
	}
	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url is required when mqtt is enabled")
	}
	if c.Notify.Enabled {
		if c.Notify.Host == "" {
			return fmt.Errorf("notify.host is required when notify is enabled")
		}
		if c.Notify.From == "" {
			return fmt.Errorf("notify.from is required when notify is enabled")
		}
	}
	if c.Review.Enabled && c.Review.Host == "" {
		return fmt.Errorf("review.host is required when review is enabled")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Default returns a default configuration (no API key; callers must
// still satisfy Validate before use).
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
		}
	}
	return path
}
