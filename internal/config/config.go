package config

import (
	"embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete nostr-comments configuration
type Config struct {
	Widget   Widget   `yaml:"widget"`
	Identity Identity `yaml:"identity"`
	Relays   Relays   `yaml:"relays"`
	Pow      Pow      `yaml:"pow"`
	Sync     Sync     `yaml:"sync"`
	Caching  Caching  `yaml:"caching"`
	DevRelay DevRelay `yaml:"devrelay"`
	Logging  Logging  `yaml:"logging"`
}

// Widget contains the per-page embedding options
type Widget struct {
	URL            string   `yaml:"url"`
	Mention        string   `yaml:"mention"` // hex pubkey notified of new comments
	Relays         []string `yaml:"relays"`
	PageSize       int      `yaml:"page_size"`
	Pow            int      `yaml:"pow"` // minimum difficulty for publishing and display, 0 disables
	EnabledSigners []string `yaml:"enabled_signers"`
}

// Identity holds secrets used by the CLI. They are never written back to disk.
type Identity struct {
	Nsec   string `yaml:"-"` // NOSTR_COMMENTS_NSEC
	Bunker string `yaml:"-"` // NOSTR_COMMENTS_BUNKER
}

// Relays contains relay configuration
type Relays struct {
	Defaults []string    `yaml:"defaults"` // fallback read/write set
	Lookup   []string    `yaml:"lookup"`   // where NIP-65 relay lists are fetched
	Policy   RelayPolicy `yaml:"policy"`
}

// RelayPolicy contains relay connection policies
type RelayPolicy struct {
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
	QueryTimeoutMs   int `yaml:"query_timeout_ms"`
	PublishTimeoutMs int `yaml:"publish_timeout_ms"`
	EOSETimeoutMs    int `yaml:"eose_timeout_ms"`
}

// Pow contains proof-of-work miner settings
type Pow struct {
	Workers int `yaml:"workers"` // concurrent mining jobs
}

// Sync contains comment sync engine settings
type Sync struct {
	DebounceMs int `yaml:"debounce_ms"` // coalesce change notifications, 0 = notify immediately
}

// Caching contains caching configuration
type Caching struct {
	Enabled      bool   `yaml:"enabled"`
	Engine       string `yaml:"engine"` // memory|redis
	RedisURL     string `yaml:"redis_url"`
	RelayListTTL int    `yaml:"relay_list_ttl_seconds"`
}

// DevRelay contains settings for the local development relay
type DevRelay struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Driver       string `yaml:"driver"` // memory|sqlite
	SQLitePath   string `yaml:"sqlite_path"`
	MinPow       int    `yaml:"min_pow"`
	AllowedKinds []int  `yaml:"allowed_kinds"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// applyDefaults fills in missing configuration fields with sensible defaults
func applyDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Widget.PageSize == 0 {
		cfg.Widget.PageSize = defaults.Widget.PageSize
	}
	if len(cfg.Widget.EnabledSigners) == 0 {
		cfg.Widget.EnabledSigners = defaults.Widget.EnabledSigners
	}

	if len(cfg.Relays.Defaults) == 0 {
		cfg.Relays.Defaults = defaults.Relays.Defaults
	}
	if len(cfg.Relays.Lookup) == 0 {
		cfg.Relays.Lookup = defaults.Relays.Lookup
	}
	if cfg.Relays.Policy.ConnectTimeoutMs == 0 {
		cfg.Relays.Policy.ConnectTimeoutMs = defaults.Relays.Policy.ConnectTimeoutMs
	}
	if cfg.Relays.Policy.QueryTimeoutMs == 0 {
		cfg.Relays.Policy.QueryTimeoutMs = defaults.Relays.Policy.QueryTimeoutMs
	}
	if cfg.Relays.Policy.PublishTimeoutMs == 0 {
		cfg.Relays.Policy.PublishTimeoutMs = defaults.Relays.Policy.PublishTimeoutMs
	}
	if cfg.Relays.Policy.EOSETimeoutMs == 0 {
		cfg.Relays.Policy.EOSETimeoutMs = defaults.Relays.Policy.EOSETimeoutMs
	}

	if cfg.Pow.Workers == 0 {
		cfg.Pow.Workers = defaults.Pow.Workers
	}

	if cfg.Caching.Engine == "" {
		cfg.Caching.Engine = defaults.Caching.Engine
	}
	if cfg.Caching.RelayListTTL == 0 {
		cfg.Caching.RelayListTTL = defaults.Caching.RelayListTTL
	}

	if cfg.DevRelay.Host == "" {
		cfg.DevRelay.Host = defaults.DevRelay.Host
	}
	if cfg.DevRelay.Port == 0 {
		cfg.DevRelay.Port = defaults.DevRelay.Port
	}
	if cfg.DevRelay.Driver == "" {
		cfg.DevRelay.Driver = defaults.DevRelay.Driver
	}
	if cfg.DevRelay.SQLitePath == "" {
		cfg.DevRelay.SQLitePath = defaults.DevRelay.SQLitePath
	}
	if len(cfg.DevRelay.AllowedKinds) == 0 {
		cfg.DevRelay.AllowedKinds = defaults.DevRelay.AllowedKinds
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, then applies defaults and environment
// overrides. Validation is left to the caller because command-line flags may
// still fill in required fields such as widget.url.
func Parse(data []byte) (*Config, error) {
	// Fields whose zero value is meaningful are seeded before decoding so an
	// explicit "pow: 0" survives while an absent key keeps the default.
	defaults := Default()
	cfg := Config{
		Widget:  Widget{Pow: defaults.Widget.Pow},
		Caching: Caching{Enabled: defaults.Caching.Enabled},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) error {
	if nsec := os.Getenv("NOSTR_COMMENTS_NSEC"); nsec != "" {
		cfg.Identity.Nsec = nsec
	}
	if bunker := os.Getenv("NOSTR_COMMENTS_BUNKER"); bunker != "" {
		cfg.Identity.Bunker = bunker
	}

	// Redis URL from env if using redis
	if redisURL := os.Getenv("NOSTR_COMMENTS_REDIS_URL"); redisURL != "" {
		cfg.Caching.RedisURL = redisURL
	}

	return nil
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Widget: Widget{
			PageSize:       50,
			Pow:            18,
			EnabledSigners: []string{"extension", "bunker", "ephemeral"},
		},
		Relays: Relays{
			Defaults: []string{
				"wss://relay.damus.io/",
				"wss://nos.lol/",
				"wss://nostr.mom/",
			},
			Lookup: []string{
				"wss://purplepag.es",
				"wss://relay.damus.io",
				"wss://nos.lol",
			},
			Policy: RelayPolicy{
				ConnectTimeoutMs: 5000,
				QueryTimeoutMs:   10000,
				PublishTimeoutMs: 10000,
				EOSETimeoutMs:    8000,
			},
		},
		Pow: Pow{
			Workers: 1,
		},
		Sync: Sync{
			DebounceMs: 0,
		},
		Caching: Caching{
			Enabled:      true,
			Engine:       "memory",
			RelayListTTL: 3600,
		},
		DevRelay: DevRelay{
			Host:         "127.0.0.1",
			Port:         7447,
			Driver:       "memory",
			SQLitePath:   "./data/devrelay.db",
			MinPow:       0,
			AllowedKinds: []int{1111, 7, 10002},
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// validLogLevels defines allowed log levels
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validSigners defines the login mechanisms that may be enabled
var validSigners = map[string]bool{
	"extension": true,
	"bunker":    true,
	"ephemeral": true,
}

// validStorageDrivers defines allowed dev relay storage drivers
var validStorageDrivers = map[string]bool{
	"memory": true,
	"sqlite": true,
}

// validCacheEngines defines allowed cache engines
var validCacheEngines = map[string]bool{
	"memory": true,
	"redis":  true,
}

var hexPubkey = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Validate checks if a configuration is valid
func Validate(cfg *Config) error {
	if cfg.Widget.URL == "" {
		return fmt.Errorf("widget.url is required")
	}

	if cfg.Widget.Mention != "" && !hexPubkey.MatchString(cfg.Widget.Mention) {
		return fmt.Errorf("widget.mention must be a 64 character hex public key")
	}

	if cfg.Widget.PageSize < 1 || cfg.Widget.PageSize > 500 {
		return fmt.Errorf("widget.page_size must be between 1 and 500")
	}

	if cfg.Widget.Pow < 0 || cfg.Widget.Pow > 64 {
		return fmt.Errorf("widget.pow must be between 0 and 64")
	}

	for _, s := range cfg.Widget.EnabledSigners {
		if !validSigners[s] {
			return fmt.Errorf("invalid signer: %s (must be one of: extension, bunker, ephemeral)", s)
		}
	}

	for _, relay := range cfg.Widget.Relays {
		if err := validateRelayURL(relay); err != nil {
			return fmt.Errorf("widget.relays: %w", err)
		}
	}
	for _, relay := range cfg.Relays.Defaults {
		if err := validateRelayURL(relay); err != nil {
			return fmt.Errorf("relays.defaults: %w", err)
		}
	}
	if len(cfg.Relays.Defaults) < 3 {
		return fmt.Errorf("relays.defaults needs at least 3 relays")
	}

	if cfg.Pow.Workers < 1 {
		return fmt.Errorf("pow.workers must be at least 1")
	}

	if cfg.Caching.Enabled && !validCacheEngines[cfg.Caching.Engine] {
		return fmt.Errorf("invalid cache engine: %s (must be one of: memory, redis)", cfg.Caching.Engine)
	}
	if cfg.Caching.Enabled && cfg.Caching.Engine == "redis" && cfg.Caching.RedisURL == "" {
		return fmt.Errorf("caching.redis_url is required when caching.engine is redis")
	}

	if !validStorageDrivers[cfg.DevRelay.Driver] {
		return fmt.Errorf("invalid devrelay driver: %s (must be one of: memory, sqlite)", cfg.DevRelay.Driver)
	}
	if cfg.DevRelay.Port < 1 || cfg.DevRelay.Port > 65535 {
		return fmt.Errorf("devrelay port must be between 1 and 65535")
	}

	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", cfg.Logging.Level)
	}

	return nil
}

func validateRelayURL(relay string) error {
	if !strings.HasPrefix(relay, "wss://") && !strings.HasPrefix(relay, "ws://") {
		return fmt.Errorf("relay must start with ws:// or wss://: %s", relay)
	}
	return nil
}
