// Package config handles configuration loading, validation, and persistence
// for the lobby monitor.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5080

	// Official Rebellion directory servers.
	DefaultBZ98RAddress = "battlezone98mp.webdev.rebellion.co.uk:1337"
	DefaultBZCCAddress  = "battlezone99mp.webdev.rebellion.co.uk:61111"
)

// Config is the root configuration structure for the monitor.
type Config struct {
	mu   sync.RWMutex
	path string

	Game        GameConfig        `json:"game"`
	Reconnect   ReconnectConfig   `json:"reconnect"`
	Proxy       ProxyConfig       `json:"proxy"`
	World       WorldConfig       `json:"world"`
	Relay       RelayConfig       `json:"relay"`
	Greeter     GreeterConfig     `json:"greeter"`
	History     HistoryConfig     `json:"history"`
	API         APIConfig         `json:"api"`
	Logging     LoggingConfig     `json:"logging"`
}

// GameConfig selects the game variant and the player identity used when
// authorizing with the directory server.
type GameConfig struct {
	// Variant is "bz98r" (WebSocket) or "bzcc" (RakNet UDP).
	Variant string `json:"variant"`
	// Address overrides the variant's default directory server.
	Address    string `json:"address"`
	PlayerName string `json:"player_name"`
	// AuthKey is the platform account key sent in the Authorization
	// request, e.g. "S<steamid>" or "G<gogid>".
	AuthKey string `json:"auth_key"`

	HeartbeatIntervalSec int `json:"heartbeat_interval_sec"`
	HeartbeatTimeoutSec  int `json:"heartbeat_timeout_sec"`
	DegradedGraceSec     int `json:"degraded_grace_sec"`
}

// ReconnectConfig controls the reconnect supervisor.
type ReconnectConfig struct {
	Enabled      bool `json:"enabled"`
	BaseDelaySec int  `json:"base_delay_sec"`
	MaxDelaySec  int  `json:"max_delay_sec"`
	// MaxAttempts of 0 retries forever.
	MaxAttempts int `json:"max_attempts"`
}

// ProxyConfig holds SOCKS5 proxy settings. When Enabled, traffic either
// goes through the proxy or does not flow at all.
type ProxyConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Username string `json:"username"`
	Password string `json:"password"`
	// VerifyOnStart probes the proxy before the first connect.
	VerifyOnStart bool `json:"verify_on_start"`
}

// WorldConfig tunes the in-memory world model.
type WorldConfig struct {
	// StaleThreshold is how many consecutive full list updates a lobby
	// may be absent from before it is removed.
	StaleThreshold int `json:"stale_threshold"`
	// ChatCapacity is the retained chat lines per lobby.
	ChatCapacity int `json:"chat_capacity"`
}

// RelayConfig holds MQTT chat relay settings.
type RelayConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	ClientID  string `json:"client_id"`
	// TopicPrefix namespaces the published topics, e.g. "bzmonitor".
	TopicPrefix string `json:"topic_prefix"`
}

// GreeterConfig holds automated lobby responses.
type GreeterConfig struct {
	Enabled  bool   `json:"enabled"`
	Greeting string `json:"greeting"`
	// AnnounceIntervalSec of 0 disables periodic announcements.
	AnnounceIntervalSec int      `json:"announce_interval_sec"`
	Announcements       []string `json:"announcements"`
}

// HistoryConfig holds the SQLite history recorder settings.
type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	// RetentionDays of 0 keeps history forever.
	RetentionDays int `json:"retention_days"`
}

// APIConfig holds the REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// LoggingConfig holds logging configuration. Files rotate when they
// exceed MaxSizeMB; the newest MaxBackups files are kept.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Game: GameConfig{
			Variant:              "bz98r",
			PlayerName:           "LobbyMonitor",
			HeartbeatIntervalSec: 20,
			HeartbeatTimeoutSec:  45,
			DegradedGraceSec:     30,
		},
		Reconnect: ReconnectConfig{
			Enabled:      true,
			BaseDelaySec: 1,
			MaxDelaySec:  30,
			MaxAttempts:  0,
		},
		Proxy: ProxyConfig{
			VerifyOnStart: true,
		},
		World: WorldConfig{
			StaleThreshold: 2,
			ChatCapacity:   500,
		},
		Relay: RelayConfig{
			Port:        1883,
			ClientID:    "bzmonitor",
			TopicPrefix: "bzmonitor",
		},
		Greeter: GreeterConfig{
			Greeting: "Welcome to the lobby, %s!",
		},
		History: HistoryConfig{
			Path:          filepath.Join("data", "history.db"),
			RetentionDays: 30,
		},
		API: APIConfig{
			Enabled: true,
			Port:    DefaultAPIPort,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			Console:    true,
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save config to persist any new default fields added in code updates.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// ServerAddress returns the configured directory address, falling back
// to the variant's official server.
func (c *Config) ServerAddress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Game.Address != "" {
		return c.Game.Address
	}
	if c.Game.Variant == "bzcc" || c.Game.Variant == "raknet" || c.Game.Variant == "udp" {
		return DefaultBZCCAddress
	}
	return DefaultBZ98RAddress
}

// GetGame returns a copy of the game configuration.
func (c *Config) GetGame() GameConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Game
}

// GetRelay returns a copy of the relay configuration.
func (c *Config) GetRelay() RelayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Relay
}

// SetGame updates the game configuration.
func (c *Config) SetGame(g GameConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Game = g
}
