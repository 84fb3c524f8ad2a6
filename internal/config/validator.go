package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateGame(&cfg.Game, result)
	validateReconnect(&cfg.Reconnect, result)
	validateProxy(&cfg.Proxy, cfg.Game.Variant, result)
	validateWorld(&cfg.World, result)
	validateRelay(&cfg.Relay, result)
	validateAPI(&cfg.API, result)
	validateLogging(&cfg.Logging, result)

	return result
}

func validateGame(g *GameConfig, result *ValidationResult) {
	switch strings.ToLower(g.Variant) {
	case "bz98r", "websocket", "ws", "bzcc", "raknet", "udp":
	case "":
		result.AddError("game.variant", "game variant is required")
	default:
		result.AddError("game.variant", fmt.Sprintf("unknown variant %q (want bz98r or bzcc)", g.Variant))
	}

	if g.Address != "" {
		if _, _, err := net.SplitHostPort(g.Address); err != nil {
			result.AddError("game.address", fmt.Sprintf("not a host:port address: %v", err))
		}
	}

	if strings.TrimSpace(g.PlayerName) == "" {
		result.AddError("game.player_name", "player name is required")
	}

	isWS := g.Variant == "" || strings.ToLower(g.Variant) == "bz98r" ||
		strings.ToLower(g.Variant) == "websocket" || strings.ToLower(g.Variant) == "ws"
	if isWS && strings.TrimSpace(g.AuthKey) == "" {
		result.AddWarning("game.auth_key",
			"no auth key set; the directory server may reject anonymous sessions")
	}

	if g.HeartbeatIntervalSec < 1 {
		result.AddError("game.heartbeat_interval_sec", "must be at least 1 second")
	}
	if g.HeartbeatTimeoutSec <= g.HeartbeatIntervalSec {
		result.AddWarning("game.heartbeat_timeout_sec",
			"timeout should exceed the heartbeat interval or every quiet period degrades the session")
	}
}

func validateReconnect(r *ReconnectConfig, result *ValidationResult) {
	if !r.Enabled {
		return
	}
	if r.BaseDelaySec < 1 {
		result.AddError("reconnect.base_delay_sec", "must be at least 1 second")
	}
	if r.MaxDelaySec < r.BaseDelaySec {
		result.AddError("reconnect.max_delay_sec", "must be at least the base delay")
	}
	if r.MaxAttempts < 0 {
		result.AddError("reconnect.max_attempts", "must be 0 (unlimited) or positive")
	}
}

func validateProxy(p *ProxyConfig, variant string, result *ValidationResult) {
	if !p.Enabled {
		return
	}
	if strings.TrimSpace(p.Address) == "" {
		result.AddError("proxy.address", "proxy address is required when the proxy is enabled")
	} else if _, _, err := net.SplitHostPort(p.Address); err != nil {
		result.AddError("proxy.address", fmt.Sprintf("not a host:port address: %v", err))
	}

	switch strings.ToLower(variant) {
	case "bzcc", "raknet", "udp":
		result.AddError("proxy.enabled",
			"SOCKS5 cannot relay the BZCC UDP transport; the session would refuse to connect")
	}
}

func validateWorld(w *WorldConfig, result *ValidationResult) {
	if w.StaleThreshold < 1 {
		result.AddError("world.stale_threshold", "must be at least 1")
	}
	if w.ChatCapacity < 1 {
		result.AddError("world.chat_capacity", "must be at least 1")
	}
	if w.ChatCapacity > 100000 {
		result.AddWarning("world.chat_capacity",
			fmt.Sprintf("very large chat buffer (%d) per lobby", w.ChatCapacity))
	}
}

func validateRelay(r *RelayConfig, result *ValidationResult) {
	if !r.Enabled {
		return
	}
	if strings.TrimSpace(r.BrokerURL) == "" {
		result.AddError("relay.broker_url", "MQTT broker URL is required when the relay is enabled")
	}
	if r.Port < 1 || r.Port > 65535 {
		result.AddError("relay.port", fmt.Sprintf("invalid port %d", r.Port))
	}
	if strings.TrimSpace(r.ClientID) == "" {
		result.AddError("relay.client_id", "MQTT client id is required")
	}
}

func validateAPI(a *APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	if a.Port < 1 || a.Port > 65535 {
		result.AddError("api.port", fmt.Sprintf("invalid port %d", a.Port))
	}
}

func validateLogging(l *LoggingConfig, result *ValidationResult) {
	switch strings.ToLower(l.Level) {
	case "trace", "debug", "info", "warn", "error", "":
	default:
		result.AddError("logging.level", fmt.Sprintf("unknown log level %q", l.Level))
	}
}
