package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// searchPaths returns the ordered list of config file locations to try.
func searchPaths() []string {
	paths := []string{
		"/etc/tunnelbot/tunnelbot.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tunnelbot", "tunnelbot.yaml"))
	}

	paths = append(paths, "tunnelbot.yaml")

	if envPath := os.Getenv("TUNNELBOT_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}

	return paths
}

// Load reads configuration from YAML files and environment variables.
// Files are loaded in order (each overrides the previous):
// /etc/tunnelbot/tunnelbot.yaml < ~/.config/tunnelbot/tunnelbot.yaml < ./tunnelbot.yaml < $TUNNELBOT_CONFIG
func Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range searchPaths() {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadFile(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables have higher priority than YAML config values; the
// TUNNELBOT_ prefixed names win over the bare ones.
func applyEnvOverrides(cfg *Config) {
	if token := firstEnv("TUNNELBOT_BOT_TOKEN", "BOT_TOKEN"); token != "" {
		cfg.Telegram.BotToken = token
	}
	if token := firstEnv("TUNNELBOT_NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN"); token != "" {
		cfg.Tunnel.AuthToken = token
	}
	if token := os.Getenv("TUNNELBOT_MCP_TOKEN"); token != "" {
		cfg.MCP.Token = token
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config search paths
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	slog.Debug("loading config file", "path", path)

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

func validate(cfg *Config) error {
	if cfg.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required (set it in config or the BOT_TOKEN env var)")
	}

	switch cfg.Tunnel.Provider {
	case "ngrok":
		if cfg.Tunnel.AuthToken == "" {
			return fmt.Errorf("tunnel.authtoken is required (set it in config or the NGROK_AUTH_TOKEN env var)")
		}
	case "agent":
	default:
		return fmt.Errorf("tunnel.provider must be \"ngrok\" or \"agent\", got %q", cfg.Tunnel.Provider)
	}

	if !validPort(cfg.Telegram.Port) {
		return fmt.Errorf("telegram.port must be between 1 and 65535, got %d", cfg.Telegram.Port)
	}
	if !validPort(cfg.Tunnel.DefaultPort) {
		return fmt.Errorf("tunnel.default_port must be between 1 and 65535, got %d", cfg.Tunnel.DefaultPort)
	}
	if !validPort(cfg.Liveness.Port) {
		return fmt.Errorf("liveness.port must be between 1 and 65535, got %d", cfg.Liveness.Port)
	}
	if cfg.Liveness.Port == cfg.Telegram.Port {
		return fmt.Errorf("liveness.port must differ from telegram.port (%d)", cfg.Telegram.Port)
	}
	if cfg.Liveness.Port == cfg.Tunnel.DefaultPort {
		return fmt.Errorf("liveness.port must differ from tunnel.default_port (%d)", cfg.Tunnel.DefaultPort)
	}

	if !strings.HasPrefix(cfg.Telegram.WebhookPath, "/") {
		return fmt.Errorf("telegram.webhook_path must start with /, got %q", cfg.Telegram.WebhookPath)
	}
	if cfg.MCP.Enabled && !strings.HasPrefix(cfg.MCP.Path, "/") {
		return fmt.Errorf("mcp.path must start with /, got %q", cfg.MCP.Path)
	}
	if cfg.MCP.Enabled {
		if !validPort(cfg.MCP.Port) {
			return fmt.Errorf("mcp.port must be between 1 and 65535, got %d", cfg.MCP.Port)
		}
		for _, p := range []struct {
			name string
			port int
		}{
			{"telegram.port", cfg.Telegram.Port},
			{"tunnel.default_port", cfg.Tunnel.DefaultPort},
			{"liveness.port", cfg.Liveness.Port},
		} {
			if cfg.MCP.Port == p.port {
				return fmt.Errorf("mcp.port must differ from %s (%d)", p.name, p.port)
			}
		}
	}

	if cfg.Tunnel.Timeout <= 0 {
		return fmt.Errorf("tunnel.timeout must be positive")
	}
	if cfg.Bootstrap.Attempts < 1 {
		return fmt.Errorf("bootstrap.attempts must be at least 1")
	}

	switch cfg.Server.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("server.log_format must be \"json\" or \"text\", got %q", cfg.Server.LogFormat)
	}

	cfg.Database.Path = ExpandHome(cfg.Database.Path)
	cfg.MCP.SecretDir = ExpandHome(cfg.MCP.SecretDir)

	return nil
}
