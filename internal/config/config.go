package config

import "time"

// Config is the root configuration for tunnelbot.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Tunnel    TunnelConfig    `yaml:"tunnel"`
	Liveness  LivenessConfig  `yaml:"liveness"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Database  DatabaseConfig  `yaml:"database"`
	MCP       MCPConfig       `yaml:"mcp"`
}

type ServerConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" or "text"
	LogFile   string `yaml:"log_file"`
}

type TelegramConfig struct {
	BotToken      string        `yaml:"bot_token"`
	APIURL        string        `yaml:"api_url"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	WebhookPath   string        `yaml:"webhook_path"`
	Timeout       time.Duration `yaml:"timeout"`
	NotifyChatIDs []int64       `yaml:"notify_chat_ids"`
}

type TunnelConfig struct {
	Provider    string        `yaml:"provider"` // "ngrok" or "agent"
	AuthToken   string        `yaml:"authtoken"`
	Domain      string        `yaml:"domain"`
	DefaultPort int           `yaml:"default_port"`
	Timeout     time.Duration `yaml:"timeout"`
	AgentAPIURL string        `yaml:"agent_api_url"`
}

type LivenessConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type BootstrapConfig struct {
	Attempts       int           `yaml:"attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	HistoryLimit  int    `yaml:"history_limit"`
}

type MCPConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Token     string `yaml:"token"`      // empty: generated and stored in SecretDir
	SecretDir string `yaml:"secret_dir"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		Telegram: TelegramConfig{
			APIURL:      "https://api.telegram.org",
			Host:        "127.0.0.1",
			Port:        5000,
			WebhookPath: "/webhook",
			Timeout:     10 * time.Second,
		},
		Tunnel: TunnelConfig{
			Provider:    "ngrok",
			DefaultPort: 5000,
			Timeout:     30 * time.Second,
			AgentAPIURL: "http://127.0.0.1:4040",
		},
		Liveness: LivenessConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Bootstrap: BootstrapConfig{
			Attempts:       3,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:          "~/.config/tunnelbot/tunnelbot.db",
			RetentionDays: 30,
			HistoryLimit:  10,
		},
		MCP: MCPConfig{
			Host:      "127.0.0.1",
			Port:      5001,
			Path:      "/mcp",
			SecretDir: "~/.config/tunnelbot",
		},
	}
}
