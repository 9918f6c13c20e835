package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Transport modes accepted in [server] transport.
const (
	TransportTLS = "tls"
	TransportPSK = "psk"
)

// TOMLConfig mirrors the on-disk server.toml layout.
type TOMLConfig struct {
	Server struct {
		Host        string `toml:"host"`
		Port        int    `toml:"port"`
		Transport   string `toml:"transport"`
		CertFile    string `toml:"cert_file"`
		KeyFile     string `toml:"key_file"`
		PSKFile     string `toml:"psk_file"`
		HTTPPort    int    `toml:"http_port"`
		MetricsPort int    `toml:"metrics_port"`
	} `toml:"server"`
	Limits struct {
		MaxNameLength int `toml:"max_name_length"`
	} `toml:"limits"`
}

// ServerConfig is the runtime configuration after TOML parsing and
// environment overrides are applied.
type ServerConfig struct {
	Host          string
	Port          int
	Transport     string
	CertFile      string
	KeyFile       string
	PSKFile       string
	HTTPPort      int
	MetricsPort   int
	MaxNameLength int
}

// DefaultTOMLConfig returns the configuration written on first run.
func DefaultTOMLConfig() TOMLConfig {
	var cfg TOMLConfig
	cfg.Server.Host = ""
	cfg.Server.Port = 9090
	cfg.Server.Transport = TransportTLS
	cfg.Server.CertFile = "server.crt"
	cfg.Server.KeyFile = "server.key"
	cfg.Server.PSKFile = "securechat.key"
	cfg.Server.HTTPPort = 8080
	cfg.Server.MetricsPort = 9091
	cfg.Limits.MaxNameLength = 32
	return cfg
}

// LoadConfig reads configPath, creating it with defaults when missing,
// and applies SECURECHAT_* environment overrides on top.
func LoadConfig(configPath string) (ServerConfig, error) {
	cfg := DefaultTOMLConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeDefaultConfig(configPath, cfg); err != nil {
			return ServerConfig{}, fmt.Errorf("write default config: %w", err)
		}
	} else if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("parse %s: %w", configPath, err)
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.Transport != TransportTLS && cfg.Server.Transport != TransportPSK {
		return ServerConfig{}, fmt.Errorf("unknown transport %q (want %q or %q)",
			cfg.Server.Transport, TransportTLS, TransportPSK)
	}
	if cfg.Limits.MaxNameLength < 1 {
		return ServerConfig{}, fmt.Errorf("max_name_length must be positive, got %d", cfg.Limits.MaxNameLength)
	}

	return ServerConfig{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		Transport:     cfg.Server.Transport,
		CertFile:      cfg.Server.CertFile,
		KeyFile:       cfg.Server.KeyFile,
		PSKFile:       cfg.Server.PSKFile,
		HTTPPort:      cfg.Server.HTTPPort,
		MetricsPort:   cfg.Server.MetricsPort,
		MaxNameLength: cfg.Limits.MaxNameLength,
	}, nil
}

func writeDefaultConfig(configPath string, cfg TOMLConfig) error {
	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(configPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func applyEnvOverrides(cfg *TOMLConfig) {
	cfg.Server.Host = getEnvString("SECURECHAT_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SECURECHAT_PORT", cfg.Server.Port)
	cfg.Server.Transport = getEnvString("SECURECHAT_TRANSPORT", cfg.Server.Transport)
	cfg.Server.CertFile = getEnvString("SECURECHAT_CERT_FILE", cfg.Server.CertFile)
	cfg.Server.KeyFile = getEnvString("SECURECHAT_KEY_FILE", cfg.Server.KeyFile)
	cfg.Server.PSKFile = getEnvString("SECURECHAT_PSK_FILE", cfg.Server.PSKFile)
	cfg.Server.HTTPPort = getEnvInt("SECURECHAT_HTTP_PORT", cfg.Server.HTTPPort)
	cfg.Server.MetricsPort = getEnvInt("SECURECHAT_METRICS_PORT", cfg.Server.MetricsPort)
	cfg.Limits.MaxNameLength = getEnvInt("SECURECHAT_MAX_NAME_LENGTH", cfg.Limits.MaxNameLength)
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
