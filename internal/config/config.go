package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/ledgerctl/internal/protocol/session"
	"github.com/danmuck/ledgerctl/pkg/ledger"
	"github.com/pelletier/go-toml/v2"
)

// TLSFile holds the flat session_tls_* keys of ledgerctl.toml.
type TLSFile struct {
	SecurityMode       string `toml:"session_security_mode"`
	Enabled            bool   `toml:"session_tls_enabled"`
	Mutual             bool   `toml:"session_tls_mutual"`
	InsecureSkipVerify bool   `toml:"session_tls_insecure_skip_verify"`
	CertFile           string `toml:"session_tls_cert_file"`
	KeyFile            string `toml:"session_tls_key_file"`
	CAFile             string `toml:"session_tls_ca_file"`
	ServerName         string `toml:"session_tls_server_name"`
}

// ClientConfig is the ledgerctl.toml file model. ledgerd.toml is loaded by
// LoadLedgerd.
type ClientConfig struct {
	ClusterID          string   `toml:"cluster_id"`
	Addresses          []string `toml:"addresses"`
	ConcurrencyMax     int      `toml:"concurrency_max"`
	RequestTimeout     string   `toml:"request_timeout"`
	ConnectTimeout     string   `toml:"connect_timeout"`
	HeartbeatInterval  string   `toml:"heartbeat_interval"`
	MaxConnectAttempts int      `toml:"max_connect_attempts"`
	Output             string   `toml:"output"`
	HealthInterval     string   `toml:"health_interval"`
	HealthTimeout      string   `toml:"health_timeout"`
	HealthRetries      int      `toml:"health_retries"`
	TLSFile
}

func LoadClientConfig(path string) (ClientConfig, error) {
	var cfg ClientConfig
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if len(cfg.Addresses) == 0 {
		cfg.Addresses = []string{"3033"}
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	if err := validateClusterID(cfg.ClusterID); err != nil {
		return fmt.Errorf("ledgerctl config: %w", err)
	}
	if _, err := session.ParseAddresses(cfg.Addresses); err != nil {
		return fmt.Errorf("ledgerctl config: %w", err)
	}
	if cfg.ConcurrencyMax < 0 {
		return fmt.Errorf("ledgerctl config concurrency_max must not be negative")
	}
	for key, raw := range map[string]string{
		"request_timeout":    cfg.RequestTimeout,
		"connect_timeout":    cfg.ConnectTimeout,
		"heartbeat_interval": cfg.HeartbeatInterval,
		"health_interval":    cfg.HealthInterval,
		"health_timeout":     cfg.HealthTimeout,
	} {
		if _, err := parseDuration(key, raw); err != nil {
			return fmt.Errorf("ledgerctl config: %w", err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "json", "yaml":
	default:
		return fmt.Errorf("ledgerctl config output must be json or yaml, got %q", cfg.Output)
	}
	if err := cfg.TLSFile.apply(session.Config{}).ValidateClientTransport(); err != nil {
		return fmt.Errorf("ledgerctl config: %w", err)
	}
	return nil
}

func validateClusterID(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if _, err := ledger.ParseUint128(raw); err != nil {
		return fmt.Errorf("cluster_id: %w", err)
	}
	return nil
}

// parseDuration accepts an empty value as unset.
func parseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}
