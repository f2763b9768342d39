package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/ledgerctl/internal/ledgerd"
	"github.com/danmuck/ledgerctl/internal/protocol/session"
)

// ledgerd.toml key mapping to replica runtime settings.
type ledgerdFile struct {
	ID                      string   `toml:"id"`
	ClusterID               string   `toml:"cluster_id"`
	Addr                    string   `toml:"addr"`
	AdminListenAddr         string   `toml:"admin_listen_addr"`
	CorsOrigins             []string `toml:"cors_origins"`
	DataPath                string   `toml:"data_path"`
	ReplyCacheMax           int      `toml:"reply_cache_max"`
	PulseInterval           string   `toml:"pulse_interval"`
	BatchPayloadMax         uint32   `toml:"batch_payload_max"`
	SessionHandshakeTimeout string   `toml:"session_handshake_timeout"`
	SessionReadTimeout      string   `toml:"session_read_timeout"`
	SessionWriteTimeout     string   `toml:"session_write_timeout"`
	SessionSecurityMode     string   `toml:"session_security_mode"`
	SessionTLSEnabled       bool     `toml:"session_tls_enabled"`
	SessionTLSMutual        bool     `toml:"session_tls_mutual"`
	SessionTLSCertFile      string   `toml:"session_tls_cert_file"`
	SessionTLSKeyFile       string   `toml:"session_tls_key_file"`
	SessionTLSCAFile        string   `toml:"session_tls_ca_file"`
}

// Ledgerd is the effective replica configuration.
type Ledgerd struct {
	Service ledgerd.ServiceConfig
	// DataPath names the SQLite journal; empty keeps state in memory.
	DataPath string
}

func DefaultLedgerd() Ledgerd {
	return Ledgerd{Service: ledgerd.DefaultServiceConfig()}
}

// LoadLedgerd overlays the keys set in path onto DefaultLedgerd and
// validates the result. Unknown keys are rejected.
func LoadLedgerd(path string) (Ledgerd, error) {
	cfg := DefaultLedgerd()

	var raw ledgerdFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Ledgerd{}, fmt.Errorf("ledgerd config parse failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Ledgerd{}, fmt.Errorf("ledgerd config unknown keys: %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("id") {
		id := strings.TrimSpace(raw.ID)
		if id == "" {
			return Ledgerd{}, fmt.Errorf("ledgerd config id must not be empty")
		}
		cfg.Service.ReplicaID = id
	}
	if meta.IsDefined("cluster_id") {
		cluster, err := parseClusterID(raw.ClusterID)
		if err != nil {
			return Ledgerd{}, fmt.Errorf("ledgerd config cluster_id: %w", err)
		}
		cfg.Service.ClusterID = cluster
	}
	if meta.IsDefined("addr") {
		addr := strings.TrimSpace(raw.Addr)
		if addr == "" {
			return Ledgerd{}, fmt.Errorf("ledgerd config addr must not be empty")
		}
		cfg.Service.ListenAddr = addr
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.Service.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.Service.CORSOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("data_path") {
		cfg.DataPath = strings.TrimSpace(raw.DataPath)
	}
	if meta.IsDefined("reply_cache_max") {
		if raw.ReplyCacheMax <= 0 {
			return Ledgerd{}, fmt.Errorf("ledgerd config reply_cache_max must be positive, got %d", raw.ReplyCacheMax)
		}
		cfg.Service.ReplyCacheMax = raw.ReplyCacheMax
	}
	if meta.IsDefined("batch_payload_max") {
		if raw.BatchPayloadMax == 0 || raw.BatchPayloadMax > cfg.Service.Limits.MaxPayloadBytes {
			return Ledgerd{}, fmt.Errorf("ledgerd config batch_payload_max must be in 1..%d, got %d",
				cfg.Service.Limits.MaxPayloadBytes, raw.BatchPayloadMax)
		}
		cfg.Service.Limits.MaxPayloadBytes = raw.BatchPayloadMax
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"pulse_interval", raw.PulseInterval, &cfg.Service.PulseInterval},
		{"session_handshake_timeout", raw.SessionHandshakeTimeout, &cfg.Service.Session.HandshakeTimeout},
		{"session_read_timeout", raw.SessionReadTimeout, &cfg.Service.Session.ReadTimeout},
		{"session_write_timeout", raw.SessionWriteTimeout, &cfg.Service.Session.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Ledgerd{}, fmt.Errorf("ledgerd config parse %s: %w", d.key, err)
		}
		if v <= 0 {
			return Ledgerd{}, fmt.Errorf("ledgerd config %s must be positive, got %s", d.key, v)
		}
		*d.dst = v
	}

	if meta.IsDefined("session_security_mode") {
		cfg.Service.Session.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(raw.SessionSecurityMode))
	}
	if meta.IsDefined("session_tls_enabled") {
		cfg.Service.Session.TLS.Enabled = raw.SessionTLSEnabled
	}
	if meta.IsDefined("session_tls_mutual") {
		cfg.Service.Session.TLS.Mutual = raw.SessionTLSMutual
	}
	if meta.IsDefined("session_tls_cert_file") {
		cfg.Service.Session.TLS.CertFile = strings.TrimSpace(raw.SessionTLSCertFile)
	}
	if meta.IsDefined("session_tls_key_file") {
		cfg.Service.Session.TLS.KeyFile = strings.TrimSpace(raw.SessionTLSKeyFile)
	}
	if meta.IsDefined("session_tls_ca_file") {
		cfg.Service.Session.TLS.CAFile = strings.TrimSpace(raw.SessionTLSCAFile)
	}

	cfg.Service.Session = cfg.Service.Session.WithDefaults()
	if err := cfg.Service.Session.ValidateServerTransport(); err != nil {
		return Ledgerd{}, fmt.Errorf("ledgerd config: %w", err)
	}
	return cfg, nil
}
