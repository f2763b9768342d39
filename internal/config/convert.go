package config

import (
	"strings"
	"time"

	"github.com/danmuck/ledgerctl/internal/health"
	"github.com/danmuck/ledgerctl/internal/protocol/session"
	"github.com/danmuck/ledgerctl/pkg/client"
	"github.com/danmuck/ledgerctl/pkg/ledger"
)

// apply overlays the TLS keys onto cfg.
func (f TLSFile) apply(cfg session.Config) session.Config {
	if strings.TrimSpace(f.SecurityMode) != "" {
		cfg.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(f.SecurityMode))
	}
	cfg.TLS = session.TLSConfig{
		Enabled:            f.Enabled,
		Mutual:             f.Mutual,
		InsecureSkipVerify: f.InsecureSkipVerify,
		CertFile:           strings.TrimSpace(f.CertFile),
		KeyFile:            strings.TrimSpace(f.KeyFile),
		CAFile:             strings.TrimSpace(f.CAFile),
		ServerName:         strings.TrimSpace(f.ServerName),
	}
	return cfg
}

func parseClusterID(raw string) (ledger.Uint128, error) {
	if strings.TrimSpace(raw) == "" {
		return ledger.Uint128{}, nil
	}
	return ledger.ParseUint128(raw)
}

// ClientOptions converts the file model to client and health settings.
func (c ClientConfig) ClientOptions() (client.Config, health.Policy, error) {
	cfg := client.DefaultConfig()
	policy := health.DefaultPolicy()
	cluster, err := parseClusterID(c.ClusterID)
	if err != nil {
		return client.Config{}, health.Policy{}, err
	}
	cfg.ClusterID = cluster
	if len(c.Addresses) > 0 {
		cfg.Addresses = c.Addresses
	}
	if c.ConcurrencyMax > 0 {
		cfg.ConcurrencyMax = c.ConcurrencyMax
	}
	if c.MaxConnectAttempts > 0 {
		cfg.Session.MaxConnectAttempts = c.MaxConnectAttempts
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"request_timeout", c.RequestTimeout, &cfg.Session.RequestTimeout},
		{"connect_timeout", c.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"heartbeat_interval", c.HeartbeatInterval, &cfg.Session.HeartbeatInterval},
		{"health_interval", c.HealthInterval, &policy.Interval},
		{"health_timeout", c.HealthTimeout, &policy.Timeout},
	}
	for _, d := range durations {
		v, err := parseDuration(d.key, d.raw)
		if err != nil {
			return client.Config{}, health.Policy{}, err
		}
		if v > 0 {
			*d.dst = v
		}
	}
	if c.HealthRetries > 0 {
		policy.Retries = c.HealthRetries
	}
	cfg.Session = c.TLSFile.apply(cfg.Session)
	return cfg, policy, nil
}
