package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "ledgerd":
		return ledgerdTemplate, nil
	case "ledgerctl", "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path as kind and reports the first problem found.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "ledgerd":
		_, err := LoadLedgerd(path)
		return err
	case "ledgerctl", "client":
		_, err := LoadClientConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const ledgerdTemplate = `id = "replica.local"
cluster_id = "0"
addr = "0.0.0.0:3033"
admin_listen_addr = "127.0.0.1:7033"
cors_origins = ["http://localhost:3000"]
data_path = "ledger.db"
reply_cache_max = 8192
pulse_interval = "1s"
session_security_mode = "development"
session_tls_enabled = false
`

const clientTemplate = `cluster_id = "0"
addresses = ["127.0.0.1:3033"]
concurrency_max = 8192
request_timeout = "30s"
connect_timeout = "5s"
heartbeat_interval = "5s"
max_connect_attempts = 0
output = "json"
health_interval = "30s"
health_timeout = "10s"
health_retries = 5
session_security_mode = "development"
session_tls_enabled = false
`
