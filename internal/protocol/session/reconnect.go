package session

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPort  = 3033
	DefaultHost  = "127.0.0.1"
	AddressesMax = 6
)

var (
	ErrAddressInvalid       = errors.New("session: invalid address")
	ErrAddressLimitExceeded = errors.New("session: address limit exceeded")
)

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// ParseAddresses normalizes replica addresses. Entries may be comma separated.
// A bare port dials the loopback host and a bare host dials DefaultPort.
func ParseAddresses(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			addr, err := parseAddress(part)
			if err != nil {
				return nil, err
			}
			out = append(out, addr)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no addresses", ErrAddressInvalid)
	}
	if len(out) > AddressesMax {
		return nil, fmt.Errorf("%w: %d > %d", ErrAddressLimitExceeded, len(out), AddressesMax)
	}
	return out, nil
}

func parseAddress(raw string) (string, error) {
	if port, err := strconv.Atoi(raw); err == nil {
		if port <= 0 || port > math.MaxUint16 {
			return "", fmt.Errorf("%w: port %q", ErrAddressInvalid, raw)
		}
		return net.JoinHostPort(DefaultHost, raw), nil
	}
	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		if strings.Contains(err.Error(), "missing port") {
			return net.JoinHostPort(strings.Trim(raw, "[]"), strconv.Itoa(DefaultPort)), nil
		}
		return "", fmt.Errorf("%w: %q: %v", ErrAddressInvalid, raw, err)
	}
	if host == "" {
		host = DefaultHost
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > math.MaxUint16 {
		return "", fmt.Errorf("%w: port %q", ErrAddressInvalid, port)
	}
	return net.JoinHostPort(host, port), nil
}
