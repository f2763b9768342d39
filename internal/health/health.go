// Package health polls a replica port until it answers, with a fixed interval,
// a per-attempt timeout and a bounded number of attempts.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/danmuck/ledgerctl/internal/logging"
	"github.com/sethvargo/go-retry"
)

var (
	ErrUnhealthy     = errors.New("health: unhealthy")
	ErrInvalidPolicy = errors.New("health: invalid policy")
)

// Policy mirrors a container health check: probe every Interval, give each
// attempt Timeout, and report unhealthy after Retries consecutive failures.
type Policy struct {
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

func DefaultPolicy() Policy {
	return Policy{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  5,
	}
}

func (p Policy) Validate() error {
	if p.Interval < 0 {
		return fmt.Errorf("%w: negative interval", ErrInvalidPolicy)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidPolicy)
	}
	if p.Retries < 1 {
		return fmt.Errorf("%w: retries must be at least 1", ErrInvalidPolicy)
	}
	return nil
}

// Check performs one probe attempt against addr.
type Check func(ctx context.Context, addr string) error

// Report describes a finished probe.
type Report struct {
	Addr     string
	Attempts int
	Elapsed  time.Duration
}

// DialCheck succeeds when addr accepts a TCP connection.
func DialCheck(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Probe runs DialCheck against addr under policy.
func Probe(ctx context.Context, addr string, policy Policy) (Report, error) {
	return ProbeWith(ctx, addr, policy, DialCheck)
}

// ProbeWith runs check until it succeeds or policy.Retries attempts have
// failed, in which case the error wraps ErrUnhealthy and the last failure.
func ProbeWith(ctx context.Context, addr string, policy Policy, check Check) (Report, error) {
	report := Report{Addr: addr}
	if err := policy.Validate(); err != nil {
		return report, err
	}
	start := time.Now()
	backoff := retry.WithMaxRetries(uint64(policy.Retries-1), retry.NewConstant(policy.Interval))

	var last error
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		report.Attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
		if err := check(attemptCtx, addr); err != nil {
			last = err
			logging.Debugf("health.Probe addr=%s attempt=%d err=%v", addr, report.Attempts, err)
			return retry.RetryableError(err)
		}
		return nil
	})
	report.Elapsed = time.Since(start)
	if err == nil {
		logging.Debugf("health.Probe addr=%s healthy attempts=%d", addr, report.Attempts)
		return report, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return report, ctxErr
	}
	if last == nil {
		last = err
	}
	return report, fmt.Errorf("%w: %s after %d attempts: %w", ErrUnhealthy, addr, report.Attempts, last)
}
