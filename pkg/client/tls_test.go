package client

import (
	"context"
	"crypto/tls"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/ledgerctl/internal/ledgerd"
	"github.com/danmuck/ledgerctl/internal/protocol/session"
	"github.com/danmuck/ledgerctl/internal/testutil/testlog"
	"github.com/danmuck/ledgerctl/internal/testutil/tlstest"
	"github.com/danmuck/ledgerctl/pkg/ledger"
)

func startTLSReplica(t *testing.T, pki *tlstest.PKI) string {
	t.Helper()
	cfg := ledgerd.DefaultServiceConfig()
	cfg.Session.SecurityMode = session.SecurityModeProduction
	cfg.Session.TLS = pki.ServerTLS(t, true)
	if err := cfg.Session.ValidateServerTransport(); err != nil {
		t.Fatalf("server transport: %v", err)
	}
	tlsCfg, err := cfg.Session.ServerTLSConfig()
	if err != nil {
		t.Fatalf("server tls config: %v", err)
	}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", tlsCfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	svc := ledgerd.NewService(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func TestClientMutualTLS(t *testing.T) {
	testlog.Start(t)
	pki := tlstest.New(t)
	addr := startTLSReplica(t, pki)

	cfg := Config{Addresses: []string{addr}, Session: session.DefaultConfig()}
	cfg.Session.SecurityMode = session.SecurityModeProduction
	cfg.Session.TLS = pki.ClientTLS(t, true)
	c := newTestClient(t, cfg)

	results, err := c.CreateAccounts(context.Background(), []ledger.Account{{ID: u(1), Ledger: 1, Code: 1}})
	if err != nil || results[0].Result != ledger.AccountOK {
		t.Fatalf("create over tls results=%+v err=%v", results, err)
	}
}

func TestClientTLSWithoutCertificateFails(t *testing.T) {
	testlog.Start(t)
	pki := tlstest.New(t)
	addr := startTLSReplica(t, pki)

	cfg := Config{Addresses: []string{addr}, Session: session.DefaultConfig()}
	cfg.Session.TLS = pki.ClientTLS(t, false)
	cfg.Session.MaxConnectAttempts = 2
	cfg.Session.RequestTimeout = 5 * time.Second
	cfg.Session.Backoff.InitialDelay = 10 * time.Millisecond
	cfg.Session.Backoff.MaxDelay = 20 * time.Millisecond
	c := newTestClient(t, cfg)

	if err := c.Ping(context.Background()); !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("ping err=%v", err)
	}
}

func TestClientProductionModeRequiresMutualTLS(t *testing.T) {
	testlog.Start(t)
	cfg := Config{Addresses: []string{"3033"}, Session: session.DefaultConfig()}
	cfg.Session.SecurityMode = session.SecurityModeProduction
	if _, err := NewClient(cfg); !errors.Is(err, session.ErrTLSRequired) {
		t.Fatalf("err=%v", err)
	}
}
