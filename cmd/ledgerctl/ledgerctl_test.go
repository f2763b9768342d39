package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/ledgerctl/internal/ledgerd"
	"github.com/danmuck/ledgerctl/pkg/ledger"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

func startReplica(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	svc := ledgerd.NewService(ledgerd.DefaultServiceConfig(), nil)
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

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCreateAndLookupAccounts(t *testing.T) {
	addr := startReplica(t)
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	content := `
- id: 1
  ledger: 1
  code: 10
  flags: 8
- id: "2"
  ledger: 1
  code: 10
- id: "0x03"
  ledger: 1
  code: 0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write accounts: %v", err)
	}

	out, err := runCLI(t, "", "--addresses", addr, "create-accounts", "--file", path)
	if err != nil {
		t.Fatalf("create-accounts: %v", err)
	}
	var results []resultView
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode results: %v\n%s", err, out)
	}
	if len(results) != 3 || results[0].Result != "ok" || results[2].Result != "code_must_not_be_zero" {
		t.Fatalf("unexpected results: %+v", results)
	}

	out, err = runCLI(t, "", "-a", addr, "create-accounts", "--failed-only", "-f", path)
	if err != nil {
		t.Fatalf("second create-accounts: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &results); err != nil || len(results) != 3 || results[0].Result != "exists" {
		t.Fatalf("unexpected failed-only results: %+v err=%v", results, err)
	}

	out, err = runCLI(t, "", "-a", addr, "lookup-accounts", "1", "2", "3")
	if err != nil {
		t.Fatalf("lookup-accounts: %v", err)
	}
	var accounts []ledger.Account
	if err := json.Unmarshal([]byte(out), &accounts); err != nil {
		t.Fatalf("decode accounts: %v\n%s", err, out)
	}
	if len(accounts) != 2 || accounts[0].ID != ledger.ToUint128(1) || accounts[0].Flags != ledger.AccountFlagHistory {
		t.Fatalf("unexpected accounts: %+v", accounts)
	}
}

func TestReadEventsKeepsWideYAMLIntegers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transfers.yaml")
	content := `
- id: 18446744073709551616
  debit_account_id: 1
  credit_account_id: "2"
  amount: 340282366920938463463374607431768211455
  ledger: 1
  code: 7
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write transfers: %v", err)
	}
	transfers, err := readEvents[ledger.Transfer](nil, path)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(transfers) != 1 {
		t.Fatalf("transfers=%+v", transfers)
	}
	got := transfers[0]
	if got.ID != (ledger.Uint128{Hi: 1}) || got.Amount != ledger.MaxUint128 {
		t.Fatalf("wide values lost: id=%s amount=%s", got.ID, got.Amount)
	}
	if got.DebitAccountID != ledger.ToUint128(1) || got.CreditAccountID != ledger.ToUint128(2) || got.Code != 7 {
		t.Fatalf("unexpected transfer: %+v", got)
	}
}

func TestTransfersAndHistory(t *testing.T) {
	addr := startReplica(t)
	if _, err := runCLI(t, `[{"id":1,"ledger":1,"code":1,"flags":8},{"id":2,"ledger":1,"code":1}]`,
		"-a", addr, "create-accounts"); err != nil {
		t.Fatalf("create-accounts: %v", err)
	}

	out, err := runCLI(t, `[{"id":"10","debit_account_id":"1","credit_account_id":"2","amount":"25","ledger":1,"code":1}]`,
		"-a", addr, "create-transfers", "--failed-only")
	if err != nil {
		t.Fatalf("create-transfers: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected no failures, got %s", out)
	}

	out, err = runCLI(t, "", "-a", addr, "-o", "yaml", "account-transfers", "1", "--debits")
	if err != nil {
		t.Fatalf("account-transfers: %v", err)
	}
	var transfers []map[string]any
	if err := yaml.Unmarshal([]byte(out), &transfers); err != nil {
		t.Fatalf("decode yaml: %v\n%s", err, out)
	}
	if len(transfers) != 1 || transfers[0]["amount"] != "25" {
		t.Fatalf("unexpected transfers: %+v", transfers)
	}

	out, err = runCLI(t, "", "-a", addr, "account-balances", "1")
	if err != nil {
		t.Fatalf("account-balances: %v", err)
	}
	var balances []ledger.AccountBalance
	if err := json.Unmarshal([]byte(out), &balances); err != nil || len(balances) != 1 {
		t.Fatalf("unexpected balances: %s err=%v", out, err)
	}
	if balances[0].DebitsPosted != ledger.ToUint128(25) {
		t.Fatalf("unexpected balance: %+v", balances[0])
	}

	out, err = runCLI(t, "", "-a", addr, "lookup-transfers", "10")
	if err != nil || !strings.Contains(out, `"amount": "25"`) {
		t.Fatalf("lookup-transfers: %s err=%v", out, err)
	}
}

func TestPingAndHealth(t *testing.T) {
	addr := startReplica(t)
	out, err := runCLI(t, "", "-a", addr, "ping")
	if err != nil || !strings.Contains(out, `"status": "ok"`) {
		t.Fatalf("ping: %s err=%v", out, err)
	}

	out, err = runCLI(t, "", "-a", addr, "health", "--retries", "1", "--interval", "1ms", "--pulse")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var views []healthView
	if err := json.Unmarshal([]byte(out), &views); err != nil || len(views) != 1 || !views[0].Healthy {
		t.Fatalf("unexpected health: %s err=%v", out, err)
	}
}

func TestHealthReportsClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	out, err := runCLI(t, "", "-a", addr, "health", "--retries", "2", "--interval", "1ms", "--probe-timeout", "100ms")
	if err == nil {
		t.Fatalf("expected unhealthy error")
	}
	var views []healthView
	if err := json.Unmarshal([]byte(out), &views); err != nil || len(views) != 1 || views[0].Healthy || views[0].Attempts != 2 {
		t.Fatalf("unexpected health: %s err=%v", out, err)
	}
}

func TestIDCommand(t *testing.T) {
	out, err := runCLI(t, "", "id", "-n", "3")
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	var ids []ledger.Uint128
	if err := json.Unmarshal([]byte(out), &ids); err != nil || len(ids) != 3 {
		t.Fatalf("unexpected ids: %s err=%v", out, err)
	}
	if ids[0].Cmp(ids[1]) >= 0 || ids[1].Cmp(ids[2]) >= 0 {
		t.Fatalf("ids not increasing: %v", ids)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	dir := t.TempDir()
	for _, kind := range []string{"ledgerd", "ledgerctl"} {
		path := filepath.Join(dir, kind+".toml")
		if _, err := runCLI(t, "", "config", "init", "--kind", kind, path); err != nil {
			t.Fatalf("config init %s: %v", kind, err)
		}
		out, err := runCLI(t, "", "config", "validate", "--kind", kind, path)
		if err != nil || !strings.Contains(out, "validated") {
			t.Fatalf("config validate %s: %s err=%v", kind, out, err)
		}
	}
}

func TestConfigFileSelectsOutput(t *testing.T) {
	addr := startReplica(t)
	path := filepath.Join(t.TempDir(), "ledgerctl.toml")
	content := "addresses = [\"" + addr + "\"]\noutput = \"yaml\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	out, err := runCLI(t, "", "--config", path, "ping")
	if err != nil || !strings.Contains(out, "status: ok") {
		t.Fatalf("ping with config: %s err=%v", out, err)
	}
}

func TestRejectsUnknownOutput(t *testing.T) {
	if _, err := runCLI(t, "", "-o", "xml", "id"); err == nil {
		t.Fatalf("expected output format error")
	}
}

func TestCommandsKeepProcessLogger(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})
	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	addr := startReplica(t)
	if _, err := runCLI(t, "", "-v", "-a", addr, "ping"); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("--verbose level=%s", zerolog.GlobalLevel())
	}
	log.Logger.Warn().Msg("after-command")
	if !strings.Contains(buf.String(), "after-command") {
		t.Fatalf("command replaced the process logger: %q", buf.String())
	}

	if _, err := runCLI(t, "", "id"); err != nil {
		t.Fatalf("id: %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("default level=%s", zerolog.GlobalLevel())
	}
}
