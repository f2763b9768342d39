package ledgerd

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/ledgerctl/internal/protocol/codec"
	"github.com/danmuck/ledgerctl/internal/protocol/frame"
	"github.com/danmuck/ledgerctl/internal/protocol/session"
	"github.com/danmuck/ledgerctl/internal/testutil/testlog"
	"github.com/danmuck/ledgerctl/pkg/ledger"
)

func startTestService(t *testing.T, cfg ServiceConfig) (*Service, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	svc := NewService(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("serve: %v", err)
		}
	})
	deadline := time.Now().Add(2 * time.Second)
	for !svc.Ready() {
		if time.Now().After(deadline) {
			t.Fatalf("service not ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return svc, ln.Addr().String()
}

type testSession struct {
	conn     net.Conn
	reader   *bufio.Reader
	clientID ledger.Uint128
	cluster  ledger.Uint128
}

func dialTestSession(t *testing.T, addr string, cluster, clientID ledger.Uint128) (*testSession, session.HelloAck) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	reader := bufio.NewReader(conn)
	if err := session.WriteHello(conn, session.Hello{ClientID: clientID, ClusterID: cluster, Version: frame.Version}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	ack, err := session.ReadHelloAck(reader)
	if err != nil {
		t.Fatalf("read hello ack: %v", err)
	}
	return &testSession{conn: conn, reader: reader, clientID: clientID, cluster: cluster}, ack
}

func (s *testSession) roundTrip(t *testing.T, requestID uint64, op ledger.Operation, payload []byte) frame.Frame {
	t.Helper()
	req := frame.Frame{
		Header: frame.Header{
			RequestID: requestID,
			ClusterID: s.cluster,
			ClientID:  s.clientID,
			Operation: op,
		},
		Payload: payload,
	}
	if err := frame.WriteFrame(s.conn, req, frame.DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	reply, err := frame.ReadFrame(s.reader, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !reply.Header.IsResponse() || reply.Header.RequestID != requestID || reply.Header.Operation != op {
		t.Fatalf("reply header=%+v", reply.Header)
	}
	return reply
}

func TestServiceRejectsClusterMismatch(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.ClusterID = u(7)
	_, addr := startTestService(t, cfg)

	sess, ack := dialTestSession(t, addr, u(8), u(1))
	if ack.Accepted() || ack.Code != session.AckCodeClusterMismatch {
		t.Fatalf("ack=%+v", ack)
	}
	if _, err := sess.reader.ReadByte(); err == nil {
		t.Fatalf("expected connection close after rejection")
	}
}

func TestServiceHandshakeAdvertisesLimits(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.ReplicaID = "replica-test"
	_, addr := startTestService(t, cfg)

	_, ack := dialTestSession(t, addr, ledger.Uint128{}, u(1))
	if !ack.Accepted() || ack.ReplicaID != "replica-test" || ack.BatchPayloadMax != frame.DefaultLimits().MaxPayloadBytes {
		t.Fatalf("ack=%+v", ack)
	}
}

func TestServiceExecutesRequests(t *testing.T) {
	testlog.Start(t)
	_, addr := startTestService(t, DefaultServiceConfig())
	sess, ack := dialTestSession(t, addr, ledger.Uint128{}, u(42))
	if !ack.Accepted() {
		t.Fatalf("ack=%+v", ack)
	}

	reply := sess.roundTrip(t, 1, ledger.OperationCreateAccounts, codec.EncodeAccounts([]ledger.Account{account(1, 0), account(2, 0)}))
	if reply.Header.Status != frame.StatusOK || len(reply.Payload) != 0 {
		t.Fatalf("create reply status=%s len=%d", reply.Header.Status, len(reply.Payload))
	}

	reply = sess.roundTrip(t, 2, ledger.OperationLookupAccounts, codec.EncodeIDs([]ledger.Uint128{u(1), u(3), u(2)}))
	found, err := codec.DecodeAccounts(reply.Payload)
	if err != nil || len(found) != 2 || found[0].ID != u(1) || found[1].ID != u(2) {
		t.Fatalf("lookup=%+v err=%v", found, err)
	}

	reply = sess.roundTrip(t, 3, ledger.Operation(9), nil)
	if reply.Header.Status != frame.StatusInvalidOperation || reply.Header.Flags&frame.FlagIsError == 0 {
		t.Fatalf("invalid op header=%+v", reply.Header)
	}

	reply = sess.roundTrip(t, 4, ledger.OperationPulse, nil)
	if reply.Header.Status != frame.StatusOK {
		t.Fatalf("pulse status=%s", reply.Header.Status)
	}
}

func TestServiceDeduplicatesResentRequests(t *testing.T) {
	testlog.Start(t)
	svc, addr := startTestService(t, DefaultServiceConfig())
	payload := codec.EncodeAccounts([]ledger.Account{account(1, 0)})

	first, _ := dialTestSession(t, addr, ledger.Uint128{}, u(5))
	reply := first.roundTrip(t, 10, ledger.OperationCreateAccounts, payload)
	if len(reply.Payload) != 0 {
		t.Fatalf("first create results=%d bytes", len(reply.Payload))
	}
	_ = first.conn.Close()

	// Same client resending on a new connection gets the original reply.
	second, _ := dialTestSession(t, addr, ledger.Uint128{}, u(5))
	reply = second.roundTrip(t, 10, ledger.OperationCreateAccounts, payload)
	if len(reply.Payload) != 0 {
		t.Fatalf("resend was re-executed: %d bytes", len(reply.Payload))
	}

	reply = second.roundTrip(t, 11, ledger.OperationCreateAccounts, payload)
	results, err := codec.DecodeCreateResults(reply.Payload)
	if err != nil || len(results) != 1 || results[0].Result != uint32(ledger.AccountExists) {
		t.Fatalf("new request results=%+v err=%v", results, err)
	}
	if got := svc.State().Stats().Accounts; got != 1 {
		t.Fatalf("accounts=%d", got)
	}
}

func TestServiceRejectsForeignHeaders(t *testing.T) {
	testlog.Start(t)
	_, addr := startTestService(t, DefaultServiceConfig())
	sess, _ := dialTestSession(t, addr, ledger.Uint128{}, u(5))
	sess.cluster = u(99)

	reply := sess.roundTrip(t, 1, ledger.OperationPulse, nil)
	if reply.Header.Status != frame.StatusClusterMismatch {
		t.Fatalf("status=%s", reply.Header.Status)
	}
}

func TestReplyCacheEvictsOldest(t *testing.T) {
	testlog.Start(t)
	c := newReplyCache(2)
	c.put(1, cachedReply{operation: ledger.OperationPulse})
	c.put(2, cachedReply{operation: ledger.OperationPulse})
	c.put(3, cachedReply{operation: ledger.OperationPulse})
	if _, ok := c.get(1); ok {
		t.Fatalf("request 1 should be evicted")
	}
	if _, ok := c.get(3); !ok {
		t.Fatalf("request 3 missing")
	}
}

func TestAdminRouter(t *testing.T) {
	testlog.Start(t)
	svc, _ := startTestService(t, DefaultServiceConfig())
	mustCreateAccounts(t, svc.State(), account(1, 0))
	router := svc.AdminRouter()

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var body struct {
		State Stats `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if body.State.Accounts != 1 {
		t.Fatalf("stats=%+v", body.State)
	}
}

func TestServeWaitsForConnectionHandlers(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	svc := NewService(DefaultServiceConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(ctx, ln)
	}()
	for !svc.Ready() {
		time.Sleep(5 * time.Millisecond)
	}

	_, ack := dialTestSession(t, ln.Addr().String(), ledger.ToUint128(0), ledger.ToUint128(77))
	if !ack.Accepted() {
		t.Fatalf("handshake rejected: %+v", ack)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return")
	}
	if got := svc.sessionCount.Load(); got != 0 {
		t.Fatalf("sessions still active after serve returned: %d", got)
	}
}
