package ledgerd

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/ledgerctl/internal/logging"
	"github.com/danmuck/ledgerctl/internal/observability"
	"github.com/danmuck/ledgerctl/internal/protocol/frame"
	"github.com/danmuck/ledgerctl/internal/protocol/session"
	"github.com/danmuck/ledgerctl/pkg/ledger"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultListenAddr    = "0.0.0.0:3033"
	DefaultReplyCacheMax = 8192
	DefaultPulseInterval = time.Second

	readBufferSize = 64 * 1024
)

// ServiceConfig configures the replica endpoint.
type ServiceConfig struct {
	ListenAddr      string
	AdminListenAddr string
	ReplicaID       string
	ClusterID       ledger.Uint128
	CORSOrigins     []string
	// ReplyCacheMax bounds the replies kept per client for resend deduplication.
	ReplyCacheMax int
	// PulseInterval drives pending-transfer expiry while no client is active.
	PulseInterval time.Duration
	Limits        frame.Limits
	Session       session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:    DefaultListenAddr,
		ReplicaID:     "replica.local",
		ReplyCacheMax: DefaultReplyCacheMax,
		PulseInterval: DefaultPulseInterval,
		Limits:        frame.DefaultLimits(),
		Session:       session.DefaultConfig(),
	}
}

// Service serves the binary protocol over TCP and applies requests to a StateMachine.
type Service struct {
	cfg   ServiceConfig
	state *StateMachine

	connsMu  sync.Mutex
	conns    map[net.Conn]struct{}
	handlers sync.WaitGroup

	clientsMu sync.Mutex
	clients   map[ledger.Uint128]*replyCache

	sessionCount atomic.Int64
	requestCount atomic.Uint64
	ready        atomic.Bool
	started      time.Time

	addrMu sync.Mutex
	addr   net.Addr
}

func NewService(cfg ServiceConfig, state *StateMachine) *Service {
	d := DefaultServiceConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = d.ListenAddr
	}
	if strings.TrimSpace(cfg.ReplicaID) == "" {
		cfg.ReplicaID = d.ReplicaID
	}
	if cfg.ReplyCacheMax <= 0 {
		cfg.ReplyCacheMax = d.ReplyCacheMax
	}
	if cfg.PulseInterval <= 0 {
		cfg.PulseInterval = d.PulseInterval
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = d.Limits
	}
	cfg.Session = cfg.Session.WithDefaults()
	if state == nil {
		state = NewStateMachine(StateConfig{Limits: cfg.Limits})
	}
	observability.RegisterMetrics()
	return &Service{
		cfg:     cfg,
		state:   state,
		conns:   make(map[net.Conn]struct{}),
		clients: make(map[ledger.Uint128]*replyCache),
		started: time.Now(),
	}
}

func (s *Service) State() *StateMachine {
	return s.state
}

// Addr returns the bound protocol address once Serve has started.
func (s *Service) Addr() net.Addr {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

// Ready reports whether the protocol listener is accepting sessions.
func (s *Service) Ready() bool {
	return s.ready.Load()
}

// Run listens on the configured addresses and blocks until ctx is done or a
// listener fails.
func (s *Service) Run(ctx context.Context) error {
	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		return err
	}
	ln, err := s.listen()
	if err != nil {
		return err
	}
	logging.Infof("ledgerd.Service.Run listening addr=%q replica_id=%q", ln.Addr().String(), s.cfg.ReplicaID)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Serve(ctx, ln)
	})
	g.Go(func() error {
		return s.pulseLoop(ctx)
	})
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		g.Go(func() error {
			return s.ServeAdmin(ctx, addr)
		})
	}
	return g.Wait()
}

func (s *Service) listen() (net.Listener, error) {
	if !s.cfg.Session.TLS.Enabled {
		return net.Listen("tcp", s.cfg.ListenAddr)
	}
	tlsCfg, err := s.cfg.Session.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", s.cfg.ListenAddr, tlsCfg)
}

// Serve runs the accept loop on an existing listener until ctx is done.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()
	s.ready.Store(true)
	defer s.ready.Store(false)
	// Serve returns only after every connection handler has exited.
	defer func() {
		s.closeAllConns()
		s.handlers.Wait()
	}()

	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Service) pulseLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PulseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.state.Pulse(ctx); err != nil {
				logging.Warnf("ledgerd.Service.pulse err=%v", err)
			}
		}
	}
}

func (s *Service) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()
	active := s.sessionCount.Add(1)
	observability.AddServerSessions(s.cfg.ReplicaID, 1)
	logging.Debugf("ledgerd.session client connected remote=%q active_clients=%d", remote, active)
	defer func() {
		remaining := s.sessionCount.Add(-1)
		observability.AddServerSessions(s.cfg.ReplicaID, -1)
		logging.Debugf("ledgerd.session client disconnected remote=%q active_clients=%d", remote, remaining)
	}()
	reader := bufio.NewReaderSize(conn, readBufferSize)

	hello, ack := s.handleHello(conn, reader)
	if err := session.WriteHelloAck(conn, ack); err != nil {
		logging.Warnf("ledgerd.handleConn write hello ack err=%v", err)
		return
	}
	if !ack.Accepted() {
		logging.Warnf("ledgerd.handleConn rejected remote=%q code=%d message=%q", remote, ack.Code, ack.Message)
		return
	}
	logging.Debugf("ledgerd.handleConn accepted client_id=%s remote=%q", hello.ClientID, remote)
	if err := conn.SetDeadline(time.Time{}); err != nil {
		logging.Warnf("ledgerd.handleConn clear deadline err=%v", err)
	}

	cache := s.replyCache(hello.ClientID)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.Session.ReadTimeout))
		fr, err := frame.ReadFrame(reader, s.cfg.Limits)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logging.Debugf("ledgerd.handleConn read client_id=%s err=%v", hello.ClientID, err)
			}
			return
		}
		if fr.Header.IsResponse() {
			logging.Warnf("ledgerd.handleConn unexpected response frame client_id=%s request_id=%d", hello.ClientID, fr.Header.RequestID)
			return
		}

		reply, err := s.handleRequest(ctx, hello.ClientID, cache, fr)
		if err != nil {
			logging.Errorf("ledgerd.handleConn request_id=%d operation=%s err=%v", fr.Header.RequestID, fr.Header.Operation, err)
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Session.WriteTimeout))
		if err := frame.WriteFrame(conn, reply, s.cfg.Limits); err != nil {
			logging.Warnf("ledgerd.handleConn write reply request_id=%d err=%v", fr.Header.RequestID, err)
			return
		}
	}
}

// handleHello reads the session hello and decides the ack.
func (s *Service) handleHello(conn net.Conn, reader *bufio.Reader) (session.Hello, session.HelloAck) {
	_ = conn.SetDeadline(time.Now().Add(s.cfg.Session.HandshakeTimeout))
	ack := session.HelloAck{
		Status:          session.AckStatusAccepted,
		Code:            session.AckCodeOK,
		ReplicaID:       s.cfg.ReplicaID,
		BatchPayloadMax: s.cfg.Limits.MaxPayloadBytes,
		TimestampMS:     uint64(time.Now().UnixMilli()),
	}
	reject := func(code uint32, msg string) session.HelloAck {
		ack.Status = session.AckStatusRejected
		ack.Code = code
		ack.Message = msg
		return ack
	}

	hello, err := session.ReadHello(reader)
	if err != nil {
		logging.Warnf("ledgerd.handleHello read err=%v", err)
		return hello, reject(session.AckCodeInvalidClient, "invalid hello")
	}
	if hello.Version != frame.Version {
		return hello, reject(session.AckCodeVersionUnsupported, "unsupported protocol version")
	}
	if hello.ClusterID != s.cfg.ClusterID {
		return hello, reject(session.AckCodeClusterMismatch, "cluster mismatch")
	}
	return hello, ack
}

// handleRequest executes fr once per (client, request id) and returns the reply.
// Resent requests get the cached reply without touching the state machine.
func (s *Service) handleRequest(ctx context.Context, clientID ledger.Uint128, cache *replyCache, fr frame.Frame) (frame.Frame, error) {
	h := fr.Header
	op := h.Operation.String()
	if h.ClusterID != s.cfg.ClusterID || h.ClientID != clientID {
		observability.RecordServerRequest(s.cfg.ReplicaID, op, frame.StatusClusterMismatch.String(), false, 0)
		return s.reply(h, frame.StatusClusterMismatch, nil), nil
	}

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if cached, ok := cache.get(h.RequestID); ok && cached.operation == h.Operation {
		observability.RecordServerRequest(s.cfg.ReplicaID, op, cached.status.String(), true, 0)
		return s.reply(h, cached.status, cached.body), nil
	}

	start := time.Now()
	body, status, err := s.state.Execute(ctx, h.Operation, fr.Payload)
	if err != nil {
		return frame.Frame{}, err
	}
	s.requestCount.Add(1)
	cache.put(h.RequestID, cachedReply{operation: h.Operation, status: status, body: body})
	observability.RecordServerRequest(s.cfg.ReplicaID, op, status.String(), false, time.Since(start))
	return s.reply(h, status, body), nil
}

func (s *Service) reply(req frame.Header, status frame.Status, body []byte) frame.Frame {
	flags := frame.FlagIsResponse
	if status != frame.StatusOK {
		flags |= frame.FlagIsError
		body = nil
	}
	return frame.Frame{
		Header: frame.Header{
			RequestID: req.RequestID,
			ClusterID: s.cfg.ClusterID,
			ClientID:  req.ClientID,
			Operation: req.Operation,
			Status:    status,
			Flags:     flags,
		},
		Payload: body,
	}
}

func (s *Service) replyCache(clientID ledger.Uint128) *replyCache {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		c = newReplyCache(s.cfg.ReplyCacheMax)
		s.clients[clientID] = c
	}
	return c
}

func (s *Service) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

type cachedReply struct {
	operation ledger.Operation
	status    frame.Status
	body      []byte
}

// replyCache keeps the most recent replies of one client, evicting oldest first.
// mu serializes execution across the client's connections.
type replyCache struct {
	mu      sync.Mutex
	max     int
	order   []uint64
	replies map[uint64]cachedReply
}

func newReplyCache(limit int) *replyCache {
	return &replyCache{
		max:     limit,
		replies: make(map[uint64]cachedReply),
	}
}

func (c *replyCache) get(requestID uint64) (cachedReply, bool) {
	r, ok := c.replies[requestID]
	return r, ok
}

func (c *replyCache) put(requestID uint64, r cachedReply) {
	if _, ok := c.replies[requestID]; !ok {
		c.order = append(c.order, requestID)
	}
	c.replies[requestID] = r
	for len(c.order) > c.max {
		delete(c.replies, c.order[0])
		c.order = c.order[1:]
	}
}
