package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/danmuck/ledgerctl/internal/observability"
	"github.com/danmuck/ledgerctl/internal/protocol/codec"
	"github.com/danmuck/ledgerctl/internal/protocol/frame"
	"github.com/danmuck/ledgerctl/internal/protocol/session"
	"github.com/danmuck/ledgerctl/pkg/ledger"
)

const readBufferSize = 64 * 1024

// run owns the connection: dial, handshake, resend, read until failure, repeat.
func (c *Client) run() {
	defer c.wg.Done()
	next := 0
	failures := 0
	for c.ctx.Err() == nil {
		addr := c.addrs[next%len(c.addrs)]
		conn, reader, ack, err := c.connect(addr)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrClusterMismatch) || errors.Is(err, ErrHandshakeRejected) {
				c.logger.Error().Err(err).Str("addr", addr).Msg("session rejected")
				c.setFatal(err)
				return
			}
			failures++
			next++
			c.logger.Warn().Err(err).Str("addr", addr).Int("attempt", failures).Msg("connect failed")
			if limit := c.cfg.Session.MaxConnectAttempts; limit > 0 && failures%limit == 0 {
				c.failAll(fmt.Errorf("%w: %d attempts: %v", ErrConnectFailed, failures, err))
			}
			if !c.sleepBackoff(failures) {
				return
			}
			continue
		}

		failures = 0
		c.logger.Debug().Str("addr", addr).Str("replica_id", ack.ReplicaID).Msg("session established")
		c.serveConn(conn, reader, ack)
		if c.ctx.Err() != nil {
			return
		}
		next++
		if c.cfg.Metrics {
			observability.RecordClientReconnect()
		}
		c.logger.Warn().Str("addr", addr).Int("inflight", c.inflight.Len()).Msg("session lost; reconnecting")
	}
}

func (c *Client) connect(addr string) (net.Conn, *bufio.Reader, session.HelloAck, error) {
	conn, err := c.dial(addr)
	if err != nil {
		return nil, nil, session.HelloAck{}, err
	}
	reader := bufio.NewReaderSize(conn, readBufferSize)
	ack, err := c.handshake(conn, reader)
	if err != nil {
		_ = conn.Close()
		return nil, nil, session.HelloAck{}, err
	}
	return conn, reader, ack, nil
}

func (c *Client) dial(addr string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
	rawConn, err := dialer.DialContext(c.ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !c.cfg.Session.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := c.cfg.Session.ClientTLSConfig(addr)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(c.ctx, c.cfg.Session.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) handshake(conn net.Conn, reader *bufio.Reader) (session.HelloAck, error) {
	_ = conn.SetDeadline(time.Now().Add(c.cfg.Session.HandshakeTimeout))
	hello := session.Hello{
		ClientID:  c.clientID,
		ClusterID: c.cfg.ClusterID,
		Version:   frame.Version,
	}
	if err := session.WriteHello(conn, hello); err != nil {
		return session.HelloAck{}, err
	}
	ack, err := session.ReadHelloAck(reader)
	if err != nil {
		return session.HelloAck{}, err
	}
	if !ack.Accepted() {
		if ack.Code == session.AckCodeClusterMismatch {
			return ack, fmt.Errorf("%w: %s", ErrClusterMismatch, ack.Message)
		}
		return ack, fmt.Errorf("%w: code=%d %s", ErrHandshakeRejected, ack.Code, ack.Message)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return ack, err
	}
	return ack, nil
}

// serveConn publishes conn, resends unanswered requests and reads replies
// until the connection fails.
func (c *Client) serveConn(conn net.Conn, reader *bufio.Reader, ack session.HelloAck) {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	limits := frame.DefaultLimits()
	if ack.BatchPayloadMax > 0 && ack.BatchPayloadMax < limits.MaxPayloadBytes {
		limits.MaxPayloadBytes = ack.BatchPayloadMax
	}
	c.limits = limits
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	go c.heartbeat(conn, done)

	// A request registered concurrently may also be sent by its caller; the
	// server answers the duplicate from its reply cache.
	for _, req := range c.inflight.List() {
		if err := c.send(conn, req.RequestID); err != nil {
			c.logger.Debug().Err(err).Uint64("request_id", req.RequestID).Msg("resend failed")
			return
		}
	}
	c.readLoop(conn, reader)
}

func (c *Client) readLoop(conn net.Conn, reader *bufio.Reader) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.Session.ReadTimeout))
		fr, err := frame.ReadFrame(reader, frame.DefaultLimits())
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if !fr.Header.IsResponse() || fr.Header.ClientID != c.clientID {
			c.logger.Warn().Uint64("request_id", fr.Header.RequestID).Msg("dropping frame not addressed to this client")
			continue
		}
		c.deliver(fr)
	}
}

// deliver correlates a reply frame with its request and validates its length.
func (c *Client) deliver(fr frame.Frame) {
	h := fr.Header
	req, ok := c.inflight.Get(h.RequestID)
	if !ok {
		if h.Operation != ledger.OperationPulse {
			c.logger.Debug().Uint64("request_id", h.RequestID).Str("operation", h.Operation.String()).Msg("reply for unknown request dropped")
		}
		return
	}
	if h.Operation != req.Operation {
		c.logger.Warn().
			Uint64("request_id", h.RequestID).
			Str("operation", h.Operation.String()).
			Str("expected", req.Operation.String()).
			Msg("reply operation mismatch dropped")
		return
	}

	r := reply{status: h.Status, body: fr.Payload}
	if h.Status == frame.StatusOK {
		if err := codec.ValidateReply(req.Operation, len(req.Payload), len(fr.Payload)); err != nil {
			r.err = fmt.Errorf("%w: %v", ErrInvalidResultLength, err)
		}
	}
	c.complete(h.RequestID, r)
}

// send writes the inflight request id on conn.
func (c *Client) send(conn net.Conn, id uint64) error {
	req, ok := c.inflight.MarkAttempt(id, time.Now(), "")
	if !ok {
		return nil
	}
	return c.writeFrame(conn, frame.Frame{
		Header: frame.Header{
			RequestID: req.RequestID,
			ClusterID: c.cfg.ClusterID,
			ClientID:  c.clientID,
			Operation: req.Operation,
		},
		Payload: req.Payload,
	})
}

func (c *Client) writeFrame(conn net.Conn, fr frame.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.Session.WriteTimeout))
	if err := frame.WriteFrame(conn, fr, frame.DefaultLimits()); err != nil {
		return err
	}
	c.lastWrite.Store(time.Now().UnixNano())
	return nil
}

// heartbeat pulses an idle connection and times out requests past their deadline.
func (c *Client) heartbeat(conn net.Conn, done <-chan struct{}) {
	interval := c.cfg.Session.HeartbeatInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-c.ctx.Done():
			return
		case now := <-ticker.C:
			for _, req := range c.inflight.Expired(now) {
				c.complete(req.RequestID, reply{err: fmt.Errorf("%w: %s request_id=%d", ErrRequestTimeout, req.Operation, req.RequestID)})
			}
			if now.Sub(time.Unix(0, c.lastWrite.Load())) < interval {
				continue
			}
			pulse := frame.Frame{
				Header: frame.Header{
					RequestID: c.nextRequestID.Add(1),
					ClusterID: c.cfg.ClusterID,
					ClientID:  c.clientID,
					Operation: ledger.OperationPulse,
				},
			}
			if err := c.writeFrame(conn, pulse); err != nil {
				c.logger.Debug().Err(err).Msg("heartbeat failed")
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) sleepBackoff(attempt int) bool {
	c.mu.Lock()
	delay := session.NextBackoffDelay(c.cfg.Session.Backoff, attempt, c.rng)
	c.mu.Unlock()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) setFatal(err error) {
	c.mu.Lock()
	c.fatal = err
	c.mu.Unlock()
	c.failAll(err)
}
