package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/ledgerctl/internal/logging"
	"github.com/danmuck/ledgerctl/internal/observability"
	"github.com/danmuck/ledgerctl/internal/protocol/codec"
	"github.com/danmuck/ledgerctl/internal/protocol/frame"
	"github.com/danmuck/ledgerctl/internal/protocol/session"
	"github.com/danmuck/ledgerctl/pkg/ledger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrencyMax = 8192
	ConcurrencyMaxLimit   = 8192
)

// Config configures a Client. Zero values take defaults.
type Config struct {
	ClusterID ledger.Uint128
	// Addresses lists replica addresses; entries may be comma separated, a bare
	// port dials loopback and a bare host dials port 3033.
	Addresses []string
	// ConcurrencyMax bounds requests in flight; excess requests fail fast.
	ConcurrencyMax int
	Session        session.Config
	Logger         *zerolog.Logger
	// Metrics records per-operation prometheus counters when set.
	Metrics bool
}

func DefaultConfig() Config {
	return Config{
		Addresses:      []string{strconv.Itoa(session.DefaultPort)},
		ConcurrencyMax: DefaultConcurrencyMax,
		Session:        session.DefaultConfig(),
	}
}

// Client is a session to a ledger cluster. It is safe for concurrent use.
// The connection is established in the background and re-established with
// backoff after failures; unanswered requests are resent with their original
// request id.
type Client struct {
	cfg      Config
	clientID ledger.Uint128
	addrs    []string
	logger   zerolog.Logger
	sem      *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	nextRequestID atomic.Uint64
	lastWrite     atomic.Int64
	inflight      *session.InflightTable

	waitersMu sync.Mutex
	waiters   map[uint64]chan reply

	mu     sync.Mutex
	conn   net.Conn
	limits frame.Limits
	fatal  error
	rng    *rand.Rand

	writeMu sync.Mutex
}

type reply struct {
	status frame.Status
	body   []byte
	err    error
}

// NewClient validates cfg and starts connecting to the cluster.
func NewClient(cfg Config) (*Client, error) {
	addrs, err := session.ParseAddresses(cfg.Addresses)
	if err != nil {
		return nil, err
	}
	if cfg.ConcurrencyMax == 0 {
		cfg.ConcurrencyMax = DefaultConcurrencyMax
	}
	if cfg.ConcurrencyMax < 1 || cfg.ConcurrencyMax > ConcurrencyMaxLimit {
		return nil, fmt.Errorf("%w: %d not in 1..%d", ErrInvalidConcurrencyMax, cfg.ConcurrencyMax, ConcurrencyMaxLimit)
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return nil, err
	}

	id := uuid.New()
	logger := logging.Component("ledger.client")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		clientID: ledger.BytesToUint128([16]byte(id)),
		addrs:    addrs,
		logger:   logger.With().Str("client_id", id.String()).Logger(),
		sem:      semaphore.NewWeighted(int64(cfg.ConcurrencyMax)),
		ctx:      ctx,
		cancel:   cancel,
		inflight: session.NewInflightTable(),
		waiters:  make(map[uint64]chan reply),
		limits:   frame.DefaultLimits(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if cfg.Metrics {
		observability.RegisterMetrics()
	}
	c.wg.Add(1)
	go c.run()
	return c, nil
}

// ClientID is the session identity the server deduplicates resends by.
func (c *Client) ClientID() ledger.Uint128 {
	return c.clientID
}

// Close stops the session. Requests in flight fail with ErrClientClosed, as do
// later calls. Close is idempotent.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()
		c.failAll(ErrClientClosed)
		c.wg.Wait()
		c.logger.Debug().Msg("client closed")
	})
	return nil
}

func (c *Client) CreateAccounts(ctx context.Context, accounts []ledger.Account) ([]ledger.CreateAccountsResult, error) {
	if len(accounts) == 0 {
		return nil, ErrEmptyBatch
	}
	body, err := c.submit(ctx, ledger.OperationCreateAccounts, len(accounts), codec.EncodeAccounts(accounts))
	if err != nil {
		return nil, err
	}
	sparse, err := decodeCreateResults(body, len(accounts))
	if err != nil {
		return nil, err
	}
	out := make([]ledger.CreateAccountsResult, len(accounts))
	for i := range out {
		out[i].Index = uint32(i)
	}
	for _, r := range sparse {
		out[r.Index].Result = ledger.CreateAccountResult(r.Result)
	}
	return out, nil
}

func (c *Client) CreateTransfers(ctx context.Context, transfers []ledger.Transfer) ([]ledger.CreateTransfersResult, error) {
	if len(transfers) == 0 {
		return nil, ErrEmptyBatch
	}
	body, err := c.submit(ctx, ledger.OperationCreateTransfers, len(transfers), codec.EncodeTransfers(transfers))
	if err != nil {
		return nil, err
	}
	sparse, err := decodeCreateResults(body, len(transfers))
	if err != nil {
		return nil, err
	}
	out := make([]ledger.CreateTransfersResult, len(transfers))
	for i := range out {
		out[i].Index = uint32(i)
	}
	for _, r := range sparse {
		out[r.Index].Result = ledger.CreateTransferResult(r.Result)
	}
	return out, nil
}

// LookupAccounts returns the accounts that exist, in request order.
func (c *Client) LookupAccounts(ctx context.Context, ids []ledger.Uint128) ([]ledger.Account, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyBatch
	}
	body, err := c.submit(ctx, ledger.OperationLookupAccounts, len(ids), codec.EncodeIDs(ids))
	if err != nil {
		return nil, err
	}
	accounts, err := codec.DecodeAccounts(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResultLength, err)
	}
	return accounts, nil
}

// LookupTransfers returns the transfers that exist, in request order.
func (c *Client) LookupTransfers(ctx context.Context, ids []ledger.Uint128) ([]ledger.Transfer, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyBatch
	}
	body, err := c.submit(ctx, ledger.OperationLookupTransfers, len(ids), codec.EncodeIDs(ids))
	if err != nil {
		return nil, err
	}
	transfers, err := codec.DecodeTransfers(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResultLength, err)
	}
	return transfers, nil
}

func (c *Client) GetAccountTransfers(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Transfer, error) {
	body, err := c.submit(ctx, ledger.OperationGetAccountTransfers, 1, codec.EncodeAccountFilter(filter))
	if err != nil {
		return nil, err
	}
	transfers, err := codec.DecodeTransfers(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResultLength, err)
	}
	return transfers, nil
}

func (c *Client) GetAccountBalances(ctx context.Context, filter ledger.AccountFilter) ([]ledger.AccountBalance, error) {
	body, err := c.submit(ctx, ledger.OperationGetAccountBalances, 1, codec.EncodeAccountFilter(filter))
	if err != nil {
		return nil, err
	}
	balances, err := codec.DecodeAccountBalances(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResultLength, err)
	}
	return balances, nil
}

// Ping round-trips a pulse, which also drives pending-transfer expiry.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.submit(ctx, ledger.OperationPulse, 0, nil)
	return err
}

func decodeCreateResults(body []byte, events int) ([]codec.CreateResult, error) {
	sparse, err := codec.DecodeCreateResults(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResultLength, err)
	}
	for _, r := range sparse {
		if int(r.Index) >= events {
			return nil, fmt.Errorf("%w: result index %d for %d events", ErrInvalidResultLength, r.Index, events)
		}
	}
	return sparse, nil
}

// submit runs one request under the concurrency bound and records its outcome.
func (c *Client) submit(ctx context.Context, op ledger.Operation, events int, payload []byte) ([]byte, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	if !op.Valid() {
		return nil, ErrInvalidOperation
	}
	if op != ledger.OperationPulse {
		batchMax, err := codec.BatchMax(op, c.currentLimits())
		if err != nil {
			return nil, ErrInvalidOperation
		}
		if events > batchMax {
			return nil, fmt.Errorf("%w: %d > %d", ErrMaximumBatchSizeExceeded, events, batchMax)
		}
	}
	if !c.sem.TryAcquire(1) {
		return nil, ErrConcurrencyExceeded
	}
	defer c.sem.Release(1)

	start := time.Now()
	body, err := c.roundTrip(ctx, op, payload)
	if c.cfg.Metrics {
		observability.RecordClientRequest(op.String(), outcome(err), time.Since(start))
	}
	return body, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrClientClosed):
		return "closed"
	default:
		return "error"
	}
}

func (c *Client) roundTrip(ctx context.Context, op ledger.Operation, payload []byte) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Session.RequestTimeout)
	defer cancel()

	id := c.nextRequestID.Add(1)
	ch := make(chan reply, 1)
	c.waitersMu.Lock()
	c.waiters[id] = ch
	c.waitersMu.Unlock()
	defer c.forget(id)

	deadline, _ := reqCtx.Deadline()
	c.inflight.Upsert(session.PendingRequest{
		RequestID:  id,
		Operation:  op,
		Payload:    payload,
		QueuedAt:   time.Now(),
		DeadlineAt: deadline,
	})
	if err := c.usable(); err != nil {
		return nil, err
	}

	// Without a live connection the request waits in the inflight table and is
	// sent once the session is re-established.
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		if err := c.send(conn, id); err != nil {
			c.logger.Debug().Err(err).Uint64("request_id", id).Msg("send failed; awaiting reconnect")
			_ = conn.Close()
		}
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if err := statusError(r.status); err != nil {
			return nil, err
		}
		return r.body, nil
	case <-reqCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s request_id=%d", ErrRequestTimeout, op, id)
	case <-c.ctx.Done():
		return nil, ErrClientClosed
	}
}

func (c *Client) forget(id uint64) {
	c.inflight.Remove(id)
	c.waitersMu.Lock()
	delete(c.waiters, id)
	c.waitersMu.Unlock()
}

// complete hands r to the waiter of id, if it is still waiting.
func (c *Client) complete(id uint64, r reply) bool {
	c.inflight.Remove(id)
	c.waitersMu.Lock()
	ch, ok := c.waiters[id]
	delete(c.waiters, id)
	c.waitersMu.Unlock()
	if ok {
		ch <- r
	}
	return ok
}

func (c *Client) failAll(err error) {
	for _, req := range c.inflight.List() {
		c.complete(req.RequestID, reply{err: err})
	}
}

func (c *Client) usable() error {
	if c.ctx.Err() != nil {
		return ErrClientClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

func (c *Client) currentLimits() frame.Limits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limits
}
