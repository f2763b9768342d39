package ledgerd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/ledgerctl/internal/protocol/codec"
	"github.com/danmuck/ledgerctl/internal/protocol/frame"
	"github.com/danmuck/ledgerctl/internal/store"
	"github.com/danmuck/ledgerctl/pkg/ledger"
)

// Journal persists committed batches and replays them on startup.
type Journal interface {
	Load(ctx context.Context) (store.Snapshot, error)
	Commit(ctx context.Context, b store.Batch) error
}

// StateConfig configures a StateMachine. Nil Journal keeps state in memory only.
type StateConfig struct {
	Limits  frame.Limits
	Journal Journal
	Clock   func() time.Time
}

// StateMachine applies ledger operations. All methods are safe for concurrent use;
// batches are applied one at a time.
type StateMachine struct {
	mu      sync.Mutex
	limits  frame.Limits
	journal Journal
	now     func() time.Time

	lastTimestamp uint64

	accounts    map[ledger.Uint128]ledger.Account
	transfers   map[ledger.Uint128]ledger.Transfer
	transferLog []ledger.Uint128
	byTimestamp map[uint64]ledger.Uint128
	pending     map[ledger.Uint128]store.PendingTransfer
	history     map[ledger.Uint128][]ledger.AccountBalance

	undo  []func()
	batch store.Batch
}

func NewStateMachine(cfg StateConfig) *StateMachine {
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &StateMachine{
		limits:      cfg.Limits,
		journal:     cfg.Journal,
		now:         cfg.Clock,
		accounts:    make(map[ledger.Uint128]ledger.Account),
		transfers:   make(map[ledger.Uint128]ledger.Transfer),
		byTimestamp: make(map[uint64]ledger.Uint128),
		pending:     make(map[ledger.Uint128]store.PendingTransfer),
		history:     make(map[ledger.Uint128][]ledger.AccountBalance),
	}
}

// Restore replaces in-memory state with the journal snapshot.
func (sm *StateMachine) Restore(ctx context.Context) error {
	if sm.journal == nil {
		return nil
	}
	snap, err := sm.journal.Load(ctx)
	if err != nil {
		return fmt.Errorf("ledgerd: restore: %w", err)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, a := range snap.Accounts {
		sm.accounts[a.ID] = a
		sm.observeTimestamp(a.Timestamp)
	}
	for _, t := range snap.Transfers {
		sm.transfers[t.ID] = t
		sm.transferLog = append(sm.transferLog, t.ID)
		sm.byTimestamp[t.Timestamp] = t.ID
		sm.observeTimestamp(t.Timestamp)
	}
	for _, p := range snap.Pending {
		sm.pending[p.TransferID] = p
		if p.Status == store.PendingStatusExpired && p.ExpiredAt != 0 {
			sm.byTimestamp[p.ExpiredAt] = p.TransferID
			sm.observeTimestamp(p.ExpiredAt)
		}
	}
	for _, b := range snap.Balances {
		sm.history[b.AccountID] = append(sm.history[b.AccountID], b.AccountBalance)
		sm.observeTimestamp(b.Timestamp)
	}
	return nil
}

func (sm *StateMachine) observeTimestamp(ts uint64) {
	if ts > sm.lastTimestamp {
		sm.lastTimestamp = ts
	}
}

// Stats is a point-in-time summary for the admin surface.
type Stats struct {
	Accounts      int    `json:"accounts"`
	Transfers     int    `json:"transfers"`
	Pending       int    `json:"pending"`
	LastTimestamp uint64 `json:"last_timestamp"`
}

func (sm *StateMachine) Stats() Stats {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	pending := 0
	for _, p := range sm.pending {
		if p.Status == store.PendingStatusPending {
			pending++
		}
	}
	return Stats{
		Accounts:      len(sm.accounts),
		Transfers:     len(sm.transfers),
		Pending:       pending,
		LastTimestamp: sm.lastTimestamp,
	}
}

// Execute decodes payload for op, applies it and encodes the reply body.
// A non-OK status carries no reply body. An error means the batch could not
// be journaled and was rolled back.
func (sm *StateMachine) Execute(ctx context.Context, op ledger.Operation, payload []byte) ([]byte, frame.Status, error) {
	eventSize, err := codec.EventSize(op)
	if err != nil {
		return nil, frame.StatusInvalidOperation, nil
	}
	if op == ledger.OperationPulse {
		if len(payload) != 0 {
			return nil, frame.StatusInvalidDataSize, nil
		}
		return nil, frame.StatusOK, sm.Pulse(ctx)
	}
	if len(payload)%eventSize != 0 || (op.IsQuery() && len(payload) != eventSize) {
		return nil, frame.StatusInvalidDataSize, nil
	}
	batchMax, _ := codec.BatchMax(op, sm.limits)
	if len(payload)/eventSize > batchMax {
		return nil, frame.StatusTooMuchData, nil
	}

	switch op {
	case ledger.OperationCreateAccounts:
		events, err := codec.DecodeAccounts(payload)
		if err != nil {
			return nil, frame.StatusInvalidDataSize, nil
		}
		results, err := sm.CreateAccounts(ctx, events)
		if err != nil {
			return nil, frame.StatusOK, err
		}
		return codec.EncodeCreateResults(results), frame.StatusOK, nil
	case ledger.OperationCreateTransfers:
		events, err := codec.DecodeTransfers(payload)
		if err != nil {
			return nil, frame.StatusInvalidDataSize, nil
		}
		results, err := sm.CreateTransfers(ctx, events)
		if err != nil {
			return nil, frame.StatusOK, err
		}
		return codec.EncodeCreateResults(results), frame.StatusOK, nil
	case ledger.OperationLookupAccounts:
		ids, err := codec.DecodeIDs(payload)
		if err != nil {
			return nil, frame.StatusInvalidDataSize, nil
		}
		return codec.EncodeAccounts(sm.LookupAccounts(ids)), frame.StatusOK, nil
	case ledger.OperationLookupTransfers:
		ids, err := codec.DecodeIDs(payload)
		if err != nil {
			return nil, frame.StatusInvalidDataSize, nil
		}
		return codec.EncodeTransfers(sm.LookupTransfers(ids)), frame.StatusOK, nil
	case ledger.OperationGetAccountTransfers:
		filter, err := codec.DecodeAccountFilter(payload)
		if err != nil {
			return nil, frame.StatusInvalidDataSize, nil
		}
		return codec.EncodeTransfers(sm.GetAccountTransfers(filter)), frame.StatusOK, nil
	case ledger.OperationGetAccountBalances:
		filter, err := codec.DecodeAccountFilter(payload)
		if err != nil {
			return nil, frame.StatusInvalidDataSize, nil
		}
		return codec.EncodeAccountBalances(sm.GetAccountBalances(filter)), frame.StatusOK, nil
	default:
		return nil, frame.StatusInvalidOperation, nil
	}
}

// Pulse expires pending transfers whose timeout has elapsed.
func (sm *StateMachine) Pulse(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.expirePending()
	return sm.commit(ctx)
}

// prepareTimestamp reserves count strictly increasing nanosecond timestamps and
// returns the base; event i is stamped base+i+1.
func (sm *StateMachine) prepareTimestamp(count int) uint64 {
	base := uint64(sm.now().UnixNano())
	if base < sm.lastTimestamp {
		base = sm.lastTimestamp
	}
	sm.lastTimestamp = base + uint64(count)
	return base
}

type savepoint struct {
	undo      int
	accounts  int
	transfers int
	pending   int
	balances  int
}

func (sm *StateMachine) savepoint() savepoint {
	return savepoint{
		undo:      len(sm.undo),
		accounts:  len(sm.batch.Accounts),
		transfers: len(sm.batch.Transfers),
		pending:   len(sm.batch.Pending),
		balances:  len(sm.batch.Balances),
	}
}

func (sm *StateMachine) rollback(to savepoint) {
	for i := len(sm.undo) - 1; i >= to.undo; i-- {
		sm.undo[i]()
	}
	sm.undo = sm.undo[:to.undo]
	sm.batch.Accounts = sm.batch.Accounts[:to.accounts]
	sm.batch.Transfers = sm.batch.Transfers[:to.transfers]
	sm.batch.Pending = sm.batch.Pending[:to.pending]
	sm.batch.Balances = sm.batch.Balances[:to.balances]
}

func (sm *StateMachine) commit(ctx context.Context) error {
	if sm.journal != nil && !sm.batch.Empty() {
		if err := sm.journal.Commit(ctx, sm.batch); err != nil {
			sm.rollback(savepoint{})
			return fmt.Errorf("ledgerd: journal commit: %w", err)
		}
	}
	sm.undo = nil
	sm.batch = store.Batch{}
	return nil
}

func (sm *StateMachine) putAccount(a ledger.Account) {
	prev, existed := sm.accounts[a.ID]
	sm.accounts[a.ID] = a
	sm.undo = append(sm.undo, func() {
		if existed {
			sm.accounts[a.ID] = prev
		} else {
			delete(sm.accounts, a.ID)
		}
	})
	sm.batch.Accounts = append(sm.batch.Accounts, a)
}

func (sm *StateMachine) insertTransfer(t ledger.Transfer) {
	sm.transfers[t.ID] = t
	sm.transferLog = append(sm.transferLog, t.ID)
	sm.byTimestamp[t.Timestamp] = t.ID
	sm.undo = append(sm.undo, func() {
		delete(sm.transfers, t.ID)
		delete(sm.byTimestamp, t.Timestamp)
		sm.transferLog = sm.transferLog[:len(sm.transferLog)-1]
	})
	sm.batch.Transfers = append(sm.batch.Transfers, t)
}

func (sm *StateMachine) putPending(p store.PendingTransfer) {
	prev, existed := sm.pending[p.TransferID]
	sm.pending[p.TransferID] = p
	sm.undo = append(sm.undo, func() {
		if existed {
			sm.pending[p.TransferID] = prev
		} else {
			delete(sm.pending, p.TransferID)
		}
	})
	sm.batch.Pending = append(sm.batch.Pending, p)
}

// markExpiry maps the expiry timestamp ts to the pending transfer it released,
// so balance queries can attribute the snapshot to a debit or credit side.
func (sm *StateMachine) markExpiry(ts uint64, transferID ledger.Uint128) {
	sm.byTimestamp[ts] = transferID
	sm.undo = append(sm.undo, func() {
		delete(sm.byTimestamp, ts)
	})
}

// recordHistory appends a balance snapshot when a has the history flag.
func (sm *StateMachine) recordHistory(a ledger.Account, ts uint64) {
	if a.Flags&ledger.AccountFlagHistory == 0 {
		return
	}
	bal := ledger.AccountBalance{
		DebitsPending:  a.DebitsPending,
		DebitsPosted:   a.DebitsPosted,
		CreditsPending: a.CreditsPending,
		CreditsPosted:  a.CreditsPosted,
		Timestamp:      ts,
	}
	id := a.ID
	sm.history[id] = append(sm.history[id], bal)
	sm.undo = append(sm.undo, func() {
		h := sm.history[id]
		sm.history[id] = h[:len(h)-1]
	})
	sm.batch.Balances = append(sm.batch.Balances, store.Balance{AccountID: id, AccountBalance: bal})
}

// applyChains runs apply over n events honoring linked chains: a chain is
// all-or-nothing, its other members report failed, and a chain left open by
// the last event reports chainOpen on that event.
func (sm *StateMachine) applyChains(n int, linked func(int) bool, apply func(int) uint32, failed, chainOpen uint32) []codec.CreateResult {
	codes := make([]uint32, n)
	chainStart := -1
	chainBroken := false
	var chainMark savepoint

	for i := 0; i < n; i++ {
		isLinked := linked(i)
		if isLinked && chainStart < 0 {
			chainStart = i
			chainBroken = false
			chainMark = sm.savepoint()
		}

		switch {
		case isLinked && i == n-1:
			codes[i] = chainOpen
		case chainStart >= 0 && chainBroken:
			codes[i] = failed
		default:
			mark := sm.savepoint()
			codes[i] = apply(i)
			if codes[i] != 0 {
				sm.rollback(mark)
			}
		}
		if chainStart >= 0 && codes[i] != 0 {
			chainBroken = true
		}

		if chainStart >= 0 && (!isLinked || i == n-1) {
			if chainBroken {
				sm.rollback(chainMark)
				for j := chainStart; j <= i; j++ {
					if codes[j] == 0 {
						codes[j] = failed
					}
				}
			}
			chainStart = -1
		}
	}

	results := make([]codec.CreateResult, 0)
	for i, code := range codes {
		if code != 0 {
			results = append(results, codec.CreateResult{Index: uint32(i), Result: code})
		}
	}
	return results
}
