package ledgerd

import (
	"math"

	"github.com/danmuck/ledgerctl/internal/protocol/codec"
	"github.com/danmuck/ledgerctl/pkg/ledger"
)

const filterFlagsKnown = ledger.AccountFilterFlagDebits | ledger.AccountFilterFlagCredits | ledger.AccountFilterFlagReversed

// filterValid rejects filters that can never match; such queries reply empty.
func filterValid(f ledger.AccountFilter) bool {
	switch {
	case f.AccountID.IsZero(), f.AccountID.IsMax():
		return false
	case f.TimestampMin == math.MaxUint64, f.TimestampMax == math.MaxUint64:
		return false
	case f.TimestampMax != 0 && f.TimestampMin > f.TimestampMax:
		return false
	case f.Limit == 0:
		return false
	case f.Flags&^filterFlagsKnown != 0:
		return false
	}
	return true
}

// filterSides resolves which sides of a transfer match; neither flag selects both.
func filterSides(f ledger.AccountFilter) (debits, credits bool) {
	flags := f.AccountFilterFlags()
	if !flags.Debits && !flags.Credits {
		return true, true
	}
	return flags.Debits, flags.Credits
}

func inRange(f ledger.AccountFilter, ts uint64) bool {
	if f.TimestampMin != 0 && ts < f.TimestampMin {
		return false
	}
	if f.TimestampMax != 0 && ts > f.TimestampMax {
		return false
	}
	return true
}

func (sm *StateMachine) resultLimit(op ledger.Operation, f ledger.AccountFilter) int {
	limit := int(f.Limit)
	if resultMax := codec.QueryResultMax(op, sm.limits); limit > resultMax {
		limit = resultMax
	}
	return limit
}

// GetAccountTransfers returns transfers touching f.AccountID in timestamp order.
func (sm *StateMachine) GetAccountTransfers(f ledger.AccountFilter) []ledger.Transfer {
	if !filterValid(f) {
		return []ledger.Transfer{}
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()

	debits, credits := filterSides(f)
	limit := sm.resultLimit(ledger.OperationGetAccountTransfers, f)
	reversed := f.AccountFilterFlags().Reversed
	out := make([]ledger.Transfer, 0)
	for i := range sm.transferLog {
		if len(out) >= limit {
			break
		}
		idx := i
		if reversed {
			idx = len(sm.transferLog) - 1 - i
		}
		t := sm.transfers[sm.transferLog[idx]]
		if !inRange(f, t.Timestamp) {
			continue
		}
		if (debits && t.DebitAccountID == f.AccountID) || (credits && t.CreditAccountID == f.AccountID) {
			out = append(out, t)
		}
	}
	return out
}

// GetAccountBalances returns historical balances of an account with the history
// flag, one per transfer that touched it on a selected side.
func (sm *StateMachine) GetAccountBalances(f ledger.AccountFilter) []ledger.AccountBalance {
	if !filterValid(f) {
		return []ledger.AccountBalance{}
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()

	account, ok := sm.accounts[f.AccountID]
	if !ok || account.Flags&ledger.AccountFlagHistory == 0 {
		return []ledger.AccountBalance{}
	}

	debits, credits := filterSides(f)
	limit := sm.resultLimit(ledger.OperationGetAccountBalances, f)
	reversed := f.AccountFilterFlags().Reversed
	history := sm.history[f.AccountID]
	out := make([]ledger.AccountBalance, 0)
	for i := range history {
		if len(out) >= limit {
			break
		}
		idx := i
		if reversed {
			idx = len(history) - 1 - i
		}
		bal := history[idx]
		if !inRange(f, bal.Timestamp) {
			continue
		}
		t, ok := sm.transfers[sm.byTimestamp[bal.Timestamp]]
		if !ok {
			continue
		}
		if (debits && t.DebitAccountID == f.AccountID) || (credits && t.CreditAccountID == f.AccountID) {
			out = append(out, bal)
		}
	}
	return out
}
