package ledgerd

import (
	"context"

	"github.com/danmuck/ledgerctl/internal/protocol/codec"
	"github.com/danmuck/ledgerctl/pkg/ledger"
)

// CreateAccounts applies events in order and returns the sparse failures.
func (sm *StateMachine) CreateAccounts(ctx context.Context, events []ledger.Account) ([]codec.CreateResult, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	base := sm.prepareTimestamp(len(events))
	results := sm.applyChains(len(events),
		func(i int) bool { return events[i].Flags&ledger.AccountFlagLinked != 0 },
		func(i int) uint32 { return uint32(sm.createAccount(events[i], base+uint64(i)+1)) },
		uint32(ledger.AccountLinkedEventFailed),
		uint32(ledger.AccountLinkedEventChainOpen),
	)
	if err := sm.commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

func (sm *StateMachine) createAccount(a ledger.Account, ts uint64) ledger.CreateAccountResult {
	if a.Timestamp != 0 {
		return ledger.AccountTimestampMustBeZero
	}
	if a.Reserved != 0 {
		return ledger.AccountReservedField
	}
	if ledger.AccountFlagsReserved(a.Flags) {
		return ledger.AccountReservedFlag
	}
	if a.ID.IsZero() {
		return ledger.AccountIDMustNotBeZero
	}
	if a.ID.IsMax() {
		return ledger.AccountIDMustNotBeIntMax
	}
	flags := a.AccountFlags()
	if flags.DebitsMustNotExceedCredits && flags.CreditsMustNotExceedDebits {
		return ledger.AccountFlagsAreMutuallyExclusive
	}
	if !a.DebitsPending.IsZero() {
		return ledger.AccountDebitsPendingMustBeZero
	}
	if !a.DebitsPosted.IsZero() {
		return ledger.AccountDebitsPostedMustBeZero
	}
	if !a.CreditsPending.IsZero() {
		return ledger.AccountCreditsPendingMustBeZero
	}
	if !a.CreditsPosted.IsZero() {
		return ledger.AccountCreditsPostedMustBeZero
	}
	if a.Ledger == 0 {
		return ledger.AccountLedgerMustNotBeZero
	}
	if a.Code == 0 {
		return ledger.AccountCodeMustNotBeZero
	}
	if existing, ok := sm.accounts[a.ID]; ok {
		return accountExists(a, existing)
	}

	a.Timestamp = ts
	sm.putAccount(a)
	return ledger.AccountOK
}

func accountExists(a, e ledger.Account) ledger.CreateAccountResult {
	switch {
	case a.Flags != e.Flags:
		return ledger.AccountExistsWithDifferentFlags
	case a.UserData128 != e.UserData128:
		return ledger.AccountExistsWithDifferentUserData128
	case a.UserData64 != e.UserData64:
		return ledger.AccountExistsWithDifferentUserData64
	case a.UserData32 != e.UserData32:
		return ledger.AccountExistsWithDifferentUserData32
	case a.Ledger != e.Ledger:
		return ledger.AccountExistsWithDifferentLedger
	case a.Code != e.Code:
		return ledger.AccountExistsWithDifferentCode
	default:
		return ledger.AccountExists
	}
}

// LookupAccounts returns the accounts found, in request order.
func (sm *StateMachine) LookupAccounts(ids []ledger.Uint128) []ledger.Account {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]ledger.Account, 0, len(ids))
	for _, id := range ids {
		if a, ok := sm.accounts[id]; ok {
			out = append(out, a)
		}
	}
	return out
}
