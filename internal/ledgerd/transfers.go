package ledgerd

import (
	"context"
	"math/bits"
	"sort"

	"github.com/danmuck/ledgerctl/internal/protocol/codec"
	"github.com/danmuck/ledgerctl/internal/store"
	"github.com/danmuck/ledgerctl/pkg/ledger"
)

const nsPerSecond = uint64(1_000_000_000)

// CreateTransfers expires elapsed pending transfers, then applies events in order
// and returns the sparse failures.
func (sm *StateMachine) CreateTransfers(ctx context.Context, events []ledger.Transfer) ([]codec.CreateResult, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.expirePending()
	base := sm.prepareTimestamp(len(events))
	results := sm.applyChains(len(events),
		func(i int) bool { return events[i].Flags&ledger.TransferFlagLinked != 0 },
		func(i int) uint32 { return uint32(sm.createTransfer(events[i], base+uint64(i)+1)) },
		uint32(ledger.TransferLinkedEventFailed),
		uint32(ledger.TransferLinkedEventChainOpen),
	)
	if err := sm.commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

func (sm *StateMachine) createTransfer(t ledger.Transfer, ts uint64) ledger.CreateTransferResult {
	if t.Timestamp != 0 {
		return ledger.TransferTimestampMustBeZero
	}
	if ledger.TransferFlagsReserved(t.Flags) {
		return ledger.TransferReservedFlag
	}
	if t.ID.IsZero() {
		return ledger.TransferIDMustNotBeZero
	}
	if t.ID.IsMax() {
		return ledger.TransferIDMustNotBeIntMax
	}

	flags := t.TransferFlags()
	resolves := flags.PostPendingTransfer || flags.VoidPendingTransfer
	balancing := flags.BalancingDebit || flags.BalancingCredit
	if (flags.Pending && resolves) ||
		(flags.PostPendingTransfer && flags.VoidPendingTransfer) ||
		(balancing && resolves) {
		return ledger.TransferFlagsAreMutuallyExclusive
	}
	if resolves {
		return sm.resolvePending(t, ts)
	}

	if t.DebitAccountID.IsZero() {
		return ledger.TransferDebitAccountIDMustNotBeZero
	}
	if t.DebitAccountID.IsMax() {
		return ledger.TransferDebitAccountIDMustNotBeIntMax
	}
	if t.CreditAccountID.IsZero() {
		return ledger.TransferCreditAccountIDMustNotBeZero
	}
	if t.CreditAccountID.IsMax() {
		return ledger.TransferCreditAccountIDMustNotBeIntMax
	}
	if t.DebitAccountID == t.CreditAccountID {
		return ledger.TransferAccountsMustBeDifferent
	}
	if !t.PendingID.IsZero() {
		return ledger.TransferPendingIDMustBeZero
	}
	if !flags.Pending && t.Timeout != 0 {
		return ledger.TransferTimeoutReservedForPendingTransfer
	}
	if t.Amount.IsZero() && !balancing {
		return ledger.TransferAmountMustNotBeZero
	}
	if t.Ledger == 0 {
		return ledger.TransferLedgerMustNotBeZero
	}
	if t.Code == 0 {
		return ledger.TransferCodeMustNotBeZero
	}

	dr, ok := sm.accounts[t.DebitAccountID]
	if !ok {
		return ledger.TransferDebitAccountNotFound
	}
	cr, ok := sm.accounts[t.CreditAccountID]
	if !ok {
		return ledger.TransferCreditAccountNotFound
	}
	if dr.Ledger != cr.Ledger {
		return ledger.TransferAccountsMustHaveTheSameLedger
	}
	if t.Ledger != dr.Ledger {
		return ledger.TransferTransferMustHaveTheSameLedgerAsAccounts
	}
	if existing, ok := sm.transfers[t.ID]; ok {
		return transferExists(t, existing)
	}

	amount := t.Amount
	if balancing && amount.IsZero() {
		amount = ledger.MaxUint128
	}
	if flags.BalancingDebit {
		available := saturatingSub(saturatingSub(dr.CreditsPosted, dr.DebitsPosted), dr.DebitsPending)
		amount = amount.Min(available)
	}
	if flags.BalancingCredit {
		available := saturatingSub(saturatingSub(cr.DebitsPosted, cr.CreditsPosted), cr.CreditsPending)
		amount = amount.Min(available)
	}

	if flags.Pending {
		if overflows(dr.DebitsPending, amount) {
			return ledger.TransferOverflowsDebitsPending
		}
		if overflows(cr.CreditsPending, amount) {
			return ledger.TransferOverflowsCreditsPending
		}
	}
	if overflows(dr.DebitsPosted, amount) {
		return ledger.TransferOverflowsDebitsPosted
	}
	if overflows(cr.CreditsPosted, amount) {
		return ledger.TransferOverflowsCreditsPosted
	}
	if overflows(dr.DebitsPending, dr.DebitsPosted, amount) {
		return ledger.TransferOverflowsDebits
	}
	if overflows(cr.CreditsPending, cr.CreditsPosted, amount) {
		return ledger.TransferOverflowsCredits
	}
	var expiresAt uint64
	if flags.Pending && t.Timeout != 0 {
		hi, timeoutNS := bits.Mul64(uint64(t.Timeout), nsPerSecond)
		sum, carry := bits.Add64(ts, timeoutNS, 0)
		if hi != 0 || carry != 0 {
			return ledger.TransferOverflowsTimeout
		}
		expiresAt = sum
	}
	if dr.AccountFlags().DebitsMustNotExceedCredits {
		total, _ := sum128(dr.DebitsPending, dr.DebitsPosted, amount)
		if total.Cmp(dr.CreditsPosted) > 0 {
			return ledger.TransferExceedsCredits
		}
	}
	if cr.AccountFlags().CreditsMustNotExceedDebits {
		total, _ := sum128(cr.CreditsPending, cr.CreditsPosted, amount)
		if total.Cmp(cr.DebitsPosted) > 0 {
			return ledger.TransferExceedsDebits
		}
	}

	stored := t
	stored.Amount = amount
	stored.Timestamp = ts
	sm.insertTransfer(stored)

	if flags.Pending {
		dr.DebitsPending, _ = dr.DebitsPending.Add(amount)
		cr.CreditsPending, _ = cr.CreditsPending.Add(amount)
		sm.putPending(store.PendingTransfer{TransferID: t.ID, Status: store.PendingStatusPending, ExpiresAt: expiresAt})
	} else {
		dr.DebitsPosted, _ = dr.DebitsPosted.Add(amount)
		cr.CreditsPosted, _ = cr.CreditsPosted.Add(amount)
	}
	sm.putAccount(dr)
	sm.putAccount(cr)
	sm.recordHistory(dr, ts)
	sm.recordHistory(cr, ts)
	return ledger.TransferOK
}

// resolvePending posts or voids the pending transfer named by t.PendingID.
func (sm *StateMachine) resolvePending(t ledger.Transfer, ts uint64) ledger.CreateTransferResult {
	flags := t.TransferFlags()
	if t.PendingID.IsZero() {
		return ledger.TransferPendingIDMustNotBeZero
	}
	if t.PendingID.IsMax() {
		return ledger.TransferPendingIDMustNotBeIntMax
	}
	if t.PendingID == t.ID {
		return ledger.TransferPendingIDMustBeDifferent
	}
	if t.Timeout != 0 {
		return ledger.TransferTimeoutReservedForPendingTransfer
	}

	p, ok := sm.transfers[t.PendingID]
	if !ok {
		return ledger.TransferPendingTransferNotFound
	}
	if !p.TransferFlags().Pending {
		return ledger.TransferPendingTransferNotPending
	}
	if !t.DebitAccountID.IsZero() && t.DebitAccountID != p.DebitAccountID {
		return ledger.TransferPendingTransferHasDifferentDebitAccountID
	}
	if !t.CreditAccountID.IsZero() && t.CreditAccountID != p.CreditAccountID {
		return ledger.TransferPendingTransferHasDifferentCreditAccountID
	}
	if t.Ledger != 0 && t.Ledger != p.Ledger {
		return ledger.TransferPendingTransferHasDifferentLedger
	}
	if t.Code != 0 && t.Code != p.Code {
		return ledger.TransferPendingTransferHasDifferentCode
	}

	amount := t.Amount
	if amount.IsZero() {
		amount = p.Amount
	}
	if amount.Cmp(p.Amount) > 0 {
		return ledger.TransferExceedsPendingTransferAmount
	}
	if flags.VoidPendingTransfer && amount.Cmp(p.Amount) < 0 {
		return ledger.TransferPendingTransferHasDifferentAmount
	}
	if existing, ok := sm.transfers[t.ID]; ok {
		return resolvedExists(t, existing)
	}

	state := sm.pending[p.ID]
	switch state.Status {
	case store.PendingStatusPosted:
		return ledger.TransferPendingTransferAlreadyPosted
	case store.PendingStatusVoided:
		return ledger.TransferPendingTransferAlreadyVoided
	case store.PendingStatusExpired:
		return ledger.TransferPendingTransferExpired
	}
	if state.ExpiresAt != 0 && ts >= state.ExpiresAt {
		return ledger.TransferPendingTransferExpired
	}

	dr := sm.accounts[p.DebitAccountID]
	cr := sm.accounts[p.CreditAccountID]
	if flags.PostPendingTransfer {
		if overflows(dr.DebitsPosted, amount) {
			return ledger.TransferOverflowsDebitsPosted
		}
		if overflows(cr.CreditsPosted, amount) {
			return ledger.TransferOverflowsCreditsPosted
		}
	}

	stored := t
	stored.DebitAccountID = p.DebitAccountID
	stored.CreditAccountID = p.CreditAccountID
	stored.Ledger = p.Ledger
	stored.Code = p.Code
	stored.Amount = amount
	stored.Timestamp = ts
	sm.insertTransfer(stored)

	dr.DebitsPending, _ = dr.DebitsPending.Sub(p.Amount)
	cr.CreditsPending, _ = cr.CreditsPending.Sub(p.Amount)
	state.TransferID = p.ID
	if flags.PostPendingTransfer {
		dr.DebitsPosted, _ = dr.DebitsPosted.Add(amount)
		cr.CreditsPosted, _ = cr.CreditsPosted.Add(amount)
		state.Status = store.PendingStatusPosted
	} else {
		state.Status = store.PendingStatusVoided
	}
	sm.putPending(state)
	sm.putAccount(dr)
	sm.putAccount(cr)
	sm.recordHistory(dr, ts)
	sm.recordHistory(cr, ts)
	return ledger.TransferOK
}

func transferExists(t, e ledger.Transfer) ledger.CreateTransferResult {
	flags := t.TransferFlags()
	balancing := flags.BalancingDebit || flags.BalancingCredit
	switch {
	case t.Flags != e.Flags:
		return ledger.TransferExistsWithDifferentFlags
	case t.DebitAccountID != e.DebitAccountID:
		return ledger.TransferExistsWithDifferentDebitAccountID
	case t.CreditAccountID != e.CreditAccountID:
		return ledger.TransferExistsWithDifferentCreditAccountID
	case !balancing && t.Amount != e.Amount:
		return ledger.TransferExistsWithDifferentAmount
	case balancing && !t.Amount.IsZero() && t.Amount.Cmp(e.Amount) < 0:
		return ledger.TransferExistsWithDifferentAmount
	case t.PendingID != e.PendingID:
		return ledger.TransferExistsWithDifferentPendingID
	case t.UserData128 != e.UserData128:
		return ledger.TransferExistsWithDifferentUserData128
	case t.UserData64 != e.UserData64:
		return ledger.TransferExistsWithDifferentUserData64
	case t.UserData32 != e.UserData32:
		return ledger.TransferExistsWithDifferentUserData32
	case t.Timeout != e.Timeout:
		return ledger.TransferExistsWithDifferentTimeout
	case t.Code != e.Code:
		return ledger.TransferExistsWithDifferentCode
	default:
		return ledger.TransferExists
	}
}

// resolvedExists compares a post/void retry against the stored resolution, where
// zero fields in t mean "inherit from the pending transfer".
func resolvedExists(t, e ledger.Transfer) ledger.CreateTransferResult {
	switch {
	case t.Flags != e.Flags:
		return ledger.TransferExistsWithDifferentFlags
	case !t.DebitAccountID.IsZero() && t.DebitAccountID != e.DebitAccountID:
		return ledger.TransferExistsWithDifferentDebitAccountID
	case !t.CreditAccountID.IsZero() && t.CreditAccountID != e.CreditAccountID:
		return ledger.TransferExistsWithDifferentCreditAccountID
	case !t.Amount.IsZero() && t.Amount != e.Amount:
		return ledger.TransferExistsWithDifferentAmount
	case t.PendingID != e.PendingID:
		return ledger.TransferExistsWithDifferentPendingID
	case t.UserData128 != e.UserData128:
		return ledger.TransferExistsWithDifferentUserData128
	case t.UserData64 != e.UserData64:
		return ledger.TransferExistsWithDifferentUserData64
	case t.UserData32 != e.UserData32:
		return ledger.TransferExistsWithDifferentUserData32
	case t.Code != 0 && t.Code != e.Code:
		return ledger.TransferExistsWithDifferentCode
	default:
		return ledger.TransferExists
	}
}

// expirePending releases pending amounts of transfers whose timeout has
// elapsed. Each expiry takes its own timestamp so history accounts record the
// released balance.
func (sm *StateMachine) expirePending() int {
	cutoff := uint64(sm.now().UnixNano())
	if cutoff < sm.lastTimestamp {
		cutoff = sm.lastTimestamp
	}
	due := make([]store.PendingTransfer, 0)
	for _, p := range sm.pending {
		if p.Status == store.PendingStatusPending && p.ExpiresAt != 0 && p.ExpiresAt <= cutoff {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ExpiresAt != due[j].ExpiresAt {
			return due[i].ExpiresAt < due[j].ExpiresAt
		}
		return due[i].TransferID.Cmp(due[j].TransferID) < 0
	})

	for _, p := range due {
		ts := sm.prepareTimestamp(1) + 1
		t := sm.transfers[p.TransferID]
		dr := sm.accounts[t.DebitAccountID]
		cr := sm.accounts[t.CreditAccountID]
		dr.DebitsPending, _ = dr.DebitsPending.Sub(t.Amount)
		cr.CreditsPending, _ = cr.CreditsPending.Sub(t.Amount)
		sm.putAccount(dr)
		sm.putAccount(cr)
		sm.recordHistory(dr, ts)
		sm.recordHistory(cr, ts)
		p.Status = store.PendingStatusExpired
		p.ExpiredAt = ts
		sm.putPending(p)
		sm.markExpiry(ts, p.TransferID)
	}
	return len(due)
}

// LookupTransfers returns the transfers found, in request order.
func (sm *StateMachine) LookupTransfers(ids []ledger.Uint128) []ledger.Transfer {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]ledger.Transfer, 0, len(ids))
	for _, id := range ids {
		if t, ok := sm.transfers[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

func overflows(values ...ledger.Uint128) bool {
	_, overflow := sum128(values...)
	return overflow
}

func sum128(values ...ledger.Uint128) (ledger.Uint128, bool) {
	var total ledger.Uint128
	for _, v := range values {
		var overflow bool
		total, overflow = total.Add(v)
		if overflow {
			return ledger.MaxUint128, true
		}
	}
	return total, false
}

func saturatingSub(a, b ledger.Uint128) ledger.Uint128 {
	diff, underflow := a.Sub(b)
	if underflow {
		return ledger.Uint128{}
	}
	return diff
}
