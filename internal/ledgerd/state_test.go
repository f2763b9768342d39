package ledgerd

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/ledgerctl/internal/protocol/codec"
	"github.com/danmuck/ledgerctl/internal/protocol/frame"
	"github.com/danmuck/ledgerctl/internal/store"
	"github.com/danmuck/ledgerctl/internal/testutil/testlog"
	"github.com/danmuck/ledgerctl/pkg/ledger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingJournal struct {
	err error
}

func (j failingJournal) Load(context.Context) (store.Snapshot, error) { return store.Snapshot{}, nil }
func (j failingJournal) Commit(context.Context, store.Batch) error    { return j.err }

func u(v uint64) ledger.Uint128 { return ledger.ToUint128(v) }

func account(id uint64, flags uint16) ledger.Account {
	return ledger.Account{ID: u(id), Ledger: 1, Code: 1, Flags: flags}
}

func transfer(id, debit, credit, amount uint64, flags uint16) ledger.Transfer {
	return ledger.Transfer{
		ID:              u(id),
		DebitAccountID:  u(debit),
		CreditAccountID: u(credit),
		Amount:          u(amount),
		Ledger:          1,
		Code:            1,
		Flags:           flags,
	}
}

func newTestState(t *testing.T) (*StateMachine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return NewStateMachine(StateConfig{Clock: clock.Now}), clock
}

func mustCreateAccounts(t *testing.T, sm *StateMachine, accounts ...ledger.Account) {
	t.Helper()
	results, err := sm.CreateAccounts(context.Background(), accounts)
	if err != nil {
		t.Fatalf("create accounts: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("create accounts results=%+v", results)
	}
}

func mustCreateTransfers(t *testing.T, sm *StateMachine, transfers ...ledger.Transfer) {
	t.Helper()
	results, err := sm.CreateTransfers(context.Background(), transfers)
	if err != nil {
		t.Fatalf("create transfers: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("create transfers results=%+v", results)
	}
}

func lookupAccount(t *testing.T, sm *StateMachine, id uint64) ledger.Account {
	t.Helper()
	found := sm.LookupAccounts([]ledger.Uint128{u(id)})
	if len(found) != 1 {
		t.Fatalf("account %d not found", id)
	}
	return found[0]
}

func TestCreateAccountsValidationAndExists(t *testing.T) {
	testlog.Start(t)
	sm, _ := newTestState(t)

	bad := []ledger.Account{
		account(1, 0),
		{ID: u(2), Ledger: 1, Code: 1, Timestamp: 9},
		{ID: u(0), Ledger: 1, Code: 1},
		{ID: ledger.MaxUint128, Ledger: 1, Code: 1},
		account(3, ledger.AccountFlagDebitsMustNotExceedCredits|ledger.AccountFlagCreditsMustNotExceedDebits),
		{ID: u(4), Ledger: 0, Code: 1},
		{ID: u(5), Ledger: 1, Code: 0},
		{ID: u(6), Ledger: 1, Code: 1, DebitsPosted: u(1)},
		account(7, 1<<10),
	}
	results, err := sm.CreateAccounts(context.Background(), bad)
	if err != nil {
		t.Fatalf("create accounts: %v", err)
	}
	want := []codec.CreateResult{
		{Index: 1, Result: uint32(ledger.AccountTimestampMustBeZero)},
		{Index: 2, Result: uint32(ledger.AccountIDMustNotBeZero)},
		{Index: 3, Result: uint32(ledger.AccountIDMustNotBeIntMax)},
		{Index: 4, Result: uint32(ledger.AccountFlagsAreMutuallyExclusive)},
		{Index: 5, Result: uint32(ledger.AccountLedgerMustNotBeZero)},
		{Index: 6, Result: uint32(ledger.AccountCodeMustNotBeZero)},
		{Index: 7, Result: uint32(ledger.AccountDebitsPostedMustBeZero)},
		{Index: 8, Result: uint32(ledger.AccountReservedFlag)},
	}
	if len(results) != len(want) {
		t.Fatalf("results=%+v", results)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("result[%d]=%+v want %+v", i, results[i], want[i])
		}
	}

	again := []ledger.Account{
		account(1, 0),
		{ID: u(1), Ledger: 2, Code: 1},
		{ID: u(1), Ledger: 1, Code: 1, UserData64: 3},
	}
	results, err = sm.CreateAccounts(context.Background(), again)
	if err != nil {
		t.Fatalf("create accounts: %v", err)
	}
	if len(results) != 3 ||
		results[0].Result != uint32(ledger.AccountExists) ||
		results[1].Result != uint32(ledger.AccountExistsWithDifferentLedger) ||
		results[2].Result != uint32(ledger.AccountExistsWithDifferentUserData64) {
		t.Fatalf("exists results=%+v", results)
	}
}

func TestTimestampsAreStrictlyIncreasing(t *testing.T) {
	testlog.Start(t)
	sm, _ := newTestState(t)
	mustCreateAccounts(t, sm, account(1, 0), account(2, 0))
	mustCreateAccounts(t, sm, account(3, 0))

	found := sm.LookupAccounts([]ledger.Uint128{u(1), u(2), u(3)})
	if len(found) != 3 {
		t.Fatalf("found=%d", len(found))
	}
	for i := 1; i < len(found); i++ {
		if found[i].Timestamp <= found[i-1].Timestamp {
			t.Fatalf("timestamps not increasing: %d then %d", found[i-1].Timestamp, found[i].Timestamp)
		}
	}
}

func TestLinkedChainIsAllOrNothing(t *testing.T) {
	testlog.Start(t)
	sm, _ := newTestState(t)

	events := []ledger.Account{
		account(1, ledger.AccountFlagLinked),
		{ID: u(2), Ledger: 1, Code: 0, Flags: ledger.AccountFlagLinked},
		account(3, 0),
		account(4, 0),
	}
	results, err := sm.CreateAccounts(context.Background(), events)
	if err != nil {
		t.Fatalf("create accounts: %v", err)
	}
	want := []codec.CreateResult{
		{Index: 0, Result: uint32(ledger.AccountLinkedEventFailed)},
		{Index: 1, Result: uint32(ledger.AccountCodeMustNotBeZero)},
		{Index: 2, Result: uint32(ledger.AccountLinkedEventFailed)},
	}
	if len(results) != len(want) {
		t.Fatalf("results=%+v", results)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("result[%d]=%+v want %+v", i, results[i], want[i])
		}
	}
	found := sm.LookupAccounts([]ledger.Uint128{u(1), u(2), u(3), u(4)})
	if len(found) != 1 || found[0].ID != u(4) {
		t.Fatalf("found=%+v", found)
	}
}

func TestLinkedChainOpenAtEndOfBatch(t *testing.T) {
	testlog.Start(t)
	sm, _ := newTestState(t)

	results, err := sm.CreateAccounts(context.Background(), []ledger.Account{
		account(1, 0),
		account(2, ledger.AccountFlagLinked),
		account(3, ledger.AccountFlagLinked),
	})
	if err != nil {
		t.Fatalf("create accounts: %v", err)
	}
	if len(results) != 2 ||
		results[0] != (codec.CreateResult{Index: 1, Result: uint32(ledger.AccountLinkedEventFailed)}) ||
		results[1] != (codec.CreateResult{Index: 2, Result: uint32(ledger.AccountLinkedEventChainOpen)}) {
		t.Fatalf("results=%+v", results)
	}
	if got := sm.Stats().Accounts; got != 1 {
		t.Fatalf("accounts=%d", got)
	}
}

func TestLinkedTransferChainRollsBackBalances(t *testing.T) {
	testlog.Start(t)
	sm, _ := newTestState(t)
	mustCreateAccounts(t, sm, account(1, 0), account(2, 0))

	results, err := sm.CreateTransfers(context.Background(), []ledger.Transfer{
		transfer(10, 1, 2, 100, ledger.TransferFlagLinked),
		transfer(11, 1, 9, 5, 0),
	})
	if err != nil {
		t.Fatalf("create transfers: %v", err)
	}
	if len(results) != 2 || results[1].Result != uint32(ledger.TransferCreditAccountNotFound) {
		t.Fatalf("results=%+v", results)
	}
	if a := lookupAccount(t, sm, 1); !a.DebitsPosted.IsZero() {
		t.Fatalf("debits_posted=%s after rollback", a.DebitsPosted)
	}
	if got := sm.LookupTransfers([]ledger.Uint128{u(10)}); len(got) != 0 {
		t.Fatalf("transfer 10 persisted after rollback")
	}
}

func TestPostedTransferAndLimits(t *testing.T) {
	testlog.Start(t)
	sm, _ := newTestState(t)
	mustCreateAccounts(t, sm,
		account(1, ledger.AccountFlagDebitsMustNotExceedCredits),
		account(2, 0),
		ledger.Account{ID: u(3), Ledger: 2, Code: 1},
	)

	results, err := sm.CreateTransfers(context.Background(), []ledger.Transfer{
		transfer(10, 1, 2, 1, 0),
		transfer(11, 2, 1, 50, 0),
		transfer(12, 1, 2, 20, 0),
		transfer(13, 1, 1, 5, 0),
		transfer(14, 1, 3, 5, 0),
		transfer(15, 2, 1, 0, 0),
	})
	if err != nil {
		t.Fatalf("create transfers: %v", err)
	}
	want := map[uint32]ledger.CreateTransferResult{
		0: ledger.TransferExceedsCredits,
		3: ledger.TransferAccountsMustBeDifferent,
		4: ledger.TransferAccountsMustHaveTheSameLedger,
		5: ledger.TransferAmountMustNotBeZero,
	}
	if len(results) != len(want) {
		t.Fatalf("results=%+v", results)
	}
	for _, r := range results {
		if want[r.Index] != ledger.CreateTransferResult(r.Result) {
			t.Fatalf("index %d result=%s want %s", r.Index, ledger.CreateTransferResult(r.Result), want[r.Index])
		}
	}

	a1 := lookupAccount(t, sm, 1)
	if a1.DebitsPosted != u(20) || a1.CreditsPosted != u(50) {
		t.Fatalf("account 1 balances=%+v", a1)
	}

	results, err = sm.CreateTransfers(context.Background(), []ledger.Transfer{
		transfer(12, 1, 2, 20, 0),
		transfer(12, 1, 2, 21, 0),
	})
	if err != nil {
		t.Fatalf("create transfers: %v", err)
	}
	if len(results) != 2 ||
		results[0].Result != uint32(ledger.TransferExists) ||
		results[1].Result != uint32(ledger.TransferExistsWithDifferentAmount) {
		t.Fatalf("exists results=%+v", results)
	}
}

func TestOverflowIsRejected(t *testing.T) {
	testlog.Start(t)
	sm, _ := newTestState(t)
	mustCreateAccounts(t, sm, account(1, 0), account(2, 0))
	mustCreateTransfers(t, sm, ledger.Transfer{
		ID: u(10), DebitAccountID: u(1), CreditAccountID: u(2), Amount: ledger.MaxUint128, Ledger: 1, Code: 1,
	})
	results, err := sm.CreateTransfers(context.Background(), []ledger.Transfer{transfer(11, 1, 2, 1, 0)})
	if err != nil {
		t.Fatalf("create transfers: %v", err)
	}
	if len(results) != 1 || results[0].Result != uint32(ledger.TransferOverflowsDebitsPosted) {
		t.Fatalf("results=%+v", results)
	}
}

func TestPendingPostAndVoid(t *testing.T) {
	testlog.Start(t)
	sm, _ := newTestState(t)
	mustCreateAccounts(t, sm, account(1, 0), account(2, 0))
	mustCreateTransfers(t, sm,
		transfer(10, 1, 2, 100, ledger.TransferFlagPending),
		transfer(11, 1, 2, 40, ledger.TransferFlagPending),
	)

	a1 := lookupAccount(t, sm, 1)
	if a1.DebitsPending != u(140) || !a1.DebitsPosted.IsZero() {
		t.Fatalf("pending balances=%+v", a1)
	}
	if got := sm.Stats().Pending; got != 2 {
		t.Fatalf("pending=%d", got)
	}

	post := ledger.Transfer{ID: u(20), PendingID: u(10), Amount: u(60), Flags: ledger.TransferFlagPostPendingTransfer}
	void := ledger.Transfer{ID: u(21), PendingID: u(11), Flags: ledger.TransferFlagVoidPendingTransfer}
	mustCreateTransfers(t, sm, post, void)

	a1 = lookupAccount(t, sm, 1)
	a2 := lookupAccount(t, sm, 2)
	if !a1.DebitsPending.IsZero() || a1.DebitsPosted != u(60) {
		t.Fatalf("debit account after resolve=%+v", a1)
	}
	if !a2.CreditsPending.IsZero() || a2.CreditsPosted != u(60) {
		t.Fatalf("credit account after resolve=%+v", a2)
	}
	stored := sm.LookupTransfers([]ledger.Uint128{u(20)})
	if len(stored) != 1 || stored[0].DebitAccountID != u(1) || stored[0].Ledger != 1 {
		t.Fatalf("post transfer did not inherit pending fields: %+v", stored)
	}

	results, err := sm.CreateTransfers(context.Background(), []ledger.Transfer{
		{ID: u(22), PendingID: u(10), Flags: ledger.TransferFlagPostPendingTransfer},
		{ID: u(23), PendingID: u(11), Flags: ledger.TransferFlagVoidPendingTransfer},
		{ID: u(24), PendingID: u(99), Flags: ledger.TransferFlagVoidPendingTransfer},
		{ID: u(25), PendingID: u(20), Flags: ledger.TransferFlagVoidPendingTransfer},
		post,
	})
	if err != nil {
		t.Fatalf("create transfers: %v", err)
	}
	want := []ledger.CreateTransferResult{
		ledger.TransferPendingTransferAlreadyPosted,
		ledger.TransferPendingTransferAlreadyVoided,
		ledger.TransferPendingTransferNotFound,
		ledger.TransferPendingTransferNotPending,
		ledger.TransferExists,
	}
	if len(results) != len(want) {
		t.Fatalf("results=%+v", results)
	}
	for i, r := range results {
		if ledger.CreateTransferResult(r.Result) != want[i] {
			t.Fatalf("result[%d]=%s want %s", i, ledger.CreateTransferResult(r.Result), want[i])
		}
	}
}

func TestPendingTransferExpires(t *testing.T) {
	testlog.Start(t)
	sm, clock := newTestState(t)
	mustCreateAccounts(t, sm, account(1, 0), account(2, 0))
	pending := transfer(10, 1, 2, 30, ledger.TransferFlagPending)
	pending.Timeout = 1
	mustCreateTransfers(t, sm, pending)

	if err := sm.Pulse(context.Background()); err != nil {
		t.Fatalf("pulse: %v", err)
	}
	if a := lookupAccount(t, sm, 1); a.DebitsPending != u(30) {
		t.Fatalf("expired too early: %+v", a)
	}

	clock.Advance(2 * time.Second)
	if err := sm.Pulse(context.Background()); err != nil {
		t.Fatalf("pulse: %v", err)
	}
	if a := lookupAccount(t, sm, 1); !a.DebitsPending.IsZero() {
		t.Fatalf("pending not released: %+v", a)
	}
	if got := sm.Stats().Pending; got != 0 {
		t.Fatalf("pending=%d", got)
	}

	results, err := sm.CreateTransfers(context.Background(), []ledger.Transfer{
		{ID: u(11), PendingID: u(10), Flags: ledger.TransferFlagPostPendingTransfer},
	})
	if err != nil {
		t.Fatalf("create transfers: %v", err)
	}
	if len(results) != 1 || results[0].Result != uint32(ledger.TransferPendingTransferExpired) {
		t.Fatalf("results=%+v", results)
	}
}

func TestPendingExpiryRecordsHistory(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	clock := newFakeClock()
	sm := NewStateMachine(StateConfig{Clock: clock.Now, Journal: db})
	mustCreateAccounts(t, sm, account(1, ledger.AccountFlagHistory), account(2, 0))
	pending := transfer(10, 1, 2, 30, ledger.TransferFlagPending)
	pending.Timeout = 1
	mustCreateTransfers(t, sm, pending)

	clock.Advance(2 * time.Second)
	if err := sm.Pulse(ctx); err != nil {
		t.Fatalf("pulse: %v", err)
	}

	check := func(sm *StateMachine) {
		t.Helper()
		debits := ledger.NewAccountFilter(u(1))
		debits.Flags = ledger.AccountFilterFlags{Debits: true}.ToUint32()
		got := sm.GetAccountBalances(debits)
		if len(got) != 2 {
			t.Fatalf("balances=%+v", got)
		}
		if got[0].DebitsPending != u(30) || !got[1].DebitsPending.IsZero() {
			t.Fatalf("pending not released in history: %+v", got)
		}
		if got[1].Timestamp <= got[0].Timestamp {
			t.Fatalf("expiry timestamp not after creation: %+v", got)
		}
		credits := ledger.NewAccountFilter(u(1))
		credits.Flags = ledger.AccountFilterFlags{Credits: true}.ToUint32()
		if got := sm.GetAccountBalances(credits); len(got) != 0 {
			t.Fatalf("credit side balances=%+v", got)
		}
	}
	check(sm)
	if err := db.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	db, err = store.Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer db.Close()
	restored := NewStateMachine(StateConfig{Clock: clock.Now, Journal: db})
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	check(restored)
}

func TestTimeoutOnlyForPendingTransfers(t *testing.T) {
	testlog.Start(t)
	sm, _ := newTestState(t)
	mustCreateAccounts(t, sm, account(1, 0), account(2, 0))
	posted := transfer(10, 1, 2, 1, 0)
	posted.Timeout = 5
	results, err := sm.CreateTransfers(context.Background(), []ledger.Transfer{posted})
	if err != nil {
		t.Fatalf("create transfers: %v", err)
	}
	if len(results) != 1 || results[0].Result != uint32(ledger.TransferTimeoutReservedForPendingTransfer) {
		t.Fatalf("results=%+v", results)
	}
}

func TestBalancingDebitClampsAmount(t *testing.T) {
	testlog.Start(t)
	sm, _ := newTestState(t)
	mustCreateAccounts(t, sm,
		account(1, ledger.AccountFlagDebitsMustNotExceedCredits),
		account(2, 0),
		account(3, 0),
	)
	mustCreateTransfers(t, sm, transfer(10, 2, 1, 50, 0))
	mustCreateTransfers(t, sm, transfer(11, 1, 3, 0, ledger.TransferFlagBalancingDebit))

	got := sm.LookupTransfers([]ledger.Uint128{u(11)})
	if len(got) != 1 || got[0].Amount != u(50) {
		t.Fatalf("balancing transfer=%+v", got)
	}
	if a := lookupAccount(t, sm, 1); a.DebitsPosted != u(50) {
		t.Fatalf("account 1=%+v", a)
	}
}

func TestAccountTransfersAndBalancesQueries(t *testing.T) {
	testlog.Start(t)
	sm, _ := newTestState(t)
	mustCreateAccounts(t, sm, account(1, ledger.AccountFlagHistory), account(2, 0), account(3, 0))
	mustCreateTransfers(t, sm,
		transfer(10, 1, 2, 10, 0),
		transfer(11, 2, 1, 5, 0),
		transfer(12, 3, 2, 7, 0),
	)

	ids := func(ts []ledger.Transfer) []uint64 {
		out := make([]uint64, 0, len(ts))
		for _, t := range ts {
			out = append(out, t.ID.Lo)
		}
		return out
	}
	equal := func(a, b []uint64) bool {
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}

	filter := ledger.NewAccountFilter(u(1))
	if got := ids(sm.GetAccountTransfers(filter)); !equal(got, []uint64{10, 11}) {
		t.Fatalf("both sides=%v", got)
	}
	filter.Flags = ledger.AccountFilterFlagDebits
	if got := ids(sm.GetAccountTransfers(filter)); !equal(got, []uint64{10}) {
		t.Fatalf("debits=%v", got)
	}
	filter.Flags = ledger.AccountFilterFlagCredits | ledger.AccountFilterFlagDebits | ledger.AccountFilterFlagReversed
	filter.Limit = 1
	if got := ids(sm.GetAccountTransfers(filter)); !equal(got, []uint64{11}) {
		t.Fatalf("reversed limit=%v", got)
	}

	all := sm.GetAccountTransfers(ledger.NewAccountFilter(u(2)))
	if len(all) != 3 {
		t.Fatalf("account 2 transfers=%d", len(all))
	}
	ranged := ledger.NewAccountFilter(u(2))
	ranged.TimestampMin = all[1].Timestamp
	ranged.TimestampMax = all[1].Timestamp
	if got := ids(sm.GetAccountTransfers(ranged)); !equal(got, []uint64{11}) {
		t.Fatalf("range=%v", got)
	}

	invalid := ledger.NewAccountFilter(u(1))
	invalid.Limit = 0
	if got := sm.GetAccountTransfers(invalid); len(got) != 0 {
		t.Fatalf("zero limit=%v", ids(got))
	}
	invalid = ledger.NewAccountFilter(u(1))
	invalid.TimestampMin, invalid.TimestampMax = 10, 5
	if got := sm.GetAccountTransfers(invalid); len(got) != 0 {
		t.Fatalf("inverted range=%v", ids(got))
	}

	balances := sm.GetAccountBalances(ledger.NewAccountFilter(u(1)))
	if len(balances) != 2 {
		t.Fatalf("balances=%+v", balances)
	}
	if balances[0].DebitsPosted != u(10) || !balances[0].CreditsPosted.IsZero() {
		t.Fatalf("balance[0]=%+v", balances[0])
	}
	if balances[1].CreditsPosted != u(5) || balances[1].Timestamp != all[1].Timestamp {
		t.Fatalf("balance[1]=%+v", balances[1])
	}
	creditsOnly := ledger.NewAccountFilter(u(1))
	creditsOnly.Flags = ledger.AccountFilterFlagCredits
	if got := sm.GetAccountBalances(creditsOnly); len(got) != 1 || got[0].CreditsPosted != u(5) {
		t.Fatalf("credit balances=%+v", got)
	}
	if got := sm.GetAccountBalances(ledger.NewAccountFilter(u(2))); len(got) != 0 {
		t.Fatalf("account without history returned %d balances", len(got))
	}
}

func TestExecuteStatuses(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	sm := NewStateMachine(StateConfig{Clock: clock.Now, Limits: frame.Limits{MaxPayloadBytes: 256}})
	ctx := context.Background()

	if _, status, _ := sm.Execute(ctx, ledger.Operation(7), nil); status != frame.StatusInvalidOperation {
		t.Fatalf("invalid op status=%s", status)
	}
	if _, status, _ := sm.Execute(ctx, ledger.OperationCreateAccounts, make([]byte, 100)); status != frame.StatusInvalidDataSize {
		t.Fatalf("partial event status=%s", status)
	}
	if _, status, _ := sm.Execute(ctx, ledger.OperationPulse, []byte{1}); status != frame.StatusInvalidDataSize {
		t.Fatalf("pulse with body status=%s", status)
	}
	three := codec.EncodeAccounts([]ledger.Account{account(1, 0), account(2, 0), account(3, 0)})
	if _, status, _ := sm.Execute(ctx, ledger.OperationCreateAccounts, three); status != frame.StatusTooMuchData {
		t.Fatalf("oversized batch status=%s", status)
	}
	filters := append(codec.EncodeAccountFilter(ledger.NewAccountFilter(u(1))), codec.EncodeAccountFilter(ledger.NewAccountFilter(u(2)))...)
	if _, status, _ := sm.Execute(ctx, ledger.OperationGetAccountTransfers, filters); status != frame.StatusInvalidDataSize {
		t.Fatalf("two filters status=%s", status)
	}

	body, status, err := sm.Execute(ctx, ledger.OperationCreateAccounts, codec.EncodeAccounts([]ledger.Account{account(1, 0), {ID: u(2)}}))
	if err != nil || status != frame.StatusOK {
		t.Fatalf("create status=%s err=%v", status, err)
	}
	results, err := codec.DecodeCreateResults(body)
	if err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 1 || results[0].Index != 1 || results[0].Result != uint32(ledger.AccountLedgerMustNotBeZero) {
		t.Fatalf("results=%+v", results)
	}

	body, status, err = sm.Execute(ctx, ledger.OperationLookupAccounts, codec.EncodeIDs([]ledger.Uint128{u(2), u(1)}))
	if err != nil || status != frame.StatusOK {
		t.Fatalf("lookup status=%s err=%v", status, err)
	}
	found, err := codec.DecodeAccounts(body)
	if err != nil || len(found) != 1 || found[0].ID != u(1) {
		t.Fatalf("lookup found=%+v err=%v", found, err)
	}

	if body, status, err := sm.Execute(ctx, ledger.OperationPulse, nil); err != nil || status != frame.StatusOK || len(body) != 0 {
		t.Fatalf("pulse body=%d status=%s err=%v", len(body), status, err)
	}
}

func TestJournalFailureRollsBackBatch(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("disk full")
	sm := NewStateMachine(StateConfig{Journal: failingJournal{err: boom}})

	_, err := sm.CreateAccounts(context.Background(), []ledger.Account{account(1, 0)})
	if !errors.Is(err, boom) {
		t.Fatalf("expected journal error, got %v", err)
	}
	if got := sm.LookupAccounts([]ledger.Uint128{u(1)}); len(got) != 0 {
		t.Fatalf("account applied despite journal failure")
	}
	if _, _, err := sm.Execute(context.Background(), ledger.OperationCreateAccounts, codec.EncodeAccounts([]ledger.Account{account(2, 0)})); !errors.Is(err, boom) {
		t.Fatalf("execute err=%v", err)
	}
}

func TestRestoreFromStore(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	sm := NewStateMachine(StateConfig{Journal: db})
	mustCreateAccounts(t, sm, account(1, ledger.AccountFlagHistory), account(2, 0))
	mustCreateTransfers(t, sm,
		transfer(10, 1, 2, 25, 0),
		transfer(11, 1, 2, 5, ledger.TransferFlagPending),
	)
	before := sm.Stats()
	if err := db.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	db, err = store.Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer db.Close()
	restored := NewStateMachine(StateConfig{Journal: db})
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := restored.Stats(); got != before {
		t.Fatalf("stats=%+v want %+v", got, before)
	}
	a1 := lookupAccount(t, restored, 1)
	if a1.DebitsPosted != u(25) || a1.DebitsPending != u(5) {
		t.Fatalf("restored account=%+v", a1)
	}
	if got := restored.GetAccountBalances(ledger.NewAccountFilter(u(1))); len(got) != 2 {
		t.Fatalf("restored balances=%d", len(got))
	}

	mustCreateTransfers(t, restored, ledger.Transfer{ID: u(12), PendingID: u(11), Flags: ledger.TransferFlagPostPendingTransfer})
	if a := lookupAccount(t, restored, 2); a.CreditsPosted != u(30) {
		t.Fatalf("post after restore=%+v", a)
	}
}
