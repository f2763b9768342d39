package codec

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/danmuck/ledgerctl/internal/protocol/frame"
	"github.com/danmuck/ledgerctl/pkg/ledger"
)

func TestAccountLayout(t *testing.T) {
	a := ledger.Account{
		ID:          ledger.Uint128{Lo: 1, Hi: 2},
		UserData128: ledger.ToUint128(3),
		UserData64:  4,
		UserData32:  5,
		Ledger:      6,
		Code:        7,
		Flags:       ledger.AccountFlagHistory,
		Timestamp:   8,
	}
	b := EncodeAccounts([]ledger.Account{a})
	if len(b) != AccountSize {
		t.Fatalf("unexpected account size: %d", len(b))
	}
	if binary.LittleEndian.Uint64(b[8:16]) != 2 || binary.LittleEndian.Uint32(b[112:116]) != 6 {
		t.Fatalf("unexpected field offsets")
	}
	if binary.LittleEndian.Uint16(b[116:118]) != 7 || binary.LittleEndian.Uint64(b[120:128]) != 8 {
		t.Fatalf("unexpected trailer offsets")
	}
	out, err := DecodeAccounts(b)
	if err != nil {
		t.Fatalf("decode accounts: %v", err)
	}
	if len(out) != 1 || out[0] != a {
		t.Fatalf("account mismatch: got=%+v want=%+v", out, a)
	}
}

func TestTransferRoundTrip(t *testing.T) {
	in := []ledger.Transfer{
		{ID: ledger.ToUint128(1), DebitAccountID: ledger.ToUint128(10), CreditAccountID: ledger.ToUint128(11), Amount: ledger.ToUint128(100), Ledger: 1, Code: 1},
		{ID: ledger.ToUint128(2), PendingID: ledger.ToUint128(1), Timeout: 30, Flags: ledger.TransferFlagPostPendingTransfer, Amount: ledger.MaxUint128},
	}
	out, err := DecodeTransfers(EncodeTransfers(in))
	if err != nil {
		t.Fatalf("decode transfers: %v", err)
	}
	if len(out) != 2 || out[0] != in[0] || out[1] != in[1] {
		t.Fatalf("transfers mismatch: %+v", out)
	}
}

func TestDecodeRejectsPartialElements(t *testing.T) {
	if _, err := DecodeAccounts(make([]byte, 130)); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
	if _, err := DecodeIDs(make([]byte, 17)); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength for ids, got %v", err)
	}
	if _, err := DecodeAccountFilter(make([]byte, 64)); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength for filter, got %v", err)
	}
}

func TestFilterAndBalances(t *testing.T) {
	f := ledger.AccountFilter{AccountID: ledger.ToUint128(9), TimestampMin: 1, TimestampMax: 2, Limit: 3, Flags: ledger.AccountFilterFlagCredits}
	got, err := DecodeAccountFilter(EncodeAccountFilter(f))
	if err != nil || got != f {
		t.Fatalf("filter round trip: got=%+v err=%v", got, err)
	}
	balances := []ledger.AccountBalance{{DebitsPosted: ledger.ToUint128(5), CreditsPending: ledger.ToUint128(6), Timestamp: 7}}
	decoded, err := DecodeAccountBalances(EncodeAccountBalances(balances))
	if err != nil || len(decoded) != 1 || decoded[0] != balances[0] {
		t.Fatalf("balances round trip: got=%+v err=%v", decoded, err)
	}
}

func TestCreateResults(t *testing.T) {
	in := []CreateResult{{Index: 0, Result: 21}, {Index: 3, Result: 1}}
	b := EncodeCreateResults(in)
	if len(b) != 16 {
		t.Fatalf("unexpected results size: %d", len(b))
	}
	out, err := DecodeCreateResults(b)
	if err != nil || len(out) != 2 || out[1] != in[1] {
		t.Fatalf("results round trip: %+v err=%v", out, err)
	}
}

func TestValidateReply(t *testing.T) {
	cases := []struct {
		name     string
		op       ledger.Operation
		request  int
		reply    int
		wantFail bool
	}{
		{"sparse create ok", ledger.OperationCreateAccounts, 3 * AccountSize, 1 * CreateResultSize, false},
		{"empty create reply", ledger.OperationCreateTransfers, 2 * TransferSize, 0, false},
		{"too many create results", ledger.OperationCreateAccounts, 1 * AccountSize, 2 * CreateResultSize, true},
		{"partial result", ledger.OperationLookupAccounts, 2 * IDSize, AccountSize + 1, true},
		{"lookup fewer found", ledger.OperationLookupTransfers, 4 * IDSize, TransferSize, false},
		{"query unbounded", ledger.OperationGetAccountTransfers, AccountFilterSize, 50 * TransferSize, false},
		{"pulse with payload", ledger.OperationPulse, 0, 8, true},
	}
	for _, tc := range cases {
		err := ValidateReply(tc.op, tc.request, tc.reply)
		if tc.wantFail && !errors.Is(err, ErrInvalidResultLength) {
			t.Fatalf("%s: expected ErrInvalidResultLength, got %v", tc.name, err)
		}
		if !tc.wantFail && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
	}
	if err := ValidateReply(ledger.Operation(7), 0, 0); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestBatchMax(t *testing.T) {
	limits := frame.DefaultLimits()
	got, err := BatchMax(ledger.OperationCreateAccounts, limits)
	if err != nil {
		t.Fatalf("batch max: %v", err)
	}
	if want := int(limits.MaxPayloadBytes) / AccountSize; got != want {
		t.Fatalf("create accounts batch max: got=%d want=%d", got, want)
	}
	// Lookups are bounded by the 128-byte replies, not the 16-byte ids.
	got, _ = BatchMax(ledger.OperationLookupAccounts, limits)
	if want := int(limits.MaxPayloadBytes) / AccountSize; got != want {
		t.Fatalf("lookup batch max: got=%d want=%d", got, want)
	}
	got, _ = BatchMax(ledger.OperationGetAccountBalances, limits)
	if got != 1 {
		t.Fatalf("query batch max: %d", got)
	}
}
