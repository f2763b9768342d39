package store

import (
	"database/sql/driver"
	"fmt"

	"github.com/danmuck/ledgerctl/pkg/ledger"
)

// Blob128 stores a ledger.Uint128 as a 16-byte little-endian BLOB.
type Blob128 ledger.Uint128

// Scan implements sql.Scanner.
func (b *Blob128) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*b = Blob128{}
		return nil
	case []byte:
		if len(v) != 16 {
			return fmt.Errorf("store: uint128 blob has %d bytes", len(v))
		}
		var raw [16]byte
		copy(raw[:], v)
		*b = Blob128(ledger.BytesToUint128(raw))
		return nil
	default:
		return fmt.Errorf("store: unsupported uint128 column type %T", v)
	}
}

// Value implements driver.Valuer.
func (b Blob128) Value() (driver.Value, error) {
	raw := ledger.Uint128(b).Bytes()
	return raw[:], nil
}

// PendingStatus is the lifecycle state of a pending transfer.
type PendingStatus uint8

const (
	PendingStatusNone PendingStatus = iota
	PendingStatusPending
	PendingStatusPosted
	PendingStatusVoided
	PendingStatusExpired
)

func (s PendingStatus) String() string {
	switch s {
	case PendingStatusPending:
		return "pending"
	case PendingStatusPosted:
		return "posted"
	case PendingStatusVoided:
		return "voided"
	case PendingStatusExpired:
		return "expired"
	default:
		return "none"
	}
}

// PendingTransfer is the mutable state attached to a transfer created with the pending flag.
// ExpiresAt is a nanosecond timestamp, zero when the transfer never times out.
// ExpiredAt is the timestamp the expiry was applied at, zero until then.
type PendingTransfer struct {
	TransferID ledger.Uint128
	Status     PendingStatus
	ExpiresAt  uint64
	ExpiredAt  uint64
}

// Balance is one historical balance row of an account with the history flag.
type Balance struct {
	AccountID ledger.Uint128
	ledger.AccountBalance
}

// Batch is everything one committed request changed. Accounts and Pending
// rows are upserts; Transfers and Balances are inserts.
type Batch struct {
	Accounts  []ledger.Account
	Transfers []ledger.Transfer
	Pending   []PendingTransfer
	Balances  []Balance
}

func (b Batch) Empty() bool {
	return len(b.Accounts) == 0 && len(b.Transfers) == 0 && len(b.Pending) == 0 && len(b.Balances) == 0
}

// Snapshot is the full persisted state, transfers and balances in timestamp order.
type Snapshot struct {
	Accounts  []ledger.Account
	Transfers []ledger.Transfer
	Pending   []PendingTransfer
	Balances  []Balance
}

// Counts summarizes row counts for the admin stats endpoint.
type Counts struct {
	Accounts  int `json:"accounts" db:"accounts"`
	Transfers int `json:"transfers" db:"transfers"`
	Pending   int `json:"pending" db:"pending"`
	Balances  int `json:"balances" db:"balances"`
}

type dbAccount struct {
	ID             Blob128 `db:"id"`
	DebitsPending  Blob128 `db:"debits_pending"`
	DebitsPosted   Blob128 `db:"debits_posted"`
	CreditsPending Blob128 `db:"credits_pending"`
	CreditsPosted  Blob128 `db:"credits_posted"`
	UserData128    Blob128 `db:"user_data_128"`
	UserData64     int64   `db:"user_data_64"`
	UserData32     int64   `db:"user_data_32"`
	Reserved       int64   `db:"reserved"`
	Ledger         int64   `db:"ledger"`
	Code           int64   `db:"code"`
	Flags          int64   `db:"flags"`
	Timestamp      int64   `db:"timestamp"`
}

func fromAccount(a ledger.Account) dbAccount {
	return dbAccount{
		ID:             Blob128(a.ID),
		DebitsPending:  Blob128(a.DebitsPending),
		DebitsPosted:   Blob128(a.DebitsPosted),
		CreditsPending: Blob128(a.CreditsPending),
		CreditsPosted:  Blob128(a.CreditsPosted),
		UserData128:    Blob128(a.UserData128),
		UserData64:     int64(a.UserData64),
		UserData32:     int64(a.UserData32),
		Reserved:       int64(a.Reserved),
		Ledger:         int64(a.Ledger),
		Code:           int64(a.Code),
		Flags:          int64(a.Flags),
		Timestamp:      int64(a.Timestamp),
	}
}

func (r dbAccount) toAccount() ledger.Account {
	return ledger.Account{
		ID:             ledger.Uint128(r.ID),
		DebitsPending:  ledger.Uint128(r.DebitsPending),
		DebitsPosted:   ledger.Uint128(r.DebitsPosted),
		CreditsPending: ledger.Uint128(r.CreditsPending),
		CreditsPosted:  ledger.Uint128(r.CreditsPosted),
		UserData128:    ledger.Uint128(r.UserData128),
		UserData64:     uint64(r.UserData64),
		UserData32:     uint32(r.UserData32),
		Reserved:       uint32(r.Reserved),
		Ledger:         uint32(r.Ledger),
		Code:           uint16(r.Code),
		Flags:          uint16(r.Flags),
		Timestamp:      uint64(r.Timestamp),
	}
}

type dbTransfer struct {
	ID              Blob128 `db:"id"`
	DebitAccountID  Blob128 `db:"debit_account_id"`
	CreditAccountID Blob128 `db:"credit_account_id"`
	Amount          Blob128 `db:"amount"`
	PendingID       Blob128 `db:"pending_id"`
	UserData128     Blob128 `db:"user_data_128"`
	UserData64      int64   `db:"user_data_64"`
	UserData32      int64   `db:"user_data_32"`
	Timeout         int64   `db:"timeout"`
	Ledger          int64   `db:"ledger"`
	Code            int64   `db:"code"`
	Flags           int64   `db:"flags"`
	Timestamp       int64   `db:"timestamp"`
}

func fromTransfer(t ledger.Transfer) dbTransfer {
	return dbTransfer{
		ID:              Blob128(t.ID),
		DebitAccountID:  Blob128(t.DebitAccountID),
		CreditAccountID: Blob128(t.CreditAccountID),
		Amount:          Blob128(t.Amount),
		PendingID:       Blob128(t.PendingID),
		UserData128:     Blob128(t.UserData128),
		UserData64:      int64(t.UserData64),
		UserData32:      int64(t.UserData32),
		Timeout:         int64(t.Timeout),
		Ledger:          int64(t.Ledger),
		Code:            int64(t.Code),
		Flags:           int64(t.Flags),
		Timestamp:       int64(t.Timestamp),
	}
}

func (r dbTransfer) toTransfer() ledger.Transfer {
	return ledger.Transfer{
		ID:              ledger.Uint128(r.ID),
		DebitAccountID:  ledger.Uint128(r.DebitAccountID),
		CreditAccountID: ledger.Uint128(r.CreditAccountID),
		Amount:          ledger.Uint128(r.Amount),
		PendingID:       ledger.Uint128(r.PendingID),
		UserData128:     ledger.Uint128(r.UserData128),
		UserData64:      uint64(r.UserData64),
		UserData32:      uint32(r.UserData32),
		Timeout:         uint32(r.Timeout),
		Ledger:          uint32(r.Ledger),
		Code:            uint16(r.Code),
		Flags:           uint16(r.Flags),
		Timestamp:       uint64(r.Timestamp),
	}
}

type dbPending struct {
	TransferID Blob128 `db:"transfer_id"`
	Status     int64   `db:"status"`
	ExpiresAt  int64   `db:"expires_at"`
	ExpiredAt  int64   `db:"expired_at"`
}

type dbBalance struct {
	AccountID      Blob128 `db:"account_id"`
	DebitsPending  Blob128 `db:"debits_pending"`
	DebitsPosted   Blob128 `db:"debits_posted"`
	CreditsPending Blob128 `db:"credits_pending"`
	CreditsPosted  Blob128 `db:"credits_posted"`
	Timestamp      int64   `db:"timestamp"`
}

func fromBalance(b Balance) dbBalance {
	return dbBalance{
		AccountID:      Blob128(b.AccountID),
		DebitsPending:  Blob128(b.DebitsPending),
		DebitsPosted:   Blob128(b.DebitsPosted),
		CreditsPending: Blob128(b.CreditsPending),
		CreditsPosted:  Blob128(b.CreditsPosted),
		Timestamp:      int64(b.Timestamp),
	}
}

func (r dbBalance) toBalance() Balance {
	return Balance{
		AccountID: ledger.Uint128(r.AccountID),
		AccountBalance: ledger.AccountBalance{
			DebitsPending:  ledger.Uint128(r.DebitsPending),
			DebitsPosted:   ledger.Uint128(r.DebitsPosted),
			CreditsPending: ledger.Uint128(r.CreditsPending),
			CreditsPosted:  ledger.Uint128(r.CreditsPosted),
			Timestamp:      uint64(r.Timestamp),
		},
	}
}
