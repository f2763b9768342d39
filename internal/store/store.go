package store

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/danmuck/ledgerctl/pkg/ledger"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

var ErrClosed = errors.New("store: closed")

// SQLite is the ledger journal backed by a single SQLite file.
type SQLite struct {
	db *sqlx.DB
}

// Open connects to the SQLite file at path and applies pending migrations.
func Open(path string) (*SQLite, error) {
	db, err := sqlx.Connect("sqlite", fmt.Sprintf("%s?_journal=WAL&_timeout=5000&_fk=true", path))
	if err != nil {
		return nil, fmt.Errorf("connecting to db : %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting dialect for migrations : %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying migration : %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing store : %w", err)
	}
	return nil
}

// Load reads the full persisted state.
func (s *SQLite) Load(ctx context.Context) (Snapshot, error) {
	if s == nil || s.db == nil {
		return Snapshot{}, ErrClosed
	}
	var snap Snapshot

	var accounts []dbAccount
	if err := s.db.SelectContext(ctx, &accounts, `SELECT * FROM accounts ORDER BY timestamp`); err != nil {
		return Snapshot{}, fmt.Errorf("loading accounts: %w", err)
	}
	snap.Accounts = make([]ledger.Account, 0, len(accounts))
	for _, row := range accounts {
		snap.Accounts = append(snap.Accounts, row.toAccount())
	}

	var transfers []dbTransfer
	if err := s.db.SelectContext(ctx, &transfers, `SELECT * FROM transfers ORDER BY timestamp`); err != nil {
		return Snapshot{}, fmt.Errorf("loading transfers: %w", err)
	}
	snap.Transfers = make([]ledger.Transfer, 0, len(transfers))
	for _, row := range transfers {
		snap.Transfers = append(snap.Transfers, row.toTransfer())
	}

	var pending []dbPending
	if err := s.db.SelectContext(ctx, &pending, `SELECT * FROM pending_status`); err != nil {
		return Snapshot{}, fmt.Errorf("loading pending status: %w", err)
	}
	snap.Pending = make([]PendingTransfer, 0, len(pending))
	for _, row := range pending {
		snap.Pending = append(snap.Pending, PendingTransfer{
			TransferID: ledger.Uint128(row.TransferID),
			Status:     PendingStatus(row.Status),
			ExpiresAt:  uint64(row.ExpiresAt),
			ExpiredAt:  uint64(row.ExpiredAt),
		})
	}

	var balances []dbBalance
	if err := s.db.SelectContext(ctx, &balances, `SELECT * FROM account_balances ORDER BY timestamp`); err != nil {
		return Snapshot{}, fmt.Errorf("loading account balances: %w", err)
	}
	snap.Balances = make([]Balance, 0, len(balances))
	for _, row := range balances {
		snap.Balances = append(snap.Balances, row.toBalance())
	}
	return snap, nil
}

const (
	upsertAccount = `
		INSERT INTO accounts (id, debits_pending, debits_posted, credits_pending, credits_posted,
			user_data_128, user_data_64, user_data_32, reserved, ledger, code, flags, timestamp)
		VALUES (:id, :debits_pending, :debits_posted, :credits_pending, :credits_posted,
			:user_data_128, :user_data_64, :user_data_32, :reserved, :ledger, :code, :flags, :timestamp)
		ON CONFLICT(id) DO UPDATE SET
			debits_pending = excluded.debits_pending,
			debits_posted = excluded.debits_posted,
			credits_pending = excluded.credits_pending,
			credits_posted = excluded.credits_posted`

	insertTransfer = `
		INSERT INTO transfers (id, debit_account_id, credit_account_id, amount, pending_id,
			user_data_128, user_data_64, user_data_32, timeout, ledger, code, flags, timestamp)
		VALUES (:id, :debit_account_id, :credit_account_id, :amount, :pending_id,
			:user_data_128, :user_data_64, :user_data_32, :timeout, :ledger, :code, :flags, :timestamp)`

	upsertPending = `
		INSERT INTO pending_status (transfer_id, status, expires_at, expired_at)
		VALUES (:transfer_id, :status, :expires_at, :expired_at)
		ON CONFLICT(transfer_id) DO UPDATE SET
			status = excluded.status,
			expired_at = excluded.expired_at`

	insertBalance = `
		INSERT OR REPLACE INTO account_balances (account_id, debits_pending, debits_posted,
			credits_pending, credits_posted, timestamp)
		VALUES (:account_id, :debits_pending, :debits_posted, :credits_pending, :credits_posted, :timestamp)`
)

// Commit writes b in one transaction.
func (s *SQLite) Commit(ctx context.Context, b Batch) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if b.Empty() {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting commit: %w", err)
	}
	defer tx.Rollback()

	for _, a := range b.Accounts {
		if _, err := tx.NamedExecContext(ctx, upsertAccount, fromAccount(a)); err != nil {
			return fmt.Errorf("upserting account %s: %w", a.ID, err)
		}
	}
	for _, t := range b.Transfers {
		if _, err := tx.NamedExecContext(ctx, insertTransfer, fromTransfer(t)); err != nil {
			return fmt.Errorf("inserting transfer %s: %w", t.ID, err)
		}
	}
	for _, p := range b.Pending {
		row := dbPending{
			TransferID: Blob128(p.TransferID),
			Status:     int64(p.Status),
			ExpiresAt:  int64(p.ExpiresAt),
			ExpiredAt:  int64(p.ExpiredAt),
		}
		if _, err := tx.NamedExecContext(ctx, upsertPending, row); err != nil {
			return fmt.Errorf("upserting pending status %s: %w", p.TransferID, err)
		}
	}
	for _, bal := range b.Balances {
		if _, err := tx.NamedExecContext(ctx, insertBalance, fromBalance(bal)); err != nil {
			return fmt.Errorf("inserting balance %s@%d: %w", bal.AccountID, bal.Timestamp, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// Counts returns row counts per table.
func (s *SQLite) Counts(ctx context.Context) (Counts, error) {
	if s == nil || s.db == nil {
		return Counts{}, ErrClosed
	}
	var c Counts
	query := `SELECT
		(SELECT COUNT(*) FROM accounts) AS accounts,
		(SELECT COUNT(*) FROM transfers) AS transfers,
		(SELECT COUNT(*) FROM pending_status WHERE status = ?) AS pending,
		(SELECT COUNT(*) FROM account_balances) AS balances`
	if err := s.db.GetContext(ctx, &c, query, int64(PendingStatusPending)); err != nil {
		return Counts{}, fmt.Errorf("getting counts: %w", err)
	}
	return c, nil
}
