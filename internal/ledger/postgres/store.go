package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailpay/internal/ledger"
	"mailpay/internal/model"
)

// Store provides Postgres persistence for the credit ledger and purchase
// records. The unique constraint on ledger_entries.tx_hash is the
// idempotency guard; TryCredit runs the insert and the balance update in a
// single transaction.
type Store struct {
	pool *pgxpool.Pool
}

var _ ledger.Ledger = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			tx_hash TEXT PRIMARY KEY,
			chain_id BIGINT NOT NULL,
			payer TEXT NOT NULL,
			amount_wei NUMERIC(78,0) NOT NULL,
			credited BIGINT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			wallet TEXT PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS proxy_purchases (
			tx_hash TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			owner TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// TryCredit inserts the entry and increments the payer balance atomically.
// A conflicting hash commits nothing and returns the stored outcome.
func (s *Store) TryCredit(ctx context.Context, entry model.LedgerEntry) (ledger.CreditResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.CreditResult{}, err
	}
	defer tx.Rollback(ctx)

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	ct, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (tx_hash, chain_id, payer, amount_wei, credited, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash) DO NOTHING
	`,
		entry.TxHash,
		int64(entry.ChainID),
		entry.Payer,
		entry.AmountWei,
		entry.Credited,
		string(entry.Status),
		entry.CreatedAt,
	)
	if err != nil {
		return ledger.CreditResult{}, err
	}

	if ct.RowsAffected() == 0 {
		existing, err := scanEntry(tx.QueryRow(ctx, `
			SELECT tx_hash, chain_id, payer, amount_wei, credited, status, created_at
			FROM ledger_entries WHERE tx_hash=$1
		`, entry.TxHash))
		if err != nil {
			return ledger.CreditResult{}, err
		}

		var balance int64
		err = tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE wallet=$1`, existing.Payer).Scan(&balance)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return ledger.CreditResult{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return ledger.CreditResult{}, err
		}
		return ledger.CreditResult{Applied: false, Entry: *existing, Balance: balance}, nil
	}

	var balance int64
	err = tx.QueryRow(ctx, `
		INSERT INTO accounts (wallet, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (wallet) DO UPDATE
		SET balance = accounts.balance + EXCLUDED.balance, updated_at = now()
		RETURNING balance
	`, entry.Payer, entry.Credited).Scan(&balance)
	if err != nil {
		return ledger.CreditResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.CreditResult{}, err
	}
	return ledger.CreditResult{Applied: true, Entry: entry, Balance: balance}, nil
}

// RecordOf returns the stored entry for a hash, or nil.
func (s *Store) RecordOf(ctx context.Context, txHash string) (*model.LedgerEntry, error) {
	entry, err := scanEntry(s.pool.QueryRow(ctx, `
		SELECT tx_hash, chain_id, payer, amount_wei, credited, status, created_at
		FROM ledger_entries WHERE tx_hash=$1
	`, txHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// BalanceOf returns the running balance for a wallet.
func (s *Store) BalanceOf(ctx context.Context, wallet string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx, `SELECT balance FROM accounts WHERE wallet=$1`, wallet).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// AccountOf resolves the wallet's balance and pro status. The latest
// confirmed name purchase decides the tier.
func (s *Store) AccountOf(ctx context.Context, wallet string) (model.Account, error) {
	acct := model.Account{Wallet: wallet, Tier: model.TierFree}

	err := s.pool.QueryRow(ctx, `SELECT balance FROM accounts WHERE wallet=$1`, wallet).Scan(&acct.Balance)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT name FROM proxy_purchases
		WHERE owner=$1 AND status=$2
		ORDER BY created_at DESC LIMIT 1
	`, wallet, string(model.PurchaseConfirmed)).Scan(&acct.BoundName)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, err
	}
	if acct.BoundName != "" {
		acct.Tier = model.TierPro
	}
	return acct, nil
}

// CreatePurchase stores a new purchase record.
func (s *Store) CreatePurchase(ctx context.Context, rec model.ProxyPurchaseRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO proxy_purchases (tx_hash, name, owner, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.TxHash, rec.Name, rec.Owner, string(rec.Status), rec.CreatedAt)
	return err
}

// SetPurchaseStatus moves a pending record forward; terminal records are
// never overwritten.
func (s *Store) SetPurchaseStatus(ctx context.Context, txHash string, status model.PurchaseStatus) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE proxy_purchases SET status=$2 WHERE tx_hash=$1 AND status=$3
	`, txHash, string(status), string(model.PurchasePending))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		rec, err := s.PurchaseByTx(ctx, txHash)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("purchase %s not found", txHash)
		}
		if rec.Status == status {
			return nil
		}
		return fmt.Errorf("purchase %s is terminal (%s)", txHash, rec.Status)
	}
	return nil
}

// PurchaseByTx returns the purchase record for a broadcast hash, or nil.
func (s *Store) PurchaseByTx(ctx context.Context, txHash string) (*model.ProxyPurchaseRecord, error) {
	var (
		rec    model.ProxyPurchaseRecord
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT tx_hash, name, owner, status, created_at
		FROM proxy_purchases WHERE tx_hash=$1
	`, txHash).Scan(&rec.TxHash, &rec.Name, &rec.Owner, &status, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Status = model.PurchaseStatus(status)
	return &rec, nil
}

func scanEntry(row pgx.Row) (*model.LedgerEntry, error) {
	var (
		entry   model.LedgerEntry
		chainID int64
		status  string
	)
	err := row.Scan(&entry.TxHash, &chainID, &entry.Payer, &entry.AmountWei, &entry.Credited, &status, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	entry.ChainID = uint64(chainID)
	entry.Status = model.EntryStatus(status)
	return &entry, nil
}
