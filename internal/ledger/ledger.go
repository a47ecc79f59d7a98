package ledger

import (
	"context"

	"mailpay/internal/model"
)

// CreditResult is the outcome of a TryCredit call. Applied is false on an
// idempotent replay; Entry then carries the previously stored values.
type CreditResult struct {
	Applied bool
	Entry   model.LedgerEntry
	Balance int64
}

// Ledger is the authoritative store of credited transactions and balances.
// TryCredit is the only credit mutator and must be safe under arbitrary
// concurrent callers for the same tx hash: the entry insert and the balance
// increment succeed or fail together, and at most one caller ever applies
// the credit for a given hash.
type Ledger interface {
	TryCredit(ctx context.Context, entry model.LedgerEntry) (CreditResult, error)
	RecordOf(ctx context.Context, txHash string) (*model.LedgerEntry, error)
	BalanceOf(ctx context.Context, wallet string) (int64, error)
	// AccountOf resolves the ledger's view of a wallet: its balance plus
	// the latest confirmed name purchase, which decides the tier.
	AccountOf(ctx context.Context, wallet string) (model.Account, error)

	CreatePurchase(ctx context.Context, rec model.ProxyPurchaseRecord) error
	// SetPurchaseStatus moves a pending record forward. Confirmed and
	// reverted are terminal; a regressing update is rejected.
	SetPurchaseStatus(ctx context.Context, txHash string, status model.PurchaseStatus) error
	PurchaseByTx(ctx context.Context, txHash string) (*model.ProxyPurchaseRecord, error)
}
