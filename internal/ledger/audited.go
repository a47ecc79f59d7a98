package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailpay/internal/audit"
	"mailpay/internal/model"
)

// AuditedLedger decorates a Ledger with an append-only audit trail. Trail
// failures are logged and never block the primary write: the store stays
// authoritative, the trail is for reconciliation.
type AuditedLedger struct {
	inner Ledger
	trail audit.Trail
	log   *zap.Logger
}

var _ Ledger = (*AuditedLedger)(nil)

// NewAudited wraps inner so applied credits and purchase transitions are
// mirrored to trail.
func NewAudited(inner Ledger, trail audit.Trail, log *zap.Logger) *AuditedLedger {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditedLedger{inner: inner, trail: trail, log: log}
}

func (a *AuditedLedger) TryCredit(ctx context.Context, entry model.LedgerEntry) (CreditResult, error) {
	res, err := a.inner.TryCredit(ctx, entry)
	if err == nil && res.Applied {
		a.append(audit.Event{
			Time:     time.Now().UTC(),
			Action:   "credit",
			TxHash:   res.Entry.TxHash,
			Wallet:   res.Entry.Payer,
			Amount:   res.Entry.AmountWei,
			Credited: res.Entry.Credited,
		})
	}
	return res, err
}

func (a *AuditedLedger) RecordOf(ctx context.Context, txHash string) (*model.LedgerEntry, error) {
	return a.inner.RecordOf(ctx, txHash)
}

func (a *AuditedLedger) BalanceOf(ctx context.Context, wallet string) (int64, error) {
	return a.inner.BalanceOf(ctx, wallet)
}

func (a *AuditedLedger) AccountOf(ctx context.Context, wallet string) (model.Account, error) {
	return a.inner.AccountOf(ctx, wallet)
}

func (a *AuditedLedger) CreatePurchase(ctx context.Context, rec model.ProxyPurchaseRecord) error {
	err := a.inner.CreatePurchase(ctx, rec)
	if err == nil {
		a.append(audit.Event{
			Time:   time.Now().UTC(),
			Action: "purchase",
			TxHash: rec.TxHash,
			Wallet: rec.Owner,
			Name:   rec.Name,
			Status: string(rec.Status),
		})
	}
	return err
}

func (a *AuditedLedger) SetPurchaseStatus(ctx context.Context, txHash string, status model.PurchaseStatus) error {
	err := a.inner.SetPurchaseStatus(ctx, txHash, status)
	if err == nil {
		a.append(audit.Event{
			Time:   time.Now().UTC(),
			Action: "purchase_status",
			TxHash: txHash,
			Status: string(status),
		})
	}
	return err
}

func (a *AuditedLedger) PurchaseByTx(ctx context.Context, txHash string) (*model.ProxyPurchaseRecord, error) {
	return a.inner.PurchaseByTx(ctx, txHash)
}

func (a *AuditedLedger) append(event audit.Event) {
	if err := a.trail.Append([]audit.Event{event}); err != nil {
		a.log.Error("append audit event", zap.String("tx_hash", event.TxHash), zap.Error(err))
	}
}
