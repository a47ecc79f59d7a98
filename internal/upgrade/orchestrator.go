package upgrade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailpay/internal/model"
)

// AccountService is the external account system boundary. RebindHandle
// points the wallet's identity at newHandle, invalidates any session token
// bound to the old handle and returns a freshly issued one.
type AccountService interface {
	RebindHandle(ctx context.Context, wallet, newHandle string) (token string, err error)
}

// VoucherSource obtains signed purchase authorizations.
type VoucherSource interface {
	FetchVoucher(ctx context.Context, name, owner string) (*model.PurchaseVoucher, error)
}

// PurchaseExecutor runs and re-polls custodial purchases.
type PurchaseExecutor interface {
	Purchase(ctx context.Context, v *model.PurchaseVoucher) (*model.ProxyPurchaseRecord, error)
	Poll(ctx context.Context, txHash string) (*model.ProxyPurchaseRecord, error)
}

// Result is the outcome of an upgrade. LinkPending means the purchase is
// irreversibly confirmed on-chain but the account rebind has not landed
// yet; the user owns the asset and only the bookkeeping is lagging.
type Result struct {
	Token       string `json:"token,omitempty"`
	Handle      string `json:"new_handle"`
	TxHash      string `json:"tx_hash,omitempty"`
	LinkPending bool   `json:"link_pending,omitempty"`
}

// Orchestrator sequences voucher fetch, proxy purchase and account rebind.
type Orchestrator struct {
	vouchers VoucherSource
	executor PurchaseExecutor
	accounts AccountService

	rebindAttempts int
	rebindDelay    time.Duration

	log *zap.Logger
}

// New builds an Orchestrator. Rebinds get up to 3 attempts spaced 2
// seconds apart to ride out propagation lag.
func New(vouchers VoucherSource, executor PurchaseExecutor, accounts AccountService, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		vouchers:       vouchers,
		executor:       executor,
		accounts:       accounts,
		rebindAttempts: 3,
		rebindDelay:    2 * time.Second,
		log:            log,
	}
}

// UpgradeHandle rebinds the account directly, with no purchase involved.
func (o *Orchestrator) UpgradeHandle(ctx context.Context, wallet, newHandle string) (*Result, error) {
	token, err := o.accounts.RebindHandle(ctx, wallet, newHandle)
	if err != nil {
		return nil, fmt.Errorf("rebind handle: %w", err)
	}
	return &Result{Token: token, Handle: newHandle}, nil
}

// PurchaseName buys name for the wallet with custodial funds and rebinds
// the account to it. Cancellation is safe until the purchase broadcast;
// after that the flow runs to a terminal or pending state.
func (o *Orchestrator) PurchaseName(ctx context.Context, wallet, name string) (*Result, error) {
	voucher, err := o.vouchers.FetchVoucher(ctx, name, wallet)
	if err != nil {
		return nil, err
	}

	rec, err := o.executor.Purchase(ctx, voucher)
	if errors.Is(err, model.ErrReceiptTimeout) {
		// still pending on-chain; hand the hash back for polling
		return &Result{Handle: name, TxHash: rec.TxHash}, model.ErrReceiptTimeout
	}
	if err != nil {
		return nil, err
	}

	return o.rebind(ctx, wallet, name, rec.TxHash)
}

// Resume re-polls a pending purchase and, once confirmed, finishes the
// rebind. It never broadcasts a new transaction.
func (o *Orchestrator) Resume(ctx context.Context, wallet, txHash string) (*Result, error) {
	rec, err := o.executor.Poll(ctx, txHash)
	if errors.Is(err, model.ErrReceiptTimeout) {
		return &Result{TxHash: txHash}, model.ErrReceiptTimeout
	}
	if err != nil {
		return nil, err
	}
	return o.rebind(ctx, wallet, rec.Name, rec.TxHash)
}

// rebind retries the account-service call to tolerate propagation lag.
// After a confirmed purchase a rebind failure is reported as link-pending,
// never as an overall failure: the on-chain purchase cannot be undone.
func (o *Orchestrator) rebind(ctx context.Context, wallet, name, txHash string) (*Result, error) {
	var lastErr error
loop:
	for attempt := 1; attempt <= o.rebindAttempts; attempt++ {
		token, err := o.accounts.RebindHandle(ctx, wallet, name)
		if err == nil {
			return &Result{Token: token, Handle: name, TxHash: txHash}, nil
		}
		lastErr = err

		if attempt < o.rebindAttempts {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break loop
			case <-time.After(o.rebindDelay):
			}
		}
	}

	o.log.Warn("asset purchased, linking pending",
		zap.String("wallet", wallet),
		zap.String("name", name),
		zap.String("tx_hash", txHash),
		zap.Error(lastErr),
	)
	return &Result{Handle: name, TxHash: txHash, LinkPending: true}, nil
}
