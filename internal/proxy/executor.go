package proxy

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"mailpay/internal/ledger"
	"mailpay/internal/metrics"
	"mailpay/internal/model"
)

// Broadcaster is what the executor needs from the chain client.
type Broadcaster interface {
	Chain() model.Chain
	Broadcast(ctx context.Context, to common.Address, data []byte, value *big.Int, gasLimit uint64) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// Config holds the registrar call parameters. The gas limit is fixed and
// generous: estimation against this call pattern is unreliable upstream.
type Config struct {
	Registrar    common.Address
	Referrer     common.Address
	BasePriceWei *big.Int
	GasLimit     uint64
	WaitTimeout  time.Duration
}

// Executor spends custodial funds to run the registrar's payable register
// function for a third-party owner. The broadcast is irreversible once
// submitted; a timed-out wait leaves the record pending for polling and a
// reverted receipt is terminal for the attempt.
type Executor struct {
	chain   Broadcaster
	cfg     Config
	records ledger.Ledger
	log     *zap.Logger
	metrics metrics.Recorder
}

// New builds an Executor.
func New(chainClient Broadcaster, cfg Config, records ledger.Ledger, log *zap.Logger, rec metrics.Recorder) *Executor {
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 500_000
	}
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Executor{
		chain:   chainClient,
		cfg:     cfg,
		records: records,
		log:     log,
		metrics: rec,
	}
}

// Purchase broadcasts the registrar call for the voucher and waits for
// finality. On ErrReceiptTimeout the returned record is still pending and
// the caller must poll the same hash — never re-broadcast, the first
// transaction may still land. A reverted receipt consumes the voucher; a
// fresh attempt needs a fresh one.
//
// The sent value is always the full undiscounted base price. Upstream
// discount verifiers validate eligibility against the transaction sender,
// which here is the custodial wallet rather than the name owner, so the
// discount path would revert on-chain. Any price difference is a service
// fee policy decision, not this component's problem.
func (e *Executor) Purchase(ctx context.Context, v *model.PurchaseVoucher) (*model.ProxyPurchaseRecord, error) {
	start := time.Now()

	if v.Expired(time.Now()) {
		return nil, model.ErrVoucherExpired
	}
	v.DiscountKey = [32]byte{}
	v.DiscountProof = []byte{}

	data, err := packRegisterCall(v, e.cfg.Referrer)
	if err != nil {
		return nil, err
	}

	hash, err := e.chain.Broadcast(ctx, e.cfg.Registrar, data, new(big.Int).Set(e.cfg.BasePriceWei), e.cfg.GasLimit)
	if err != nil {
		e.metrics.ObservePurchase("broadcast_failed", time.Since(start))
		return nil, model.ErrBroadcastFailed.Detailf("%v", err)
	}

	rec := model.ProxyPurchaseRecord{
		Name:      v.Name,
		Owner:     strings.ToLower(v.Owner),
		TxHash:    strings.ToLower(hash.Hex()),
		Status:    model.PurchasePending,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.records.CreatePurchase(ctx, rec); err != nil {
		// tx is already on the wire; surface the bookkeeping failure but
		// keep the hash so the caller can still poll
		e.log.Error("record purchase", zap.String("tx_hash", rec.TxHash), zap.Error(err))
	}
	e.log.Info("purchase broadcast",
		zap.String("name", v.Name),
		zap.String("owner", rec.Owner),
		zap.String("tx_hash", rec.TxHash),
	)

	receipt, err := e.chain.WaitForReceipt(ctx, hash, e.cfg.WaitTimeout)
	if errors.Is(err, model.ErrReceiptTimeout) {
		e.metrics.ObservePurchase("pending", time.Since(start))
		return &rec, model.ErrReceiptTimeout
	}
	if err != nil {
		return &rec, err
	}

	out, ferr := e.finalize(ctx, rec, receipt)
	e.metrics.ObservePurchase(string(out.Status), time.Since(start))
	return out, ferr
}

// Poll re-checks a pending purchase. It never broadcasts anything.
func (e *Executor) Poll(ctx context.Context, txHash string) (*model.ProxyPurchaseRecord, error) {
	key := strings.ToLower(txHash)
	rec, err := e.records.PurchaseByTx(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("purchase %s not found", key)
	}
	if rec.Status != model.PurchasePending {
		return rec, nil
	}

	receipt, err := e.chain.WaitForReceipt(ctx, common.HexToHash(key), e.cfg.WaitTimeout)
	if errors.Is(err, model.ErrReceiptTimeout) {
		return rec, model.ErrReceiptTimeout
	}
	if err != nil {
		return rec, err
	}
	return e.finalize(ctx, *rec, receipt)
}

// finalize moves the record forward from its receipt. Status transitions
// are strictly forward; the store rejects regressions.
func (e *Executor) finalize(ctx context.Context, rec model.ProxyPurchaseRecord, receipt *types.Receipt) (*model.ProxyPurchaseRecord, error) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		rec.Status = model.PurchaseReverted
		if err := e.records.SetPurchaseStatus(ctx, rec.TxHash, model.PurchaseReverted); err != nil {
			e.log.Error("mark purchase reverted", zap.String("tx_hash", rec.TxHash), zap.Error(err))
		}
		e.log.Warn("purchase reverted", zap.String("name", rec.Name), zap.String("tx_hash", rec.TxHash))
		return &rec, model.ErrTxReverted
	}

	rec.Status = model.PurchaseConfirmed
	if err := e.records.SetPurchaseStatus(ctx, rec.TxHash, model.PurchaseConfirmed); err != nil {
		e.log.Error("mark purchase confirmed", zap.String("tx_hash", rec.TxHash), zap.Error(err))
	}
	e.log.Info("purchase confirmed", zap.String("name", rec.Name), zap.String("tx_hash", rec.TxHash))
	return &rec, nil
}
