package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mailpay/internal/chain"
	"mailpay/internal/ledger"
	"mailpay/internal/metrics"
	"mailpay/internal/model"
)

// ChainReader resolves transaction hashes on one chain.
type ChainReader interface {
	Chain() model.Chain
	PaymentByHash(ctx context.Context, hash common.Hash) (*chain.Payment, error)
}

// Verifier turns a user-submitted transaction hash into an exactly-once
// ledger credit. The slice order of chains is the probing priority order
// when the caller omits the chain id.
type Verifier struct {
	chains  []ChainReader
	ledger  ledger.Ledger
	deposit common.Address
	log     *zap.Logger
	metrics metrics.Recorder
}

// Result is the outcome of a confirmed (or replayed) credit purchase.
type Result struct {
	Balance   int64
	Purchased int64
	Chain     string
	AmountWei string
	Replayed  bool
}

// New builds a Verifier. chains must be in priority order, primary first.
func New(chains []ChainReader, store ledger.Ledger, deposit common.Address, log *zap.Logger, rec metrics.Recorder) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Verifier{
		chains:  chains,
		ledger:  store,
		deposit: deposit,
		log:     log,
		metrics: rec,
	}
}

// Confirm validates the claimed hash against the deposit address and the
// chain's minimum, computes the credited units, and commits through the
// ledger. A hash that was already credited replays the stored outcome; it
// is not an error and changes no balance.
func (v *Verifier) Confirm(ctx context.Context, wallet, txHash string, chainID uint64) (*Result, error) {
	start := time.Now()

	if !common.IsHexAddress(wallet) {
		return nil, model.ErrInvalidWallet
	}
	hash, err := parseTxHash(txHash)
	if err != nil {
		return nil, err
	}
	key := strings.ToLower(hash.Hex())

	// Replayed hashes resolve from the ledger alone, so a duplicate click
	// keeps its answer even when every RPC endpoint is down.
	if existing, err := v.ledger.RecordOf(ctx, key); err != nil {
		return nil, err
	} else if existing != nil {
		balance, err := v.ledger.BalanceOf(ctx, existing.Payer)
		if err != nil {
			return nil, err
		}
		v.metrics.ObserveVerification(chainName(v.chains, existing.ChainID), "replay", time.Since(start))
		return &Result{
			Balance:   balance,
			Purchased: existing.Credited,
			Chain:     chainName(v.chains, existing.ChainID),
			AmountWei: existing.AmountWei,
			Replayed:  true,
		}, nil
	}

	candidates := v.chains
	if chainID != 0 {
		reader, ok := findChain(v.chains, chainID)
		if !ok {
			return nil, model.ErrUnsupportedChain.Detailf("chain id %d", chainID)
		}
		candidates = []ChainReader{reader}
	}

	var (
		payment *chain.Payment
		onChain model.Chain
	)
	for _, reader := range candidates {
		p, err := reader.PaymentByHash(ctx, hash)
		if errors.Is(err, model.ErrTxNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		payment = p
		onChain = reader.Chain()
		break
	}
	if payment == nil {
		v.metrics.ObserveVerification("none", "not_found", time.Since(start))
		return nil, model.ErrTxNotFound
	}

	if payment.Status != types.ReceiptStatusSuccessful {
		v.metrics.ObserveVerification(onChain.Name, "reverted", time.Since(start))
		return nil, model.ErrTxReverted
	}
	if payment.To == nil || *payment.To != v.deposit {
		v.metrics.ObserveVerification(onChain.Name, "recipient_mismatch", time.Since(start))
		return nil, model.ErrRecipientMismatch
	}

	amountWei := decimal.NewFromBigInt(payment.Value, 0)
	if !onChain.MeetsMinimum(amountWei) {
		v.metrics.ObserveVerification(onChain.Name, "below_minimum", time.Since(start))
		return nil, model.ErrAmountBelowMinimum.Detailf("got %s wei on %s", payment.Value, onChain.Name)
	}
	credited := onChain.CreditFor(amountWei)

	res, err := v.ledger.TryCredit(ctx, model.LedgerEntry{
		TxHash:    key,
		ChainID:   onChain.ChainID,
		Payer:     strings.ToLower(wallet),
		AmountWei: payment.Value.String(),
		Credited:  credited,
		Status:    model.EntryConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("credit %s: %w", key, err)
	}

	v.log.Info("payment credited",
		zap.String("tx_hash", key),
		zap.String("chain", onChain.Name),
		zap.Int64("credited", res.Entry.Credited),
		zap.Bool("replayed", !res.Applied),
	)
	v.metrics.ObserveVerification(onChain.Name, "credited", time.Since(start))

	return &Result{
		Balance:   res.Balance,
		Purchased: res.Entry.Credited,
		Chain:     onChain.Name,
		AmountWei: res.Entry.AmountWei,
		Replayed:  !res.Applied,
	}, nil
}

func parseTxHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, model.ErrInvalidTxHash
	}
	return common.BytesToHash(b), nil
}

func findChain(chains []ChainReader, chainID uint64) (ChainReader, bool) {
	for _, c := range chains {
		if c.Chain().ChainID == chainID {
			return c, true
		}
	}
	return nil, false
}

func chainName(chains []ChainReader, chainID uint64) string {
	if c, ok := findChain(chains, chainID); ok {
		return c.Chain().Name
	}
	return fmt.Sprintf("chain-%d", chainID)
}
