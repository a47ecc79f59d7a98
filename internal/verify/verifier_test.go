package verify

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"mailpay/internal/chain"
	"mailpay/internal/ledger"
	"mailpay/internal/model"
)

var (
	depositAddr = common.HexToAddress("0x00000000000000000000000000000000000000dd")
	otherAddr   = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	payerWallet = "0x00000000000000000000000000000000000000AA"

	hashA = "0x" + strings.Repeat("1", 63) + "a"
	hashB = "0x" + strings.Repeat("1", 63) + "b"
)

type fakeReader struct {
	chain    model.Chain
	payments map[common.Hash]*chain.Payment
	err      error
	calls    int
}

func (f *fakeReader) Chain() model.Chain { return f.chain }

func (f *fakeReader) PaymentByHash(_ context.Context, hash common.Hash) (*chain.Payment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.payments[hash]
	if !ok {
		return nil, model.ErrTxNotFound
	}
	return p, nil
}

func testChain(name string, id uint64) model.Chain {
	return model.Chain{
		Name:       name,
		ChainID:    id,
		Decimals:   18,
		MinAmount:  decimal.RequireFromString("0.0005"),
		CreditRate: decimal.RequireFromString("1000000"),
	}
}

// 0.001 native units at 1e6 credits per unit.
func milliPayment(to *common.Address) *chain.Payment {
	return &chain.Payment{
		To:     to,
		Value:  new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000_000)), // 1e15 wei
		Status: types.ReceiptStatusSuccessful,
	}
}

func TestConfirmCredits(t *testing.T) {
	reader := &fakeReader{
		chain:    testChain("base", 8453),
		payments: map[common.Hash]*chain.Payment{common.HexToHash(hashA): milliPayment(&depositAddr)},
	}
	v := New([]ChainReader{reader}, ledger.NewMemoryStore(), depositAddr, nil, nil)

	res, err := v.Confirm(context.Background(), payerWallet, hashA, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Purchased != 1000 || res.Balance != 1000 {
		t.Fatalf("expected 1000 credits, got %+v", res)
	}
	if res.Replayed || res.Chain != "base" {
		t.Fatalf("result mismatch: %+v", res)
	}
}

func TestConfirmReplayKeepsBalance(t *testing.T) {
	reader := &fakeReader{
		chain:    testChain("base", 8453),
		payments: map[common.Hash]*chain.Payment{common.HexToHash(hashA): milliPayment(&depositAddr)},
	}
	v := New([]ChainReader{reader}, ledger.NewMemoryStore(), depositAddr, nil, nil)

	first, err := v.Confirm(context.Background(), payerWallet, hashA, 0)
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}

	// the replay must not touch the chain at all
	reader.err = errors.New("rpc down")

	second, err := v.Confirm(context.Background(), payerWallet, hashA, 0)
	if err != nil {
		t.Fatalf("replay confirm: %v", err)
	}
	if !second.Replayed {
		t.Fatalf("expected replayed result")
	}
	if second.Balance != first.Balance || second.Purchased != first.Purchased {
		t.Fatalf("replay changed the outcome: %+v != %+v", second, first)
	}
}

func TestConfirmFallsBackToSecondaryChain(t *testing.T) {
	primary := &fakeReader{chain: testChain("base", 8453)}
	secondary := &fakeReader{
		chain:    testChain("scroll", 534352),
		payments: map[common.Hash]*chain.Payment{common.HexToHash(hashB): milliPayment(&depositAddr)},
	}
	v := New([]ChainReader{primary, secondary}, ledger.NewMemoryStore(), depositAddr, nil, nil)

	res, err := v.Confirm(context.Background(), payerWallet, hashB, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Chain != "scroll" {
		t.Fatalf("expected credit on scroll, got %+v", res)
	}
	if primary.calls != 1 {
		t.Fatalf("primary chain must be probed first, calls=%d", primary.calls)
	}
}

func TestConfirmExplicitChainSkipsProbing(t *testing.T) {
	primary := &fakeReader{chain: testChain("base", 8453)}
	secondary := &fakeReader{
		chain:    testChain("scroll", 534352),
		payments: map[common.Hash]*chain.Payment{common.HexToHash(hashB): milliPayment(&depositAddr)},
	}
	v := New([]ChainReader{primary, secondary}, ledger.NewMemoryStore(), depositAddr, nil, nil)

	if _, err := v.Confirm(context.Background(), payerWallet, hashB, 534352); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls != 0 {
		t.Fatalf("explicit chain id must not probe other chains")
	}

	if _, err := v.Confirm(context.Background(), payerWallet, hashA, 999); !errors.Is(err, model.ErrUnsupportedChain) {
		t.Fatalf("expected ErrUnsupportedChain, got %v", err)
	}
}

func TestConfirmRejections(t *testing.T) {
	reader := &fakeReader{
		chain: testChain("base", 8453),
		payments: map[common.Hash]*chain.Payment{
			common.HexToHash(hashA): milliPayment(&otherAddr),
			common.HexToHash(hashB): {
				To:     &depositAddr,
				Value:  big.NewInt(1), // far below 0.0005 units
				Status: types.ReceiptStatusSuccessful,
			},
		},
	}
	v := New([]ChainReader{reader}, ledger.NewMemoryStore(), depositAddr, nil, nil)

	if _, err := v.Confirm(context.Background(), payerWallet, hashA, 0); !errors.Is(err, model.ErrRecipientMismatch) {
		t.Fatalf("expected ErrRecipientMismatch, got %v", err)
	}
	if _, err := v.Confirm(context.Background(), payerWallet, hashB, 0); !errors.Is(err, model.ErrAmountBelowMinimum) {
		t.Fatalf("expected ErrAmountBelowMinimum, got %v", err)
	}

	otherHash := "0x" + strings.Repeat("2", 63) + "c"
	if _, err := v.Confirm(context.Background(), payerWallet, otherHash, 0); !errors.Is(err, model.ErrTxNotFound) {
		t.Fatalf("expected ErrTxNotFound, got %v", err)
	}
}

func TestConfirmRevertedTx(t *testing.T) {
	reader := &fakeReader{
		chain: testChain("base", 8453),
		payments: map[common.Hash]*chain.Payment{
			common.HexToHash(hashA): {
				To:     &depositAddr,
				Value:  big.NewInt(1e15),
				Status: types.ReceiptStatusFailed,
			},
		},
	}
	v := New([]ChainReader{reader}, ledger.NewMemoryStore(), depositAddr, nil, nil)

	if _, err := v.Confirm(context.Background(), payerWallet, hashA, 0); !errors.Is(err, model.ErrTxReverted) {
		t.Fatalf("expected ErrTxReverted, got %v", err)
	}
}

func TestConfirmInputValidation(t *testing.T) {
	v := New(nil, ledger.NewMemoryStore(), depositAddr, nil, nil)

	if _, err := v.Confirm(context.Background(), "not-an-address", hashA, 0); !errors.Is(err, model.ErrInvalidWallet) {
		t.Fatalf("expected ErrInvalidWallet, got %v", err)
	}
	if _, err := v.Confirm(context.Background(), payerWallet, "0x1234", 0); !errors.Is(err, model.ErrInvalidTxHash) {
		t.Fatalf("expected ErrInvalidTxHash, got %v", err)
	}
}
