package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"mailpay/internal/model"
)

type fakeBackend struct {
	mu sync.Mutex

	nonce    uint64
	gasPrice *big.Int
	sent     []*types.Transaction

	receipts map[common.Hash]*types.Receipt
}

func (f *fakeBackend) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	return nil, false, ethereum.NotFound
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func newTestClient(t *testing.T, backend Backend) *Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyHex := hex.EncodeToString(crypto.FromECDSA(key))

	c, err := NewClientWithBackend(model.Chain{Name: "base", ChainID: 8453}, backend, keyHex)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestBroadcastFixedGas(t *testing.T) {
	backend := &fakeBackend{gasPrice: big.NewInt(1_000_000_000)}
	c := newTestClient(t, backend)

	to := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	value := big.NewInt(12345)

	hash, err := c.Broadcast(context.Background(), to, []byte{0x01}, value, 700_000)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if len(backend.sent) != 1 {
		t.Fatalf("expected one sent tx, got %d", len(backend.sent))
	}
	tx := backend.sent[0]
	if tx.Gas() != 700_000 {
		t.Fatalf("gas limit mismatch: %d", tx.Gas())
	}
	if tx.Value().Cmp(value) != 0 {
		t.Fatalf("value mismatch: %s", tx.Value())
	}
	if *tx.To() != to {
		t.Fatalf("target mismatch: %s", tx.To())
	}
	if hash != tx.Hash() {
		t.Fatalf("returned hash mismatch")
	}
}

func TestBroadcastSequentialNonces(t *testing.T) {
	backend := &fakeBackend{gasPrice: big.NewInt(1)}
	c := newTestClient(t, backend)
	to := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Broadcast(context.Background(), to, nil, big.NewInt(1), 21_000); err != nil {
				t.Errorf("broadcast: %v", err)
			}
		}()
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, tx := range backend.sent {
		if seen[tx.Nonce()] {
			t.Fatalf("duplicate nonce %d", tx.Nonce())
		}
		seen[tx.Nonce()] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct nonces, got %d", n, len(seen))
	}
}

func TestBroadcastWithoutKey(t *testing.T) {
	c, err := NewClientWithBackend(model.Chain{Name: "base", ChainID: 8453}, &fakeBackend{gasPrice: big.NewInt(1)}, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.Broadcast(context.Background(), common.Address{}, nil, big.NewInt(1), 21_000); err == nil {
		t.Fatalf("expected error for read-only client")
	}
}

func TestWaitForReceipt(t *testing.T) {
	hash := common.HexToHash("0x01")
	backend := &fakeBackend{
		gasPrice: big.NewInt(1),
		receipts: map[common.Hash]*types.Receipt{hash: {Status: types.ReceiptStatusSuccessful}},
	}
	c := newTestClient(t, backend)

	receipt, err := c.WaitForReceipt(context.Background(), hash, time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		t.Fatalf("receipt mismatch: %+v", receipt)
	}
}

func TestWaitForReceiptTimeout(t *testing.T) {
	backend := &fakeBackend{gasPrice: big.NewInt(1)}
	c := newTestClient(t, backend)

	_, err := c.WaitForReceipt(context.Background(), common.HexToHash("0x02"), 20*time.Millisecond)
	if !errors.Is(err, model.ErrReceiptTimeout) {
		t.Fatalf("expected ErrReceiptTimeout, got %v", err)
	}
}

func TestWaitForReceiptCancelled(t *testing.T) {
	backend := &fakeBackend{gasPrice: big.NewInt(1)}
	c := newTestClient(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.WaitForReceipt(ctx, common.HexToHash("0x02"), time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPaymentByHashNotFound(t *testing.T) {
	c := newTestClient(t, &fakeBackend{gasPrice: big.NewInt(1)})
	if _, err := c.PaymentByHash(context.Background(), common.HexToHash("0x03")); !errors.Is(err, model.ErrTxNotFound) {
		t.Fatalf("expected ErrTxNotFound, got %v", err)
	}
}
