package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"mailpay/internal/model"
)

// Backend is the subset of the go-ethereum client the service uses.
// *ethclient.Client satisfies it; tests inject fakes.
type Backend interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Payment is the resolved on-chain view of a submitted transaction hash.
type Payment struct {
	From   common.Address
	To     *common.Address
	Value  *big.Int
	Status uint64
}

// Client provides read/write access to a single chain. Broadcasts sign with
// the custodial key; nonce assignment is sequential per sender, so all
// broadcasts go through one mutex.
type Client struct {
	cfg     model.Chain
	backend Backend
	rpc     *rpc.Client

	key    *ecdsa.PrivateKey
	from   common.Address
	signer types.Signer

	broadcastMu  sync.Mutex
	pollInterval time.Duration
}

// NewClient dials the chain's RPC endpoint. custodialKeyHex may be empty for
// a read-only client; broadcasts then fail.
func NewClient(ctx context.Context, cfg model.Chain, custodialKeyHex string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Name, err)
	}
	c, err := NewClientWithBackend(cfg, ethclient.NewClient(rpcClient), custodialKeyHex)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	c.rpc = rpcClient
	return c, nil
}

// NewClientWithBackend builds a client over an existing backend.
func NewClientWithBackend(cfg model.Chain, backend Backend, custodialKeyHex string) (*Client, error) {
	c := &Client{
		cfg:          cfg,
		backend:      backend,
		signer:       types.LatestSignerForChainID(new(big.Int).SetUint64(cfg.ChainID)),
		pollInterval: 2 * time.Second,
	}
	if custodialKeyHex != "" {
		key, err := crypto.HexToECDSA(custodialKeyHex)
		if err != nil {
			return nil, fmt.Errorf("parse custodial key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}

// Chain returns the static chain configuration.
func (c *Client) Chain() model.Chain {
	return c.cfg
}

// CustodialAddress returns the address broadcasts are signed with.
func (c *Client) CustodialAddress() common.Address {
	return c.from
}

// PaymentByHash resolves a transaction hash into its payment view. A missing
// or still-pending transaction maps to ErrTxNotFound, which callers may
// retry after a delay.
func (c *Client) PaymentByHash(ctx context.Context, hash common.Hash) (*Payment, error) {
	tx, pending, err := c.backend.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, model.ErrTxNotFound
		}
		return nil, fmt.Errorf("tx by hash on %s: %w", c.cfg.Name, err)
	}
	if pending {
		return nil, model.ErrTxNotFound
	}

	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, model.ErrTxNotFound
		}
		return nil, fmt.Errorf("receipt on %s: %w", c.cfg.Name, err)
	}

	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return nil, fmt.Errorf("recover sender: %w", err)
	}

	return &Payment{
		From:   from,
		To:     tx.To(),
		Value:  tx.Value(),
		Status: receipt.Status,
	}, nil
}

// Balance returns the current native balance of an address.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.backend.BalanceAt(ctx, addr, nil)
}

// Broadcast signs a transaction with the custodial key and submits it.
// The gas limit is supplied by the caller; there is no estimation here.
func (c *Client) Broadcast(ctx context.Context, to common.Address, data []byte, value *big.Int, gasLimit uint64) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, fmt.Errorf("client for %s has no custodial key", c.cfg.Name)
	}

	c.broadcastMu.Lock()
	defer c.broadcastMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	return signed.Hash(), nil
}

// WaitForReceipt polls for a receipt until timeout. A timeout maps to
// ErrReceiptTimeout: the transaction may still land, so callers must poll
// the same hash instead of re-broadcasting.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(waitCtx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("receipt on %s: %w", c.cfg.Name, err)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, model.ErrReceiptTimeout
		case <-ticker.C:
		}
	}
}
