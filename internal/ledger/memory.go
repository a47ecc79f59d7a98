package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mailpay/internal/model"
)

// MemoryStore is an in-memory Ledger for tests and single-node development.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]model.LedgerEntry
	balances  map[string]int64
	purchases map[string]model.ProxyPurchaseRecord
}

// NewMemoryStore builds an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]model.LedgerEntry),
		balances:  make(map[string]int64),
		purchases: make(map[string]model.ProxyPurchaseRecord),
	}
}

// TryCredit inserts the entry and applies the credit under one lock.
func (s *MemoryStore) TryCredit(_ context.Context, entry model.LedgerEntry) (CreditResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[entry.TxHash]; ok {
		return CreditResult{
			Applied: false,
			Entry:   existing,
			Balance: s.balances[existing.Payer],
		}, nil
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.entries[entry.TxHash] = entry
	s.balances[entry.Payer] += entry.Credited

	return CreditResult{
		Applied: true,
		Entry:   entry,
		Balance: s.balances[entry.Payer],
	}, nil
}

// RecordOf returns the stored entry for a hash, or nil.
func (s *MemoryStore) RecordOf(_ context.Context, txHash string) (*model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[txHash]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// BalanceOf returns the running balance for a wallet.
func (s *MemoryStore) BalanceOf(_ context.Context, wallet string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[wallet], nil
}

// AccountOf resolves the wallet's balance and pro status.
func (s *MemoryStore) AccountOf(_ context.Context, wallet string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := model.Account{
		Wallet:  wallet,
		Tier:    model.TierFree,
		Balance: s.balances[wallet],
	}
	var latest time.Time
	for _, rec := range s.purchases {
		if rec.Owner != wallet || rec.Status != model.PurchaseConfirmed {
			continue
		}
		if rec.CreatedAt.After(latest) {
			latest = rec.CreatedAt
			acct.BoundName = rec.Name
			acct.Tier = model.TierPro
		}
	}
	return acct, nil
}

// CreatePurchase stores a new purchase record.
func (s *MemoryStore) CreatePurchase(_ context.Context, rec model.ProxyPurchaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.purchases[rec.TxHash]; ok {
		return fmt.Errorf("purchase %s already exists", rec.TxHash)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.purchases[rec.TxHash] = rec
	return nil
}

// SetPurchaseStatus moves a pending record to confirmed or reverted.
func (s *MemoryStore) SetPurchaseStatus(_ context.Context, txHash string, status model.PurchaseStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.purchases[txHash]
	if !ok {
		return fmt.Errorf("purchase %s not found", txHash)
	}
	if rec.Status == status {
		return nil
	}
	if rec.Status != model.PurchasePending {
		return fmt.Errorf("purchase %s is terminal (%s)", txHash, rec.Status)
	}
	rec.Status = status
	s.purchases[txHash] = rec
	return nil
}

// PurchaseByTx returns the purchase record for a broadcast hash, or nil.
func (s *MemoryStore) PurchaseByTx(_ context.Context, txHash string) (*model.ProxyPurchaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.purchases[txHash]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}
