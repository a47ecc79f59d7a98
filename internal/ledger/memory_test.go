package ledger

import (
	"context"
	"sync"
	"testing"

	"mailpay/internal/model"
)

func TestTryCreditOnce(t *testing.T) {
	store := NewMemoryStore()
	entry := model.LedgerEntry{
		TxHash:    "0xabc",
		ChainID:   8453,
		Payer:     "0xwallet",
		AmountWei: "1000000000000000",
		Credited:  1000,
		Status:    model.EntryConfirmed,
	}

	first, err := store.TryCredit(context.Background(), entry)
	if err != nil {
		t.Fatalf("first credit: %v", err)
	}
	if !first.Applied || first.Balance != 1000 {
		t.Fatalf("first credit mismatch: %+v", first)
	}

	second, err := store.TryCredit(context.Background(), entry)
	if err != nil {
		t.Fatalf("second credit: %v", err)
	}
	if second.Applied {
		t.Fatalf("duplicate hash must not apply")
	}
	if second.Balance != 1000 || second.Entry.Credited != 1000 {
		t.Fatalf("replay outcome mismatch: %+v", second)
	}
}

func TestTryCreditConcurrent(t *testing.T) {
	store := NewMemoryStore()
	entry := model.LedgerEntry{
		TxHash:   "0xabc",
		Payer:    "0xwallet",
		Credited: 500,
		Status:   model.EntryConfirmed,
	}

	const workers = 32
	var wg sync.WaitGroup
	applied := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.TryCredit(context.Background(), entry)
			if err != nil {
				t.Errorf("credit: %v", err)
				return
			}
			applied <- res.Applied
		}()
	}
	wg.Wait()
	close(applied)

	var applies int
	for a := range applied {
		if a {
			applies++
		}
	}
	if applies != 1 {
		t.Fatalf("expected exactly one applied credit, got %d", applies)
	}

	balance, err := store.BalanceOf(context.Background(), "0xwallet")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 500 {
		t.Fatalf("balance mismatch: %d", balance)
	}
}

func TestRecordOfMissing(t *testing.T) {
	store := NewMemoryStore()
	rec, err := store.RecordOf(context.Background(), "0xmissing")
	if err != nil {
		t.Fatalf("record of: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestAccountOf(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	acct, err := store.AccountOf(ctx, "0xwallet")
	if err != nil {
		t.Fatalf("account of: %v", err)
	}
	if acct.Tier != model.TierFree || acct.Balance != 0 || acct.BoundName != "" {
		t.Fatalf("fresh account mismatch: %+v", acct)
	}

	if _, err := store.TryCredit(ctx, model.LedgerEntry{TxHash: "0x1", Payer: "0xwallet", Credited: 250}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := store.CreatePurchase(ctx, model.ProxyPurchaseRecord{Name: "alice", Owner: "0xwallet", TxHash: "0x2", Status: model.PurchasePending}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// pending purchases do not upgrade the tier
	acct, err = store.AccountOf(ctx, "0xwallet")
	if err != nil {
		t.Fatalf("account of: %v", err)
	}
	if acct.Tier != model.TierFree || acct.Balance != 250 {
		t.Fatalf("account mismatch: %+v", acct)
	}

	if err := store.SetPurchaseStatus(ctx, "0x2", model.PurchaseConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	acct, err = store.AccountOf(ctx, "0xwallet")
	if err != nil {
		t.Fatalf("account of: %v", err)
	}
	if acct.Tier != model.TierPro || acct.BoundName != "alice" {
		t.Fatalf("confirmed purchase must upgrade the tier: %+v", acct)
	}
}

func TestPurchaseStatusForwardOnly(t *testing.T) {
	store := NewMemoryStore()
	rec := model.ProxyPurchaseRecord{
		Name:   "alice",
		Owner:  "0xwallet",
		TxHash: "0xdef",
		Status: model.PurchasePending,
	}
	if err := store.CreatePurchase(context.Background(), rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreatePurchase(context.Background(), rec); err == nil {
		t.Fatalf("duplicate create must fail")
	}

	if err := store.SetPurchaseStatus(context.Background(), "0xdef", model.PurchaseConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	// same status twice is a no-op
	if err := store.SetPurchaseStatus(context.Background(), "0xdef", model.PurchaseConfirmed); err != nil {
		t.Fatalf("repeat confirm: %v", err)
	}
	// terminal states never regress
	if err := store.SetPurchaseStatus(context.Background(), "0xdef", model.PurchasePending); err == nil {
		t.Fatalf("regression to pending must fail")
	}
	if err := store.SetPurchaseStatus(context.Background(), "0xdef", model.PurchaseReverted); err == nil {
		t.Fatalf("confirmed to reverted must fail")
	}

	got, err := store.PurchaseByTx(context.Background(), "0xdef")
	if err != nil {
		t.Fatalf("purchase by tx: %v", err)
	}
	if got.Status != model.PurchaseConfirmed {
		t.Fatalf("status mismatch: %s", got.Status)
	}
}
