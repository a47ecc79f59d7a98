package model

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func testChain() Chain {
	return Chain{
		Name:       "base",
		ChainID:    8453,
		Decimals:   18,
		MinAmount:  decimal.RequireFromString("0.0005"),
		CreditRate: decimal.RequireFromString("1000000"),
	}
}

func TestCreditFor(t *testing.T) {
	c := testChain()

	cases := []struct {
		wei  string
		want int64
	}{
		{"1000000000000000", 1000}, // 0.001 units
		{"500000000000000", 500},
		{"1500000000000", 1},   // floors fractional credits
		{"999999999999", 0},    // below one credit
		{"2000000000000000000", 2000000},
	}
	for _, tc := range cases {
		got := c.CreditFor(decimal.RequireFromString(tc.wei))
		if got != tc.want {
			t.Fatalf("CreditFor(%s) = %d, want %d", tc.wei, got, tc.want)
		}
	}
}

func TestMeetsMinimum(t *testing.T) {
	c := testChain()

	if !c.MeetsMinimum(decimal.RequireFromString("500000000000000")) {
		t.Fatalf("exact minimum must pass")
	}
	if c.MeetsMinimum(decimal.RequireFromString("499999999999999")) {
		t.Fatalf("below minimum must fail")
	}
}

func TestErrorCodeMatching(t *testing.T) {
	detailed := ErrAmountBelowMinimum.Detailf("got 1 wei")
	if !errors.Is(detailed, ErrAmountBelowMinimum) {
		t.Fatalf("detailed copy must match its sentinel")
	}
	if errors.Is(detailed, ErrRecipientMismatch) {
		t.Fatalf("codes must not cross-match")
	}
	if detailed.Retryable() {
		t.Fatalf("fatal errors are not retryable")
	}
	if !ErrTxNotFound.Retryable() || !ErrVoucherUnavailable.Retryable() {
		t.Fatalf("retryable kinds must report retryable")
	}
}
