package model

import "github.com/shopspring/decimal"

// Chain is static per-network configuration, read-only at runtime.
// Declaration order in the config file is the probing priority order
// used when a caller omits the chain id.
type Chain struct {
	Name     string `mapstructure:"name"`
	ChainID  uint64 `mapstructure:"chain-id"`
	RPCURL   string `mapstructure:"rpc"`
	Decimals int32  `mapstructure:"decimals"`
	// MinAmount is the smallest payable amount in whole native units, e.g. "0.0001".
	MinAmount decimal.Decimal `mapstructure:"min-amount"`
	// CreditRate is credited units per whole native unit.
	CreditRate decimal.Decimal `mapstructure:"credit-rate"`
}

// CreditFor converts a wei amount into credited units:
// floor(native_amount * credit_rate). The result is deterministic for a
// given (amount, rate) pair so replays always observe the same value.
func (c Chain) CreditFor(amountWei decimal.Decimal) int64 {
	native := amountWei.Shift(-c.Decimals)
	return native.Mul(c.CreditRate).Floor().IntPart()
}

// MeetsMinimum reports whether a wei amount reaches the configured minimum.
func (c Chain) MeetsMinimum(amountWei decimal.Decimal) bool {
	return amountWei.Shift(-c.Decimals).GreaterThanOrEqual(c.MinAmount)
}
