package model

// Tier is an account's service level.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Account is the ledger's view of a wallet-identified user. The wallet
// address is the primary external identity; handles live in the account
// service and are not mirrored here. A confirmed name purchase marks the
// account pro.
type Account struct {
	Wallet    string `json:"wallet"`
	Tier      Tier   `json:"tier"`
	Balance   int64  `json:"balance"`
	BoundName string `json:"bound_name,omitempty"`
}
