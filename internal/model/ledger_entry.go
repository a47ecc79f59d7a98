package model

import "time"

// EntryStatus is a ledger entry lifecycle state.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryConfirmed EntryStatus = "confirmed"
)

// LedgerEntry records a single credited deposit. TxHash is globally unique
// and is the sole idempotency guard: a second submission of the same hash
// returns this entry's outcome instead of crediting again.
type LedgerEntry struct {
	TxHash    string      `json:"tx_hash"`
	ChainID   uint64      `json:"chain_id"`
	Payer     string      `json:"payer"`
	AmountWei string      `json:"amount_wei"`
	Credited  int64       `json:"credited"`
	Status    EntryStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}
