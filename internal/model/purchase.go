package model

import "time"

// PurchaseStatus is a proxy purchase lifecycle state. Transitions are
// strictly forward: pending -> confirmed or pending -> reverted. A reverted
// record is terminal; a fresh attempt creates a new record.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseConfirmed PurchaseStatus = "confirmed"
	PurchaseReverted  PurchaseStatus = "reverted"
)

// ProxyPurchaseRecord tracks one custodial-funded registration attempt.
type ProxyPurchaseRecord struct {
	Name      string         `json:"name"`
	Owner     string         `json:"owner"`
	TxHash    string         `json:"tx_hash"`
	Status    PurchaseStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}
