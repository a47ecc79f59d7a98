package audit

import "time"

// Event is one append-only audit line. Money-moving actions are recorded
// here in addition to the primary store so operators can reconcile the
// ledger against an independent trail.
type Event struct {
	Time     time.Time `json:"ts"`
	Action   string    `json:"action"`
	TxHash   string    `json:"tx_hash"`
	Wallet   string    `json:"wallet,omitempty"`
	Name     string    `json:"name,omitempty"`
	Amount   string    `json:"amount_wei,omitempty"`
	Credited int64     `json:"credited,omitempty"`
	Status   string    `json:"status,omitempty"`
}

// Trail defines a sink for audit events.
type Trail interface {
	Append(events []Event) error
}
