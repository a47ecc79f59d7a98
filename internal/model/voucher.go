package model

import (
	"math/big"
	"time"
)

// PurchaseVoucher is a time-bounded, signed authorization from the registrar
// letting the custodial wallet register Name on behalf of Owner. It is
// fetched just before use and never persisted; once Deadline passes it is
// discarded, and it is never reused across two broadcast attempts.
type PurchaseVoucher struct {
	Name          string
	Owner         string
	Nonce         *big.Int
	Deadline      int64
	Signature     []byte
	DiscountKey   [32]byte
	DiscountProof []byte
}

// Expired reports whether the voucher deadline has passed at now.
func (v *PurchaseVoucher) Expired(now time.Time) bool {
	return now.Unix() >= v.Deadline
}
