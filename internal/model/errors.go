package model

import "fmt"

// Kind tells a caller how to react to a failure.
type Kind string

const (
	// KindInput marks malformed or unsupported input; never retried.
	KindInput Kind = "input"
	// KindRetryable marks state that is not visible yet (unmined tx, slow receipt).
	KindRetryable Kind = "retryable"
	// KindFatal marks failures that are permanent for the submitted input.
	KindFatal Kind = "fatal"
	// KindUpstreamFatal marks registrar rejections that will not succeed on retry.
	KindUpstreamFatal Kind = "upstream_fatal"
	// KindUpstreamRetryable marks transient registrar failures after exhausted retries.
	KindUpstreamRetryable Kind = "upstream_retryable"
	// KindOnChainTerminal marks a reverted transaction; a fresh attempt needs a fresh voucher.
	KindOnChainTerminal Kind = "onchain_terminal"
)

// Error is a classified failure with a stable machine-readable code.
type Error struct {
	Code    string
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches by code so errors.Is works against the sentinels below
// even after Detailf copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Detailf returns a copy with extra context appended to the message.
func (e *Error) Detailf(format string, args ...any) *Error {
	return &Error{
		Code:    e.Code,
		Kind:    e.Kind,
		Message: e.Message + ": " + fmt.Sprintf(format, args...),
	}
}

// Retryable reports whether the caller may retry the same request later.
func (e *Error) Retryable() bool {
	return e.Kind == KindRetryable || e.Kind == KindUpstreamRetryable
}

var (
	ErrInvalidTxHash      = &Error{Code: "invalid_tx_hash", Kind: KindInput, Message: "malformed transaction hash"}
	ErrUnsupportedChain   = &Error{Code: "unsupported_chain", Kind: KindInput, Message: "chain is not configured"}
	ErrInvalidWallet      = &Error{Code: "invalid_wallet", Kind: KindInput, Message: "malformed wallet address"}
	ErrTxNotFound         = &Error{Code: "tx_not_found", Kind: KindRetryable, Message: "transaction not found on any configured chain"}
	ErrRecipientMismatch  = &Error{Code: "recipient_mismatch", Kind: KindFatal, Message: "transaction recipient is not the deposit address"}
	ErrAmountBelowMinimum = &Error{Code: "amount_below_minimum", Kind: KindFatal, Message: "payment is below the chain minimum"}
	ErrVoucherRejected    = &Error{Code: "voucher_rejected", Kind: KindUpstreamFatal, Message: "registrar rejected the signature request"}
	ErrVoucherUnavailable = &Error{Code: "voucher_unavailable", Kind: KindUpstreamRetryable, Message: "registrar unavailable after retries"}
	ErrVoucherExpired     = &Error{Code: "voucher_expired", Kind: KindFatal, Message: "voucher deadline has passed"}
	ErrBroadcastFailed    = &Error{Code: "broadcast_failed", Kind: KindFatal, Message: "purchase transaction could not be broadcast"}
	ErrReceiptTimeout     = &Error{Code: "receipt_timeout", Kind: KindRetryable, Message: "transaction still pending, poll again"}
	ErrTxReverted         = &Error{Code: "tx_reverted", Kind: KindOnChainTerminal, Message: "transaction reverted on chain"}
)
