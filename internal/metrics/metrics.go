package metrics

import "time"

// Recorder receives operational measurements from the payment and purchase
// flows. Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveVerification(chain, outcome string, d time.Duration)
	ObservePurchase(outcome string, d time.Duration)
	ObserveVoucherFetch(outcome string, attempts int)
}

// Noop discards all measurements.
type Noop struct{}

func (Noop) ObserveVerification(string, string, time.Duration) {}
func (Noop) ObservePurchase(string, time.Duration)             {}
func (Noop) ObserveVoucherFetch(string, int)                   {}
