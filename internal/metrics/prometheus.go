package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports measurements through a Prometheus registry.
type PrometheusRecorder struct {
	verifications   *prometheus.CounterVec
	verifyDuration  *prometheus.HistogramVec
	purchases       *prometheus.CounterVec
	purchaseSeconds *prometheus.HistogramVec
	voucherFetches  *prometheus.CounterVec
	voucherAttempts prometheus.Histogram
}

// NewPrometheusRecorder registers the collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailpay_verifications_total",
			Help: "Payment verification attempts by chain and outcome.",
		}, []string{"chain", "outcome"}),
		verifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailpay_verification_seconds",
			Help:    "Payment verification latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"chain"}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailpay_proxy_purchases_total",
			Help: "Proxy purchase attempts by outcome.",
		}, []string{"outcome"}),
		purchaseSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailpay_proxy_purchase_seconds",
			Help:    "Proxy purchase latency including receipt wait.",
			Buckets: []float64{1, 5, 10, 20, 30, 60},
		}, []string{"outcome"}),
		voucherFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailpay_voucher_fetches_total",
			Help: "Registrar voucher fetches by outcome.",
		}, []string{"outcome"}),
		voucherAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailpay_voucher_fetch_attempts",
			Help:    "HTTP attempts per voucher fetch.",
			Buckets: []float64{1, 2, 3},
		}),
	}
	reg.MustRegister(
		r.verifications,
		r.verifyDuration,
		r.purchases,
		r.purchaseSeconds,
		r.voucherFetches,
		r.voucherAttempts,
	)
	return r
}

func (r *PrometheusRecorder) ObserveVerification(chain, outcome string, d time.Duration) {
	r.verifications.WithLabelValues(chain, outcome).Inc()
	r.verifyDuration.WithLabelValues(chain).Observe(d.Seconds())
}

func (r *PrometheusRecorder) ObservePurchase(outcome string, d time.Duration) {
	r.purchases.WithLabelValues(outcome).Inc()
	r.purchaseSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

func (r *PrometheusRecorder) ObserveVoucherFetch(outcome string, attempts int) {
	r.voucherFetches.WithLabelValues(outcome).Inc()
	r.voucherAttempts.Observe(float64(attempts))
}
