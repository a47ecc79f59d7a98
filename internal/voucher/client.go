package voucher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"mailpay/internal/metrics"
	"mailpay/internal/model"
)

const (
	zeroAddress     = "0x0000000000000000000000000000000000000000"
	zeroDiscountKey = "0x0000000000000000000000000000000000000000000000000000000000000000"
)

// SignatureRequest is the registrar's expected request object. Field names
// follow the upstream wire format.
type SignatureRequest struct {
	Name               string   `json:"name"`
	NameOwner          string   `json:"nameOwner"`
	SetAsPrimaryName   bool     `json:"setAsPrimaryName"`
	Referrer           string   `json:"referrer"`
	DiscountKey        string   `json:"discountKey"`
	DiscountClaimProof string   `json:"discountClaimProof"`
	Attributes         []string `json:"attributes"`
	PaymentToken       string   `json:"paymentToken"`
	ChainID            uint64   `json:"chainId"`
}

// Client fetches signed purchase vouchers from the registrar API.
//
// Retry policy: a 5xx or network failure is retried up to maxRetries extra
// times with linear backoff (delay multiplied by the attempt number). Any
// 4xx is a client-side rejection that will not succeed on retry and fails
// immediately.
type Client struct {
	baseURL    string
	referrer   string
	chainID    uint64
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	log        *zap.Logger
	metrics    metrics.Recorder
}

// NewClient builds a registrar client. referrer and chainID go into every
// signature request.
func NewClient(baseURL, referrer string, chainID uint64, log *zap.Logger, rec metrics.Recorder) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		referrer:   referrer,
		chainID:    chainID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 2,
		backoff:    time.Second,
		log:        log,
		metrics:    rec,
	}
}

// FetchVoucher requests a signed authorization for registering name to
// owner. Proxy purchases always send a zero discount key and empty proof:
// the upstream discount verifiers check the transaction sender, which is
// the custodial wallet here, so any owner-bound discount would revert
// on-chain. The full undiscounted price is paid instead.
func (c *Client) FetchVoucher(ctx context.Context, name, owner string) (*model.PurchaseVoucher, error) {
	req := SignatureRequest{
		Name:               name,
		NameOwner:          owner,
		SetAsPrimaryName:   false,
		Referrer:           c.referrer,
		DiscountKey:        zeroDiscountKey,
		DiscountClaimProof: "0x",
		Attributes:         []string{},
		PaymentToken:       zeroAddress,
		ChainID:            c.chainID,
	}
	encoded, err := Encode(req)
	if err != nil {
		return nil, err
	}
	endpoint := c.baseURL + "/v3/register/signature?data=" + url.QueryEscape(encoded)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		voucher, retryable, err := c.fetchOnce(ctx, endpoint)
		if err == nil {
			voucher.Name = name
			voucher.Owner = owner
			c.metrics.ObserveVoucherFetch("ok", attempt+1)
			return voucher, nil
		}
		if !retryable {
			c.metrics.ObserveVoucherFetch("rejected", attempt+1)
			return nil, err
		}
		lastErr = err
		c.log.Warn("voucher fetch failed",
			zap.String("name", name),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	c.metrics.ObserveVoucherFetch("unavailable", c.maxRetries+1)
	return nil, model.ErrVoucherUnavailable.Detailf("%v", lastErr)
}

// fetchOnce performs one HTTP attempt. The bool reports retryability.
func (c *Client) fetchOnce(ctx context.Context, endpoint string) (*model.PurchaseVoucher, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("registrar request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read registrar response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("registrar status %d: %s", resp.StatusCode, clip(body))
	case resp.StatusCode >= 400:
		return nil, false, model.ErrVoucherRejected.Detailf("status %d: %s", resp.StatusCode, clip(body))
	}

	voucher, err := parseVoucherResponse(body)
	if err != nil {
		return nil, false, fmt.Errorf("parse registrar response: %w", err)
	}
	return voucher, false, nil
}

// voucherWire matches the upstream voucher fields. Numeric fields arrive
// either quoted or bare depending on the upstream version, hence RawMessage.
type voucherWire struct {
	Nonce     json.RawMessage `json:"nonce"`
	Deadline  json.RawMessage `json:"deadline"`
	Signature string          `json:"signature"`
}

// parseVoucherResponse handles both response shapes: voucher fields nested
// under an encoded data string, or inline as a plain object.
func parseVoucherResponse(body []byte) (*model.PurchaseVoucher, error) {
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	payload := json.RawMessage(body)
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 {
		payload = envelope.Data
	}

	var wire voucherWire
	var dataStr string
	if err := json.Unmarshal(payload, &dataStr); err == nil {
		// encoded form first
		if err := Decode(dataStr, &wire); err != nil {
			return nil, err
		}
	} else if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, err
	}

	nonce, err := parseBigInt(wire.Nonce)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	deadline, err := parseBigInt(wire.Deadline)
	if err != nil {
		return nil, fmt.Errorf("deadline: %w", err)
	}
	sig, err := hexutil.Decode(wire.Signature)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}

	return &model.PurchaseVoucher{
		Nonce:         nonce,
		Deadline:      deadline.Int64(),
		Signature:     sig,
		DiscountProof: []byte{},
	}, nil
}

func parseBigInt(raw json.RawMessage) (*big.Int, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return nil, fmt.Errorf("missing value")
	}
	if strings.HasPrefix(s, "0x") {
		return hexutil.DecodeBig(s)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a number: %q", s)
	}
	return n, nil
}

func clip(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
