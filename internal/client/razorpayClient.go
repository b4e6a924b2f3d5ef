package client

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"checkout-payments/internal/apperr"
	"checkout-payments/internal/config"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type PaymentStatus string

const (
	PaymentCaptured   PaymentStatus = "captured"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentFailed     PaymentStatus = "failed"
	PaymentPending    PaymentStatus = "pending"
)

func (s PaymentStatus) Settled() bool {
	return s == PaymentCaptured || s == PaymentAuthorized
}

type Intent struct {
	ID       string          `json:"id"`
	Amount   int64           `json:"amount"`
	Currency string          `json:"currency"`
	Receipt  string          `json:"receipt"`
	Status   string          `json:"status"`
	Raw      json.RawMessage `json:"-"`
}

type PaymentRecord struct {
	ID          string
	Status      PaymentStatus
	AmountMinor int64
}

type RazorpayClient interface {
	KeyID() string
	CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string) (*Intent, error)
	VerifySignature(intentID, paymentID, signature string) bool
	VerifyWebhookSignature(body []byte, signature string) bool
	FetchPaymentsForIntent(ctx context.Context, intentID string) ([]PaymentRecord, error)
}

type razorpayClientImpl struct {
	httpClient    *http.Client
	baseApiURL    string
	keyID         string
	keySecret     string
	webhookSecret string
	timeout       time.Duration
	breaker       *gobreaker.CircuitBreaker[[]byte]
}

type razorpayErrorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type razorpayPayment struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Amount  int64  `json:"amount"`
}

type razorpayCollection struct {
	Count int               `json:"count"`
	Items []razorpayPayment `json:"items"`
}

func NewRazorpayClient(cfg *config.Razorpay, log *zap.Logger) RazorpayClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "razorpay",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a rejected request says nothing about gateway health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, apperr.ErrGatewayRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &razorpayClientImpl{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseApiURL:    cfg.BaseApiURL,
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
		timeout:       timeout,
		breaker:       breaker,
	}
}

func (c *razorpayClientImpl) KeyID() string {
	return c.keyID
}

func (c *razorpayClientImpl) CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string) (*Intent, error) {
	if amountMinor <= 0 {
		return nil, apperr.New(apperr.KindInvalidAmount, "intent amount must be positive")
	}

	payload := map[string]interface{}{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal req payload: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/v1/orders", body)
	if err != nil {
		return nil, err
	}

	var intent Intent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, apperr.Wrap(apperr.KindGatewayUnavailable, err, "payment gateway returned an unreadable response")
	}
	if intent.ID == "" {
		return nil, apperr.New(apperr.KindGatewayUnavailable, "payment gateway returned no order id")
	}
	intent.Raw = raw

	return &intent, nil
}

func (c *razorpayClientImpl) FetchPaymentsForIntent(ctx context.Context, intentID string) ([]PaymentRecord, error) {
	raw, err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(intentID)+"/payments", nil)
	if err != nil {
		return nil, err
	}

	var coll razorpayCollection
	if err := json.Unmarshal(raw, &coll); err != nil {
		return nil, apperr.Wrap(apperr.KindGatewayUnavailable, err, "payment gateway returned an unreadable response")
	}

	records := make([]PaymentRecord, 0, len(coll.Items))
	for _, p := range coll.Items {
		records = append(records, PaymentRecord{
			ID:          p.ID,
			Status:      mapPaymentStatus(p.Status),
			AmountMinor: p.Amount,
		})
	}

	return records, nil
}

func (c *razorpayClientImpl) VerifySignature(intentID, paymentID, signature string) bool {
	if c.keySecret == "" {
		return false
	}
	expected := SignPayment(c.keySecret, intentID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *razorpayClientImpl) VerifyWebhookSignature(body []byte, signature string) bool {
	if c.webhookSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignPayment is the checkout callback signature: hex HMAC-SHA256 of
// "intentID|paymentID" keyed with the API secret.
func SignPayment(secret, intentID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(intentID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *razorpayClientImpl) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if c.keyID == "" || c.keySecret == "" || c.baseApiURL == "" {
		return nil, apperr.New(apperr.KindGatewayUnavailable, "payment gateway is not configured")
	}

	raw, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperr.Wrap(apperr.KindGatewayUnavailable, err, "payment gateway unavailable")
	}

	return raw, err
}

func (c *razorpayClientImpl) roundTrip(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseApiURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGatewayUnavailable, err, "payment gateway unavailable")
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGatewayUnavailable, err, "payment gateway unavailable")
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperr.Wrap(apperr.KindGatewayUnavailable,
			fmt.Errorf("razorpay error %d: %s", resp.StatusCode, string(b)),
			"payment gateway unavailable")
	case resp.StatusCode >= 400:
		var eb razorpayErrorBody
		_ = json.Unmarshal(b, &eb)
		return nil, apperr.Wrap(apperr.KindGatewayRejected,
			fmt.Errorf("razorpay error %d: %s %s", resp.StatusCode, eb.Error.Code, eb.Error.Description),
			"payment gateway rejected the request")
	}

	return b, nil
}

func mapPaymentStatus(s string) PaymentStatus {
	switch s {
	case "captured":
		return PaymentCaptured
	case "authorized":
		return PaymentAuthorized
	case "failed", "refunded":
		return PaymentFailed
	default:
		return PaymentPending
	}
}
