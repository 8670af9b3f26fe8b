package gateway

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
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mentora/internal/metrics"
)

// ErrSignatureMismatch indicates the client-supplied payment signature does
// not match the expected keyed hash.
var ErrSignatureMismatch = errors.New("payment signature mismatch")

// Client provides typed access to the Razorpay orders API.
type Client struct {
	logger    *slog.Logger
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
	metrics   *metrics.Metrics
}

// Config holds payment gateway client configuration.
type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// Order mirrors the gateway's order resource. Amount is in minor units (paise).
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// New creates a new payment gateway client.
func New(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.razorpay.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		logger:    logger.With("component", "gateway"),
		baseURL:   base,
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		http:      &http.Client{Timeout: timeout},
		metrics:   metricRegistry,
	}
}

// CreateOrder places a new order with the gateway. Amount is in minor units.
func (c *Client) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*Order, error) {
	payload := map[string]any{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order request: %w", err)
	}

	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.http.Do(req)
	c.observe("create_order", started, resp, err)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read order response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("gateway rejected order", "status", resp.StatusCode, "body", string(data))
		return nil, fmt.Errorf("create order: gateway returned status %d", resp.StatusCode)
	}

	var order Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("decode order response: missing order id")
	}
	return &order, nil
}

// VerifySignature checks the keyed hash the gateway's checkout hands back to
// the client: HMAC-SHA256 over "orderID|paymentID" with the key secret,
// hex-encoded. Comparison is constant-time.
func (c *Client) VerifySignature(orderID, paymentID, signature string) error {
	expected := SignPayment(c.keySecret, orderID, paymentID)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

// SignPayment computes the gateway's payment signature for the given order
// and payment identifiers.
func SignPayment(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) observe(endpoint string, started time.Time, resp *http.Response, err error) {
	if c.metrics == nil {
		return
	}
	status := "error"
	if err == nil && resp != nil {
		status = fmt.Sprintf("%d", resp.StatusCode)
	}
	c.metrics.GatewayRequests.WithLabelValues(endpoint, status).Inc()
	c.metrics.GatewayLatency.WithLabelValues(endpoint, status).Observe(time.Since(started).Seconds())
}
