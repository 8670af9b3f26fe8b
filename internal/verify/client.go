package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mentora/internal/cache"
	"mentora/internal/metrics"
)

const (
	// StatusApproved is the provider's status for a correct code.
	StatusApproved = "approved"

	formContentType = "application/x-www-form-urlencoded"
)

// ErrCooldownActive indicates a code was already sent to this phone number
// within the resend window.
var ErrCooldownActive = errors.New("verification code recently sent")

// Client provides typed access to the Twilio Verify API.
type Client struct {
	logger     *slog.Logger
	baseURL    string
	accountSID string
	authToken  string
	serviceSID string
	http       *http.Client
	metrics    *metrics.Metrics
	cache      *cache.Redis
	cooldown   time.Duration
}

// Config holds verification provider configuration.
type Config struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	ServiceSID string
	Timeout    time.Duration
	Cooldown   time.Duration
}

// CheckResult carries the provider's verdict for a submitted code.
type CheckResult struct {
	Status string `json:"status"`
}

// New creates a new verification provider client. The Redis client is
// optional; without it no resend cooldown is enforced.
func New(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics, redis *cache.Redis) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://verify.twilio.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Client{
		logger:     logger.With("component", "verify"),
		baseURL:    base,
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		serviceSID: cfg.ServiceSID,
		http:       &http.Client{Timeout: timeout},
		metrics:    metricRegistry,
		cache:      redis,
		cooldown:   cooldown,
	}
}

// Start asks the provider to send a verification code over SMS. Repeated
// requests inside the cooldown window are rejected before hitting the
// provider.
func (c *Client) Start(ctx context.Context, phoneNumber string) error {
	if c.cache != nil {
		ok, err := c.cache.SetNX(ctx, "otp:cooldown:"+phoneNumber, 1, c.cooldown)
		if err != nil {
			c.logger.Warn("otp cooldown check failed", "error", err)
		} else if !ok {
			return ErrCooldownActive
		}
	}

	form := url.Values{}
	form.Set("To", phoneNumber)
	form.Set("Channel", "sms")

	var body struct {
		Status string `json:"status"`
	}
	if err := c.postForm(ctx, "start", "/Verifications", form, &body); err != nil {
		return err
	}
	c.logger.Info("verification started", "status", body.Status)
	return nil
}

// Check submits the code the user typed and returns the provider's verdict.
func (c *Client) Check(ctx context.Context, phoneNumber, code string) (*CheckResult, error) {
	form := url.Values{}
	form.Set("To", phoneNumber)
	form.Set("Code", code)

	var result CheckResult
	if err := c.postForm(ctx, "check", "/VerificationCheck", form, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) postForm(ctx context.Context, action, path string, form url.Values, dest any) error {
	endpoint := fmt.Sprintf("%s/v2/Services/%s%s", c.baseURL, c.serviceSID, path)

	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", formContentType)
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.http.Do(req)
	c.observe(action, started, resp, err)
	if err != nil {
		return fmt.Errorf("%s verification: %w", action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", action, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("verification provider rejected request", "action", action, "status", resp.StatusCode, "body", string(data))
		return fmt.Errorf("%s verification: provider returned status %d", action, resp.StatusCode)
	}

	if dest != nil {
		if err := json.Unmarshal(data, dest); err != nil {
			return fmt.Errorf("decode %s response: %w", action, err)
		}
	}
	return nil
}

func (c *Client) observe(action string, started time.Time, resp *http.Response, err error) {
	if c.metrics == nil {
		return
	}
	status := "error"
	if err == nil && resp != nil {
		status = fmt.Sprintf("%d", resp.StatusCode)
	}
	c.metrics.OTPRequests.WithLabelValues(action, status).Inc()
	c.metrics.OTPLatency.WithLabelValues(action, status).Observe(time.Since(started).Seconds())
}
