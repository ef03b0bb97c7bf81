// Package vendorapi is the HTTP client for the upstream pin vendor.
package vendorapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rl1809/topup-pins/internal/core/domain"
	"github.com/rl1809/topup-pins/internal/metrics"
)

const (
	DefaultType    = "recargaPinFreefirebs"
	DefaultTimeout = 30 * time.Second
	userAgent      = "InefablePines/1.0"
	maxBodyBytes   = 1 << 20
)

type Config struct {
	BaseURL  string
	User     string
	Password string
	Type     string
	Timeout  time.Duration
	// Tiers maps a local package ID to the vendor's monto value.
	Tiers map[int]int
	// RateLimit is requests per second; zero disables throttling.
	RateLimit float64
	Burst     int
}

// DefaultTiers maps packages 1..9 onto the same vendor tier.
func DefaultTiers() map[int]int {
	tiers := make(map[int]int, 9)
	for i := 1; i <= 9; i++ {
		tiers[i] = i
	}
	return tiers
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Type == "" {
		cfg.Type = DefaultType
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With(zap.String("component", "vendor")),
	}
}

// RequestCode buys one code for the package.
func (c *Client) RequestCode(ctx context.Context, packageID int) (string, error) {
	params, err := c.rechargeParams(packageID)
	if err != nil {
		return "", err
	}

	body, err := c.do(ctx, "request_code", params)
	if err != nil {
		return "", err
	}

	code, err := parseCode(body)
	if err != nil {
		c.logger.Warn("vendor response without code",
			zap.Int("package_id", packageID), zap.String("body", snippet(body)), zap.Error(err))
		return "", err
	}

	c.logger.Info("vendor code obtained", zap.Int("package_id", packageID), zap.String("pin", domain.MaskCode(code)))
	return code, nil
}

// CheckAvailability queries the vendor with the test destination. The
// package counts as available when the reply carries no stock-absence
// keyword and does contain a plausible code.
func (c *Client) CheckAvailability(ctx context.Context, packageID int) (bool, error) {
	params, err := c.rechargeParams(packageID)
	if err != nil {
		return false, err
	}

	body, err := c.do(ctx, "check_availability", params)
	if err != nil {
		return false, err
	}

	text := responseText(body)
	if signalsNoStock(text) {
		c.logger.Info("vendor reports no stock", zap.Int("package_id", packageID))
		return false, nil
	}

	_, err = parseCode(body)
	return err == nil, nil
}

// Balance returns the account balance as reported by the vendor.
func (c *Client) Balance(ctx context.Context) (string, error) {
	body, err := c.do(ctx, "balance", c.authParams("saldo"))
	if err != nil {
		return "", err
	}

	if gjson.ValidBytes(body) {
		r := gjson.ParseBytes(body)
		if isErrorStatus(r) {
			return "", rejected(r)
		}
		for _, path := range []string{"saldo", "balance", "data.saldo", "data.balance"} {
			if v := r.Get(path); v.Exists() {
				return v.String(), nil
			}
		}
	}
	return strings.TrimSpace(string(body)), nil
}

// Ping checks that the vendor answers with a 2xx status. It uses the
// balance action so no code is consumed.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "ping", c.authParams("saldo"))
	return err
}

func (c *Client) authParams(action string) url.Values {
	v := url.Values{}
	v.Set("action", action)
	v.Set("usuario", c.cfg.User)
	v.Set("clave", c.cfg.Password)
	return v
}

func (c *Client) rechargeParams(packageID int) (url.Values, error) {
	tier, ok := c.cfg.Tiers[packageID]
	if !ok {
		return nil, &domain.VendorError{
			Kind:    domain.VendorValidation,
			Message: fmt.Sprintf("package %d has no vendor tier", packageID),
		}
	}

	v := c.authParams("recarga")
	v.Set("tipo", c.cfg.Type)
	v.Set("monto", strconv.Itoa(tier))
	v.Set("numero", "0")
	return v, nil
}

func (c *Client) do(ctx context.Context, op string, params url.Values) (body []byte, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		var ve *domain.VendorError
		if errors.As(err, &ve) {
			outcome = string(ve.Kind)
		}
		metrics.RecordVendorCall(op, outcome, time.Since(start))
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.VendorError{Kind: domain.VendorTimeout, Message: "rate limiter wait", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &domain.VendorError{Kind: domain.VendorConnection, Message: "build request", Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("vendor request failed", zap.String("operation", op), zap.Error(err))
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportError(err)
	}

	c.logger.Debug("vendor response",
		zap.String("operation", op), zap.Int("status", resp.StatusCode), zap.String("body", snippet(body)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.VendorError{
			Kind:       domain.VendorStatus,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}
	return body, nil
}

func transportError(err error) *domain.VendorError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &domain.VendorError{Kind: domain.VendorTimeout, Message: "vendor timed out", Err: err}
	}
	return &domain.VendorError{Kind: domain.VendorConnection, Message: "vendor unreachable", Err: err}
}

// parseCode handles both reply shapes: a JSON object with a code field
// (top level or under data) and plain text.
func parseCode(body []byte) (string, error) {
	if gjson.ValidBytes(body) {
		r := gjson.ParseBytes(body)
		if r.IsObject() {
			if isErrorStatus(r) {
				return "", rejected(r)
			}
			for _, path := range []string{"pin", "codigo", "pin_code", "data.pin", "data.codigo", "data.pin_code"} {
				if v := strings.TrimSpace(r.Get(path).String()); v != "" {
					return v, nil
				}
			}
			if data := r.Get("data"); data.Type == gjson.String {
				if code, ok := ExtractCode(data.String()); ok {
					return code, nil
				}
			}
			return "", &domain.VendorError{Kind: domain.VendorParse, Message: "pin not found in JSON response"}
		}
	}

	if code, ok := ExtractCode(string(body)); ok {
		return code, nil
	}
	return "", &domain.VendorError{Kind: domain.VendorParse, Message: "could not extract pin from response"}
}

// responseText is what the availability keywords are matched against.
func responseText(body []byte) string {
	if gjson.ValidBytes(body) {
		if data := gjson.GetBytes(body, "data"); data.Exists() {
			return data.String()
		}
		if msg := gjson.GetBytes(body, "message"); msg.Exists() {
			return msg.String()
		}
	}
	return string(body)
}

func isErrorStatus(r gjson.Result) bool {
	return strings.EqualFold(r.Get("status").String(), "error")
}

func rejected(r gjson.Result) *domain.VendorError {
	msg := r.Get("message").String()
	if msg == "" {
		msg = "vendor returned error status"
	}
	return &domain.VendorError{Kind: domain.VendorRejected, Message: msg}
}

func snippet(body []byte) string {
	const n = 200
	if len(body) > n {
		return string(body[:n]) + "..."
	}
	return string(body)
}
