// Package smsactivate is a client for sms-activate compatible number rental
// APIs (GET handler_api.php?api_key=..&action=..) that answer with plain
// text tokens such as ACCESS_NUMBER:<id>:<phone>.
package smsactivate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smsbra/otp-api/internal/domain/provider"
	"github.com/smsbra/otp-api/internal/pkg/metrics"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 64 << 10
)

// setStatus codes
const (
	statusRequestAnother = 3
	statusComplete       = 6
	statusCancel         = 8
)

// Client talks to the provider. It never retries.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	metrics *metrics.Metrics
}

// NewClient creates a client for baseURL (the full handler endpoint).
func NewClient(baseURL, apiKey string, timeout time.Duration, m *metrics.Metrics) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		metrics: m,
	}
}

// call performs one action and returns the trimmed response body.
func (c *Client) call(ctx context.Context, action string, params url.Values) (body string, err error) {
	start := time.Now()
	defer func() {
		c.metrics.ProviderCall(action, err, time.Since(start))
	}()

	if strings.TrimSpace(c.apiKey) == "" {
		return "", provider.Rejected(provider.ReasonBadKey, "api key not configured")
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("smsactivate config error: %w", err)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("action", action)
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("smsactivate request error: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyRequestError(ctx, action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %s: read body: %v", provider.ErrUnavailable, action, err)
	}
	body = strings.TrimSpace(string(raw))

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("%w: %s: status=%d", provider.ErrUnavailable, action, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", provider.Rejected(provider.ReasonUnknown, fmt.Sprintf("status=%d body=%s", resp.StatusCode, body))
	}

	log.Debug().Str("action", action).Str("response", body).Msg("smsactivate call")
	return body, nil
}

func classifyRequestError(ctx context.Context, action string, err error) error {
	if isTimeoutError(ctx, err) {
		return fmt.Errorf("%w: %s timeout: %v", provider.ErrUnavailable, action, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isNetworkError(err) {
		return fmt.Errorf("%w: %s network error: %v", provider.ErrUnavailable, action, err)
	}
	return fmt.Errorf("%w: %s request error: %v", provider.ErrUnavailable, action, err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetworkError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}
