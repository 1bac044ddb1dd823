package smsactivate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/smsbra/otp-api/internal/domain/provider"
)

var errorTokens = map[string]provider.Reason{
	"NO_NUMBERS":          provider.ReasonNoNumbers,
	"NO_BALANCE":          provider.ReasonNoProviderBalance,
	"BAD_SERVICE":         provider.ReasonBadService,
	"BAD_KEY":             provider.ReasonBadKey,
	"BAD_ACTION":          provider.ReasonBadAction,
	"BAD_STATUS":          provider.ReasonBadStatus,
	"BAD_COUNTRY":         provider.ReasonBadCountry,
	"WRONG_COUNTRY":       provider.ReasonBadCountry,
	"NO_ACTIVATION":       provider.ReasonNoActivation,
	"WRONG_ACTIVATION_ID": provider.ReasonNoActivation,
}

// tokenError maps a non-success body to an error. ERROR_SQL is the
// provider's own backend failing and is treated as transient.
func tokenError(body string) error {
	token := body
	if i := strings.IndexByte(token, ':'); i >= 0 {
		token = token[:i]
	}
	if token == "ERROR_SQL" {
		return fmt.Errorf("%w: provider backend error", provider.ErrUnavailable)
	}
	if token == "BANNED" {
		return provider.Rejected(provider.ReasonBadKey, body)
	}
	if reason, ok := errorTokens[token]; ok {
		return provider.Rejected(reason, body)
	}
	return provider.Rejected(provider.ReasonUnknown, body)
}

func (c *Client) RequestNumber(ctx context.Context, req provider.NumberRequest) (*provider.Number, error) {
	params := url.Values{}
	params.Set("service", req.ServiceCode)
	country := req.CountryCode
	if country == "" {
		country = "0"
	}
	params.Set("country", country)
	if req.Operator != "" {
		params.Set("operator", req.Operator)
	}

	body, err := c.call(ctx, "getNumber", params)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(body, ":")
	if parts[0] != "ACCESS_NUMBER" {
		return nil, tokenError(body)
	}
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return nil, provider.Rejected(provider.ReasonUnknown, body)
	}
	return &provider.Number{ActivationID: parts[1], PhoneNumber: parts[2]}, nil
}

func (c *Client) PollStatus(ctx context.Context, activationID string) (provider.Status, error) {
	body, err := c.call(ctx, "getStatus", url.Values{"id": {activationID}})
	if err != nil {
		return provider.Status{}, err
	}
	return parseStatus(body)
}

func parseStatus(body string) (provider.Status, error) {
	token, rest, _ := strings.Cut(body, ":")
	switch token {
	case "STATUS_WAIT_CODE":
		return provider.Status{Kind: provider.StatusAwaitingCode}, nil
	case "STATUS_WAIT_RETRY", "STATUS_WAIT_RESEND":
		return provider.Status{Kind: provider.StatusAwaitingRetry}, nil
	case "STATUS_OK":
		if rest == "" {
			return provider.Status{Kind: provider.StatusUnknown}, nil
		}
		return provider.Status{Kind: provider.StatusCodeReceived, Code: rest}, nil
	case "STATUS_CANCEL":
		return provider.Status{Kind: provider.StatusCancelled}, nil
	}

	if _, known := errorTokens[token]; known || token == "ERROR_SQL" || token == "BANNED" {
		return provider.Status{}, tokenError(body)
	}
	return provider.Status{Kind: provider.StatusUnknown}, nil
}

func (c *Client) setStatus(ctx context.Context, activationID string, status int, expect ...string) error {
	params := url.Values{}
	params.Set("id", activationID)
	params.Set("status", strconv.Itoa(status))

	body, err := c.call(ctx, "setStatus", params)
	if err != nil {
		return err
	}
	for _, ok := range expect {
		if body == ok {
			return nil
		}
	}
	return tokenError(body)
}

func (c *Client) RequestAdditionalCode(ctx context.Context, activationID string) error {
	return c.setStatus(ctx, activationID, statusRequestAnother, "ACCESS_RETRY_GET", "ACCESS_READY")
}

// Cancel treats an already cancelled activation as success.
func (c *Client) Cancel(ctx context.Context, activationID string) error {
	return c.setStatus(ctx, activationID, statusCancel, "ACCESS_CANCEL", "ACCESS_CANCEL_ALREADY", "STATUS_CANCEL")
}

func (c *Client) ConfirmCompletion(ctx context.Context, activationID string) error {
	return c.setStatus(ctx, activationID, statusComplete, "ACCESS_ACTIVATION", "ACCESS_ACTIVATION_ALREADY")
}

// Balance returns the provider account balance.
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	body, err := c.call(ctx, "getBalance", nil)
	if err != nil {
		return decimal.Zero, err
	}
	token, value, _ := strings.Cut(body, ":")
	if token != "ACCESS_BALANCE" {
		return decimal.Zero, tokenError(body)
	}
	bal, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, provider.Rejected(provider.ReasonUnknown, body)
	}
	return bal, nil
}

// Availability returns free numbers per service code for a country.
// The provider keys counts as "<service>_<forward flag>"; flags are merged.
func (c *Client) Availability(ctx context.Context, countryCode string) (map[string]int, error) {
	if countryCode == "" {
		countryCode = "0"
	}
	body, err := c.call(ctx, "getNumbersStatus", url.Values{"country": {countryCode}})
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(body, "{") {
		return nil, tokenError(body)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, provider.Rejected(provider.ReasonUnknown, "malformed numbers status")
	}

	out := make(map[string]int, len(raw))
	for key, val := range raw {
		service, _, _ := strings.Cut(key, "_")
		n, err := strconv.Atoi(strings.Trim(string(val), `"`))
		if err != nil {
			continue
		}
		out[service] += n
	}
	return out, nil
}

var (
	_ provider.Gateway   = (*Client)(nil)
	_ provider.Inspector = (*Client)(nil)
)
