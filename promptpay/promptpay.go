/*
Package promptpay fetches PromptPay payment QR codes for bill amounts.

PURPOSE:
  Tenants pay by scanning a PromptPay QR code in their banking app and
  uploading the transfer slip. The QR image encodes the property's
  PromptPay account and the exact amount due; it is rendered by a
  promptpay.io compatible service.

ENDPOINT:
  GET {baseURL}/{accountID}/{amount}.png   amount with two decimals

SEE ALSO:
  - api/handlers.go: GET /api/bills/{id}/qr
*/
package promptpay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// DefaultBaseURL is the public QR rendering service.
const DefaultBaseURL = "https://promptpay.io"

var ErrInvalidAmount = errors.New("promptpay: amount must be positive")

// Client renders QR codes for one PromptPay account.
type Client struct {
	httpClient *resty.Client
	accountID  string
}

// New creates a client for accountID (a phone or national id number).
func New(baseURL, accountID string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(300*time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &Client{httpClient: client, accountID: accountID}
}

// QR returns a PNG image for paying amount.
func (c *Client) QR(ctx context.Context, amount decimal.Decimal) ([]byte, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"account": c.accountID,
			"amount":  amount.StringFixed(2),
		}).
		Get("/{account}/{amount}.png")
	if err != nil {
		return nil, fmt.Errorf("promptpay qr failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("promptpay qr: status %d", resp.StatusCode())
	}
	if ct := resp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("promptpay qr: unexpected content type %q", ct)
	}
	return resp.Body(), nil
}
