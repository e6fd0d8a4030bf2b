/*
Package notify turns committed tenancy events into chat messages.

PURPOSE:
  The engines publish tenancy.Event values after commit. This package
  renders them into text for the tenant and for staff, and delivers the
  text through a Notifier. Delivery failures never reach the engines.

KEY TYPES:
  Notifier:       Send(ctx, to, text) to one chat recipient
  LineNotifier:   LINE Messaging API push client (resty, with retries)
  LogNotifier:    Writes messages to the log (development, tests)
  Dispatcher:     Worker pool implementing tenancy.EventSink
  StreamSink:     tenancy.EventSink that appends events to a redis stream
  StreamConsumer: Reads the stream and hands events to a sink

FLOW (single process):
  engine ──▶ Dispatcher.Publish ──▶ queue ──▶ worker ──▶ Render ──▶ Notifier

FLOW (with redis):
  engine ──▶ StreamSink ──▶ XADD ──▶ StreamConsumer ──▶ Dispatcher

SEE ALSO:
  - tenancy/events.go: Event definition
  - messages.go: Message texts
*/
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Notifier delivers a text message to one chat recipient.
type Notifier interface {
	Send(ctx context.Context, to, text string) error
}

// =============================================================================
// LINE MESSAGING API
// =============================================================================

// DefaultLineBaseURL is the public LINE Messaging API endpoint.
const DefaultLineBaseURL = "https://api.line.me"

// LineNotifier pushes text messages through the LINE Messaging API.
type LineNotifier struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

type linePushRequest struct {
	To       string        `json:"to"`
	Messages []lineMessage `json:"messages"`
}

type lineMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type lineErrorResponse struct {
	Message string `json:"message"`
}

// NewLineNotifier creates a push client authenticated with a channel
// access token.
func NewLineNotifier(baseURL, channelToken string, logger *zap.Logger) *LineNotifier {
	if baseURL == "" {
		baseURL = DefaultLineBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
		}).
		SetAuthToken(channelToken).
		SetHeader("Content-Type", "application/json")

	return &LineNotifier{httpClient: client, logger: logger}
}

// Send pushes one text message to a LINE user.
func (n *LineNotifier) Send(ctx context.Context, to, text string) error {
	if to == "" {
		return errors.New("line push: empty recipient")
	}

	var apiErr lineErrorResponse
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(linePushRequest{
			To:       to,
			Messages: []lineMessage{{Type: "text", Text: text}},
		}).
		SetError(&apiErr).
		Post("/v2/bot/message/push")
	if err != nil {
		return fmt.Errorf("line push failed: %w", err)
	}
	if resp.IsError() {
		n.logger.Warn("LINE API returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("msg", apiErr.Message),
		)
		return fmt.Errorf("line push: status %d: %s", resp.StatusCode(), apiErr.Message)
	}
	return nil
}

// =============================================================================
// LOG NOTIFIER
// =============================================================================

// LogNotifier writes messages to the log instead of delivering them.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Send(_ context.Context, to, text string) error {
	if n.Logger != nil {
		n.Logger.Info("notification", zap.String("to", to), zap.String("text", text))
	}
	return nil
}
