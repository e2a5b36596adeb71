// Package notify holds the non-Telegram notification channels.
package notify

import (
	"context"
	"fmt"
	"time"

	drepo "CryptoAlert/internal/domain/repository"
	xhttp "CryptoAlert/pkg/http"
	applogger "CryptoAlert/pkg/logger"
)

// Log writes every notification to the application log.
type Log struct {
	logger *applogger.Logger
}

func NewLog(l *applogger.Logger) *Log {
	if l == nil {
		l = applogger.Nop()
	}
	return &Log{logger: l}
}

var _ drepo.Notifier = (*Log)(nil)

func (n *Log) Send(_ context.Context, recipient, text string) error {
	n.logger.Info("alert", applogger.String("recipient", recipient), applogger.String("text", text))
	return nil
}

// Webhook POSTs notifications as JSON to a fixed URL.
type Webhook struct {
	http *xhttp.Client
	url  string
	now  func() time.Time
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		http: xhttp.NewClient(xhttp.WithTimeout(timeout)),
		url:  url,
		now:  time.Now,
	}
}

var _ drepo.Notifier = (*Webhook)(nil)

type webhookPayload struct {
	Recipient string    `json:"recipient"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

func (n *Webhook) Send(ctx context.Context, recipient, text string) error {
	err := n.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    n.url,
		Body:   webhookPayload{Recipient: recipient, Text: text, SentAt: n.now().UTC()},
	}, nil)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}
