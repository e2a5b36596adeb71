// Package telegram sends alert messages through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	drepo "CryptoAlert/internal/domain/repository"
	xhttp "CryptoAlert/pkg/http"
)

const DefaultAPIURL = "https://api.telegram.org"

// Client implements Notifier; the recipient is a Telegram chat id.
type Client struct {
	http   *xhttp.Client
	apiURL string
	token  string
}

// New creates a bot client. token is never logged or returned in errors.
func New(token, apiURL string, timeout time.Duration) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:   xhttp.NewClient(xhttp.WithTimeout(timeout)),
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  token,
	}
}

var _ drepo.Notifier = (*Client)(nil)

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts text to chatID via sendMessage.
func (c *Client) Send(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return errors.New("telegram: empty chat id")
	}
	var resp apiResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    fmt.Sprintf("%s/bot%s/sendMessage", c.apiURL, c.token),
		Body:   sendMessageRequest{ChatID: chatID, Text: text},
	}, &resp)
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", c.redact(err))
	}
	if !resp.OK {
		return fmt.Errorf("telegram sendMessage: %s", resp.Description)
	}
	return nil
}

// redact keeps the bot token out of errors; transport errors embed the URL.
func (c *Client) redact(err error) error {
	var se *xhttp.StatusError
	if errors.As(err, &se) || c.token == "" || !strings.Contains(err.Error(), c.token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), c.token, "<token>"))
}
