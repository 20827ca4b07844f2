package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoPageToken is returned by SendMessage when no page access token is configured.
var ErrNoPageToken = errors.New("page access token is not configured")

// Client talks to the Graph API on behalf of one page.
type Client struct {
	BaseURL         string
	VerifyToken     string
	PageAccessToken string
	HTTP            *http.Client
}

// NewClient builds a client; timeout defaults to 10s.
func NewClient(baseURL, verifyToken, pageAccessToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:         strings.TrimRight(baseURL, "/"),
		VerifyToken:     verifyToken,
		PageAccessToken: pageAccessToken,
		HTTP:            &http.Client{Timeout: timeout},
	}
}

// CanSend reports whether outbound messages can be delivered.
func (c *Client) CanSend() bool { return c.PageAccessToken != "" }

// VerifyWebhook answers the subscription handshake: the challenge is echoed
// only for mode "subscribe" with the configured token.
func (c *Client) VerifyWebhook(mode, token, challenge string) (string, bool) {
	if mode == "subscribe" && token != "" && token == c.VerifyToken {
		return challenge, true
	}
	return "", false
}

// SendResult is the Graph API acknowledgement of a sent message.
type SendResult struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// SendMessage delivers text to recipientID as a RESPONSE message.
func (c *Client) SendMessage(ctx context.Context, recipientID, text string) (*SendResult, error) {
	if !c.CanSend() {
		return nil, ErrNoPageToken
	}
	payload := map[string]any{
		"recipient":      map[string]string{"id": recipientID},
		"message":        map[string]string{"text": text},
		"messaging_type": "RESPONSE",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	endpoint := c.BaseURL + "/me/messages?" + url.Values{"access_token": {c.PageAccessToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, fmt.Errorf("send message: %s: %s", res.Status, strings.TrimSpace(string(msg)))
	}
	var out SendResult
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode send response: %w", err)
	}
	return &out, nil
}
