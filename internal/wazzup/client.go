// Package wazzup sends chat messages and manages webhook subscriptions
// through the Wazzup v3 API.
package wazzup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crm_dialog_relay/platform/apperr"
	"crm_dialog_relay/platform/config"
	"crm_dialog_relay/platform/logger"
)

type Client struct {
	baseURL   string
	apiKey    string
	channelID string
	chatType  string
	http      *http.Client
	log       *logger.Logger
}

type sendRequest struct {
	ChannelID string `json:"channelId"`
	ChatType  string `json:"chatType"`
	ChatID    string `json:"chatId"`
	Text      string `json:"text"`
}

type webhooksRequest struct {
	WebhooksURI   string        `json:"webhooksUri"`
	Subscriptions subscriptions `json:"subscriptions"`
}

type subscriptions struct {
	MessagesAndStatuses bool `json:"messagesAndStatuses"`
}

// Channel is a connected messenger account.
type Channel struct {
	ID        string `json:"channelId"`
	LegacyID  string `json:"id"`
	Name      string `json:"name"`
	Transport string `json:"transport"`
	State     string `json:"state"`
}

// Identifier returns the channel id regardless of which field the API filled.
func (c Channel) Identifier() string {
	if c.ID != "" {
		return c.ID
	}
	return c.LegacyID
}

func NewClient(cfg config.WazzupConfig, log *logger.Logger) *Client {
	chatType := cfg.GetWazzupChatType()
	if chatType == "" {
		chatType = "whatsapp"
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.GetWazzupAPIURL(), "/"),
		apiKey:    cfg.GetWazzupAPIKey(),
		channelID: cfg.GetWazzupChannelID(),
		chatType:  chatType,
		http:      &http.Client{Timeout: 10 * time.Second},
		log:       log,
	}
}

// Send delivers text to chatID over the configured channel.
func (c *Client) Send(ctx context.Context, chatID string, text string) error {
	if c.apiKey == "" || c.channelID == "" {
		return apperr.Internal("wazzup api key or channel id not configured")
	}

	err := c.do(ctx, http.MethodPost, "/message", sendRequest{
		ChannelID: c.channelID,
		ChatType:  c.chatType,
		ChatID:    chatID,
		Text:      text,
	}, nil)
	if err != nil {
		return err
	}

	c.log.Info("wazzup message sent", "chatId", chatID)
	return nil
}

// Subscribe registers uri as the webhook target for messages and statuses.
func (c *Client) Subscribe(ctx context.Context, uri string) error {
	return c.do(ctx, http.MethodPatch, "/webhooks", webhooksRequest{
		WebhooksURI:   uri,
		Subscriptions: subscriptions{MessagesAndStatuses: true},
	}, nil)
}

func (c *Client) ListChannels(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	if err := c.do(ctx, http.MethodGet, "/channels", nil, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal wazzup payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Unavailable("wazzup request failed", err).WithOp(path)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return apperr.Unavailable(fmt.Sprintf("wazzup returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))), nil).WithOp(path)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Unavailable("decode wazzup response", err).WithOp(path)
	}
	return nil
}
