// Package bitrix is a thin client for the Bitrix24 inbound-webhook REST API.
package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crm_dialog_relay/platform/apperr"
	"crm_dialog_relay/platform/config"
	"crm_dialog_relay/platform/logger"
)

type Client struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

func NewClient(cfg config.BitrixConfig, log *logger.Logger) *Client {
	base := strings.TrimSpace(cfg.GetBitrixWebhookURL())
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

type envelope struct {
	Result           json.RawMessage `json:"result"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// call posts params to <webhook>/<method>.json and decodes the result field into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	if c.baseURL == "" {
		return apperr.Internal("bitrix webhook url not configured")
	}

	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal bitrix %s params: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+method+".json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug("bitrix call", "method", method)
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Unavailable("bitrix request failed", err).WithOp(method)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return apperr.Unavailable("read bitrix response", err).WithOp(method)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return apperr.Unavailable(fmt.Sprintf("bitrix returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))), nil).WithOp(method)
		}
		return apperr.Unavailable("decode bitrix response", err).WithOp(method)
	}

	if env.Error != "" || env.ErrorDescription != "" {
		if isNotFound(env.Error, env.ErrorDescription) {
			return apperr.NotFound(fmt.Sprintf("bitrix %s: %s", method, env.ErrorDescription)).WithOp(method)
		}
		return apperr.Unavailable(fmt.Sprintf("bitrix %s: %s %s", method, env.Error, env.ErrorDescription), nil).WithOp(method)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return apperr.Unavailable(fmt.Sprintf("bitrix returned %d", resp.StatusCode), nil).WithOp(method)
	}

	if out == nil {
		return nil
	}
	if len(env.Result) == 0 || string(env.Result) == "null" || string(env.Result) == "false" {
		return apperr.NotFound(fmt.Sprintf("bitrix %s: empty result", method)).WithOp(method)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return apperr.Unavailable("decode bitrix result", err).WithOp(method)
	}
	return nil
}

func isNotFound(code, description string) bool {
	code = strings.ToUpper(code)
	if code == "NOT_FOUND" || code == "ERROR_NOT_FOUND" {
		return true
	}
	return strings.Contains(strings.ToLower(description), "not found")
}

// FlexString decodes Bitrix values that arrive as either strings or numbers.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = FlexString(v)
		return nil
	}
	*f = FlexString(s)
	return nil
}

// Int64 returns the value as an id, or nil when blank, zero or not numeric.
func (f FlexString) Int64() *int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(string(f)), 10, 64)
	if err != nil || n == 0 {
		return nil
	}
	return &n
}

func (f FlexString) String() string { return string(f) }
