// Package telegram talks to the Telegram Bot API and runs the
// long-poll loop that feeds chat messages to the report pipeline.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/cornerbot/internal/httpkit"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// ParseModeMarkdown is Telegram's legacy Markdown dialect.
const ParseModeMarkdown = "Markdown"

// allowedUpdates limits getUpdates to the kinds the bot handles.
const allowedUpdates = `["message","edited_message"]`

// ClientConfig configures a Client.
type ClientConfig struct {
	Token   string
	BaseURL string
	// PollTimeout is the longest getUpdates will be asked to hold a
	// request open. The HTTP timeout is derived from it.
	PollTimeout time.Duration
	Logger      *slog.Logger
}

// Client is a Bot API client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a Bot API client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 25 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http: httpkit.NewClient(
			httpkit.WithTimeout(cfg.PollTimeout+10*time.Second),
			httpkit.WithResponseHeaderTimeout(0),
			httpkit.WithRetry(2, 2*time.Second),
			httpkit.WithLogger(cfg.Logger),
		),
		logger: cfg.Logger,
	}
}

func (c *Client) methodURL(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

// GetMe returns the bot's own account. Used as a credentials check.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := c.do(ctx, http.MethodGet, "getMe", nil, nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// GetUpdates long-polls for updates with id >= offset. An offset of 0
// is omitted, letting Telegram return from its oldest unconfirmed
// update.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	q := url.Values{
		"timeout":         {strconv.Itoa(int(timeout / time.Second))},
		"allowed_updates": {allowedUpdates},
	}
	if offset != 0 {
		q.Set("offset", strconv.FormatInt(offset, 10))
	}

	var updates []Update
	if err := c.do(ctx, http.MethodGet, "getUpdates", q, nil, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage posts text to chatID with Markdown formatting. If
// Telegram rejects the markup, the text is resent once unformatted so
// the user still gets an answer.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	err := c.sendMessage(ctx, chatID, text, ParseModeMarkdown)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest &&
		strings.Contains(apiErr.Description, "can't parse entities") {
		c.logger.Warn("telegram rejected markdown, resending as plain text",
			"chat_id", chatID,
			"error", err,
		)
		return c.sendMessage(ctx, chatID, text, "")
	}
	return err
}

func (c *Client) sendMessage(ctx context.Context, chatID int64, text, parseMode string) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram sendMessage: marshal: %w", err)
	}
	return c.do(ctx, http.MethodPost, "sendMessage", nil, body, nil)
}

// do performs one Bot API call and decodes its result into out (which
// may be nil). Errors never include the bot token.
func (c *Client) do(ctx context.Context, httpMethod, method string, query url.Values, body []byte, out any) error {
	u := c.methodURL(method)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, u, reader)
	if err != nil {
		return fmt.Errorf("telegram %s: build request: %w", method, c.redact(err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, c.redact(err))
	}
	defer resp.Body.Close()

	var env apiResponse[json.RawMessage]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode/100 != 2 {
			return &APIError{Method: method, Code: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !env.OK || resp.StatusCode/100 != 2 {
		code := env.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{Method: method, Code: code, Description: env.Description}
	}

	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

// redact strips the bot token from errors that embed the request URL.
func (c *Client) redact(err error) error {
	if c.token == "" {
		return err
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = strings.ReplaceAll(urlErr.URL, c.token, "<token>")
		return urlErr
	}
	return errors.New(strings.ReplaceAll(err.Error(), c.token, "<token>"))
}
