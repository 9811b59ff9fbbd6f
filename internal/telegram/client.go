// Package telegram posts published schedules to a Telegram chat through the
// Bot API. The client reports success as a plain bool: a publish must never
// fail because a collaborator channel is down, so callers only decide
// whether to fall back to a text message.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/surnin/schedule-planner/internal/application"
)

// DefaultBaseURL is the production Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// Client talks to the Telegram Bot API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a Bot API client.
func NewClient(logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func usable(cfg application.TelegramConfig) bool {
	return cfg.Enabled && strings.TrimSpace(cfg.BotToken) != "" && strings.TrimSpace(cfg.ChatID) != ""
}

// SendDocument uploads a document with an HTML caption via sendDocument.
// Returns false when the config is incomplete or the API rejects the call.
func (c *Client) SendDocument(ctx context.Context, cfg application.TelegramConfig, filename string, document []byte, caption string) bool {
	if !usable(cfg) {
		return false
	}
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := map[string]string{
		"chat_id":                        cfg.ChatID,
		"caption":                        caption,
		"parse_mode":                     "HTML",
		"disable_content_type_detection": "false",
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			c.logger.Warn("build multipart form failed", slog.String("error", err.Error()))
			return false
		}
	}
	part, err := w.CreateFormFile("document", filename)
	if err != nil {
		c.logger.Warn("build multipart form failed", slog.String("error", err.Error()))
		return false
	}
	if _, err := part.Write(document); err != nil {
		c.logger.Warn("build multipart form failed", slog.String("error", err.Error()))
		return false
	}
	if err := w.Close(); err != nil {
		c.logger.Warn("build multipart form failed", slog.String("error", err.Error()))
		return false
	}
	return c.post(ctx, cfg.BotToken, "sendDocument", w.FormDataContentType(), &body)
}

// SendMessage posts an HTML-formatted text message via sendMessage.
func (c *Client) SendMessage(ctx context.Context, cfg application.TelegramConfig, text string) bool {
	if !usable(cfg) {
		return false
	}
	payload, err := json.Marshal(map[string]string{
		"chat_id":    cfg.ChatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		c.logger.Warn("marshal message failed", slog.String("error", err.Error()))
		return false
	}
	return c.post(ctx, cfg.BotToken, "sendMessage", "application/json", bytes.NewReader(payload))
}

func (c *Client) post(ctx context.Context, token, method, contentType string, body io.Reader) bool {
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		c.logger.Warn("build telegram request failed",
			slog.String("method", method), slog.String("error", err.Error()))
		return false
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("telegram request failed",
			slog.String("method", method), slog.String("error", err.Error()))
		return false
	}
	defer resp.Body.Close()

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.logger.Warn("decode telegram response failed",
			slog.String("method", method), slog.String("error", err.Error()))
		return false
	}
	if !parsed.OK {
		c.logger.Warn("telegram api rejected request",
			slog.String("method", method), slog.String("description", parsed.Description))
		return false
	}
	c.logger.Info("telegram delivery ok", slog.String("method", method))
	return true
}
