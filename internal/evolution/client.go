package evolution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds a single gateway send request.
const DefaultTimeout = 30 * time.Second

// Sender is the outbound message interface consumed by the dialogue engine
// and background jobs.
type Sender interface {
	// SendText delivers a plain text message and returns the provider
	// message id.
	SendText(ctx context.Context, phone, text string) (string, error)

	// SendImage delivers an image by URL or base64 payload with an optional
	// caption.
	SendImage(ctx context.Context, phone, media, caption string) (string, error)

	// SendDocument delivers a document by URL or base64 payload.
	SendDocument(ctx context.Context, phone, media, fileName string) (string, error)
}

// Opts holds configuration options for the gateway client.
type Opts struct {
	BaseURL  string
	APIKey   string
	Instance string
	Timeout  time.Duration
}

// Option defines a configuration option for client creation.
type Option func(*Opts)

// WithBaseURL sets the Evolution API base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithAPIKey sets the gateway API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithInstance sets the gateway instance name used in send paths.
func WithInstance(instance string) Option {
	return func(o *Opts) { o.Instance = instance }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client sends messages through the Evolution API HTTP gateway.
type Client struct {
	http     *resty.Client
	instance string
}

var _ Sender = (*Client)(nil)

// NewClient creates a gateway client. BaseURL, APIKey, and Instance are
// required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("evolution base URL not set")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("evolution API key not set")
	}
	if cfg.Instance == "" {
		return nil, fmt.Errorf("evolution instance name not set")
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("apikey", cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)

	slog.Debug("evolution.NewClient: client configured", "baseURL", cfg.BaseURL, "instance", cfg.Instance)
	return &Client{http: http, instance: cfg.Instance}, nil
}

// SendText delivers a plain text message.
func (c *Client) SendText(ctx context.Context, phone, text string) (string, error) {
	var result sendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendTextRequest{Number: phone, Text: text}).
		SetResult(&result).
		Post("/message/sendText/" + c.instance)
	if err != nil {
		slog.Error("evolution.SendText: request failed", "error", err, "phone", phone)
		return "", fmt.Errorf("send text request failed: %w", err)
	}
	if resp.IsError() {
		slog.Error("evolution.SendText: gateway error", "status", resp.StatusCode(), "phone", phone, "body", resp.String())
		return "", fmt.Errorf("send text failed: gateway returned status %d", resp.StatusCode())
	}
	slog.Debug("evolution.SendText: message sent", "phone", phone, "providerMessageID", result.Key.ID)
	return result.Key.ID, nil
}

// SendImage delivers an image with an optional caption.
func (c *Client) SendImage(ctx context.Context, phone, media, caption string) (string, error) {
	return c.sendMedia(ctx, sendMediaRequest{
		Number:    phone,
		MediaType: "image",
		Media:     media,
		Caption:   caption,
	})
}

// SendDocument delivers a document.
func (c *Client) SendDocument(ctx context.Context, phone, media, fileName string) (string, error) {
	return c.sendMedia(ctx, sendMediaRequest{
		Number:    phone,
		MediaType: "document",
		Media:     media,
		FileName:  fileName,
	})
}

func (c *Client) sendMedia(ctx context.Context, req sendMediaRequest) (string, error) {
	var result sendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/message/sendMedia/" + c.instance)
	if err != nil {
		slog.Error("evolution.sendMedia: request failed", "error", err, "phone", req.Number, "mediaType", req.MediaType)
		return "", fmt.Errorf("send media request failed: %w", err)
	}
	if resp.IsError() {
		slog.Error("evolution.sendMedia: gateway error", "status", resp.StatusCode(), "phone", req.Number, "body", resp.String())
		return "", fmt.Errorf("send media failed: gateway returned status %d", resp.StatusCode())
	}
	slog.Debug("evolution.sendMedia: message sent", "phone", req.Number, "mediaType", req.MediaType, "providerMessageID", result.Key.ID)
	return result.Key.ID, nil
}
