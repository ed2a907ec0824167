// Package simulation calls the external smile simulation service that renders
// a treated version of a patient's photo.
package simulation

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds one generation request. Image generation is slow, so
// this is deliberately generous.
const DefaultTimeout = 2 * time.Minute

// GenerateRequest is the input to one smile simulation.
type GenerateRequest struct {
	ImageBase64   string `json:"image_base64"`
	MimeType      string `json:"mime_type"`
	TreatmentType string `json:"treatment_type"`
	TeethCount    int    `json:"teeth_count,omitempty"`
}

// GenerateResponse carries the rendered result.
type GenerateResponse struct {
	ProcessedBase64 string `json:"processed_base64"`
	MimeType        string `json:"mime_type"`
}

// Generator produces a simulated after-treatment image from a patient photo.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// Opts holds configuration options for the HTTP generator client.
type Opts struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Option defines a configuration option for client creation.
type Option func(*Opts)

// WithBaseURL sets the simulation service base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithAPIKey sets the service API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client calls the simulation service over HTTP.
type Client struct {
	http *resty.Client
}

var _ Generator = (*Client)(nil)

// NewClient creates a simulation service client. BaseURL is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("simulation service base URL not set")
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)
	if cfg.APIKey != "" {
		http.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	slog.Debug("simulation.NewClient: client configured", "baseURL", cfg.BaseURL)
	return &Client{http: http}, nil
}

// Generate renders the after-treatment image.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	var result GenerateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/v1/simulations")
	if err != nil {
		slog.Error("simulation.Generate: request failed", "error", err)
		return GenerateResponse{}, fmt.Errorf("simulation request failed: %w", err)
	}
	if resp.IsError() {
		slog.Error("simulation.Generate: service error", "status", resp.StatusCode(), "body", resp.String())
		return GenerateResponse{}, fmt.Errorf("simulation failed: service returned status %d", resp.StatusCode())
	}
	if result.ProcessedBase64 == "" {
		return GenerateResponse{}, fmt.Errorf("simulation returned empty image")
	}
	slog.Debug("simulation.Generate: result received", "mimeType", result.MimeType)
	return result, nil
}

// DecodeImage decodes a base64 image payload, tolerating a data URL prefix
// like "data:image/jpeg;base64,".
func DecodeImage(encoded string) ([]byte, error) {
	if i := strings.Index(encoded, "base64,"); i >= 0 {
		encoded = encoded[i+len("base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image payload: %w", err)
	}
	return data, nil
}

// EncodeImage encodes raw image bytes for the generation request.
func EncodeImage(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
