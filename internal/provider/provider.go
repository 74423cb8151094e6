package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/printglide/renderqueue/common"
	"github.com/printglide/renderqueue/internal/models"
)

type Config struct {
	BaseURL     string        `env:"RENDER_PROVIDER_URL,default=http://localhost:9090"`
	APIToken    string        `env:"RENDER_PROVIDER_TOKEN"`
	CallbackURL string        `env:"RENDER_CALLBACK_URL,default=http://localhost:8080/webhooks/render"`
	Timeout     time.Duration `env:"RENDER_PROVIDER_TIMEOUT,default=30s"`
}

func LoadConfigFromEnv(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process provider env config: %w", err)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("RENDER_PROVIDER_URL is required")
	}
	return &cfg, nil
}

// Client submits generation jobs to the external render provider. Completion
// comes back asynchronously on the callback URL, never on this request.
type Client struct {
	cfg  *Config
	http *http.Client
}

func NewClient(cfg *Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type dispatchRequest struct {
	JobID       string          `json:"job_id"`
	Type        string          `json:"type"`
	Metadata    json.RawMessage `json:"metadata"`
	CallbackURL string          `json:"callback_url"`
}

type dispatchResponse struct {
	ID string `json:"id"`
}

// DispatchJob posts the job to the provider and returns the provider's
// correlation id. Failures are categorized so the retry policy can tell a
// flaky network from a rejected request.
func (c *Client) DispatchJob(ctx context.Context, job *models.Job) (string, error) {
	body, err := json.Marshal(dispatchRequest{
		JobID:       job.ID,
		Type:        string(job.Type),
		Metadata:    json.RawMessage(job.Metadata),
		CallbackURL: c.cfg.CallbackURL,
	})
	if err != nil {
		return "", common.Categorized(common.CategoryInternal, fmt.Errorf("encode dispatch request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/generations", bytes.NewReader(body))
	if err != nil {
		return "", common.Categorized(common.CategoryInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", common.Categorized(categorizeTransport(err), fmt.Errorf("dispatch request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", common.Categorized(common.CategoryRateLimit, fmt.Errorf("provider rate limited the request"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", common.Categorized(common.CategoryAuthorization, fmt.Errorf("provider rejected credentials"))
	case resp.StatusCode >= 500:
		return "", common.Categorized(common.CategoryExternalService, fmt.Errorf("provider returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return "", common.Categorized(common.CategoryValidation, fmt.Errorf("provider rejected the request with %d", resp.StatusCode))
	}

	var out dispatchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", common.Categorized(common.CategoryExternalService, fmt.Errorf("decode dispatch response: %w", err))
	}
	if out.ID == "" {
		return "", common.Categorized(common.CategoryExternalService, fmt.Errorf("provider response missing job id"))
	}
	return out.ID, nil
}

func categorizeTransport(err error) common.ErrorCategory {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return common.CategoryTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return common.CategoryTimeout
	}
	return common.CategoryNetwork
}
