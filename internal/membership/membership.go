package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/printglide/renderqueue/internal/config"
)

type Config struct {
	BaseURL string        `env:"MEMBERSHIP_URL"`
	Timeout time.Duration `env:"MEMBERSHIP_TIMEOUT,default=5s"`

	// Used when no membership service is configured (local development).
	DefaultTier string `env:"MEMBERSHIP_DEFAULT_TIER,default=starter"`
}

func LoadConfigFromEnv(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process membership env config: %w", err)
	}
	if !slices.Contains(config.AllowedTiers, cfg.DefaultTier) {
		return nil, fmt.Errorf("MEMBERSHIP_DEFAULT_TIER must be one of %v", config.AllowedTiers)
	}
	return &cfg, nil
}

// Client resolves a user's subscription tier from the membership service,
// falling back to the configured default tier when no service URL is set.
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

type tierResponse struct {
	Tier string `json:"tier"`
}

func (c *Client) TierFor(ctx context.Context, userID string) (config.Tier, error) {
	if c.cfg.BaseURL == "" {
		return config.Tier(c.cfg.DefaultTier), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/users/%s/subscription", c.cfg.BaseURL, userID), nil)
	if err != nil {
		return "", fmt.Errorf("build membership request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("membership request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("membership service returned %d", resp.StatusCode)
	}

	var out tierResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode membership response: %w", err)
	}
	if !slices.Contains(config.AllowedTiers, out.Tier) {
		return "", fmt.Errorf("membership service returned unknown tier %q", out.Tier)
	}
	return config.Tier(out.Tier), nil
}
