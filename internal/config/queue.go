package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// QueueConfig holds the tunable parts of admission, priority, retry and
// sweeping. Tier limits and base priorities are deliberately env-driven
// rather than baked into the queue logic.
type QueueConfig struct {
	StarterLimit    int `env:"QUEUE_LIMIT_STARTER,default=1"`
	GrowthLimit     int `env:"QUEUE_LIMIT_GROWTH,default=3"`
	ProLimit        int `env:"QUEUE_LIMIT_PRO,default=5"`
	EnterpriseLimit int `env:"QUEUE_LIMIT_ENTERPRISE,default=10"`

	StarterBasePriority    int `env:"QUEUE_PRIORITY_STARTER,default=10"`
	GrowthBasePriority     int `env:"QUEUE_PRIORITY_GROWTH,default=20"`
	ProBasePriority        int `env:"QUEUE_PRIORITY_PRO,default=30"`
	EnterpriseBasePriority int `env:"QUEUE_PRIORITY_ENTERPRISE,default=40"`

	InteractiveBoost  int           `env:"QUEUE_PRIORITY_INTERACTIVE_BOOST,default=2"`
	WaitBoostInterval time.Duration `env:"QUEUE_WAIT_BOOST_INTERVAL,default=5m"`
	WaitBoostMax      int           `env:"QUEUE_WAIT_BOOST_MAX,default=5"`
	PriorityCeiling   int           `env:"QUEUE_PRIORITY_CEILING,default=50"`

	MaxAttempts     int           `env:"QUEUE_MAX_ATTEMPTS,default=3"`
	RetryBaseDelay  time.Duration `env:"QUEUE_RETRY_BASE_DELAY,default=5s"`
	RetryMaxDelay   time.Duration `env:"QUEUE_RETRY_MAX_DELAY,default=5m"`
	RetryMultiplier float64       `env:"QUEUE_RETRY_MULTIPLIER,default=2.0"`
	RetryJitter     float64       `env:"QUEUE_RETRY_JITTER,default=0.2"`

	StaleAfter time.Duration `env:"QUEUE_STALE_AFTER,default=10m"`

	GenerationCost int `env:"QUEUE_COST_GENERATION,default=2"`
	VariationCost  int `env:"QUEUE_COST_VARIATION,default=1"`
	UpscaleCost    int `env:"QUEUE_COST_UPSCALE,default=1"`
	BatchCost      int `env:"QUEUE_COST_BATCH,default=2"`

	DefaultProcessingTime time.Duration `env:"QUEUE_DEFAULT_PROCESSING_TIME,default=45s"`
}

func LoadQueueConfigFromEnv(ctx context.Context) (*QueueConfig, error) {
	var cfg QueueConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process queue env config: %w", err)
	}
	if err := validateQueueConfig(&cfg); err != nil {
		return nil, fmt.Errorf("queue config validation failed: %w", err)
	}
	return &cfg, nil
}

func validateQueueConfig(cfg *QueueConfig) error {
	var errs []string

	for name, v := range map[string]int{
		"QUEUE_LIMIT_STARTER":    cfg.StarterLimit,
		"QUEUE_LIMIT_GROWTH":     cfg.GrowthLimit,
		"QUEUE_LIMIT_PRO":        cfg.ProLimit,
		"QUEUE_LIMIT_ENTERPRISE": cfg.EnterpriseLimit,
		"QUEUE_MAX_ATTEMPTS":     cfg.MaxAttempts,
	} {
		if v < 1 {
			errs = append(errs, name+" must be at least 1")
		}
	}

	if cfg.RetryBaseDelay <= 0 {
		errs = append(errs, "QUEUE_RETRY_BASE_DELAY must be positive")
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		errs = append(errs, "QUEUE_RETRY_MAX_DELAY must not be below the base delay")
	}
	if cfg.RetryMultiplier < 1 {
		errs = append(errs, "QUEUE_RETRY_MULTIPLIER must be at least 1")
	}
	if cfg.RetryJitter < 0 || cfg.RetryJitter > 1 {
		errs = append(errs, "QUEUE_RETRY_JITTER must be between 0 and 1")
	}
	if cfg.StaleAfter <= 0 {
		errs = append(errs, "QUEUE_STALE_AFTER must be positive")
	}
	if cfg.WaitBoostInterval <= 0 {
		errs = append(errs, "QUEUE_WAIT_BOOST_INTERVAL must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// ConcurrencyLimit returns the maximum number of active (queued plus
// processing) jobs one user may hold at the given tier. Unknown tiers get
// the starter limit.
func (c *QueueConfig) ConcurrencyLimit(tier Tier) int {
	switch tier {
	case TierGrowth:
		return c.GrowthLimit
	case TierPro:
		return c.ProLimit
	case TierEnterprise:
		return c.EnterpriseLimit
	default:
		return c.StarterLimit
	}
}

// BasePriority returns the tier's base priority score.
func (c *QueueConfig) BasePriority(tier Tier) int {
	switch tier {
	case TierGrowth:
		return c.GrowthBasePriority
	case TierPro:
		return c.ProBasePriority
	case TierEnterprise:
		return c.EnterpriseBasePriority
	default:
		return c.StarterBasePriority
	}
}

// CostFor returns the estimated credit cost of one job of the given type.
func (c *QueueConfig) CostFor(jobType JobType) int {
	switch jobType {
	case JobTypeVariation:
		return c.VariationCost
	case JobTypeUpscale:
		return c.UpscaleCost
	case JobTypeBatch:
		return c.BatchCost
	default:
		return c.GenerationCost
	}
}
