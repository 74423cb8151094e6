package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/printglide/renderqueue/internal/config"
)

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		StarterLimit:    1,
		GrowthLimit:     3,
		ProLimit:        5,
		EnterpriseLimit: 10,

		StarterBasePriority:    10,
		GrowthBasePriority:     20,
		ProBasePriority:        30,
		EnterpriseBasePriority: 40,

		InteractiveBoost:  2,
		WaitBoostInterval: 5 * time.Minute,
		WaitBoostMax:      5,
		PriorityCeiling:   50,

		MaxAttempts:     3,
		RetryBaseDelay:  5 * time.Second,
		RetryMaxDelay:   5 * time.Minute,
		RetryMultiplier: 2.0,
		RetryJitter:     0.2,

		StaleAfter: 10 * time.Minute,

		GenerationCost: 2,
		VariationCost:  1,
		UpscaleCost:    1,
		BatchCost:      2,

		DefaultProcessingTime: 45 * time.Second,
	}
}

func TestPriority(t *testing.T) {
	cfg := testQueueConfig()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		tier     config.Tier
		jobType  config.JobType
		queuedAt time.Time
		want     int
	}{
		{
			name:     "starter generation fresh",
			tier:     config.TierStarter,
			jobType:  config.JobTypeGeneration,
			queuedAt: now,
			want:     10,
		},
		{
			name:     "enterprise generation fresh",
			tier:     config.TierEnterprise,
			jobType:  config.JobTypeGeneration,
			queuedAt: now,
			want:     40,
		},
		{
			name:     "variation gets interactive boost",
			tier:     config.TierGrowth,
			jobType:  config.JobTypeVariation,
			queuedAt: now,
			want:     22,
		},
		{
			name:     "upscale gets interactive boost",
			tier:     config.TierGrowth,
			jobType:  config.JobTypeUpscale,
			queuedAt: now,
			want:     22,
		},
		{
			name:     "batch gets no boost",
			tier:     config.TierGrowth,
			jobType:  config.JobTypeBatch,
			queuedAt: now,
			want:     20,
		},
		{
			name:     "one full wait interval adds one point",
			tier:     config.TierStarter,
			jobType:  config.JobTypeGeneration,
			queuedAt: now.Add(-5 * time.Minute),
			want:     11,
		},
		{
			name:     "partial interval adds nothing",
			tier:     config.TierStarter,
			jobType:  config.JobTypeGeneration,
			queuedAt: now.Add(-4 * time.Minute),
			want:     10,
		},
		{
			name:     "wait boost is capped",
			tier:     config.TierStarter,
			jobType:  config.JobTypeGeneration,
			queuedAt: now.Add(-3 * time.Hour),
			want:     15,
		},
		{
			name:     "capped boost never lets starter outrank fresh enterprise",
			tier:     config.TierStarter,
			jobType:  config.JobTypeUpscale,
			queuedAt: now.Add(-24 * time.Hour),
			want:     17,
		},
		{
			name:     "score clamps at the ceiling",
			tier:     config.TierEnterprise,
			jobType:  config.JobTypeVariation,
			queuedAt: now.Add(-24 * time.Hour),
			want:     47,
		},
		{
			name:     "queuedAt in the future adds nothing",
			tier:     config.TierPro,
			jobType:  config.JobTypeGeneration,
			queuedAt: now.Add(time.Minute),
			want:     30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Priority(cfg, tt.tier, tt.jobType, tt.queuedAt, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriority_TierOrderingStrictlyIncreasing(t *testing.T) {
	cfg := testQueueConfig()
	now := time.Now().UTC()

	starter := Priority(cfg, config.TierStarter, config.JobTypeGeneration, now, now)
	growth := Priority(cfg, config.TierGrowth, config.JobTypeGeneration, now, now)
	pro := Priority(cfg, config.TierPro, config.JobTypeGeneration, now, now)
	enterprise := Priority(cfg, config.TierEnterprise, config.JobTypeGeneration, now, now)

	assert.Less(t, starter, growth)
	assert.Less(t, growth, pro)
	assert.Less(t, pro, enterprise)
}

func TestPriority_Deterministic(t *testing.T) {
	cfg := testQueueConfig()
	now := time.Now().UTC()
	queuedAt := now.Add(-17 * time.Minute)

	first := Priority(cfg, config.TierGrowth, config.JobTypeVariation, queuedAt, now)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Priority(cfg, config.TierGrowth, config.JobTypeVariation, queuedAt, now))
	}
}

func TestPriority_CeilingClamp(t *testing.T) {
	cfg := testQueueConfig()
	cfg.PriorityCeiling = 41
	now := time.Now().UTC()

	got := Priority(cfg, config.TierEnterprise, config.JobTypeVariation, now.Add(-time.Hour), now)
	assert.Equal(t, 41, got)
}
