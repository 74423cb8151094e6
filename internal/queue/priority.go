package queue

import (
	"time"

	"github.com/printglide/renderqueue/internal/config"
)

// Priority maps tier, job type and wait time to a score. Deterministic: the
// same inputs always produce the same score. Higher scores dequeue first.
func Priority(cfg *config.QueueConfig, tier config.Tier, jobType config.JobType, queuedAt, now time.Time) int {
	score := cfg.BasePriority(tier)

	// Quick interactive follow-ups jump slightly ahead of fresh generations.
	if jobType == config.JobTypeVariation || jobType == config.JobTypeUpscale {
		score += cfg.InteractiveBoost
	}

	score += waitBoost(cfg, queuedAt, now)

	if score > cfg.PriorityCeiling {
		score = cfg.PriorityCeiling
	}
	return score
}

// waitBoost grants one point per full boost interval waited, capped so an
// old starter job can age past starvation but never outrank every fresh
// enterprise job.
func waitBoost(cfg *config.QueueConfig, queuedAt, now time.Time) int {
	waited := now.Sub(queuedAt)
	if waited <= 0 {
		return 0
	}
	boost := int(waited / cfg.WaitBoostInterval)
	if boost > cfg.WaitBoostMax {
		boost = cfg.WaitBoostMax
	}
	return boost
}
