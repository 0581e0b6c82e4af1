package server

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/Tyrowin/chatrelay/internal/config"
)

// rateLimiter throttles the frames one connection may submit: Burst frames
// per RefillInterval, refilled continuously.
type rateLimiter struct {
	limiter *rate.Limiter
	cfg     config.RateLimitConfig
}

func newRateLimiter(cfg config.RateLimitConfig) *rateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}

	perSecond := rate.Limit(float64(cfg.Burst) / cfg.RefillInterval.Seconds())
	return &rateLimiter{
		limiter: rate.NewLimiter(perSecond, cfg.Burst),
		cfg:     cfg,
	}
}

func (rl *rateLimiter) allow() bool {
	return rl.limiter.Allow()
}
