package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultResendCooldown is the minimum interval between resend requests
// for the same destination.
const DefaultResendCooldown = 60 * time.Second

// Cooldown rate-limits code resends per destination using Redis. The
// challenge machine deliberately enforces no interval itself; the
// gateway, as the caller, applies this cooldown in front of Resend.
type Cooldown struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewCooldown builds a cooldown store. A non-positive ttl falls back to
// DefaultResendCooldown.
func NewCooldown(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *Cooldown {
	if ttl <= 0 {
		ttl = DefaultResendCooldown
	}
	return &Cooldown{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "otp_cooldown").Logger(),
	}
}

func cooldownKey(ch Channel, destination string) string {
	return fmt.Sprintf("otp:cooldown:%s:%s", ch, destination)
}

// Allow reports whether a resend for destination may proceed, and starts
// the cooldown window when it does. When Redis is unavailable the resend
// is allowed rather than fabricating a rate-limit failure.
func (c *Cooldown) Allow(ctx context.Context, ch Channel, destination string) bool {
	ok, err := c.rdb.SetNX(ctx, cooldownKey(ch, destination), 1, c.ttl).Result()
	if err != nil {
		c.log.Warn().Err(err).Msg("cooldown store unavailable, allowing resend")
		return true
	}
	return ok
}

// RetryAfter returns how long the caller must wait before the next
// resend for destination, or zero when none is pending.
func (c *Cooldown) RetryAfter(ctx context.Context, ch Channel, destination string) time.Duration {
	ttl, err := c.rdb.PTTL(ctx, cooldownKey(ch, destination)).Result()
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}
