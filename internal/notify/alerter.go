// Package notify delivers out-of-band capability alerts to tenant owners,
// rate-limited so a permission gap produces one alert per cooldown window
// instead of one per affected person.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rollcall-hq/rollcall/internal/gateway"
)

// Sink is the external notifier that actually reaches the tenant owner.
type Sink interface {
	Alert(ctx context.Context, tenantID, message string) error
}

// CapabilityAlerter deduplicates capability alerts per (tenant, destination,
// capability) tuple using a redis cooldown key. Delivery is best-effort; sink
// failures are logged and swallowed.
type CapabilityAlerter struct {
	sink     Sink
	redis    *redis.Client
	cooldown time.Duration
	logger   *slog.Logger
}

// NewCapabilityAlerter constructs the alerter.
func NewCapabilityAlerter(sink Sink, rdb *redis.Client, cooldown time.Duration, logger *slog.Logger) *CapabilityAlerter {
	if cooldown <= 0 {
		cooldown = 6 * time.Hour
	}
	return &CapabilityAlerter{sink: sink, redis: rdb, cooldown: cooldown, logger: logger}
}

func (a *CapabilityAlerter) log() *slog.Logger {
	if a.logger != nil {
		return a.logger
	}
	return slog.Default()
}

// MissingCapability reports a permission gap on a destination. Repeat calls
// for the same tuple inside the cooldown window are dropped.
func (a *CapabilityAlerter) MissingCapability(ctx context.Context, tenantID, destinationID string, cap gateway.Capability) {
	if a == nil || a.sink == nil {
		return
	}
	key := fmt.Sprintf("rollcall:alert:%s:%s:%s", tenantID, destinationID, cap)
	if a.redis != nil {
		fresh, err := a.redis.SetNX(ctx, key, "1", a.cooldown).Result()
		if err != nil {
			a.log().Warn("alert cooldown check failed",
				slog.String("tenant", tenantID), slog.Any("error", err))
		} else if !fresh {
			return
		}
	}
	msg := fmt.Sprintf("missing %q permission on destination %s; affected steps are being skipped", cap, destinationID)
	if err := a.sink.Alert(ctx, tenantID, msg); err != nil {
		a.log().Warn("capability alert delivery failed",
			slog.String("tenant", tenantID),
			slog.String("destination", destinationID),
			slog.String("capability", string(cap)),
			slog.Any("error", err),
		)
	}
}

// LogSink is a stand-in Sink that writes alerts to the log until a real
// owner-notification channel is wired.
type LogSink struct {
	Logger *slog.Logger
}

// Alert implements Sink.
func (s *LogSink) Alert(_ context.Context, tenantID, message string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("owner alert", slog.String("tenant", tenantID), slog.String("message", message))
	return nil
}

var _ Sink = (*LogSink)(nil)
