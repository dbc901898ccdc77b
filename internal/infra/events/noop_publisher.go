package events

import (
	"context"

	"github.com/rs/zerolog"

	"premium-subscription-gateway/internal/domain/ports/adapter"
)

var _ adapter.EventPublisher = (*LogPublisher)(nil)

// LogPublisher stands in when no brokers are configured; it only logs.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(logger *zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: logger.With().Str("component", "LogPublisher").Logger()}
}

func (p *LogPublisher) PublishEntitlement(_ context.Context, ev adapter.EntitlementEvent) error {
	p.log.Info().Str("user_id", ev.UserID).Str("subscription_id", ev.SubscriptionID).
		Bool("premium", ev.Premium).Time("changed_at", ev.ChangedAt).Msg("entitlement changed")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
