package event

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rl1809/bookstore/internal/core/domain"
)

// LogPublisher records order events in the service log. Used when no broker
// is configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) PublishOrderPlaced(_ context.Context, event domain.OrderPlaced) error {
	p.log.Info().
		Str("order_id", event.OrderID).
		Str("user_id", event.UserID).
		Int("lines", len(event.Items)).
		Str("total", event.Total.StringFixed(2)).
		Time("placed_at", event.PlacedAt).
		Msg("order placed event")
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
