package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/port"
)

const (
	publishTimeout  = 5 * time.Second
	publishAttempts = 3
	retryBackoff    = 100 * time.Millisecond
)

// Relay drains the checkout order queue into a publisher with a fixed pool
// of workers. Stock is already committed when an event arrives, so a failed
// publish is logged and dropped, never rolled back.
type Relay struct {
	publisher port.EventPublisher
	workers   int
	backoff   time.Duration
	log       zerolog.Logger

	wg        sync.WaitGroup
	published atomic.Int64
	failed    atomic.Int64
}

func NewRelay(publisher port.EventPublisher, workers int, logger zerolog.Logger) *Relay {
	if workers <= 0 {
		workers = 1
	}
	return &Relay{
		publisher: publisher,
		workers:   workers,
		backoff:   retryBackoff,
		log:       logger.With().Str("component", "relay").Logger(),
	}
}

// Start launches the workers. They exit once queue is closed and drained.
func (r *Relay) Start(queue <-chan domain.OrderPlaced) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func(id int) {
			defer r.wg.Done()
			r.workerLoop(id, queue)
		}(i)
	}
	r.log.Info().Int("workers", r.workers).Msg("started event workers")
}

func (r *Relay) Wait() {
	r.wg.Wait()
}

// Stats returns how many events were published and how many were dropped.
func (r *Relay) Stats() (published, failed int64) {
	return r.published.Load(), r.failed.Load()
}

func (r *Relay) workerLoop(id int, queue <-chan domain.OrderPlaced) {
	for event := range queue {
		logger := r.log.With().Int("worker", id).Str("order_id", event.OrderID).Logger()

		if err := r.publish(event); err != nil {
			r.failed.Add(1)
			logger.Error().Err(err).Msg("failed to publish order event, dropping")
			continue
		}
		r.published.Add(1)
		logger.Debug().Msg("published order event")
	}
}

func (r *Relay) publish(event domain.OrderPlaced) error {
	var err error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = r.publisher.PublishOrderPlaced(ctx, event)
		cancel()
		if err == nil {
			return nil
		}
		if attempt < publishAttempts {
			time.Sleep(time.Duration(attempt) * r.backoff)
		}
	}
	return err
}
