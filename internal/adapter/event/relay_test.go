package event

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rl1809/bookstore/internal/core/domain"
)

type recordingPublisher struct {
	mu       sync.Mutex
	events   []domain.OrderPlaced
	failures map[string]int // order id -> remaining failures
}

func (p *recordingPublisher) PublishOrderPlaced(_ context.Context, event domain.OrderPlaced) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failures[event.OrderID] > 0 {
		p.failures[event.OrderID]--
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) orderIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.events))
	for _, e := range p.events {
		ids = append(ids, e.OrderID)
	}
	return ids
}

func TestRelay_DrainsQueueAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	pub := &recordingPublisher{}
	relay := NewRelay(pub, 4, zerolog.Nop())

	queue := make(chan domain.OrderPlaced, 10)
	relay.Start(queue)

	for _, id := range []string{"o1", "o2", "o3", "o4", "o5"} {
		queue <- domain.OrderPlaced{OrderID: id, UserID: "u", Total: decimal.NewFromInt(1)}
	}
	close(queue)
	relay.Wait()

	assert.ElementsMatch(t, []string{"o1", "o2", "o3", "o4", "o5"}, pub.orderIDs())
	published, failed := relay.Stats()
	assert.Equal(t, int64(5), published)
	assert.Zero(t, failed)
}

func TestRelay_RetriesThenDrops(t *testing.T) {
	defer goleak.VerifyNone(t)

	pub := &recordingPublisher{failures: map[string]int{
		"flaky":  publishAttempts - 1,
		"broken": publishAttempts,
	}}
	relay := NewRelay(pub, 1, zerolog.Nop())
	relay.backoff = time.Millisecond

	queue := make(chan domain.OrderPlaced, 2)
	relay.Start(queue)
	queue <- domain.OrderPlaced{OrderID: "flaky"}
	queue <- domain.OrderPlaced{OrderID: "broken"}
	close(queue)
	relay.Wait()

	assert.Equal(t, []string{"flaky"}, pub.orderIDs())
	published, failed := relay.Stats()
	assert.Equal(t, int64(1), published)
	assert.Equal(t, int64(1), failed)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	pub := NewLogPublisher(zerolog.New(&buf))

	err := pub.PublishOrderPlaced(context.Background(), domain.OrderPlaced{
		OrderID:  "order-1",
		UserID:   "user-1",
		Items:    []domain.OrderedItem{{BookID: "b1", Quantity: 2, Price: decimal.RequireFromString("10")}},
		Total:    decimal.RequireFromString("20"),
		PlacedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, pub.Close())

	out := buf.String()
	assert.Contains(t, out, `"order_id":"order-1"`)
	assert.Contains(t, out, `"total":"20.00"`)
	assert.Contains(t, out, `"lines":1`)
}
