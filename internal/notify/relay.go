package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"libradesk/internal/eventstore"
)

// Source lists a consumer's undelivered events and records deliveries.
type Source interface {
	PendingEvents(ctx context.Context, consumer string, limit int) ([]eventstore.Event, error)
	MarkDelivered(ctx context.Context, consumer string, ids ...int64) error
}

// Publisher delivers one stored event.
type Publisher interface {
	Publish(ctx context.Context, e eventstore.Event) error
}

// Relay drains the outbox into a Publisher. Delivery is at least once and
// tracked per event, so an event committed after higher ids were delivered is
// still picked up on a later pass.
type Relay struct {
	source    Source
	publisher Publisher
	consumer  string
	batchSize int
	logger    *zap.Logger
}

func NewRelay(source Source, publisher Publisher, consumer string, batchSize int, logger *zap.Logger) (*Relay, error) {
	if consumer == "" {
		return nil, errors.New("relay consumer name is required")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("relay batch size must be positive, got %d", batchSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		source:    source,
		publisher: publisher,
		consumer:  consumer,
		batchSize: batchSize,
		logger:    logger.Named("relay"),
	}, nil
}

// RunOnce publishes one batch and returns how many events were delivered.
// It stops at the first publish failure; that event stays pending.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.source.PendingEvents(ctx, r.consumer, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending events: %w", err)
	}

	delivered := make([]int64, 0, len(events))
	var publishErr error
	for _, e := range events {
		if err := r.publisher.Publish(ctx, e); err != nil {
			publishErr = fmt.Errorf("publish event %d: %w", e.ID, err)
			break
		}
		delivered = append(delivered, e.ID)
	}

	if err := r.source.MarkDelivered(ctx, r.consumer, delivered...); err != nil {
		return len(delivered), errors.Join(publishErr, fmt.Errorf("mark delivered: %w", err))
	}
	return len(delivered), publishErr
}

// Run polls until ctx is cancelled. Full batches are drained without waiting.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := r.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("relay batch failed", zap.Error(err))
		} else if n > 0 {
			r.logger.Debug("relayed events", zap.Int("count", n))
		}
		if err == nil && n == r.batchSize {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
