package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"libradesk/internal/circulation"
	"libradesk/internal/config"
	"libradesk/internal/eventstore"
)

var _ circulation.Notifier = (*RedisNotifier)(nil)

const defaultStreamMaxLen = 10000

// NewRedisClient connects to Redis. An unreachable server is logged, not fatal.
func NewRedisClient(cfg config.RedisConfig, logger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr))
	}
	return client
}

// RedisNotifier appends notices to a Redis stream for downstream consumers.
type RedisNotifier struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewRedisNotifier(client redis.Cmdable, stream string) *RedisNotifier {
	return &RedisNotifier{client: client, stream: stream, maxLen: defaultStreamMaxLen}
}

func (n *RedisNotifier) NotifyCheckout(ctx context.Context, notice circulation.CheckoutNotice) error {
	return n.add(ctx, circulation.EventBookCheckedOut, notice.Book.ID.String(), notice.Book.Version, notice.Event())
}

func (n *RedisNotifier) NotifyReturn(ctx context.Context, notice circulation.ReturnNotice) error {
	return n.add(ctx, circulation.EventBookReturned, notice.Book.ID.String(), notice.Book.Version, notice.Event())
}

// Publish forwards a relayed event as-is.
func (n *RedisNotifier) Publish(ctx context.Context, e eventstore.Event) error {
	return n.xadd(ctx, e.EventType, e.AggregateID.String(), e.Metadata["book_version"], string(e.EventData))
}

func (n *RedisNotifier) add(ctx context.Context, eventType, bookID string, version int, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return n.xadd(ctx, eventType, bookID, strconv.Itoa(version), string(data))
}

func (n *RedisNotifier) xadd(ctx context.Context, eventType, bookID, version, payload string) error {
	err := n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":         eventType,
			"book_id":      bookID,
			"book_version": version,
			"payload":      payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", n.stream, err)
	}
	return nil
}
