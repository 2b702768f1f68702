package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"libradesk/internal/circulation"
	"libradesk/internal/eventstore"
)

var _ circulation.Notifier = (*OutboxNotifier)(nil)

const aggregateBook = "book"

// Appender is the write side of the event log.
type Appender interface {
	AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []eventstore.Event) error
}

// OutboxNotifier records notices in the event log; Relay delivers them later.
type OutboxNotifier struct {
	events Appender
}

func NewOutboxNotifier(events Appender) *OutboxNotifier {
	return &OutboxNotifier{events: events}
}

func (n *OutboxNotifier) NotifyCheckout(ctx context.Context, notice circulation.CheckoutNotice) error {
	return n.append(ctx, notice.Book.ID, notice.Book.Version, circulation.EventBookCheckedOut, notice.Event())
}

func (n *OutboxNotifier) NotifyReturn(ctx context.Context, notice circulation.ReturnNotice) error {
	return n.append(ctx, notice.Book.ID, notice.Book.Version, circulation.EventBookReturned, notice.Event())
}

func (n *OutboxNotifier) append(ctx context.Context, bookID uuid.UUID, bookVersion int, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	event := eventstore.Event{
		EventType: eventType,
		EventData: data,
		Metadata:  map[string]string{"book_version": strconv.Itoa(bookVersion)},
	}
	if err := n.events.AppendEvents(ctx, bookID, aggregateBook, eventstore.AnyVersion, []eventstore.Event{event}); err != nil {
		return fmt.Errorf("append %s: %w", eventType, err)
	}
	return nil
}
