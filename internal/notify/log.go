package notify

import (
	"context"

	"go.uber.org/zap"

	"libradesk/internal/circulation"
	"libradesk/internal/eventstore"
)

var _ circulation.Notifier = (*LogNotifier)(nil)

// LogNotifier writes rendered notifications to the structured log. It stands
// in for an e-mail gateway.
type LogNotifier struct {
	logger *zap.Logger
	from   string
}

func NewLogNotifier(logger *zap.Logger, from string) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify"), from: from}
}

func (n *LogNotifier) NotifyCheckout(_ context.Context, notice circulation.CheckoutNotice) error {
	n.write(CheckoutMessage(n.from, notice.Event()))
	return nil
}

func (n *LogNotifier) NotifyReturn(_ context.Context, notice circulation.ReturnNotice) error {
	n.write(ReturnMessage(n.from, notice.Event()))
	return nil
}

// Publish renders a relayed event. Unknown event types are skipped.
func (n *LogNotifier) Publish(_ context.Context, e eventstore.Event) error {
	msg, ok, err := decode(n.from, e)
	if err != nil {
		return err
	}
	if !ok {
		n.logger.Debug("skipping event", zap.String("event_type", e.EventType), zap.Int64("event_id", e.ID))
		return nil
	}
	n.write(msg)
	return nil
}

func (n *LogNotifier) write(msg Message) {
	n.logger.Info(msg.Subject,
		zap.String("from", msg.From),
		zap.String("to", msg.To),
		zap.String("body", msg.Body),
	)
}
