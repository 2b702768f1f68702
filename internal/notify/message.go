// Package notify delivers circulation notices to members and downstream
// systems: structured logs, a Redis stream, and a PostgreSQL outbox drained
// by Relay.
package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"libradesk/internal/circulation"
	"libradesk/internal/eventstore"
)

// Message is a rendered member-facing notification.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// CheckoutMessage renders the checkout confirmation.
func CheckoutMessage(from string, e circulation.BookCheckedOutEvent) Message {
	var body strings.Builder
	fmt.Fprintf(&body, "To: %s\n", e.MemberEmail)
	fmt.Fprintf(&body, "Book: %s by %s\n", e.Title, e.Author)
	fmt.Fprintf(&body, "Due Date: %s\n", e.DueDate.Format("2006-01-02"))
	return Message{From: from, To: e.MemberEmail, Subject: "CHECKOUT NOTIFICATION", Body: body.String()}
}

// ReturnMessage renders the return receipt.
func ReturnMessage(from string, e circulation.BookReturnedEvent) Message {
	var body strings.Builder
	fmt.Fprintf(&body, "To: %s\n", e.MemberEmail)
	fmt.Fprintf(&body, "Book Returned: %s\n", e.Title)
	if e.LateFee.IsPositive() {
		fmt.Fprintf(&body, "Late Fee: $%s\n", e.LateFee.StringFixed(2))
	} else {
		body.WriteString("Returned on time - no late fee\n")
	}
	return Message{From: from, To: e.MemberEmail, Subject: "RETURN NOTIFICATION", Body: body.String()}
}

// decode renders a stored event; unknown types yield ok == false.
func decode(from string, e eventstore.Event) (Message, bool, error) {
	switch e.EventType {
	case circulation.EventBookCheckedOut:
		var payload circulation.BookCheckedOutEvent
		if err := json.Unmarshal(e.EventData, &payload); err != nil {
			return Message{}, false, fmt.Errorf("decode %s event %d: %w", e.EventType, e.ID, err)
		}
		return CheckoutMessage(from, payload), true, nil
	case circulation.EventBookReturned:
		var payload circulation.BookReturnedEvent
		if err := json.Unmarshal(e.EventData, &payload); err != nil {
			return Message{}, false, fmt.Errorf("decode %s event %d: %w", e.EventType, e.ID, err)
		}
		return ReturnMessage(from, payload), true, nil
	}
	return Message{}, false, nil
}
