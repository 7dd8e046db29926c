// README: Domain events emitted by the core; dispatchers forward them to external transports.
package events

import (
	"time"

	"droply/internal/types"
)

type Type string

const (
	DeliveryCreated       Type = "delivery_created"
	DeliveryStatusChanged Type = "delivery_status_changed"
	DeliveryCancelled     Type = "delivery_cancelled"
	BidSubmitted          Type = "bid_submitted"
	BidAccepted           Type = "bid_accepted"
	PaymentSettled        Type = "payment_settled"
	RefundInitiated       Type = "refund_initiated"
)

type Event struct {
	Type       Type           `json:"type"`
	DeliveryID types.ID       `json:"delivery_id,omitempty"`
	PartnerID  types.ID       `json:"partner_id,omitempty"`
	CustomerID types.ID       `json:"customer_id,omitempty"`
	At         time.Time      `json:"at"`
	Details    map[string]any `json:"details,omitempty"`
}

// Publisher is what services emit through. Delivery of events is best-effort;
// the core never blocks or fails a state transition on a publish.
type Publisher interface {
	Publish(e Event)
}

// Discard is used when no dispatcher is wired (and in most tests).
type Discard struct{}

func (Discard) Publish(Event) {}
