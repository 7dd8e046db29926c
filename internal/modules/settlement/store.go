// README: Payment ledger store contract.
package settlement

import (
	"context"

	"droply/internal/types"
)

type Store interface {
	// CreateIfAbsent inserts the payment unless one already exists for the
	// same gateway event id. It reports whether the insert happened and
	// returns the stored record either way — duplicate webhook deliveries
	// must converge on one row, not race a pre-check.
	CreateIfAbsent(ctx context.Context, p *Payment) (created bool, stored *Payment, err error)

	GetByEventID(ctx context.Context, eventID string) (*Payment, error)
	ListByDelivery(ctx context.Context, deliveryID types.ID) ([]*Payment, error)
	SetRefund(ctx context.Context, paymentID types.ID, r Refund) error
}
