// README: Payment ledger entries and payout/refund sub-records.
package settlement

import (
	"time"

	"droply/internal/modules/delivery"
	"droply/internal/types"
)

type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutProcessed PayoutStatus = "processed"
	PayoutFailed    PayoutStatus = "failed"
)

// Payout is the partner's 80% share of the gross.
type Payout struct {
	Amount      int64
	Status      PayoutStatus
	ProcessedAt *time.Time
}

type Refund struct {
	Amount      int64
	Status      delivery.RefundStatus
	InitiatedAt time.Time
	ProcessedAt *time.Time
}

// Payment is one ledger entry. At most one successful entry exists per
// delivery; the gateway event id is the idempotency key.
type Payment struct {
	ID             types.ID
	DeliveryID     types.ID
	PartnerID      *types.ID
	Amount         int64
	Method         delivery.PaymentMethod
	Gateway        string
	GatewayEventID string
	Payout         Payout
	Refund         *Refund
	CreatedAt      time.Time
}
