// README: Settlement engine: idempotent payment recording, payouts, refund bookkeeping.
package settlement

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"droply/internal/events"
	"droply/internal/faults"
	"droply/internal/modules/delivery"
	"droply/internal/modules/pricing"
	"droply/internal/types"
)

type Service struct {
	store      Store
	deliveries delivery.Store
	bus        events.Publisher
	now        func() time.Time
}

func NewService(store Store, deliveries delivery.Store, bus events.Publisher) *Service {
	if bus == nil {
		bus = events.Discard{}
	}
	return &Service{store: store, deliveries: deliveries, bus: bus, now: time.Now}
}

type ConfirmCommand struct {
	DeliveryID     types.ID
	GatewayEventID string
	Gateway        string
	Amount         int64
}

// Result of a confirm/webhook call. Duplicate reports that the event id had
// already been settled; callers treat that as success, logs distinguish it.
type Result struct {
	Payment   *Payment
	Duplicate bool
}

// Confirm records a gateway settlement exactly once per event id. A repeated
// webhook delivery returns the existing ledger entry and touches nothing.
func (s *Service) Confirm(ctx context.Context, cmd ConfirmCommand) (Result, error) {
	if cmd.GatewayEventID == "" {
		return Result{}, faults.Validation("gateway event id is required")
	}
	d, err := s.deliveries.Get(ctx, cmd.DeliveryID)
	if err != nil {
		return Result{}, err
	}
	amount := cmd.Amount
	if amount == 0 {
		amount = d.Pricing.TotalPrice
	}

	now := s.now().UTC()
	p := &Payment{
		ID:             types.ID(uuid.NewString()),
		DeliveryID:     d.ID,
		PartnerID:      d.PartnerID,
		Amount:         amount,
		Method:         d.Payment.Method,
		Gateway:        cmd.Gateway,
		GatewayEventID: cmd.GatewayEventID,
		Payout:         Payout{Amount: pricing.PartnerPayout(amount), Status: PayoutPending},
		CreatedAt:      now,
	}
	created, stored, err := s.store.CreateIfAbsent(ctx, p)
	if err != nil {
		return Result{}, err
	}
	if !created {
		log.Printf("settlement: duplicate gateway event %s for delivery %s absorbed", cmd.GatewayEventID, d.ID)
		return Result{Payment: stored, Duplicate: true}, nil
	}

	s.markDeliveryPaid(ctx, d.ID, cmd.GatewayEventID, now)
	s.bus.Publish(events.Event{
		Type: events.PaymentSettled, DeliveryID: d.ID, CustomerID: d.CustomerID, At: now,
		Details: map[string]any{"amount": amount, "payout": stored.Payout.Amount},
	})
	return Result{Payment: stored}, nil
}

// RecordCompletion implements delivery.Settler for non-cash deliveries that
// reach delivered without an explicit gateway confirmation. The synthetic
// event id keys idempotency so a later real webhook is absorbed too.
func (s *Service) RecordCompletion(ctx context.Context, d *delivery.Delivery) error {
	_, err := s.Confirm(ctx, ConfirmCommand{
		DeliveryID:     d.ID,
		GatewayEventID: "completion:" + string(d.ID),
		Gateway:        "internal",
		Amount:         d.Pricing.TotalPrice,
	})
	return err
}

// RecordRefund implements delivery.Settler: cancellation of a paid delivery
// opens refund bookkeeping with status pending. The gateway-side refund is an
// external concern; this ledger only moves pending → processed/failed.
func (s *Service) RecordRefund(ctx context.Context, d *delivery.Delivery) error {
	payments, err := s.store.ListByDelivery(ctx, d.ID)
	if err != nil {
		return err
	}
	var target *Payment
	for _, p := range payments {
		if p.Refund == nil || p.Refund.Status != delivery.RefundProcessed {
			target = p
			break
		}
	}
	now := s.now().UTC()
	if target == nil {
		// paid outside the ledger (gateway confirmed before completion was
		// recorded); materialize the entry so the refund has a home
		p := &Payment{
			ID:             types.ID(uuid.NewString()),
			DeliveryID:     d.ID,
			PartnerID:      d.PartnerID,
			Amount:         d.Pricing.TotalPrice,
			Method:         d.Payment.Method,
			Gateway:        "internal",
			GatewayEventID: "refund-anchor:" + string(d.ID),
			Payout:         Payout{Amount: pricing.PartnerPayout(d.Pricing.TotalPrice), Status: PayoutPending},
			CreatedAt:      now,
		}
		_, stored, err := s.store.CreateIfAbsent(ctx, p)
		if err != nil {
			return err
		}
		target = stored
	}
	err = s.store.SetRefund(ctx, target.ID, Refund{
		Amount:      d.Pricing.TotalPrice,
		Status:      delivery.RefundPending,
		InitiatedAt: now,
	})
	if err != nil {
		return err
	}
	s.bus.Publish(events.Event{
		Type: events.RefundInitiated, DeliveryID: d.ID, CustomerID: d.CustomerID, At: now,
		Details: map[string]any{"amount": d.Pricing.TotalPrice},
	})
	return nil
}

// ResolveRefund records the outcome of the external refund execution. A
// failure stays on the books as failed; it is never reset to not-applicable.
func (s *Service) ResolveRefund(ctx context.Context, deliveryID types.ID, succeeded bool) error {
	payments, err := s.store.ListByDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	for _, p := range payments {
		if p.Refund == nil || p.Refund.Status != delivery.RefundPending {
			continue
		}
		r := *p.Refund
		now := s.now().UTC()
		if succeeded {
			r.Status = delivery.RefundProcessed
			r.ProcessedAt = &now
		} else {
			r.Status = delivery.RefundFailed
		}
		if err := s.store.SetRefund(ctx, p.ID, r); err != nil {
			return err
		}
		s.syncCancellationRefund(ctx, deliveryID, r.Status)
		return nil
	}
	return faults.NotFound("no pending refund for delivery %s", deliveryID)
}

func (s *Service) ListByDelivery(ctx context.Context, deliveryID types.ID) ([]*Payment, error) {
	return s.store.ListByDelivery(ctx, deliveryID)
}

// markDeliveryPaid flips the delivery's payment snapshot to completed. Best
// effort with a short CAS retry; the ledger entry is the source of truth.
func (s *Service) markDeliveryPaid(ctx context.Context, id types.ID, txnID string, now time.Time) {
	for i := 0; i < 3; i++ {
		d, err := s.deliveries.Get(ctx, id)
		if err != nil {
			log.Printf("settlement: mark delivery %s paid: %v", id, err)
			return
		}
		if d.Payment.Status == delivery.PaymentCompleted {
			return
		}
		d.Payment.Status = delivery.PaymentCompleted
		d.Payment.TransactionID = txnID
		paid := now
		d.Payment.PaidAt = &paid
		d.UpdatedAt = now
		ok, err := s.deliveries.Update(ctx, d, d.Version)
		if err != nil {
			log.Printf("settlement: mark delivery %s paid: %v", id, err)
			return
		}
		if ok {
			return
		}
	}
	log.Printf("settlement: gave up marking delivery %s paid after contention", id)
}

func (s *Service) syncCancellationRefund(ctx context.Context, id types.ID, status delivery.RefundStatus) {
	for i := 0; i < 3; i++ {
		d, err := s.deliveries.Get(ctx, id)
		if err != nil || d.Cancellation == nil {
			return
		}
		d.Cancellation.RefundStatus = status
		if status == delivery.RefundProcessed {
			d.Payment.Status = delivery.PaymentRefunded
		}
		d.UpdatedAt = s.now().UTC()
		ok, err := s.deliveries.Update(ctx, d, d.Version)
		if err != nil || ok {
			return
		}
	}
}
