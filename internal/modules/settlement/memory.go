// README: In-memory payment ledger; same idempotency semantics as Postgres.
package settlement

import (
	"context"
	"sync"

	"droply/internal/faults"
	"droply/internal/types"
)

type MemoryStore struct {
	mu       sync.Mutex
	byEvent  map[string]*Payment
	payments map[types.ID]*Payment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byEvent:  make(map[string]*Payment),
		payments: make(map[types.ID]*Payment),
	}
}

func (s *MemoryStore) CreateIfAbsent(ctx context.Context, p *Payment) (bool, *Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byEvent[p.GatewayEventID]; ok {
		return false, clonePayment(existing), nil
	}
	cp := clonePayment(p)
	s.byEvent[p.GatewayEventID] = cp
	s.payments[p.ID] = cp
	return true, clonePayment(cp), nil
}

func (s *MemoryStore) GetByEventID(ctx context.Context, eventID string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byEvent[eventID]
	if !ok {
		return nil, faults.NotFound("payment for event %s", eventID)
	}
	return clonePayment(p), nil
}

func (s *MemoryStore) ListByDelivery(ctx context.Context, deliveryID types.ID) ([]*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Payment
	for _, p := range s.payments {
		if p.DeliveryID == deliveryID {
			out = append(out, clonePayment(p))
		}
	}
	return out, nil
}

func (s *MemoryStore) SetRefund(ctx context.Context, paymentID types.ID, r Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return faults.NotFound("payment %s", paymentID)
	}
	rf := r
	p.Refund = &rf
	return nil
}

func clonePayment(p *Payment) *Payment {
	cp := *p
	if p.PartnerID != nil {
		v := *p.PartnerID
		cp.PartnerID = &v
	}
	if p.Payout.ProcessedAt != nil {
		v := *p.Payout.ProcessedAt
		cp.Payout.ProcessedAt = &v
	}
	if p.Refund != nil {
		v := *p.Refund
		cp.Refund = &v
	}
	return &cp
}
