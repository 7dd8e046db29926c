// README: In-memory delivery store; same CAS semantics as Postgres, used by tests and local runs.
package delivery

import (
	"context"
	"fmt"
	"sync"

	"droply/internal/faults"
	"droply/internal/types"
)

type MemoryStore struct {
	mu         sync.RWMutex
	deliveries map[types.ID]*Delivery
	byTracking map[string]types.ID
	waypoints  map[types.ID][]Waypoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deliveries: make(map[types.ID]*Delivery),
		byTracking: make(map[string]types.ID),
		waypoints:  make(map[types.ID][]Waypoint),
	}
}

func (s *MemoryStore) Create(ctx context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.ID]; ok {
		return faults.StateConflict("delivery %s already exists", d.ID)
	}
	if _, ok := s.byTracking[d.TrackingCode]; ok {
		return faults.StateConflict("tracking code %s already exists", d.TrackingCode)
	}
	s.deliveries[d.ID] = cloneDelivery(d)
	s.byTracking[d.TrackingCode] = d.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id types.ID) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id)
}

func (s *MemoryStore) getLocked(id types.ID) (*Delivery, error) {
	d, ok := s.deliveries[id]
	if !ok {
		return nil, faults.NotFound("delivery %s", id)
	}
	cp := cloneDelivery(d)
	cp.Waypoints = append([]Waypoint(nil), s.waypoints[id]...)
	return cp, nil
}

func (s *MemoryStore) GetByTrackingCode(ctx context.Context, code string) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byTracking[code]
	if !ok {
		return nil, faults.NotFound("tracking code %s", code)
	}
	return s.getLocked(id)
}

func (s *MemoryStore) ListByCustomer(ctx context.Context, customerID types.ID) ([]*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Delivery
	for _, d := range s.deliveries {
		if d.CustomerID == customerID {
			out = append(out, cloneDelivery(d))
		}
	}
	return out, nil
}

func (s *MemoryStore) ActiveByPartner(ctx context.Context, partnerID types.ID) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *Delivery
	for _, d := range s.deliveries {
		if d.PartnerID != nil && *d.PartnerID == partnerID && d.Status.Active() {
			if found != nil {
				return nil, fmt.Errorf("invariant violation: partner %s holds more than one active delivery", partnerID)
			}
			found = d
		}
	}
	if found == nil {
		return nil, faults.NotFound("no active delivery for partner %s", partnerID)
	}
	return cloneDelivery(found), nil
}

func (s *MemoryStore) HasActiveByPartner(ctx context.Context, partnerID types.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.deliveries {
		if d.PartnerID != nil && *d.PartnerID == partnerID && d.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Update(ctx context.Context, d *Delivery, expected int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.deliveries[d.ID]
	if !ok {
		return false, faults.NotFound("delivery %s", d.ID)
	}
	if cur.Version != expected {
		return false, nil
	}
	cp := cloneDelivery(d)
	cp.Version = expected + 1
	// waypoints live in their own log; keep the aggregate copy out of it
	cp.Waypoints = nil
	s.deliveries[d.ID] = cp
	d.Version = cp.Version
	return true, nil
}

func (s *MemoryStore) AppendWaypoint(ctx context.Context, id types.ID, wp Waypoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[id]; !ok {
		return faults.NotFound("delivery %s", id)
	}
	s.waypoints[id] = append(s.waypoints[id], wp)
	return nil
}

func cloneDelivery(d *Delivery) *Delivery {
	cp := *d
	if d.PartnerID != nil {
		v := *d.PartnerID
		cp.PartnerID = &v
	}
	if d.VehicleID != nil {
		v := *d.VehicleID
		cp.VehicleID = &v
	}
	if d.ScheduledAt != nil {
		v := *d.ScheduledAt
		cp.ScheduledAt = &v
	}
	if d.Payment.PaidAt != nil {
		v := *d.Payment.PaidAt
		cp.Payment.PaidAt = &v
	}
	if d.Rating != nil {
		v := *d.Rating
		cp.Rating = &v
	}
	if d.Cancellation != nil {
		v := *d.Cancellation
		cp.Cancellation = &v
	}
	if d.CustomBid != nil {
		v := *d.CustomBid
		v.Bids = append([]Bid(nil), d.CustomBid.Bids...)
		cp.CustomBid = &v
	}
	cp.Timeline = append([]TimelineEntry(nil), d.Timeline...)
	cp.Waypoints = append([]Waypoint(nil), d.Waypoints...)
	return &cp
}
