// README: In-memory partner store; mirrors the Postgres semantics for tests and local runs.
package partner

import (
	"context"
	"sync"

	"droply/internal/faults"
	"droply/internal/types"
)

type MemoryStore struct {
	mu            sync.RWMutex
	partners      map[types.ID]*Partner
	registrations map[string]types.ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		partners:      make(map[types.ID]*Partner),
		registrations: make(map[string]types.ID),
	}
}

func (s *MemoryStore) Create(ctx context.Context, p *Partner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partners[p.ID]; ok {
		return faults.StateConflict("partner %s already exists", p.ID)
	}
	cp := clone(p)
	s.partners[p.ID] = cp
	for _, v := range cp.Vehicles {
		s.registrations[v.RegistrationNo] = p.ID
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id types.ID) (*Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.partners[id]
	if !ok {
		return nil, faults.NotFound("partner %s", id)
	}
	return clone(p), nil
}

func (s *MemoryStore) SetAvailability(ctx context.Context, id types.ID, from, to Availability) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[id]
	if !ok {
		return false, faults.NotFound("partner %s", id)
	}
	if p.Availability != from {
		return false, nil
	}
	p.Availability = to
	return true, nil
}

func (s *MemoryStore) SetVerification(ctx context.Context, id types.ID, v Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[id]
	if !ok {
		return faults.NotFound("partner %s", id)
	}
	p.Verification = v
	return nil
}

func (s *MemoryStore) SetLocation(ctx context.Context, id types.ID, loc Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[id]
	if !ok {
		return faults.NotFound("partner %s", id)
	}
	l := loc
	p.Location = &l
	return nil
}

func (s *MemoryStore) AddVehicle(ctx context.Context, partnerID types.ID, v Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[partnerID]
	if !ok {
		return faults.NotFound("partner %s", partnerID)
	}
	if owner, taken := s.registrations[v.RegistrationNo]; taken {
		return faults.StateConflict("registration %s already held by partner %s", v.RegistrationNo, owner)
	}
	p.Vehicles = append(p.Vehicles, v)
	s.registrations[v.RegistrationNo] = partnerID
	return nil
}

func (s *MemoryStore) VerifyVehicle(ctx context.Context, partnerID, vehicleID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[partnerID]
	if !ok {
		return faults.NotFound("partner %s", partnerID)
	}
	for i := range p.Vehicles {
		if p.Vehicles[i].ID == vehicleID {
			p.Vehicles[i].Verified = true
			return nil
		}
	}
	return faults.NotFound("vehicle %s on partner %s", vehicleID, partnerID)
}

func (s *MemoryStore) ApplyRating(ctx context.Context, id types.ID, rating int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[id]
	if !ok {
		return faults.NotFound("partner %s", id)
	}
	p.RatingSum += int64(rating)
	p.RatingCount++
	return nil
}

func (s *MemoryStore) IncrementDeliveries(ctx context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[id]
	if !ok {
		return faults.NotFound("partner %s", id)
	}
	p.TotalDeliveries++
	return nil
}

func clone(p *Partner) *Partner {
	cp := *p
	if p.Location != nil {
		loc := *p.Location
		cp.Location = &loc
	}
	cp.Vehicles = append([]Vehicle(nil), p.Vehicles...)
	return &cp
}
