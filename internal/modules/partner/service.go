// README: Partner directory service: registration, availability flips, location updates.
package partner

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"droply/internal/faults"
	"droply/internal/modules/pricing"
	"droply/internal/types"
)

var (
	ErrNotApproved  = faults.Authorization("partner is not approved")
	ErrNotOnline    = faults.StateConflict("partner is not online")
	ErrHasActiveJob = faults.StateConflict("partner has an active delivery")
)

// GeoIndex is where partner positions are published for proximity search.
type GeoIndex interface {
	Upsert(ctx context.Context, id types.ID, pos types.Point) error
	Remove(ctx context.Context, id types.ID) error
}

// RouteTracker receives partner positions while a delivery is active so the
// delivery's waypoint log can grow. Implemented by the delivery service.
type RouteTracker interface {
	AppendWaypoint(ctx context.Context, partnerID types.ID, pos types.Point) error
}

// ActiveChecker reports whether a partner currently holds an active delivery.
type ActiveChecker interface {
	HasActiveByPartner(ctx context.Context, partnerID types.ID) (bool, error)
}

type Service struct {
	store   Store
	geo     GeoIndex
	tracker RouteTracker
	active  ActiveChecker
}

func NewService(store Store, geo GeoIndex, tracker RouteTracker, active ActiveChecker) *Service {
	return &Service{store: store, geo: geo, tracker: tracker, active: active}
}

type RegisterCommand struct {
	Name  string
	Phone string
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Partner, error) {
	if cmd.Name == "" {
		return nil, faults.Validation("partner name is required")
	}
	p := &Partner{
		ID:           types.ID(uuid.NewString()),
		Name:         cmd.Name,
		Phone:        cmd.Phone,
		Verification: VerificationPending,
		Availability: AvailabilityOffline,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Partner, error) {
	return s.store.Get(ctx, id)
}

// Approve moves a partner's verification to approved; admin-only at the transport layer.
func (s *Service) Approve(ctx context.Context, id types.ID) error {
	return s.store.SetVerification(ctx, id, VerificationApproved)
}

type AddVehicleCommand struct {
	PartnerID      types.ID
	Type           pricing.VehicleType
	RegistrationNo string
}

func (s *Service) AddVehicle(ctx context.Context, cmd AddVehicleCommand) (*Vehicle, error) {
	if !pricing.ValidVehicleType(cmd.Type) {
		return nil, faults.Validation("unknown vehicle type %q", cmd.Type)
	}
	if cmd.RegistrationNo == "" {
		return nil, faults.Validation("registration number is required")
	}
	v := Vehicle{
		ID:             types.ID(uuid.NewString()),
		Type:           cmd.Type,
		RegistrationNo: cmd.RegistrationNo,
		Verified:       false,
		Active:         true,
	}
	if err := s.store.AddVehicle(ctx, cmd.PartnerID, v); err != nil {
		return nil, err
	}
	return &v, nil
}

// VerifyVehicle marks one of the partner's vehicles as verified; admin-only
// at the transport layer.
func (s *Service) VerifyVehicle(ctx context.Context, partnerID, vehicleID types.ID) error {
	return s.store.VerifyVehicle(ctx, partnerID, vehicleID)
}

// GoOnline requires an approved partner; coming online also publishes the
// last known position to the geo index.
func (s *Service) GoOnline(ctx context.Context, id types.ID) error {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Verification != VerificationApproved {
		return ErrNotApproved
	}
	ok, err := s.store.SetAvailability(ctx, id, AvailabilityOffline, AvailabilityOnline)
	if err != nil {
		return err
	}
	if !ok {
		// already online is fine; busy is not
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if cur.Availability == AvailabilityBusy {
			return ErrHasActiveJob
		}
	}
	if p.Location != nil && s.geo != nil {
		if err := s.geo.Upsert(ctx, id, p.Location.Position); err != nil {
			return err
		}
	}
	return nil
}

// GoOffline is rejected while the partner holds an active delivery.
func (s *Service) GoOffline(ctx context.Context, id types.ID) error {
	if s.active != nil {
		busy, err := s.active.HasActiveByPartner(ctx, id)
		if err != nil {
			return err
		}
		if busy {
			return ErrHasActiveJob
		}
	}
	ok, err := s.store.SetAvailability(ctx, id, AvailabilityOnline, AvailabilityOffline)
	if err != nil {
		return err
	}
	if !ok {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if cur.Availability == AvailabilityBusy {
			return ErrHasActiveJob
		}
	}
	if s.geo != nil {
		if err := s.geo.Remove(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

type LocationUpdate struct {
	PartnerID types.ID
	Position  types.Point
	Address   string
}

// UpdateLocation refreshes the directory record and the geo index, and feeds
// the position into the active delivery's route, if there is one.
func (s *Service) UpdateLocation(ctx context.Context, upd LocationUpdate) error {
	loc := Location{Position: upd.Position, Address: upd.Address, UpdatedAt: time.Now().UTC()}
	if err := s.store.SetLocation(ctx, upd.PartnerID, loc); err != nil {
		return err
	}
	if s.geo != nil {
		if err := s.geo.Upsert(ctx, upd.PartnerID, upd.Position); err != nil {
			return err
		}
	}
	if s.tracker != nil {
		if err := s.tracker.AppendWaypoint(ctx, upd.PartnerID, upd.Position); err != nil && !errors.Is(err, faults.ErrNotFound) {
			return err
		}
	}
	return nil
}

// ApplyRating folds one delivery rating into the partner aggregate.
func (s *Service) ApplyRating(ctx context.Context, id types.ID, rating int) error {
	return s.store.ApplyRating(ctx, id, rating)
}
