// README: Matching engine: direct accept and the custom-bid marketplace.
package matching

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"droply/internal/events"
	"droply/internal/faults"
	"droply/internal/modules/delivery"
	"droply/internal/modules/partner"
	"droply/internal/types"
)

var (
	ErrNoLongerAvailable = faults.StateConflict("delivery is no longer available")
	ErrPartnerBusy       = faults.StateConflict("partner is not free to accept a delivery")
	ErrDuplicateBid      = faults.StateConflict("partner already has a bid on this delivery")
	ErrBidWindowClosed   = faults.StateConflict("bid window is closed")
	ErrBidNotFound       = faults.NotFound("bid not found")
	ErrVehicleMismatch   = faults.StateConflict("vehicle does not match the request")
)

type Service struct {
	deliveries delivery.Store
	partners   partner.Store
	geo        GeoStore
	bus        events.Publisher
	now        func() time.Time
}

func NewService(deliveries delivery.Store, partners partner.Store, geo GeoStore, bus events.Publisher) *Service {
	if bus == nil {
		bus = events.Discard{}
	}
	return &Service{deliveries: deliveries, partners: partners, geo: geo, bus: bus, now: time.Now}
}

// ListNearby returns the open deliveries a partner is eligible for, nearest
// first, within SearchRadiusKm and capped at MaxNearbyResults. Scheduled
// deliveries appear once their schedule time arrives.
func (s *Service) ListNearby(ctx context.Context, partnerID types.ID) ([]NearbyRequest, error) {
	p, err := s.partners.Get(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if p.Verification != partner.VerificationApproved {
		return nil, partner.ErrNotApproved
	}
	if p.Availability != partner.AvailabilityOnline {
		return nil, partner.ErrNotOnline
	}
	if p.Location == nil {
		return nil, faults.Validation("partner %s has no known location", partnerID)
	}
	usable := false
	for _, v := range p.Vehicles {
		if v.Verified && v.Active {
			usable = true
			break
		}
	}
	if !usable {
		return nil, faults.StateConflict("partner %s has no verified active vehicle", partnerID)
	}

	// over-fetch so vehicle-type filtering still fills the cap
	ids, err := s.geo.NearbyRequests(ctx, p.Location.Position, SearchRadiusKm, MaxNearbyResults*3)
	if err != nil {
		return nil, err
	}
	var out []NearbyRequest
	for _, id := range ids {
		d, err := s.deliveries.Get(ctx, id)
		if err != nil {
			continue
		}
		if !d.Matchable(s.now()) || !p.HasUsableVehicle(d.VehicleType) {
			continue
		}
		out = append(out, NearbyRequest{
			Delivery:   d,
			DistanceKm: types.DistanceKm(p.Location.Position, d.Pickup.Position),
		})
		if len(out) == MaxNearbyResults {
			break
		}
	}
	return out, nil
}

type AcceptCommand struct {
	PartnerID  types.ID
	DeliveryID types.ID
	VehicleID  types.ID
}

// Accept claims an open delivery for a partner: a searching one, or a due
// scheduled one still sitting pending. First acceptance wins: the partner is
// reserved with an availability CAS, then the delivery status flips with a
// version CAS; losing either race releases the reservation.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*delivery.Delivery, error) {
	d, err := s.deliveries.Get(ctx, cmd.DeliveryID)
	if err != nil {
		return nil, err
	}
	if d.Type == delivery.TypeCustomBid {
		return nil, faults.StateConflict("custom-bid deliveries are assigned through bid acceptance")
	}
	if !d.Matchable(s.now()) {
		return nil, ErrNoLongerAvailable
	}

	p, err := s.partners.Get(ctx, cmd.PartnerID)
	if err != nil {
		return nil, err
	}
	if p.Verification != partner.VerificationApproved {
		return nil, partner.ErrNotApproved
	}
	v, ok := p.VehicleByID(cmd.VehicleID)
	if !ok {
		return nil, faults.Validation("vehicle %s does not belong to partner %s", cmd.VehicleID, cmd.PartnerID)
	}
	if !v.Verified || !v.Active || v.Type != d.VehicleType {
		return nil, ErrVehicleMismatch
	}

	// defensive invariant check; the availability CAS below is the real gate
	if busy, err := s.deliveries.HasActiveByPartner(ctx, cmd.PartnerID); err != nil {
		return nil, err
	} else if busy {
		log.Printf("matching: partner %s attempted accept while holding an active delivery", cmd.PartnerID)
		return nil, ErrPartnerBusy
	}

	reserved, err := s.partners.SetAvailability(ctx, cmd.PartnerID, partner.AvailabilityOnline, partner.AvailabilityBusy)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, ErrPartnerBusy
	}

	now := s.now().UTC()
	from := d.Status
	pid, vid := cmd.PartnerID, cmd.VehicleID
	d.PartnerID = &pid
	d.VehicleID = &vid
	d.Status = delivery.StatusAccepted
	d.UpdatedAt = now
	delivery.AppendTimeline(d, delivery.StatusAccepted, "Partner accepted the delivery", locationOf(p), now)

	won, err := s.deliveries.Update(ctx, d, d.Version)
	if err != nil || !won {
		s.release(ctx, cmd.PartnerID)
		if err != nil {
			return nil, err
		}
		return nil, ErrNoLongerAvailable
	}

	if err := s.geo.RemoveRequest(ctx, d.ID); err != nil {
		log.Printf("matching: remove request %s from geo index: %v", d.ID, err)
	}
	s.bus.Publish(events.Event{
		Type: events.DeliveryStatusChanged, DeliveryID: d.ID, PartnerID: cmd.PartnerID,
		CustomerID: d.CustomerID, At: now,
		Details: map[string]any{"from": string(from), "to": string(delivery.StatusAccepted)},
	})
	return d, nil
}

type SubmitBidCommand struct {
	PartnerID  types.ID
	DeliveryID types.ID
	Price      int64
	PickupETA  time.Duration
	Message    string
}

// SubmitBid appends a partner's bid to an open custom-bid delivery. At most
// one bid per partner; uniqueness is enforced by the aggregate CAS, not a
// separate pre-check.
func (s *Service) SubmitBid(ctx context.Context, cmd SubmitBidCommand) (*delivery.Bid, error) {
	if cmd.Price <= 0 {
		return nil, faults.Validation("bid price must be positive")
	}
	p, err := s.partners.Get(ctx, cmd.PartnerID)
	if err != nil {
		return nil, err
	}
	if p.Verification != partner.VerificationApproved {
		return nil, partner.ErrNotApproved
	}

	for attempt := 0; attempt < 3; attempt++ {
		d, err := s.deliveries.Get(ctx, cmd.DeliveryID)
		if err != nil {
			return nil, err
		}
		if d.Type != delivery.TypeCustomBid || d.CustomBid == nil {
			return nil, faults.Validation("delivery %s is not open for bidding", cmd.DeliveryID)
		}
		if !d.CustomBid.Open(s.now()) {
			return nil, ErrBidWindowClosed
		}
		if _, dup := d.CustomBid.BidByPartner(cmd.PartnerID); dup {
			return nil, ErrDuplicateBid
		}

		now := s.now().UTC()
		bid := delivery.Bid{
			ID:          types.ID(uuid.NewString()),
			PartnerID:   cmd.PartnerID,
			Price:       cmd.Price,
			PickupETA:   cmd.PickupETA,
			Message:     cmd.Message,
			SubmittedAt: now,
		}
		d.CustomBid.Bids = append(d.CustomBid.Bids, bid)
		d.UpdatedAt = now

		won, err := s.deliveries.Update(ctx, d, d.Version)
		if err != nil {
			return nil, err
		}
		if won {
			s.bus.Publish(events.Event{
				Type: events.BidSubmitted, DeliveryID: d.ID, PartnerID: cmd.PartnerID,
				CustomerID: d.CustomerID, At: now,
				Details: map[string]any{"price": cmd.Price},
			})
			return &bid, nil
		}
		// lost the version race; re-read and re-check (the winner may have
		// been this same partner's other request)
	}
	return nil, delivery.ErrConflict
}

type AcceptBidCommand struct {
	CustomerID types.ID
	DeliveryID types.ID
	BidID      types.ID
	Method     delivery.PaymentMethod
}

// AcceptBid assigns the delivery to the chosen bidder. The accepted bid price
// replaces the authoritative total; unchosen bids simply lapse.
func (s *Service) AcceptBid(ctx context.Context, cmd AcceptBidCommand) (*delivery.Delivery, error) {
	if !delivery.ValidPaymentMethod(cmd.Method) {
		return nil, faults.Validation("unknown payment method %q", cmd.Method)
	}
	d, err := s.deliveries.Get(ctx, cmd.DeliveryID)
	if err != nil {
		return nil, err
	}
	if d.CustomerID != cmd.CustomerID {
		return nil, faults.Authorization("customer %s does not own delivery %s", cmd.CustomerID, d.ID)
	}
	if d.CustomBid == nil {
		return nil, faults.Validation("delivery %s is not a custom-bid delivery", d.ID)
	}
	if !d.CustomBid.Open(s.now()) {
		return nil, ErrBidWindowClosed
	}
	bid, ok := d.CustomBid.BidByID(cmd.BidID)
	if !ok {
		return nil, ErrBidNotFound
	}

	reserved, err := s.partners.SetAvailability(ctx, bid.PartnerID, partner.AvailabilityOnline, partner.AvailabilityBusy)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, faults.StateConflict("bidding partner %s is no longer available", bid.PartnerID)
	}

	now := s.now().UTC()
	pid := bid.PartnerID
	d.PartnerID = &pid
	d.Pricing.TotalPrice = bid.Price
	d.Payment.Method = cmd.Method
	d.CustomBid.Status = delivery.BidAccepted
	d.Status = delivery.StatusAccepted
	d.UpdatedAt = now
	delivery.AppendTimeline(d, delivery.StatusAccepted, "Bid accepted by customer", nil, now)

	won, err := s.deliveries.Update(ctx, d, d.Version)
	if err != nil || !won {
		s.release(ctx, bid.PartnerID)
		if err != nil {
			return nil, err
		}
		return nil, ErrBidWindowClosed
	}

	s.bus.Publish(events.Event{
		Type: events.BidAccepted, DeliveryID: d.ID, PartnerID: bid.PartnerID,
		CustomerID: d.CustomerID, At: now,
		Details: map[string]any{"bid_id": string(bid.ID), "price": bid.Price},
	})
	return d, nil
}

// Add implements delivery.RequestIndex so freshly created open deliveries
// become visible to nearby partners.
func (s *Service) Add(ctx context.Context, id types.ID, pickup types.Point) error {
	return s.geo.AddRequest(ctx, id, pickup)
}

func (s *Service) RemoveRequest(ctx context.Context, id types.ID) error {
	return s.geo.RemoveRequest(ctx, id)
}

// release undoes a partner reservation after a lost assignment race.
func (s *Service) release(ctx context.Context, partnerID types.ID) {
	if _, err := s.partners.SetAvailability(ctx, partnerID, partner.AvailabilityBusy, partner.AvailabilityOnline); err != nil {
		log.Printf("matching: release partner %s: %v", partnerID, err)
	}
}

func locationOf(p *partner.Partner) *types.Point {
	if p.Location == nil {
		return nil
	}
	pos := p.Location.Position
	return &pos
}
