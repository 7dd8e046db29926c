// README: Delivery lifecycle service: creation, status transitions, cancellation, rating.
package delivery

import (
	"context"
	"crypto/rand"
	"log"
	"time"

	"github.com/google/uuid"

	"droply/internal/events"
	"droply/internal/faults"
	"droply/internal/maps"
	"droply/internal/modules/partner"
	"droply/internal/modules/pricing"
	"droply/internal/types"
)

var (
	ErrNotFound      = faults.NotFound("delivery not found")
	ErrConflict      = faults.StateConflict("delivery was modified concurrently")
	ErrAlreadyRated  = faults.StateConflict("delivery already rated")
	ErrNotDelivered  = faults.StateConflict("delivery is not delivered yet")
	ErrAlreadyClosed = faults.StateConflict("delivery is already delivered or cancelled")
)

// Directory is the slice of the partner store the lifecycle needs for its
// side effects. Satisfied by partner.Store.
type Directory interface {
	Get(ctx context.Context, id types.ID) (*partner.Partner, error)
	SetAvailability(ctx context.Context, id types.ID, from, to partner.Availability) (bool, error)
	ApplyRating(ctx context.Context, id types.ID, rating int) error
	IncrementDeliveries(ctx context.Context, id types.ID) error
}

// Settler owns payment-ledger bookkeeping triggered by lifecycle transitions.
// Implemented by the settlement service; nil disables ledger writes.
type Settler interface {
	RecordCompletion(ctx context.Context, d *Delivery) error
	RecordRefund(ctx context.Context, d *Delivery) error
}

// RequestIndex makes open deliveries discoverable by nearby partners.
// Implemented by the matching service; nil disables indexing.
type RequestIndex interface {
	Add(ctx context.Context, id types.ID, pickup types.Point) error
	RemoveRequest(ctx context.Context, id types.ID) error
}

type Service struct {
	store     Store
	directory Directory
	pricing   *pricing.Service
	routes    maps.Estimator
	settler   Settler
	requests  RequestIndex
	bus       events.Publisher
	now       func() time.Time
}

func NewService(store Store, directory Directory, pr *pricing.Service, routes maps.Estimator, bus events.Publisher) *Service {
	if bus == nil {
		bus = events.Discard{}
	}
	if routes == nil {
		routes = maps.HaversineEstimator{}
	}
	return &Service{
		store:     store,
		directory: directory,
		pricing:   pr,
		routes:    routes,
		bus:       bus,
		now:       time.Now,
	}
}

// SetSettler breaks the construction cycle between delivery and settlement.
func (s *Service) SetSettler(settler Settler) { s.settler = settler }

// SetRequestIndex breaks the construction cycle between delivery and matching.
func (s *Service) SetRequestIndex(idx RequestIndex) { s.requests = idx }

// BidWindow is how long a custom-bid delivery accepts bids after creation.
const BidWindow = 24 * time.Hour

const trackingPrefix = "DRP-"

type CreateCommand struct {
	CustomerID  types.ID
	Type        Type
	VehicleType pricing.VehicleType
	Pickup      Stop
	Drop        Stop
	Package     Package
	ScheduledAt *time.Time
	Method      PaymentMethod
	// ProposedPrice applies to custom-bid deliveries only.
	ProposedPrice int64
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Delivery, error) {
	if cmd.CustomerID == "" {
		return nil, faults.Validation("customer id is required")
	}
	if !pricing.ValidVehicleType(cmd.VehicleType) {
		return nil, faults.Validation("unknown vehicle type %q", cmd.VehicleType)
	}
	if err := validateStop("pickup", cmd.Pickup); err != nil {
		return nil, err
	}
	if err := validateStop("drop", cmd.Drop); err != nil {
		return nil, err
	}
	if cmd.Type == TypeScheduled && cmd.ScheduledAt == nil {
		return nil, faults.Validation("scheduled delivery needs a schedule time")
	}
	method := cmd.Method
	if method == "" {
		method = PayCash
	}
	if !ValidPaymentMethod(method) {
		return nil, faults.Validation("unknown payment method %q", method)
	}

	now := s.now().UTC()
	est, err := s.routes.Estimate(ctx, cmd.Pickup.Position, cmd.Drop.Position)
	if err != nil {
		return nil, err
	}
	fare := s.pricing.Calculate(est.DistanceKm, est.DurationMin, cmd.VehicleType, isPeakHour(now))

	d := &Delivery{
		ID:           types.ID(uuid.NewString()),
		TrackingCode: trackingPrefix + randomCode(8),
		CustomerID:   cmd.CustomerID,
		Type:         cmd.Type,
		VehicleType:  cmd.VehicleType,
		Pickup:       cmd.Pickup,
		Drop:         cmd.Drop,
		Package:      cmd.Package,
		ScheduledAt:  cmd.ScheduledAt,
		Pricing: Pricing{
			BasePrice:     fare.BaseFare,
			DistancePrice: fare.DistanceFare,
			TimePrice:     fare.TimeFare,
			SurgePrice:    fare.SurgeFare,
			Tax:           fare.Tax,
			TotalPrice:    fare.Total,
		},
		Payment:     Payment{Method: method, Status: PaymentPending},
		DistanceKm:  est.DistanceKm,
		DurationMin: est.DurationMin,
		Polyline:    est.Polyline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if d.Package.Quantity == 0 {
		d.Package.Quantity = 1
	}

	switch cmd.Type {
	case TypeCustomBid:
		floor := s.pricing.MinimumBid(est.DistanceKm, est.DurationMin, cmd.VehicleType, isPeakHour(now))
		if cmd.ProposedPrice < floor {
			return nil, faults.Validation("proposed price %d is below the minimum %d", cmd.ProposedPrice, floor)
		}
		d.Status = StatusPending
		d.Pricing.TotalPrice = cmd.ProposedPrice
		d.CustomBid = &CustomBid{
			ProposedPrice: cmd.ProposedPrice,
			ExpiresAt:     now.Add(BidWindow),
			Status:        BidOpen,
		}
	case TypeScheduled:
		// stays pending until the schedule time; matching treats a due
		// scheduled delivery as claimable without a status flip
		d.Status = StatusPending
	default:
		d.Status = StatusSearching
	}

	d.Timeline = append(d.Timeline, TimelineEntry{
		Status:      d.Status,
		At:          now,
		Description: "Delivery created",
	})

	if err := s.store.Create(ctx, d); err != nil {
		return nil, err
	}
	// custom-bid deliveries are assigned through bid acceptance, never the
	// geo index; scheduled ones are indexed now and surface once due
	if d.Type != TypeCustomBid && s.requests != nil {
		if err := s.requests.Add(ctx, d.ID, d.Pickup.Position); err != nil {
			log.Printf("delivery %s: index open request: %v", d.ID, err)
		}
	}
	s.bus.Publish(events.Event{
		Type: events.DeliveryCreated, DeliveryID: d.ID, CustomerID: d.CustomerID, At: now,
		Details: map[string]any{"tracking_code": d.TrackingCode, "type": string(d.Type)},
	})
	return d, nil
}

type UpdateStatusCommand struct {
	DeliveryID types.ID
	PartnerID  types.ID
	NewStatus  Status
	Location   *types.Point
}

// UpdateStatus moves an assigned delivery forward through the post-assignment
// table. The status check and write are a single conditional update; the
// timeline entry rides in the same write.
func (s *Service) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (*Delivery, error) {
	d, err := s.store.Get(ctx, cmd.DeliveryID)
	if err != nil {
		return nil, err
	}
	if d.PartnerID == nil || *d.PartnerID != cmd.PartnerID {
		return nil, faults.Authorization("partner %s is not assigned to delivery %s", cmd.PartnerID, d.ID)
	}
	if !CanTransition(d.Status, cmd.NewStatus) {
		return nil, faults.StateConflict("illegal transition %s -> %s", d.Status, cmd.NewStatus)
	}
	if cmd.NewStatus == StatusCancelled {
		return s.Cancel(ctx, CancelCommand{
			DeliveryID: cmd.DeliveryID, ActorID: cmd.PartnerID, ActorRole: ActorPartner,
		})
	}

	now := s.now().UTC()
	from := d.Status
	d.Status = cmd.NewStatus
	d.UpdatedAt = now
	if cmd.NewStatus == StatusDelivered && d.Payment.Status == PaymentPending {
		// observed behavior carried over from the legacy system: cash is
		// settled out-of-band yet still reported completed at delivery time
		d.Payment.Status = PaymentCompleted
		paid := now
		d.Payment.PaidAt = &paid
	}
	AppendTimeline(d, cmd.NewStatus, statusDescription(cmd.NewStatus), s.bestLocation(ctx, cmd.Location, cmd.PartnerID), now)

	ok, err := s.store.Update(ctx, d, d.Version)
	if err != nil {
		return nil, err
	}
	if !ok {
		cur, err := s.store.Get(ctx, cmd.DeliveryID)
		if err != nil {
			return nil, err
		}
		return nil, faults.StateConflict("illegal transition %s -> %s", cur.Status, cmd.NewStatus)
	}

	if cmd.NewStatus == StatusDelivered {
		s.afterDelivered(ctx, d)
	}
	s.bus.Publish(events.Event{
		Type: events.DeliveryStatusChanged, DeliveryID: d.ID, PartnerID: cmd.PartnerID,
		CustomerID: d.CustomerID, At: now,
		Details: map[string]any{"from": string(from), "to": string(cmd.NewStatus)},
	})
	return d, nil
}

// afterDelivered applies the partner and ledger side effects of a completed
// delivery. The status write has committed; failures here are surfaced in the
// log, not by reverting the delivery.
func (s *Service) afterDelivered(ctx context.Context, d *Delivery) {
	if d.PartnerID != nil {
		if err := s.directory.IncrementDeliveries(ctx, *d.PartnerID); err != nil {
			log.Printf("delivery %s: increment partner deliveries: %v", d.ID, err)
		}
		if _, err := s.directory.SetAvailability(ctx, *d.PartnerID, partner.AvailabilityBusy, partner.AvailabilityOnline); err != nil {
			log.Printf("delivery %s: release partner %s: %v", d.ID, *d.PartnerID, err)
		}
	}
	if s.settler != nil && d.Payment.Method != PayCash {
		if err := s.settler.RecordCompletion(ctx, d); err != nil {
			log.Printf("delivery %s: record settlement: %v", d.ID, err)
		}
	}
}

type CancelCommand struct {
	DeliveryID types.ID
	ActorID    types.ID
	ActorRole  ActorRole
	Reason     string
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Delivery, error) {
	for {
		d, err := s.store.Get(ctx, cmd.DeliveryID)
		if err != nil {
			return nil, err
		}
		if d.Status.Terminal() {
			return nil, ErrAlreadyClosed
		}
		switch cmd.ActorRole {
		case ActorUser:
			if d.CustomerID != cmd.ActorID {
				return nil, faults.Authorization("customer %s does not own delivery %s", cmd.ActorID, d.ID)
			}
		case ActorPartner:
			if d.PartnerID == nil || *d.PartnerID != cmd.ActorID {
				return nil, faults.Authorization("partner %s is not assigned to delivery %s", cmd.ActorID, d.ID)
			}
		case ActorAdmin, ActorSystem:
		default:
			return nil, faults.Validation("unknown actor role %q", cmd.ActorRole)
		}

		now := s.now().UTC()
		reason := cmd.Reason
		if reason == "" {
			reason = defaultCancelReason(cmd.ActorRole)
		}
		hadPartner := d.PartnerID
		refund := RefundNotApplicable
		if d.Payment.Status == PaymentCompleted {
			refund = RefundPending
		}

		d.Status = StatusCancelled
		d.UpdatedAt = now
		d.Cancellation = &Cancellation{Reason: reason, By: cmd.ActorRole, At: now, RefundStatus: refund}
		if d.CustomBid != nil && d.CustomBid.Status == BidOpen {
			d.CustomBid.Status = BidCancelled
		}
		var loc *types.Point
		if hadPartner != nil {
			loc = s.bestLocation(ctx, nil, *hadPartner)
		}
		AppendTimeline(d, StatusCancelled, reason, loc, now)

		ok, err := s.store.Update(ctx, d, d.Version)
		if err != nil {
			return nil, err
		}
		if !ok {
			// lost a race; re-read and re-apply the preconditions
			continue
		}

		if hadPartner != nil {
			if _, err := s.directory.SetAvailability(ctx, *hadPartner, partner.AvailabilityBusy, partner.AvailabilityOnline); err != nil {
				log.Printf("delivery %s: release partner %s: %v", d.ID, *hadPartner, err)
			}
		}
		if s.requests != nil {
			if err := s.requests.RemoveRequest(ctx, d.ID); err != nil {
				log.Printf("delivery %s: drop searching request: %v", d.ID, err)
			}
		}
		if refund == RefundPending && s.settler != nil {
			if err := s.settler.RecordRefund(ctx, d); err != nil {
				// never revert to not-applicable: surface the failure on the record
				s.markRefundFailed(ctx, d.ID)
			}
		}
		s.bus.Publish(events.Event{
			Type: events.DeliveryCancelled, DeliveryID: d.ID, CustomerID: d.CustomerID, At: now,
			Details: map[string]any{"reason": reason, "by": string(cmd.ActorRole)},
		})
		return d, nil
	}
}

func (s *Service) markRefundFailed(ctx context.Context, id types.ID) {
	for i := 0; i < 3; i++ {
		d, err := s.store.Get(ctx, id)
		if err != nil {
			log.Printf("delivery %s: mark refund failed: %v", id, err)
			return
		}
		if d.Cancellation == nil {
			return
		}
		d.Cancellation.RefundStatus = RefundFailed
		ok, err := s.store.Update(ctx, d, d.Version)
		if err != nil {
			log.Printf("delivery %s: mark refund failed: %v", id, err)
			return
		}
		if ok {
			return
		}
	}
}

type RateCommand struct {
	DeliveryID types.ID
	CustomerID types.ID
	Value      int
	Comment    string
}

// Rate records the one-time customer rating and folds it into the partner's
// running mean. The delivery-side write is a CAS so a duplicate submission
// cannot slip in between read and write.
func (s *Service) Rate(ctx context.Context, cmd RateCommand) (*Delivery, error) {
	if cmd.Value < 1 || cmd.Value > 5 {
		return nil, faults.Validation("rating %d is out of range [1,5]", cmd.Value)
	}
	d, err := s.store.Get(ctx, cmd.DeliveryID)
	if err != nil {
		return nil, err
	}
	if d.CustomerID != cmd.CustomerID {
		return nil, faults.Authorization("customer %s does not own delivery %s", cmd.CustomerID, d.ID)
	}
	if d.Status != StatusDelivered {
		return nil, ErrNotDelivered
	}
	if d.Rating != nil {
		return nil, ErrAlreadyRated
	}

	now := s.now().UTC()
	d.Rating = &Rating{Value: cmd.Value, Comment: cmd.Comment, RatedAt: now}
	d.UpdatedAt = now
	ok, err := s.store.Update(ctx, d, d.Version)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyRated
	}
	if d.PartnerID != nil {
		if err := s.directory.ApplyRating(ctx, *d.PartnerID, cmd.Value); err != nil {
			log.Printf("delivery %s: apply partner rating: %v", d.ID, err)
		}
	}
	return d, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Delivery, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetByTrackingCode(ctx context.Context, code string) (*Delivery, error) {
	return s.store.GetByTrackingCode(ctx, code)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID types.ID) ([]*Delivery, error) {
	return s.store.ListByCustomer(ctx, customerID)
}

func (s *Service) HasActiveByPartner(ctx context.Context, partnerID types.ID) (bool, error) {
	return s.store.HasActiveByPartner(ctx, partnerID)
}

// AppendWaypoint implements partner.RouteTracker: partner location pings grow
// the active delivery's route log.
func (s *Service) AppendWaypoint(ctx context.Context, partnerID types.ID, pos types.Point) error {
	d, err := s.store.ActiveByPartner(ctx, partnerID)
	if err != nil {
		return err
	}
	return s.store.AppendWaypoint(ctx, d.ID, Waypoint{Position: pos, At: s.now().UTC()})
}

// AppendTimeline is the single place timeline entries are built so every
// writer produces the same shape. Entries are append-only.
func AppendTimeline(d *Delivery, st Status, desc string, loc *types.Point, at time.Time) {
	d.Timeline = append(d.Timeline, TimelineEntry{Status: st, At: at, Description: desc, Location: loc})
}

// bestLocation prefers the actor-supplied location, falling back to the
// partner's last known position.
func (s *Service) bestLocation(ctx context.Context, explicit *types.Point, partnerID types.ID) *types.Point {
	if explicit != nil {
		return explicit
	}
	p, err := s.directory.Get(ctx, partnerID)
	if err != nil || p.Location == nil {
		return nil
	}
	pos := p.Location.Position
	return &pos
}

func statusDescription(st Status) string {
	switch st {
	case StatusSearching:
		return "Searching for a delivery partner"
	case StatusAccepted:
		return "Partner accepted the delivery"
	case StatusPickedUp:
		return "Package picked up"
	case StatusInTransit:
		return "Package in transit"
	case StatusArriving:
		return "Partner arriving at drop location"
	case StatusDelivered:
		return "Package delivered"
	case StatusCancelled:
		return "Delivery cancelled"
	}
	return string(st)
}

func defaultCancelReason(role ActorRole) string {
	switch role {
	case ActorUser:
		return "Cancelled by user"
	case ActorPartner:
		return "Cancelled by partner"
	case ActorAdmin:
		return "Cancelled by admin"
	}
	return "Cancelled by system"
}

func validateStop(name string, st Stop) error {
	if st.Address == "" {
		return faults.Validation("%s address is required", name)
	}
	if st.Position.Lat == 0 && st.Position.Lng == 0 {
		return faults.Validation("%s coordinates are required", name)
	}
	return nil
}

// isPeakHour reflects the fixed commute windows used for surge pricing.
func isPeakHour(t time.Time) bool {
	h := t.Hour()
	return (h >= 8 && h < 10) || (h >= 17 && h < 20)
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randomCode(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}
