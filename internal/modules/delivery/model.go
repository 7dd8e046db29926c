// README: Delivery aggregate and lifecycle status definitions.
package delivery

import (
	"time"

	"droply/internal/modules/pricing"
	"droply/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSearching Status = "searching"
	StatusAccepted  Status = "accepted"
	StatusPickedUp  Status = "picked_up"
	StatusInTransit Status = "in_transit"
	StatusArriving  Status = "arriving"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// ActiveStatuses are the states in which a delivery occupies its partner.
var ActiveStatuses = []Status{StatusAccepted, StatusPickedUp, StatusInTransit, StatusArriving}

func (s Status) Active() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// AllowedTransitions represents the post-assignment state flow as code.
// Assignment itself (pending/searching → accepted) belongs to the matching
// engine and is deliberately absent here.
var AllowedTransitions = map[Status][]Status{
	StatusAccepted:  {StatusPickedUp, StatusCancelled},
	StatusPickedUp:  {StatusInTransit, StatusCancelled},
	StatusInTransit: {StatusArriving, StatusCancelled},
	StatusArriving:  {StatusDelivered, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

type Type string

const (
	TypeInstant   Type = "instant"
	TypeScheduled Type = "scheduled"
	TypeCustomBid Type = "custom_bid"
	TypeIntercity Type = "intercity"
)

type PaymentMethod string

const (
	PayCash   PaymentMethod = "cash"
	PayCard   PaymentMethod = "card"
	PayUPI    PaymentMethod = "upi"
	PayWallet PaymentMethod = "wallet"
)

func ValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case PayCash, PayCard, PayUPI, PayWallet:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type ActorRole string

const (
	ActorUser    ActorRole = "user"
	ActorPartner ActorRole = "partner"
	ActorAdmin   ActorRole = "admin"
	ActorSystem  ActorRole = "system"
)

type Stop struct {
	Address      string
	Position     types.Point
	ContactName  string
	ContactPhone string
	Instructions string
}

type Package struct {
	Description string
	WeightKg    float64
	Dimensions  string
	Quantity    int
	Fragile     bool
	Category    string
}

// Pricing is the money snapshot taken at creation. TotalPrice is authoritative
// for every downstream money operation and may legally be overwritten by an
// accepted bid price.
type Pricing struct {
	BasePrice      float64
	DistancePrice  float64
	TimePrice      float64
	SurgePrice     float64
	Tax            float64
	Discount       float64
	WaitingCharges float64
	TotalPrice     int64
}

type Payment struct {
	Method        PaymentMethod
	Status        PaymentStatus
	TransactionID string
	PaidAt        *time.Time
}

type TimelineEntry struct {
	Status      Status
	At          time.Time
	Description string
	Location    *types.Point
}

type Waypoint struct {
	Position types.Point
	At       time.Time
}

type Rating struct {
	Value   int
	Comment string
	RatedAt time.Time
}

type RefundStatus string

const (
	RefundNotApplicable RefundStatus = "not_applicable"
	RefundPending       RefundStatus = "pending"
	RefundProcessed     RefundStatus = "processed"
	RefundFailed        RefundStatus = "failed"
)

type Cancellation struct {
	Reason       string
	By           ActorRole
	At           time.Time
	RefundStatus RefundStatus
}

type BidStatus string

const (
	BidOpen      BidStatus = "open"
	BidAccepted  BidStatus = "accepted"
	BidExpired   BidStatus = "expired"
	BidCancelled BidStatus = "cancelled"
)

type Bid struct {
	ID          types.ID
	PartnerID   types.ID
	Price       int64
	PickupETA   time.Duration
	Message     string
	SubmittedAt time.Time
}

// CustomBid is present only on custom-bid deliveries. Bids is append-only with
// at most one entry per partner.
type CustomBid struct {
	ProposedPrice int64
	Bids          []Bid
	ExpiresAt     time.Time
	Status        BidStatus
}

// Open reports whether bidding is possible at the given instant. Expiry is a
// computed predicate, never a background mutation; every read path re-checks it.
func (c *CustomBid) Open(now time.Time) bool {
	return c.Status == BidOpen && now.Before(c.ExpiresAt)
}

func (c *CustomBid) BidByPartner(partnerID types.ID) (Bid, bool) {
	for _, b := range c.Bids {
		if b.PartnerID == partnerID {
			return b, true
		}
	}
	return Bid{}, false
}

func (c *CustomBid) BidByID(id types.ID) (Bid, bool) {
	for _, b := range c.Bids {
		if b.ID == id {
			return b, true
		}
	}
	return Bid{}, false
}

type Delivery struct {
	ID           types.ID
	TrackingCode string
	CustomerID   types.ID
	PartnerID    *types.ID
	VehicleID    *types.ID

	Type        Type
	VehicleType pricing.VehicleType
	Pickup      Stop
	Drop        Stop
	Package     Package
	ScheduledAt *time.Time

	Pricing Pricing
	Payment Payment

	DistanceKm  float64
	DurationMin float64

	Polyline  string
	Waypoints []Waypoint

	Timeline     []TimelineEntry
	Rating       *Rating
	Cancellation *Cancellation
	CustomBid    *CustomBid

	Status  Status
	Version int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Matchable reports whether the delivery can be claimed through direct accept
// at the given instant. A scheduled delivery stays pending until its schedule
// time and becomes claimable the moment it arrives; like bid expiry this is
// computed on read, no background job flips the status.
func (d *Delivery) Matchable(now time.Time) bool {
	switch d.Status {
	case StatusSearching:
		return true
	case StatusPending:
		return d.Type == TypeScheduled && d.ScheduledAt != nil && !now.Before(*d.ScheduledAt)
	}
	return false
}
