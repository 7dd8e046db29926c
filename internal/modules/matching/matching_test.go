// README: Matching engine tests: nearby listing, accept, and the bid marketplace.
package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"droply/internal/faults"
	"droply/internal/maps"
	"droply/internal/modules/delivery"
	"droply/internal/modules/partner"
	"droply/internal/modules/pricing"
	"droply/internal/modules/settlement"
	"droply/internal/types"
)

// downtown pickup and a drop a few hundred meters away so fares stay tiny and
// proposed bid prices in tests clear the floor comfortably
var (
	matchPickup = delivery.Stop{Address: "12 MG Road", Position: types.Point{Lat: 12.9716, Lng: 77.5946}, ContactName: "Asha"}
	matchDrop   = delivery.Stop{Address: "18 Church Street", Position: types.Point{Lat: 12.9753, Lng: 77.6044}, ContactName: "Ravi"}
)

type matchEnv struct {
	deliveries  *delivery.MemoryStore
	partners    *partner.MemoryStore
	geo         *MemoryGeoStore
	deliverySvc *delivery.Service
	partnerSvc  *partner.Service
	matchSvc    *Service
	settleSvc   *settlement.Service
}

func newMatchEnv(t *testing.T) *matchEnv {
	t.Helper()
	e := &matchEnv{
		deliveries: delivery.NewMemoryStore(),
		partners:   partner.NewMemoryStore(),
		geo:        NewMemoryGeoStore(),
	}
	pricingSvc := pricing.NewService()
	e.deliverySvc = delivery.NewService(e.deliveries, e.partners, pricingSvc, maps.HaversineEstimator{}, nil)
	e.matchSvc = NewService(e.deliveries, e.partners, e.geo, nil)
	e.partnerSvc = partner.NewService(e.partners, e.geo, e.deliverySvc, e.deliverySvc)
	e.settleSvc = settlement.NewService(settlement.NewMemoryStore(), e.deliveries, nil)
	e.deliverySvc.SetSettler(e.settleSvc)
	e.deliverySvc.SetRequestIndex(e.matchSvc)
	return e
}

// onboardPartner walks a partner through the whole funnel: register, approve,
// add and verify a vehicle, publish a location, go online.
func (e *matchEnv) onboardPartner(t *testing.T, name string, vt pricing.VehicleType, pos types.Point) (types.ID, types.ID) {
	t.Helper()
	ctx := context.Background()
	p, err := e.partnerSvc.Register(ctx, partner.RegisterCommand{Name: name, Phone: "900000001"})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	if err := e.partnerSvc.Approve(ctx, p.ID); err != nil {
		t.Fatalf("approve %s: %v", name, err)
	}
	v, err := e.partnerSvc.AddVehicle(ctx, partner.AddVehicleCommand{PartnerID: p.ID, Type: vt, RegistrationNo: "KA-" + name})
	if err != nil {
		t.Fatalf("add vehicle for %s: %v", name, err)
	}
	if err := e.partnerSvc.VerifyVehicle(ctx, p.ID, v.ID); err != nil {
		t.Fatalf("verify vehicle for %s: %v", name, err)
	}
	if err := e.partnerSvc.UpdateLocation(ctx, partner.LocationUpdate{PartnerID: p.ID, Position: pos}); err != nil {
		t.Fatalf("locate %s: %v", name, err)
	}
	if err := e.partnerSvc.GoOnline(ctx, p.ID); err != nil {
		t.Fatalf("go online %s: %v", name, err)
	}
	return p.ID, v.ID
}

func (e *matchEnv) createInstant(t *testing.T, vt pricing.VehicleType) *delivery.Delivery {
	t.Helper()
	d, err := e.deliverySvc.Create(context.Background(), delivery.CreateCommand{
		CustomerID:  "cust-1",
		Type:        delivery.TypeInstant,
		VehicleType: vt,
		Pickup:      matchPickup,
		Drop:        matchDrop,
		Method:      delivery.PayUPI,
	})
	if err != nil {
		t.Fatalf("create instant delivery: %v", err)
	}
	return d
}

func (e *matchEnv) createCustomBid(t *testing.T, proposed int64) *delivery.Delivery {
	t.Helper()
	d, err := e.deliverySvc.Create(context.Background(), delivery.CreateCommand{
		CustomerID:    "cust-1",
		Type:          delivery.TypeCustomBid,
		VehicleType:   pricing.VehicleBike,
		Pickup:        matchPickup,
		Drop:          matchDrop,
		ProposedPrice: proposed,
	})
	if err != nil {
		t.Fatalf("create custom-bid delivery: %v", err)
	}
	return d
}

func TestListNearbyEligibility(t *testing.T) {
	e := newMatchEnv(t)
	ctx := context.Background()

	// unapproved partner
	raw, err := e.partnerSvc.Register(ctx, partner.RegisterCommand{Name: "raw"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.matchSvc.ListNearby(ctx, raw.ID); !errors.Is(err, partner.ErrNotApproved) {
		t.Errorf("unapproved: got %v", err)
	}

	// approved but offline
	if err := e.partnerSvc.Approve(ctx, raw.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.matchSvc.ListNearby(ctx, raw.ID); !errors.Is(err, partner.ErrNotOnline) {
		t.Errorf("offline: got %v", err)
	}

	// online with no verified vehicle
	if err := e.partnerSvc.UpdateLocation(ctx, partner.LocationUpdate{PartnerID: raw.ID, Position: matchPickup.Position}); err != nil {
		t.Fatal(err)
	}
	if err := e.partnerSvc.GoOnline(ctx, raw.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.matchSvc.ListNearby(ctx, raw.ID); !errors.Is(err, faults.ErrStateConflict) {
		t.Errorf("no usable vehicle: got %v", err)
	}

	pid, _ := e.onboardPartner(t, "rider", pricing.VehicleBike, matchPickup.Position)

	near := e.createInstant(t, pricing.VehicleBike)
	vanJob := e.createInstant(t, pricing.VehicleVan)

	// a searching delivery well outside the 5km radius
	far, err := e.deliverySvc.Create(ctx, delivery.CreateCommand{
		CustomerID:  "cust-2",
		Type:        delivery.TypeInstant,
		VehicleType: pricing.VehicleBike,
		Pickup:      delivery.Stop{Address: "Airport", Position: types.Point{Lat: 13.1986, Lng: 77.7066}},
		Drop:        delivery.Stop{Address: "Hotel", Position: types.Point{Lat: 13.19, Lng: 77.70}},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := e.matchSvc.ListNearby(ctx, pid)
	if err != nil {
		t.Fatalf("list nearby: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("nearby = %d requests, want 1", len(got))
	}
	if got[0].Delivery.ID != near.ID {
		t.Errorf("nearby[0] = %s, want %s", got[0].Delivery.ID, near.ID)
	}
	for _, r := range got {
		if r.Delivery.ID == vanJob.ID {
			t.Error("van request offered to a bike partner")
		}
		if r.Delivery.ID == far.ID {
			t.Error("out-of-radius request offered")
		}
	}
}

func TestAcceptHappyPath(t *testing.T) {
	e := newMatchEnv(t)
	ctx := context.Background()

	pid, vid := e.onboardPartner(t, "rider", pricing.VehicleBike, matchPickup.Position)
	d := e.createInstant(t, pricing.VehicleBike)

	got, err := e.matchSvc.Accept(ctx, AcceptCommand{PartnerID: pid, DeliveryID: d.ID, VehicleID: vid})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != delivery.StatusAccepted {
		t.Fatalf("status = %s", got.Status)
	}
	if got.PartnerID == nil || *got.PartnerID != pid {
		t.Errorf("partner id = %v", got.PartnerID)
	}
	if got.VehicleID == nil || *got.VehicleID != vid {
		t.Errorf("vehicle id = %v", got.VehicleID)
	}

	p, _ := e.partners.Get(ctx, pid)
	if p.Availability != partner.AvailabilityBusy {
		t.Errorf("partner availability = %s, want busy", p.Availability)
	}

	ids, err := e.geo.NearbyRequests(ctx, matchPickup.Position, SearchRadiusKm, MaxNearbyResults)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("geo index still lists %v after accept", ids)
	}
}

func TestAcceptGuards(t *testing.T) {
	e := newMatchEnv(t)
	ctx := context.Background()

	pid, vid := e.onboardPartner(t, "rider", pricing.VehicleBike, matchPickup.Position)
	other, otherVid := e.onboardPartner(t, "second", pricing.VehicleBike, matchPickup.Position)

	bidJob := e.createCustomBid(t, 100000)
	if _, err := e.matchSvc.Accept(ctx, AcceptCommand{PartnerID: pid, DeliveryID: bidJob.ID, VehicleID: vid}); !errors.Is(err, faults.ErrStateConflict) {
		t.Errorf("direct accept of custom-bid delivery: got %v", err)
	}

	vanJob := e.createInstant(t, pricing.VehicleVan)
	if _, err := e.matchSvc.Accept(ctx, AcceptCommand{PartnerID: pid, DeliveryID: vanJob.ID, VehicleID: vid}); !errors.Is(err, ErrVehicleMismatch) {
		t.Errorf("bike vehicle on a van request: got %v", err)
	}

	d := e.createInstant(t, pricing.VehicleBike)
	if _, err := e.matchSvc.Accept(ctx, AcceptCommand{PartnerID: pid, DeliveryID: d.ID, VehicleID: otherVid}); !errors.Is(err, faults.ErrValidation) {
		t.Errorf("foreign vehicle id: got %v", err)
	}

	if _, err := e.matchSvc.Accept(ctx, AcceptCommand{PartnerID: pid, DeliveryID: d.ID, VehicleID: vid}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.matchSvc.Accept(ctx, AcceptCommand{PartnerID: other, DeliveryID: d.ID, VehicleID: otherVid}); !errors.Is(err, ErrNoLongerAvailable) {
		t.Errorf("second accept: got %v", err)
	}

	// the busy partner cannot grab another job
	second := e.createInstant(t, pricing.VehicleBike)
	if _, err := e.matchSvc.Accept(ctx, AcceptCommand{PartnerID: pid, DeliveryID: second.ID, VehicleID: vid}); !errors.Is(err, ErrPartnerBusy) {
		t.Errorf("busy partner accept: got %v", err)
	}
}

func TestSubmitBidFlow(t *testing.T) {
	e := newMatchEnv(t)
	ctx := context.Background()

	pid, _ := e.onboardPartner(t, "rider", pricing.VehicleBike, matchPickup.Position)
	d := e.createCustomBid(t, 100000)

	if _, err := e.matchSvc.SubmitBid(ctx, SubmitBidCommand{PartnerID: pid, DeliveryID: d.ID, Price: 0}); !errors.Is(err, faults.ErrValidation) {
		t.Errorf("zero price: got %v", err)
	}

	instant := e.createInstant(t, pricing.VehicleBike)
	if _, err := e.matchSvc.SubmitBid(ctx, SubmitBidCommand{PartnerID: pid, DeliveryID: instant.ID, Price: 900}); !errors.Is(err, faults.ErrValidation) {
		t.Errorf("bid on an instant delivery: got %v", err)
	}

	raw, err := e.partnerSvc.Register(ctx, partner.RegisterCommand{Name: "raw"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.matchSvc.SubmitBid(ctx, SubmitBidCommand{PartnerID: raw.ID, DeliveryID: d.ID, Price: 900}); !errors.Is(err, partner.ErrNotApproved) {
		t.Errorf("unapproved bidder: got %v", err)
	}

	bid, err := e.matchSvc.SubmitBid(ctx, SubmitBidCommand{
		PartnerID: pid, DeliveryID: d.ID, Price: 90000,
		PickupETA: 10 * time.Minute, Message: "nearby",
	})
	if err != nil {
		t.Fatalf("submit bid: %v", err)
	}
	if bid.Price != 90000 {
		t.Errorf("bid price = %d", bid.Price)
	}

	if _, err := e.matchSvc.SubmitBid(ctx, SubmitBidCommand{PartnerID: pid, DeliveryID: d.ID, Price: 85000}); !errors.Is(err, ErrDuplicateBid) {
		t.Errorf("second bid by same partner: got %v", err)
	}

	cur, _ := e.deliveries.Get(ctx, d.ID)
	if len(cur.CustomBid.Bids) != 1 {
		t.Errorf("stored bids = %d, want 1", len(cur.CustomBid.Bids))
	}
}

func TestBidWindowExpiry(t *testing.T) {
	e := newMatchEnv(t)
	ctx := context.Background()

	pid, _ := e.onboardPartner(t, "rider", pricing.VehicleBike, matchPickup.Position)
	d := e.createCustomBid(t, 100000)

	bid, err := e.matchSvc.SubmitBid(ctx, SubmitBidCommand{PartnerID: pid, DeliveryID: d.ID, Price: 90000})
	if err != nil {
		t.Fatalf("submit bid: %v", err)
	}

	// jump past the 24h window; expiry is computed, nothing is mutated
	e.matchSvc.now = func() time.Time { return time.Now().Add(delivery.BidWindow + time.Hour) }

	if _, err := e.matchSvc.SubmitBid(ctx, SubmitBidCommand{PartnerID: pid, DeliveryID: d.ID, Price: 80000}); !errors.Is(err, ErrBidWindowClosed) {
		t.Errorf("late bid: got %v", err)
	}
	if _, err := e.matchSvc.AcceptBid(ctx, AcceptBidCommand{CustomerID: "cust-1", DeliveryID: d.ID, BidID: bid.ID, Method: delivery.PayCard}); !errors.Is(err, ErrBidWindowClosed) {
		t.Errorf("late accept: got %v", err)
	}
}

func TestAcceptBidGuards(t *testing.T) {
	e := newMatchEnv(t)
	ctx := context.Background()

	pid, _ := e.onboardPartner(t, "rider", pricing.VehicleBike, matchPickup.Position)
	d := e.createCustomBid(t, 100000)
	bid, err := e.matchSvc.SubmitBid(ctx, SubmitBidCommand{PartnerID: pid, DeliveryID: d.ID, Price: 90000})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.matchSvc.AcceptBid(ctx, AcceptBidCommand{CustomerID: "cust-9", DeliveryID: d.ID, BidID: bid.ID, Method: delivery.PayCard}); !errors.Is(err, faults.ErrAuthorization) {
		t.Errorf("foreign customer: got %v", err)
	}
	if _, err := e.matchSvc.AcceptBid(ctx, AcceptBidCommand{CustomerID: "cust-1", DeliveryID: d.ID, BidID: "nope", Method: delivery.PayCard}); !errors.Is(err, ErrBidNotFound) {
		t.Errorf("unknown bid: got %v", err)
	}
	if _, err := e.matchSvc.AcceptBid(ctx, AcceptBidCommand{CustomerID: "cust-1", DeliveryID: d.ID, BidID: bid.ID, Method: "barter"}); !errors.Is(err, faults.ErrValidation) {
		t.Errorf("bad method: got %v", err)
	}

	// bidder went offline before the customer decided
	if err := e.partnerSvc.GoOffline(ctx, pid); err != nil {
		t.Fatal(err)
	}
	if _, err := e.matchSvc.AcceptBid(ctx, AcceptBidCommand{CustomerID: "cust-1", DeliveryID: d.ID, BidID: bid.ID, Method: delivery.PayCard}); !errors.Is(err, faults.ErrStateConflict) {
		t.Errorf("offline bidder: got %v", err)
	}
}

// TestCustomBidMarketplaceEndToEnd walks the whole marketplace flow: propose,
// collect competing bids, accept the cheaper one, run the delivery to done,
// settle, and rate.
func TestCustomBidMarketplaceEndToEnd(t *testing.T) {
	e := newMatchEnv(t)
	ctx := context.Background()

	quick, _ := e.onboardPartner(t, "quick", pricing.VehicleBike, matchPickup.Position)
	cheap, _ := e.onboardPartner(t, "cheap", pricing.VehicleBike, matchPickup.Position)

	d := e.createCustomBid(t, 1000)

	if _, err := e.matchSvc.SubmitBid(ctx, SubmitBidCommand{PartnerID: quick, DeliveryID: d.ID, Price: 950, PickupETA: 5 * time.Minute}); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	cheapBid, err := e.matchSvc.SubmitBid(ctx, SubmitBidCommand{PartnerID: cheap, DeliveryID: d.ID, Price: 900, PickupETA: 12 * time.Minute})
	if err != nil {
		t.Fatalf("second bid: %v", err)
	}

	accepted, err := e.matchSvc.AcceptBid(ctx, AcceptBidCommand{
		CustomerID: "cust-1", DeliveryID: d.ID, BidID: cheapBid.ID, Method: delivery.PayUPI,
	})
	if err != nil {
		t.Fatalf("accept bid: %v", err)
	}
	if accepted.Status != delivery.StatusAccepted {
		t.Fatalf("status = %s", accepted.Status)
	}
	if accepted.Pricing.TotalPrice != 900 {
		t.Errorf("total price = %d, want the accepted bid 900", accepted.Pricing.TotalPrice)
	}
	if accepted.CustomBid.Status != delivery.BidAccepted {
		t.Errorf("bid status = %s", accepted.CustomBid.Status)
	}
	if accepted.PartnerID == nil || *accepted.PartnerID != cheap {
		t.Errorf("assigned partner = %v, want %s", accepted.PartnerID, cheap)
	}

	// losing bidder stays free; winner is reserved
	if p, _ := e.partners.Get(ctx, quick); p.Availability != partner.AvailabilityOnline {
		t.Errorf("losing bidder availability = %s", p.Availability)
	}
	if p, _ := e.partners.Get(ctx, cheap); p.Availability != partner.AvailabilityBusy {
		t.Errorf("winning bidder availability = %s", p.Availability)
	}

	for _, st := range []delivery.Status{delivery.StatusPickedUp, delivery.StatusInTransit, delivery.StatusArriving, delivery.StatusDelivered} {
		if _, err := e.deliverySvc.UpdateStatus(ctx, delivery.UpdateStatusCommand{DeliveryID: d.ID, PartnerID: cheap, NewStatus: st}); err != nil {
			t.Fatalf("to %s: %v", st, err)
		}
	}

	payments, err := e.settleSvc.ListByDelivery(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(payments) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(payments))
	}
	if payments[0].Amount != 900 {
		t.Errorf("settled amount = %d, want 900", payments[0].Amount)
	}
	if payments[0].Payout.Amount != 720 {
		t.Errorf("payout = %d, want 720", payments[0].Payout.Amount)
	}

	p, _ := e.partners.Get(ctx, cheap)
	if p.Availability != partner.AvailabilityOnline {
		t.Errorf("partner availability after delivery = %s", p.Availability)
	}
	if p.TotalDeliveries != 1 {
		t.Errorf("total deliveries = %d", p.TotalDeliveries)
	}

	if _, err := e.deliverySvc.Rate(ctx, delivery.RateCommand{DeliveryID: d.ID, CustomerID: "cust-1", Value: 5}); err != nil {
		t.Fatalf("rate: %v", err)
	}
	p, _ = e.partners.Get(ctx, cheap)
	if p.Rating() != 5 {
		t.Errorf("partner rating = %v, want 5", p.Rating())
	}
}

func TestScheduledDeliveryClaimableAtItsTime(t *testing.T) {
	e := newMatchEnv(t)
	ctx := context.Background()

	pid, vid := e.onboardPartner(t, "early", pricing.VehicleBike, matchPickup.Position)

	at := time.Now().Add(2 * time.Hour)
	d, err := e.deliverySvc.Create(ctx, delivery.CreateCommand{
		CustomerID:  "cust-1",
		Type:        delivery.TypeScheduled,
		VehicleType: pricing.VehicleBike,
		Pickup:      matchPickup,
		Drop:        matchDrop,
		Method:      delivery.PayUPI,
		ScheduledAt: &at,
	})
	if err != nil {
		t.Fatalf("create scheduled delivery: %v", err)
	}
	if d.Status != delivery.StatusPending {
		t.Fatalf("status = %s, want %s", d.Status, delivery.StatusPending)
	}

	// ahead of the schedule time the request is invisible and unclaimable
	reqs, err := e.matchSvc.ListNearby(ctx, pid)
	if err != nil {
		t.Fatalf("list nearby: %v", err)
	}
	if len(reqs) != 0 {
		t.Fatalf("early nearby requests = %d, want 0", len(reqs))
	}
	if _, err := e.matchSvc.Accept(ctx, AcceptCommand{PartnerID: pid, DeliveryID: d.ID, VehicleID: vid}); !errors.Is(err, ErrNoLongerAvailable) {
		t.Fatalf("early accept: got %v, want %v", err, ErrNoLongerAvailable)
	}

	// once the schedule time passes the pending delivery surfaces as-is
	e.matchSvc.now = func() time.Time { return at.Add(time.Minute) }

	reqs, err = e.matchSvc.ListNearby(ctx, pid)
	if err != nil {
		t.Fatalf("list nearby: %v", err)
	}
	if len(reqs) != 1 || reqs[0].Delivery.ID != d.ID {
		t.Fatalf("due nearby requests = %d, want the scheduled delivery", len(reqs))
	}

	got, err := e.matchSvc.Accept(ctx, AcceptCommand{PartnerID: pid, DeliveryID: d.ID, VehicleID: vid})
	if err != nil {
		t.Fatalf("accept due scheduled: %v", err)
	}
	if got.Status != delivery.StatusAccepted {
		t.Fatalf("status = %s, want %s", got.Status, delivery.StatusAccepted)
	}
	p, _ := e.partners.Get(ctx, pid)
	if p.Availability != partner.AvailabilityBusy {
		t.Errorf("partner availability = %s, want busy", p.Availability)
	}
	ids, err := e.geo.NearbyRequests(ctx, matchPickup.Position, SearchRadiusKm, MaxNearbyResults)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("request still indexed after accept: %v", ids)
	}
}
