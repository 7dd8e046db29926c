// README: Concurrency tests for assignment and bidding (run with -race).
package matching

import (
	"context"
	"errors"
	"sync"
	"testing"

	"droply/internal/modules/delivery"
	"droply/internal/modules/partner"
	"droply/internal/modules/pricing"
	"droply/internal/types"
)

func TestConcurrentAcceptOnlyOneWins(t *testing.T) {
	e := newMatchEnv(t)
	ctx := context.Background()

	type contender struct {
		pid, vid types.ID
	}
	contenders := []contender{}
	for _, name := range []string{"a", "b", "c", "d"} {
		pid, vid := e.onboardPartner(t, name, pricing.VehicleBike, matchPickup.Position)
		contenders = append(contenders, contender{pid, vid})
	}
	d := e.createInstant(t, pricing.VehicleBike)

	var wg sync.WaitGroup
	errs := make(chan error, len(contenders))
	for _, c := range contenders {
		wg.Add(1)
		go func(c contender) {
			defer wg.Done()
			_, err := e.matchSvc.Accept(ctx, AcceptCommand{PartnerID: c.pid, DeliveryID: d.ID, VehicleID: c.vid})
			errs <- err
		}(c)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrNoLongerAvailable) && !errors.Is(err, ErrPartnerBusy) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("successful accepts = %d, want exactly 1", success)
	}

	final, err := e.deliveries.Get(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != delivery.StatusAccepted || final.PartnerID == nil {
		t.Fatalf("final = %s partner %v", final.Status, final.PartnerID)
	}

	// exactly one partner reserved, everyone else released
	busy := 0
	for _, c := range contenders {
		p, err := e.partners.Get(ctx, c.pid)
		if err != nil {
			t.Fatal(err)
		}
		if p.Availability == partner.AvailabilityBusy {
			busy++
			if *final.PartnerID != c.pid {
				t.Errorf("partner %s busy without holding the delivery", c.pid)
			}
		}
	}
	if busy != 1 {
		t.Fatalf("busy partners = %d, want exactly 1", busy)
	}
}

func TestConcurrentDuplicateBidOnlyOneLands(t *testing.T) {
	e := newMatchEnv(t)
	ctx := context.Background()

	pid, _ := e.onboardPartner(t, "rider", pricing.VehicleBike, matchPickup.Position)
	d := e.createCustomBid(t, 100000)

	const attempts = 6
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(price int64) {
			defer wg.Done()
			_, err := e.matchSvc.SubmitBid(ctx, SubmitBidCommand{PartnerID: pid, DeliveryID: d.ID, Price: price})
			errs <- err
		}(int64(90000 + i))
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
		} else if !errors.Is(err, ErrDuplicateBid) && !errors.Is(err, delivery.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("successful bids = %d, want exactly 1", success)
	}

	final, err := e.deliveries.Get(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(final.CustomBid.Bids) != 1 {
		t.Fatalf("stored bids = %d, want 1", len(final.CustomBid.Bids))
	}
}

func TestConcurrentAcceptsSamePartnerHoldOneDelivery(t *testing.T) {
	e := newMatchEnv(t)
	ctx := context.Background()

	pid, vid := e.onboardPartner(t, "solo", pricing.VehicleBike, matchPickup.Position)
	jobs := []*delivery.Delivery{
		e.createInstant(t, pricing.VehicleBike),
		e.createInstant(t, pricing.VehicleBike),
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(jobs))
	for _, d := range jobs {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			_, err := e.matchSvc.Accept(ctx, AcceptCommand{PartnerID: pid, DeliveryID: id, VehicleID: vid})
			errs <- err
		}(d.ID)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrPartnerBusy) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("successful accepts = %d, want exactly 1", success)
	}

	// the partner holds exactly one delivery; the other is still up for grabs
	held, err := e.deliveries.ActiveByPartner(ctx, pid)
	if err != nil {
		t.Fatalf("active by partner: %v", err)
	}
	accepted, searching := 0, 0
	for _, d := range jobs {
		final, err := e.deliveries.Get(ctx, d.ID)
		if err != nil {
			t.Fatal(err)
		}
		switch final.Status {
		case delivery.StatusAccepted:
			accepted++
			if final.ID != held.ID {
				t.Errorf("accepted delivery %s is not the one the partner holds", final.ID)
			}
		case delivery.StatusSearching:
			searching++
			if final.PartnerID != nil {
				t.Errorf("losing delivery %s has a partner assigned", final.ID)
			}
		default:
			t.Errorf("delivery %s in unexpected status %s", final.ID, final.Status)
		}
	}
	if accepted != 1 || searching != 1 {
		t.Fatalf("accepted = %d searching = %d, want 1 and 1", accepted, searching)
	}

	p, err := e.partners.Get(ctx, pid)
	if err != nil {
		t.Fatal(err)
	}
	if p.Availability != partner.AvailabilityBusy {
		t.Errorf("partner availability = %s, want busy", p.Availability)
	}
}
