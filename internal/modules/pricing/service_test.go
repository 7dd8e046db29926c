package pricing

import (
	"math"
	"testing"
)

func TestCalculateOffPeak(t *testing.T) {
	svc := NewService()

	got := svc.Calculate(10, 20, VehicleCar, false)

	if got.BaseFare != 80 {
		t.Errorf("base fare = %v, want 80", got.BaseFare)
	}
	if got.DistanceFare != 200 {
		t.Errorf("distance fare = %v, want 200", got.DistanceFare)
	}
	if got.TimeFare != 40 {
		t.Errorf("time fare = %v, want 40", got.TimeFare)
	}
	if got.SurgeFare != 0 {
		t.Errorf("surge fare = %v, want 0", got.SurgeFare)
	}
	if math.Abs(got.Tax-57.6) > 1e-9 {
		t.Errorf("tax = %v, want 57.6", got.Tax)
	}
	if got.Total != 378 {
		t.Errorf("total = %v, want 378", got.Total)
	}
}

func TestCalculatePeakSurge(t *testing.T) {
	svc := NewService()

	got := svc.Calculate(10, 20, VehicleCar, true)

	if got.SurgeFare != 160 {
		t.Errorf("surge fare = %v, want 160", got.SurgeFare)
	}
	if math.Abs(got.Tax-86.4) > 1e-9 {
		t.Errorf("tax = %v, want 86.4", got.Tax)
	}
	if got.Total != 566 {
		t.Errorf("total = %v, want 566", got.Total)
	}
}

func TestCalculateUnknownVehicleFallsBackToBike(t *testing.T) {
	svc := NewService()

	unknown := svc.Calculate(5, 10, VehicleType("rickshaw"), false)
	bike := svc.Calculate(5, 10, VehicleBike, false)

	if unknown != bike {
		t.Errorf("unknown vehicle fare = %+v, want bike fare %+v", unknown, bike)
	}
}

func TestCalculateVehicleTiers(t *testing.T) {
	svc := NewService()

	cases := []struct {
		vt        VehicleType
		wantTotal int64
	}{
		// subtotal = base + 10*perKm + 20*perMin, then 18% tax, round at the end
		{VehicleBike, int64(math.Round((30 + 100 + 20) * 1.18))},
		{VehicleAuto, int64(math.Round((50 + 150 + 30) * 1.18))},
		{VehicleCar, 378},
		{VehicleVan, int64(math.Round((120 + 250 + 50) * 1.18))},
		{VehicleTruck, int64(math.Round((200 + 350 + 60) * 1.18))},
	}
	for _, tc := range cases {
		got := svc.Calculate(10, 20, tc.vt, false)
		if got.Total != tc.wantTotal {
			t.Errorf("%s total = %d, want %d", tc.vt, got.Total, tc.wantTotal)
		}
	}
}

func TestMinimumBid(t *testing.T) {
	svc := NewService()

	std := svc.Calculate(10, 20, VehicleCar, false)
	floor := svc.MinimumBid(10, 20, VehicleCar, false)

	want := int64(math.Ceil(float64(std.Total) * MinBidRatio))
	if floor != want {
		t.Errorf("minimum bid = %d, want %d", floor, want)
	}
	if floor >= std.Total {
		t.Errorf("minimum bid %d should be below the standard total %d", floor, std.Total)
	}
}

func TestPartnerPayout(t *testing.T) {
	if got := PartnerPayout(900); got != 720 {
		t.Errorf("payout of 900 = %d, want 720", got)
	}
	if got := PartnerPayout(1000); got != 800 {
		t.Errorf("payout of 1000 = %d, want 800", got)
	}
}
