// README: Pricing engine; pure fare computation, no dependencies.
package pricing

import "math"

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Calculate computes the fare breakdown for a trip. An unknown vehicle type
// silently falls back to the bike tariff; that mirrors the historical billing
// behavior the marketplace launched with.
// TODO: reject unknown vehicle types here once billing confirms no legacy
// clients still send free-form types.
func (s *Service) Calculate(distanceKm, durationMin float64, vehicleType VehicleType, peakHour bool) Fare {
	rate, ok := rates[vehicleType]
	if !ok {
		rate = rates[VehicleBike]
	}

	f := Fare{
		BaseFare:     rate.BaseFare,
		DistanceFare: distanceKm * rate.PerKm,
		TimeFare:     durationMin * rate.PerMin,
	}
	subtotal := f.BaseFare + f.DistanceFare + f.TimeFare
	if peakHour {
		f.SurgeFare = subtotal * SurgeRate
	}
	f.Tax = (subtotal + f.SurgeFare) * TaxRate
	f.Total = int64(math.Round(subtotal + f.SurgeFare + f.Tax))
	return f
}

// MinimumBid returns the lowest acceptable customer-proposed price for a
// custom-bid delivery: 70% of the standard computed total.
func (s *Service) MinimumBid(distanceKm, durationMin float64, vehicleType VehicleType, peakHour bool) int64 {
	std := s.Calculate(distanceKm, durationMin, vehicleType, peakHour)
	return int64(math.Ceil(float64(std.Total) * MinBidRatio))
}

// PartnerPayout returns the partner's 80% share of a gross amount.
func PartnerPayout(gross int64) int64 {
	return int64(math.Round(float64(gross) * PartnerPayoutRate))
}
