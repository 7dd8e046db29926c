// README: Tariff tables and money policy constants for the marketplace.
package pricing

// VehicleType is the closed vocabulary of fleet types.
type VehicleType string

const (
	VehicleBike  VehicleType = "bike"
	VehicleAuto  VehicleType = "auto"
	VehicleCar   VehicleType = "car"
	VehicleVan   VehicleType = "van"
	VehicleTruck VehicleType = "truck"
)

func ValidVehicleType(v VehicleType) bool {
	switch v {
	case VehicleBike, VehicleAuto, VehicleCar, VehicleVan, VehicleTruck:
		return true
	}
	return false
}

// Rate is the fixed tariff row for one vehicle type.
type Rate struct {
	BaseFare float64
	PerKm    float64
	PerMin   float64
}

// rates is the authoritative tariff table. A tariff change is a one-line diff here.
var rates = map[VehicleType]Rate{
	VehicleBike:  {BaseFare: 30, PerKm: 10, PerMin: 1},
	VehicleAuto:  {BaseFare: 50, PerKm: 15, PerMin: 1.5},
	VehicleCar:   {BaseFare: 80, PerKm: 20, PerMin: 2},
	VehicleVan:   {BaseFare: 120, PerKm: 25, PerMin: 2.5},
	VehicleTruck: {BaseFare: 200, PerKm: 35, PerMin: 3},
}

// Money policy constants. Tests assert on these directly.
const (
	// TaxRate is applied to the full pre-tax subtotal including surge.
	TaxRate = 0.18
	// SurgeRate adds this fraction of (base+distance+time) during peak hours.
	SurgeRate = 0.5
	// MinBidRatio is the floor for customer-proposed prices on custom-bid
	// deliveries, as a fraction of the standard computed total.
	MinBidRatio = 0.7
	// PartnerPayoutRate is the partner's share of the gross on settlement.
	PartnerPayoutRate = 0.8
)

// Fare is the computed breakdown. Component lines stay unrounded; only Total
// is rounded, to the nearest whole currency unit.
type Fare struct {
	BaseFare     float64
	DistanceFare float64
	TimeFare     float64
	SurgeFare    float64
	Tax          float64
	Total        int64
}
