// README: Partner aggregate: verification, availability, fleet, rating aggregate.
package partner

import (
	"time"

	"droply/internal/modules/pricing"
	"droply/internal/types"
)

type Verification string

const (
	VerificationPending  Verification = "pending"
	VerificationInReview Verification = "in_review"
	VerificationApproved Verification = "approved"
	VerificationRejected Verification = "rejected"
)

type Availability string

const (
	AvailabilityOnline  Availability = "online"
	AvailabilityOffline Availability = "offline"
	// AvailabilityBusy is system-set on assignment, never set directly by the partner.
	AvailabilityBusy Availability = "busy"
)

type Location struct {
	Position  types.Point
	Address   string
	UpdatedAt time.Time
}

type Vehicle struct {
	ID             types.ID
	Type           pricing.VehicleType
	RegistrationNo string
	Verified       bool
	Active         bool
}

type Partner struct {
	ID           types.ID
	Name         string
	Phone        string
	Verification Verification
	Availability Availability
	Location     *Location
	Vehicles     []Vehicle

	// Rating aggregate kept as sum+count so updates are increment-in-place;
	// the mean is derived, never stored.
	RatingSum   int64
	RatingCount int64

	TotalDeliveries int64
	CreatedAt       time.Time
}

// Rating returns the running mean, 0 when unrated.
func (p *Partner) Rating() float64 {
	if p.RatingCount == 0 {
		return 0
	}
	return float64(p.RatingSum) / float64(p.RatingCount)
}

// VehicleByID returns the vehicle and whether it exists on this partner's fleet.
func (p *Partner) VehicleByID(id types.ID) (Vehicle, bool) {
	for _, v := range p.Vehicles {
		if v.ID == id {
			return v, true
		}
	}
	return Vehicle{}, false
}

// HasUsableVehicle reports whether the partner owns a verified, active vehicle
// of the given type.
func (p *Partner) HasUsableVehicle(vt pricing.VehicleType) bool {
	for _, v := range p.Vehicles {
		if v.Type == vt && v.Verified && v.Active {
			return true
		}
	}
	return false
}
