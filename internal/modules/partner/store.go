// README: Partner store contract; implemented by Postgres and the in-memory store.
package partner

import (
	"context"

	"droply/internal/types"
)

type Store interface {
	Create(ctx context.Context, p *Partner) error
	Get(ctx context.Context, id types.ID) (*Partner, error)

	// SetAvailability flips availability only when the current value still
	// matches from. Returning false means the partner was concurrently moved
	// to another state; callers treat that as losing the race.
	SetAvailability(ctx context.Context, id types.ID, from, to Availability) (bool, error)

	SetVerification(ctx context.Context, id types.ID, v Verification) error
	SetLocation(ctx context.Context, id types.ID, loc Location) error

	// AddVehicle enforces global uniqueness of the registration number.
	AddVehicle(ctx context.Context, partnerID types.ID, v Vehicle) error

	VerifyVehicle(ctx context.Context, partnerID, vehicleID types.ID) error

	// ApplyRating folds one rating into the aggregate as a single increment,
	// safe under concurrent submissions for the same partner.
	ApplyRating(ctx context.Context, id types.ID, rating int) error

	IncrementDeliveries(ctx context.Context, id types.ID) error
}
