// README: Delivery store contract; optimistic concurrency via the aggregate version.
package delivery

import (
	"context"

	"droply/internal/types"
)

type Store interface {
	Create(ctx context.Context, d *Delivery) error
	Get(ctx context.Context, id types.ID) (*Delivery, error)
	GetByTrackingCode(ctx context.Context, code string) (*Delivery, error)
	ListByCustomer(ctx context.Context, customerID types.ID) ([]*Delivery, error)

	// ActiveByPartner returns the partner's single active delivery, or
	// faults.ErrNotFound when there is none. Finding more than one is an
	// invariant violation the store reports as an error.
	ActiveByPartner(ctx context.Context, partnerID types.ID) (*Delivery, error)
	HasActiveByPartner(ctx context.Context, partnerID types.ID) (bool, error)

	// Update writes the whole aggregate if its stored version still equals
	// expected, bumping the version by one. Returning false means another
	// writer got there first; the caller re-reads and re-decides.
	Update(ctx context.Context, d *Delivery, expected int) (bool, error)

	// AppendWaypoint grows the route log without touching the aggregate
	// version, so location pings never fail a racing status transition.
	AppendWaypoint(ctx context.Context, id types.ID, wp Waypoint) error
}
