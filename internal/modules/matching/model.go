// README: Matching constants and result shapes.
package matching

import (
	"droply/internal/modules/delivery"
)

const (
	// SearchRadiusKm bounds how far from the pickup point a partner can be
	// and still see the request.
	SearchRadiusKm = 5.0
	// MaxNearbyResults caps the nearby-request listing, nearest first.
	MaxNearbyResults = 10
)

// NearbyRequest is one searching delivery visible to a partner, with the
// distance from the partner's current position.
type NearbyRequest struct {
	Delivery   *delivery.Delivery
	DistanceKm float64
}
