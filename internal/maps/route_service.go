// README: Google Maps collaborator; returns distance and duration for a pickup/drop pair.
package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"droply/internal/faults"
	"droply/internal/types"
)

// RouteEstimate is the distance/duration snapshot stored on a delivery quote.
type RouteEstimate struct {
	DistanceKm  float64
	DurationMin float64
	Polyline    string
}

// Estimator is the collaborator interface the delivery module consumes. The
// Google-backed implementation lives here; tests substitute a fixed-value stub.
type Estimator interface {
	Estimate(ctx context.Context, pickup, drop types.Point) (RouteEstimate, error)
}

// RouteService handles interactions with the Google Maps API.
type RouteService struct {
	client *maps.Client
}

// NewRouteService creates a new RouteService with the given API key.
func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// Estimate returns driving distance and duration between two coordinates.
func (s *RouteService) Estimate(ctx context.Context, pickup, drop types.Point) (RouteEstimate, error) {
	r := &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", pickup.Lat, pickup.Lng),
		Destination: fmt.Sprintf("%f,%f", drop.Lat, drop.Lng),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return RouteEstimate{}, faults.External(err, "maps directions")
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return RouteEstimate{}, faults.External(fmt.Errorf("no route between %v and %v", pickup, drop), "maps directions")
	}

	leg := routes[0].Legs[0]
	return RouteEstimate{
		DistanceKm:  float64(leg.Distance.Meters) / 1000.0,
		DurationMin: leg.Duration.Minutes(),
		Polyline:    routes[0].OverviewPolyline.Points,
	}, nil
}

// HaversineEstimator is the fallback used when no maps API key is configured.
// Distance is great-circle; duration assumes a 30 km/h average urban speed.
type HaversineEstimator struct{}

func (HaversineEstimator) Estimate(_ context.Context, pickup, drop types.Point) (RouteEstimate, error) {
	km := types.DistanceKm(pickup, drop)
	return RouteEstimate{DistanceKm: km, DurationMin: km * 2.0}, nil
}
