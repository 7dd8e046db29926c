// README: Geo stores backed by Redis GEO, with an in-memory twin for tests.
package matching

import (
	"context"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"droply/internal/types"
)

const (
	partnerGeoKey = "matching:partners"
	requestGeoKey = "matching:requests"
)

// GeoStore indexes partner positions and open request pickup points for
// proximity search.
type GeoStore interface {
	Upsert(ctx context.Context, id types.ID, pos types.Point) error
	Remove(ctx context.Context, id types.ID) error
	AddRequest(ctx context.Context, id types.ID, pickup types.Point) error
	RemoveRequest(ctx context.Context, id types.ID) error
	// NearbyRequests returns request ids within radiusKm of pos, nearest
	// first, at most limit.
	NearbyRequests(ctx context.Context, pos types.Point, radiusKm float64, limit int) ([]types.ID, error)
}

type RedisGeoStore struct {
	redis *redis.Client
}

func NewRedisGeoStore(r *redis.Client) *RedisGeoStore {
	return &RedisGeoStore{redis: r}
}

func (s *RedisGeoStore) Upsert(ctx context.Context, id types.ID, pos types.Point) error {
	return s.redis.GeoAdd(ctx, partnerGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: pos.Lng,
		Latitude:  pos.Lat,
	}).Err()
}

func (s *RedisGeoStore) Remove(ctx context.Context, id types.ID) error {
	return s.redis.ZRem(ctx, partnerGeoKey, string(id)).Err()
}

func (s *RedisGeoStore) AddRequest(ctx context.Context, id types.ID, pickup types.Point) error {
	return s.redis.GeoAdd(ctx, requestGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: pickup.Lng,
		Latitude:  pickup.Lat,
	}).Err()
}

func (s *RedisGeoStore) RemoveRequest(ctx context.Context, id types.ID) error {
	return s.redis.ZRem(ctx, requestGeoKey, string(id)).Err()
}

func (s *RedisGeoStore) NearbyRequests(ctx context.Context, pos types.Point, radiusKm float64, limit int) ([]types.ID, error) {
	results, err := s.redis.GeoSearch(ctx, requestGeoKey, &redis.GeoSearchQuery{
		Longitude:  pos.Lng,
		Latitude:   pos.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
		Count:      limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}

// MemoryGeoStore keeps positions in maps and scans with haversine distance.
type MemoryGeoStore struct {
	mu       sync.RWMutex
	partners map[types.ID]types.Point
	requests map[types.ID]types.Point
}

func NewMemoryGeoStore() *MemoryGeoStore {
	return &MemoryGeoStore{
		partners: make(map[types.ID]types.Point),
		requests: make(map[types.ID]types.Point),
	}
}

func (s *MemoryGeoStore) Upsert(ctx context.Context, id types.ID, pos types.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partners[id] = pos
	return nil
}

func (s *MemoryGeoStore) Remove(ctx context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partners, id)
	return nil
}

func (s *MemoryGeoStore) AddRequest(ctx context.Context, id types.ID, pickup types.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[id] = pickup
	return nil
}

func (s *MemoryGeoStore) RemoveRequest(ctx context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, id)
	return nil
}

func (s *MemoryGeoStore) NearbyRequests(ctx context.Context, pos types.Point, radiusKm float64, limit int) ([]types.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type hit struct {
		id types.ID
		km float64
	}
	var hits []hit
	for id, p := range s.requests {
		if km := types.DistanceKm(pos, p); km <= radiusKm {
			hits = append(hits, hit{id, km})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].km < hits[j].km })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}
