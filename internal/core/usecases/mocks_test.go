package usecases_test

import (
	"context"
	"sync"

	"github.com/flightviz/dronepath/internal/core/domain"
	"github.com/flightviz/dronepath/internal/core/ports"
)

// --- Mock Geocoder ---

type mockGeocoder struct {
	lookupFn func(ctx context.Context, name string) (*domain.GeoPoint, error)
	calls    int
}

func (m *mockGeocoder) Lookup(ctx context.Context, name string) (*domain.GeoPoint, error) {
	m.calls++
	if m.lookupFn != nil {
		return m.lookupFn(ctx, name)
	}
	return nil, domain.ErrGeocodeNotFound
}

// --- Mock CacheService ---

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttl  map[string]int
}

func newMockCache() *mockCache {
	return &mockCache{data: map[string][]byte{}, ttl: map[string]int{}}
}

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ports.ErrCacheMiss
	}
	return v, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttl[key] = ttlSeconds
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// --- Mock RouteRepository ---

type mockRouteRepo struct {
	saveFn func(ctx context.Context, r *domain.Route) error
	loadFn func(ctx context.Context) (*domain.Route, error)
	saved  []*domain.Route
}

func (m *mockRouteRepo) Save(ctx context.Context, r *domain.Route) error {
	m.saved = append(m.saved, r)
	if m.saveFn != nil {
		return m.saveFn(ctx, r)
	}
	return nil
}

func (m *mockRouteRepo) Load(ctx context.Context) (*domain.Route, error) {
	if m.loadFn != nil {
		return m.loadFn(ctx)
	}
	return nil, nil
}

// --- Mock FramePublisher ---

type mockPublisher struct {
	mu     sync.Mutex
	frames []domain.Frame
	events []domain.RouteEvent
}

func (m *mockPublisher) PublishFrame(ctx context.Context, f *domain.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, *f)
	return nil
}

func (m *mockPublisher) PublishRouteEvent(ctx context.Context, e *domain.RouteEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

func (m *mockPublisher) lastFrame() domain.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames[len(m.frames)-1]
}

func boolPtr(b bool) *bool { return &b }
