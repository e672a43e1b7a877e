package ports

import (
	"context"
	"errors"

	"github.com/flightviz/dronepath/internal/core/domain"
)

// FramePublisher fans playback frames and route events out to renderers.
type FramePublisher interface {
	PublishFrame(ctx context.Context, frame *domain.Frame) error
	PublishRouteEvent(ctx context.Context, event *domain.RouteEvent) error
}

// FrameSubscriber delivers encoded frames to a consumer until the returned
// cancel function is called.
type FrameSubscriber interface {
	SubscribeFrames(handler func(data []byte)) (cancel func(), err error)
}

// Geocoder resolves a place name to coordinates.
type Geocoder interface {
	Lookup(ctx context.Context, name string) (*domain.GeoPoint, error)
}

// ErrCacheMiss is returned by CacheService.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
