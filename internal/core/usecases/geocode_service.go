package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flightviz/dronepath/internal/core/domain"
	"github.com/flightviz/dronepath/internal/core/ports"
	"github.com/flightviz/dronepath/internal/pkg/metrics"
	"github.com/flightviz/dronepath/internal/pkg/telemetry"
)

var tracer = otel.Tracer("github.com/flightviz/dronepath/internal/core/usecases")

// GeocodeService resolves city names, caching answers when a cache is set.
// Upstream failures are returned as-is; nothing is retried.
type GeocodeService struct {
	geocoder ports.Geocoder
	cache    ports.CacheService
	ttl      time.Duration
}

// NewGeocodeService creates a GeocodeService. cache may be nil.
func NewGeocodeService(geocoder ports.Geocoder, cache ports.CacheService, ttl time.Duration) *GeocodeService {
	return &GeocodeService{geocoder: geocoder, cache: cache, ttl: ttl}
}

// GeocodeCacheKey is the cache key used for a city name.
func GeocodeCacheKey(name string) string {
	return "geocode:" + strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Lookup returns the coordinates of the first match for name.
func (s *GeocodeService) Lookup(ctx context.Context, name string) (domain.GeoPoint, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.GeoPoint{}, ErrCityNameRequired
	}

	ctx, span := tracer.Start(ctx, telemetry.SpanGeocodeLookup,
		trace.WithAttributes(attribute.String("geocode.query", name)))
	defer span.End()

	key := GeocodeCacheKey(name)
	if p, ok := s.cached(ctx, key); ok {
		span.SetAttributes(attribute.Bool("geocode.cache_hit", true))
		metrics.GeocodeLookups.WithLabelValues("cache_hit").Inc()
		return p, nil
	}

	start := time.Now()
	p, err := s.geocoder.Lookup(ctx, name)
	metrics.GeocodeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, domain.ErrGeocodeNotFound) {
			metrics.GeocodeLookups.WithLabelValues("not_found").Inc()
		} else {
			metrics.GeocodeLookups.WithLabelValues("unavailable").Inc()
		}
		return domain.GeoPoint{}, err
	}
	metrics.GeocodeLookups.WithLabelValues("found").Inc()

	s.store(ctx, key, *p)
	return *p, nil
}

func (s *GeocodeService) cached(ctx context.Context, key string) (domain.GeoPoint, bool) {
	if s.cache == nil {
		return domain.GeoPoint{}, false
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ports.ErrCacheMiss) {
			slog.Warn("geocode cache read failed", "key", key, "error", err)
		}
		metrics.CacheMisses.WithLabelValues("geocode").Inc()
		return domain.GeoPoint{}, false
	}
	var p domain.GeoPoint
	if err := json.Unmarshal(data, &p); err != nil {
		metrics.CacheMisses.WithLabelValues("geocode").Inc()
		return domain.GeoPoint{}, false
	}
	metrics.CacheHits.WithLabelValues("geocode").Inc()
	return p, true
}

func (s *GeocodeService) store(ctx context.Context, key string, p domain.GeoPoint) {
	if s.cache == nil {
		return
	}
	data, _ := json.Marshal(p)
	if err := s.cache.Set(ctx, key, data, int(s.ttl.Seconds())); err != nil {
		slog.Warn("geocode cache write failed", "key", key, "error", err)
	}
}
