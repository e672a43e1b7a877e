// Package nominatim resolves city names through an OpenStreetMap Nominatim
// search endpoint.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/flightviz/dronepath/internal/core/domain"
)

// DefaultBaseURL is the public Nominatim instance.
const DefaultBaseURL = "https://nominatim.openstreetmap.org"

// Errors returned by Lookup. They wrap the domain geocode errors so callers
// can test for either.
var (
	ErrNotFound    = fmt.Errorf("nominatim: %w", domain.ErrGeocodeNotFound)
	ErrUnavailable = fmt.Errorf("nominatim: %w", domain.ErrGeocodeUnavailable)
)

// Client implements ports.Geocoder. It makes exactly one request per lookup
// and spaces requests out to at most perSecond.
type Client struct {
	http      *fasthttp.Client
	limiter   *rate.Limiter
	baseURL   string
	userAgent string
	timeout   time.Duration
}

// New creates a client. The public instance requires an identifying
// User-Agent and at most one request per second. perSecond <= 0 disables
// the limit.
func New(baseURL, userAgent string, timeout time.Duration, perSecond float64) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:      &fasthttp.Client{MaxConnsPerHost: 4},
		limiter:   rate.NewLimiter(limit(perSecond), 1),
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		timeout:   timeout,
	}
}

type place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Lookup returns the coordinates of the best match for name.
func (c *Client) Lookup(ctx context.Context, name string) (*domain.GeoPoint, error) {
	q := url.Values{}
	q.Set("q", name)
	q.Set("format", "json")
	q.Set("limit", "1")

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + "/search?" + q.Encode())
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.SetUserAgent(c.userAgent)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		return nil, fmt.Errorf("%w: GET /search: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode())
	}

	var places []place
	if err := json.Unmarshal(resp.Body(), &places); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(places) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad latitude %q", ErrUnavailable, places[0].Lat)
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad longitude %q", ErrUnavailable, places[0].Lon)
	}
	return &domain.GeoPoint{Lat: lat, Lon: lon}, nil
}

func limit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}
