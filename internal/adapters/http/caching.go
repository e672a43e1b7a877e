package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// cacheRule assigns a Cache-Control value to GET paths it matches.
type cacheRule struct {
	match func(path string) bool
	value string
}

func prefix(p string) func(string) bool {
	return func(path string) bool { return strings.HasPrefix(path, p) }
}

func exact(paths ...string) func(string) bool {
	return func(path string) bool {
		for _, p := range paths {
			if path == p {
				return true
			}
		}
		return false
	}
}

// cacheRules are tried in order; the first match wins.
var cacheRules = []cacheRule{
	{exact("/v1/health", "/v1/ready"), "public, max-age=10"},
	{exact("/metrics"), "no-cache"},
	{prefix("/v1/simulation"), "no-store"}, // changes every frame
	{prefix("/v1/position"), "no-store"},
	{prefix("/v1/route"), "no-cache"}, // revalidate with ETag
	{prefix("/docs"), "public, max-age=3600"},
	{prefix("/v1/"), "no-cache"},
	{exact("/ws", "/graphql"), ""},
	{prefix("/"), "public, max-age=300"}, // player page
}

// CacheControlFor returns the default Cache-Control for a GET of path.
func CacheControlFor(path string) string {
	for _, r := range cacheRules {
		if r.match(path) {
			return r.value
		}
	}
	return ""
}

// CachingMiddleware sets a default Cache-Control on GET responses that the
// handler left without one.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		if c.Method() != fiber.MethodGet || c.GetRespHeader(fiber.HeaderCacheControl) != "" {
			return err
		}
		if v := CacheControlFor(c.Path()); v != "" {
			c.Set(fiber.HeaderCacheControl, v)
		}
		return err
	}
}
