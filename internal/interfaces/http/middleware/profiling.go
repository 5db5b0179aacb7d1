package middleware

import (
	"context"
	"strings"

	"github.com/ecomhub/gateway/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
)

// ProfilingConfig controls which requests get profiling labels.
type ProfilingConfig struct {
	Enabled          bool
	SkipPaths        []string
	SkipPathPrefixes []string
}

func DefaultProfilingConfig() ProfilingConfig {
	return ProfilingConfig{
		Enabled:          true,
		SkipPaths:        []string{"/health", "/healthz", "/ready"},
		SkipPathPrefixes: []string{"/debug"},
	}
}

// Profiling attaches Pyroscope labels with the default configuration.
func Profiling() gin.HandlerFunc {
	return ProfilingWithConfig(DefaultProfilingConfig())
}

// ProfilingWithConfig labels the samples collected while each request
// runs, so profiles can be sliced by handler, route and method. Labels
// use the route pattern rather than the raw path to keep cardinality
// down.
func ProfilingWithConfig(cfg ProfilingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		if skipProfiling(cfg, c.Request.URL.Path) {
			c.Next()
			return
		}

		telemetry.WithProfilingLabels(c.Request.Context(), requestLabels(c), func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}

func skipProfiling(cfg ProfilingConfig, path string) bool {
	for _, skip := range cfg.SkipPaths {
		if path == skip {
			return true
		}
	}
	for _, prefix := range cfg.SkipPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func requestLabels(c *gin.Context) map[string]string {
	labels := make(map[string]string, 3)

	if method := c.Request.Method; method != "" {
		labels[telemetry.ProfilingLabelMethod] = method
	}

	route := c.FullPath()
	if route != "" {
		labels[telemetry.ProfilingLabelRoute] = route
	}
	if handler := handlerNameFromRoute(route); handler != "" {
		labels[telemetry.ProfilingLabelHandler] = handler
	}

	return labels
}

// handlerNameFromRoute picks the resource segment out of a route
// pattern: "/admin/services/:name" names "services", and everything
// under /api/ is the proxy catch-all.
func handlerNameFromRoute(route string) string {
	if route == "" {
		return ""
	}
	if strings.HasPrefix(route, "/api/") {
		return "proxy"
	}

	for _, part := range strings.Split(route, "/") {
		if part == "" || part == "admin" || isVersionSegment(part) {
			continue
		}
		if strings.HasPrefix(part, ":") || strings.HasPrefix(part, "*") {
			continue
		}
		return part
	}
	return ""
}

// isVersionSegment matches v1, v2, ... path segments.
func isVersionSegment(segment string) bool {
	if len(segment) < 2 || (segment[0] != 'v' && segment[0] != 'V') {
		return false
	}
	for i := 1; i < len(segment); i++ {
		if segment[i] < '0' || segment[i] > '9' {
			return false
		}
	}
	return true
}
