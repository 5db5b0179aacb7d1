package telemetry

import (
	"context"
	"maps"
	"runtime/pprof"
	"slices"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// Label keys attached to profiles.
const (
	ProfilingLabelHandler   = "handler"
	ProfilingLabelRoute     = "route"
	ProfilingLabelMethod    = "method"
	ProfilingLabelService   = "service"
	ProfilingLabelOperation = "operation"
	// ProfilingLabelRegion marks code regions such as "db_query" or
	// "upstream_call".
	ProfilingLabelRegion = "region"
)

// MaxLabelValueLength caps label values so a runaway value cannot blow
// up series cardinality.
const MaxLabelValueLength = 128

// HighCardinalityLabels are dropped by sanitizeLabels to keep
// Pyroscope memory bounded. Service names and API versions are low
// cardinality and deliberately not listed.
var HighCardinalityLabels = map[string]bool{
	"request_id":     true,
	"trace_id":       true,
	"span_id":        true,
	"correlation_id": true,
	"aggregate_id":   true,
	"workflow_id":    true,
	"saga_id":        true,
}

// WithProfilingLabels runs fn with the labels attached, so samples
// collected inside can be sliced by them in the Pyroscope UI. The map
// is copied; callers may reuse it afterwards.
//
//	telemetry.WithProfilingLabels(ctx, map[string]string{
//	    "service":   "orders",
//	    "operation": "forward",
//	}, func(c context.Context) {
//	    forwardRequest(c)
//	})
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	pairs := copyAndSanitize(labels)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

// WithPprofLabels does the same through Go's native pprof API, for
// when compatibility with standard profiling tools matters. Both paths
// produce identical label behavior.
func WithPprofLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	pairs := copyAndSanitize(labels)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pprof.Do(ctx, pprof.Labels(pairs...), fn)
}

func copyAndSanitize(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}
	cp := make(map[string]string, len(labels))
	maps.Copy(cp, labels)
	return sanitizeLabels(cp)
}

// ProfilingScope accumulates labels before running a function under
// them.
type ProfilingScope struct {
	labels map[string]string
}

// NewProfilingScope starts a scope from the given labels.
func NewProfilingScope(labels map[string]string) *ProfilingScope {
	scope := &ProfilingScope{labels: make(map[string]string)}
	maps.Copy(scope.labels, labels)
	return scope
}

// WithLabel adds one label.
func (s *ProfilingScope) WithLabel(key, value string) *ProfilingScope {
	s.labels[key] = value
	return s
}

func (s *ProfilingScope) WithHandler(v string) *ProfilingScope   { return s.WithLabel(ProfilingLabelHandler, v) }
func (s *ProfilingScope) WithRoute(v string) *ProfilingScope     { return s.WithLabel(ProfilingLabelRoute, v) }
func (s *ProfilingScope) WithMethod(v string) *ProfilingScope    { return s.WithLabel(ProfilingLabelMethod, v) }
func (s *ProfilingScope) WithService(v string) *ProfilingScope   { return s.WithLabel(ProfilingLabelService, v) }
func (s *ProfilingScope) WithOperation(v string) *ProfilingScope { return s.WithLabel(ProfilingLabelOperation, v) }
func (s *ProfilingScope) WithRegion(v string) *ProfilingScope    { return s.WithLabel(ProfilingLabelRegion, v) }

// Labels returns a copy of the accumulated labels.
func (s *ProfilingScope) Labels() map[string]string {
	result := make(map[string]string, len(s.labels))
	maps.Copy(result, s.labels)
	return result
}

// Run executes fn under the accumulated labels.
func (s *ProfilingScope) Run(ctx context.Context, fn func(context.Context)) {
	WithProfilingLabels(ctx, s.labels, fn)
}

// sanitizeLabels drops high-cardinality and empty entries, truncates
// long values, normalizes keys, and returns pairs in deterministic key
// order.
func sanitizeLabels(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}

	pairs := make([]string, 0, len(labels)*2)
	for _, key := range slices.Sorted(maps.Keys(labels)) {
		value := labels[key]
		if key == "" || value == "" {
			continue
		}
		// Dropped silently; logging here would spam hot paths
		if HighCardinalityLabels[key] {
			continue
		}
		if len(value) > MaxLabelValueLength {
			value = value[:MaxLabelValueLength]
		}
		if sanitized := sanitizeLabelKey(key); sanitized != "" {
			pairs = append(pairs, sanitized, value)
		}
	}
	return pairs
}

// sanitizeLabelKey normalizes a key to snake_case [a-z0-9_]. Spaces
// and hyphens become underscores, anything else invalid is dropped.
func sanitizeLabelKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r == ' ', r == '-':
			return '_'
		default:
			return -1
		}
	}, strings.ToLower(key))
}

// ProxyRequestLabels builds the standard label set for a proxied
// request, keyed by target service.
func ProxyRequestLabels(service, method, version string) map[string]string {
	labels := make(map[string]string, 3)
	if service != "" {
		labels[ProfilingLabelService] = service
	}
	if method != "" {
		labels[ProfilingLabelMethod] = method
	}
	if version != "" {
		labels["api_version"] = version
	}
	return labels
}

// OperationLabels builds labels for a named operation.
func OperationLabels(operation string, extraLabels map[string]string) map[string]string {
	return withBaseLabel(ProfilingLabelOperation, operation, extraLabels)
}

// RegionLabels builds labels for a code region.
func RegionLabels(region string, extraLabels map[string]string) map[string]string {
	return withBaseLabel(ProfilingLabelRegion, region, extraLabels)
}

func withBaseLabel(key, value string, extra map[string]string) map[string]string {
	labels := make(map[string]string, len(extra)+1)
	labels[key] = value
	maps.Copy(labels, extra)
	return labels
}
