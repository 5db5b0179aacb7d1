package gateway

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
	"github.com/google/uuid"
)

// RouteRequest is an inbound proxy call before parsing.
type RouteRequest struct {
	Path    string
	Method  string
	Headers http.Header
	Query   url.Values
	Body    []byte
}

// parsedRequest is a RouteRequest after stage one: the version is
// resolved, service and resource are split out, and the request has an
// identity for forwarding and metrics.
type parsedRequest struct {
	OriginalPath string
	Method       string
	Version      string
	Service      string
	ResourcePath string
	Headers      http.Header
	Query        url.Values
	Body         []byte
	Timestamp    time.Time
	RequestID    string
	Caller       string
}

// parse splits /api/{version}/{service}/{resource...}. The version
// segment is optional: a first segment that is not a known version is
// taken as the service name under the default version.
func (s *Service) parse(req RouteRequest) (*parsedRequest, *gateway.Error) {
	parts := strings.Split(strings.Trim(req.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "api" {
		return nil, gateway.ErrInvalidPath("Invalid API path format")
	}

	version := s.config.DefaultVersion
	rest := parts[1:]
	if _, known := s.versions[rest[0]]; known {
		version = rest[0]
		rest = rest[1:]
	}
	if len(rest) == 0 || rest[0] == "" {
		return nil, gateway.ErrInvalidPath("Invalid API path format")
	}

	// An id assigned at the edge wins so the response header, envelope
	// meta, and logs all correlate.
	requestID := strings.TrimSpace(req.Headers.Get(headerRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
	}

	return &parsedRequest{
		OriginalPath: req.Path,
		Method:       strings.ToUpper(req.Method),
		Version:      version,
		Service:      rest[0],
		ResourcePath: strings.Join(rest[1:], "/"),
		Headers:      req.Headers,
		Query:        req.Query,
		Body:         req.Body,
		Timestamp:    s.nowFunc(),
		RequestID:    requestID,
		Caller:       anonymousCaller,
	}, nil
}
