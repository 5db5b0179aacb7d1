package gateway

import "time"

// Meta carries gateway bookkeeping attached to every successful response.
type Meta struct {
	RequestID      string  `json:"requestId"`
	Version        string  `json:"version"`
	Service        string  `json:"service"`
	ResponseTimeMs float64 `json:"responseTimeMs"`
	Timestamp      string  `json:"timestamp"`
}

// Envelope is the wire format returned by the gateway for proxied calls.
// Successful responses carry the downstream body in Data plus Meta; error
// responses carry an ErrorData in Data and no Meta.
type Envelope struct {
	StatusCode int   `json:"statusCode"`
	Data       any   `json:"data"`
	Meta       *Meta `json:"meta,omitempty"`
}

// ErrorData is the body of an error envelope.
type ErrorData struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NewErrorEnvelope builds the error envelope for a typed gateway error.
func NewErrorEnvelope(err *Error, now time.Time) *Envelope {
	return &Envelope{
		StatusCode: err.Status,
		Data: ErrorData{
			Error:     string(err.Code),
			Message:   err.Message,
			Timestamp: now.UTC().Format(time.RFC3339),
		},
	}
}
