package cqrs

import (
	"fmt"
	"time"

	"github.com/ecomhub/gateway/internal/domain/shared"
	"github.com/google/uuid"
)

// Pagination bounds a query's result window.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// Query is a read-only request routed to exactly one handler. Queries
// never mutate state; their results may be served from the query cache.
type Query struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Filters     map[string]any `json:"filters,omitempty"`
	Pagination  *Pagination    `json:"pagination,omitempty"`
	Projections []string       `json:"projections,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewQuery creates a query with a fresh id and timestamp.
func NewQuery(queryType string, filters map[string]any) Query {
	return Query{
		ID:        uuid.NewString(),
		Type:      queryType,
		Filters:   filters,
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks the required fields before dispatch.
func (q Query) Validate() error {
	if q.Type == "" {
		return fmt.Errorf("query field %q is required: %w", "type", shared.ErrInvalidInput)
	}
	return nil
}
