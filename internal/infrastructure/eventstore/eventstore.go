// Package eventstore persists the append-only event log behind the
// command bus. The GORM implementation orders events with a monotonic
// sequence column and enforces event-id uniqueness at the database so
// concurrent appends of the same id cannot both win.
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ecomhub/gateway/internal/domain/cqrs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// APIEventModel is the persistence model for one event log entry
type APIEventModel struct {
	Sequence      int64     `gorm:"primaryKey;autoIncrement"`
	EventID       string    `gorm:"type:varchar(100);not null;uniqueIndex"`
	Type          string    `gorm:"type:varchar(50);not null"`
	AggregateID   string    `gorm:"type:varchar(100);not null;index"`
	AggregateType string    `gorm:"type:varchar(100);not null"`
	Payload       []byte    `gorm:"type:jsonb;not null"`
	Metadata      []byte    `gorm:"type:jsonb"`
	Timestamp     time.Time `gorm:"not null"`
	Version       int       `gorm:"not null"`
	CorrelationID string    `gorm:"type:varchar(100)"`
	CausationID   string    `gorm:"type:varchar(100)"`
	CreatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (APIEventModel) TableName() string {
	return "api_events"
}

// ToDomain converts the persistence model to a domain event
func (m *APIEventModel) ToDomain() (cqrs.APIEvent, error) {
	event := cqrs.APIEvent{
		ID:            m.EventID,
		Type:          cqrs.EventType(m.Type),
		AggregateID:   m.AggregateID,
		AggregateType: m.AggregateType,
		Timestamp:     m.Timestamp,
		Version:       m.Version,
		CorrelationID: m.CorrelationID,
		CausationID:   m.CausationID,
	}
	if err := json.Unmarshal(m.Payload, &event.Payload); err != nil {
		return cqrs.APIEvent{}, fmt.Errorf("failed to decode event payload: %w", err)
	}
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &event.Metadata); err != nil {
			return cqrs.APIEvent{}, fmt.Errorf("failed to decode event metadata: %w", err)
		}
	}
	return event, nil
}

// FromDomain populates the persistence model from a domain event
func (m *APIEventModel) FromDomain(e *cqrs.APIEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode event metadata: %w", err)
	}

	m.EventID = e.ID
	m.Type = string(e.Type)
	m.AggregateID = e.AggregateID
	m.AggregateType = e.AggregateType
	m.Payload = payload
	m.Metadata = metadata
	m.Timestamp = e.Timestamp
	m.Version = e.Version
	m.CorrelationID = e.CorrelationID
	m.CausationID = e.CausationID
	return nil
}

// GormEventStore implements cqrs.EventStore using GORM
type GormEventStore struct {
	db *gorm.DB
}

// NewGormEventStore creates a new GormEventStore
func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{db: db}
}

// Append writes an event to the log. A previously appended event id is
// rejected with ErrDuplicateEvent and the stored event is kept.
func (s *GormEventStore) Append(ctx context.Context, event *cqrs.APIEvent) error {
	model := &APIEventModel{}
	if err := model.FromDomain(event); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return cqrs.ErrDuplicateEvent
	}
	return nil
}

// Events returns every event in append order
func (s *GormEventStore) Events(ctx context.Context) ([]cqrs.APIEvent, error) {
	var models []APIEventModel
	if err := s.db.WithContext(ctx).
		Order("sequence ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return toDomainEvents(models)
}

// EventsForAggregate returns one aggregate's events in append order
func (s *GormEventStore) EventsForAggregate(ctx context.Context, aggregateID string) ([]cqrs.APIEvent, error) {
	var models []APIEventModel
	if err := s.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("sequence ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return toDomainEvents(models)
}

// AggregateVersion returns the highest stored version for an aggregate,
// zero when the aggregate has no events
func (s *GormEventStore) AggregateVersion(ctx context.Context, aggregateID string) (int, error) {
	var version int
	err := s.db.WithContext(ctx).
		Model(&APIEventModel{}).
		Where("aggregate_id = ?", aggregateID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&version).Error
	if err != nil {
		return 0, err
	}
	return version, nil
}

func toDomainEvents(models []APIEventModel) ([]cqrs.APIEvent, error) {
	events := make([]cqrs.APIEvent, 0, len(models))
	for i := range models {
		event, err := models[i].ToDomain()
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// Ensure GormEventStore implements EventStore
var _ cqrs.EventStore = (*GormEventStore)(nil)
