// Package registry stores the descriptors of downstream services the
// gateway routes to. The GORM implementation is the durable store; the
// in-memory one backs tests and single-node development setups.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
	"github.com/ecomhub/gateway/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ServiceDescriptorModel is the persistence model for registered services.
// Timeouts are stored as milliseconds so the column stays a plain integer.
type ServiceDescriptorModel struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name                  string    `gorm:"type:varchar(100);not null;uniqueIndex"`
	BaseURL               string    `gorm:"type:varchar(500);not null"`
	HealthEndpoint        string    `gorm:"type:varchar(200);not null"`
	TimeoutMs             int64     `gorm:"not null"`
	RetryCount            int       `gorm:"not null"`
	AuthRequired          bool      `gorm:"not null;default:true"`
	CircuitBreakerEnabled bool      `gorm:"not null;default:true"`
	RateLimitPerHour      int       `gorm:"not null"`
	Version               string    `gorm:"type:varchar(20);not null"`
	CreatedAt             time.Time `gorm:"not null"`
	UpdatedAt             time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ServiceDescriptorModel) TableName() string {
	return "service_descriptors"
}

// ToDomain converts the persistence model to a domain descriptor
func (m *ServiceDescriptorModel) ToDomain() *gateway.ServiceDescriptor {
	return &gateway.ServiceDescriptor{
		Name:                  m.Name,
		BaseURL:               m.BaseURL,
		HealthEndpoint:        m.HealthEndpoint,
		Timeout:               time.Duration(m.TimeoutMs) * time.Millisecond,
		RetryCount:            m.RetryCount,
		AuthRequired:          m.AuthRequired,
		CircuitBreakerEnabled: m.CircuitBreakerEnabled,
		RateLimitPerHour:      m.RateLimitPerHour,
		Version:               m.Version,
	}
}

// FromDomain populates the persistence model from a domain descriptor
func (m *ServiceDescriptorModel) FromDomain(d *gateway.ServiceDescriptor) {
	m.Name = d.Name
	m.BaseURL = d.BaseURL
	m.HealthEndpoint = d.HealthEndpoint
	m.TimeoutMs = d.Timeout.Milliseconds()
	m.RetryCount = d.RetryCount
	m.AuthRequired = d.AuthRequired
	m.CircuitBreakerEnabled = d.CircuitBreakerEnabled
	m.RateLimitPerHour = d.RateLimitPerHour
	m.Version = d.Version
}

// GormServiceRegistry implements gateway.ServiceRegistry using GORM
type GormServiceRegistry struct {
	db *gorm.DB
}

// NewGormServiceRegistry creates a new GormServiceRegistry
func NewGormServiceRegistry(db *gorm.DB) *GormServiceRegistry {
	return &GormServiceRegistry{db: db}
}

// Register validates the descriptor, fills registration defaults and
// upserts it by name. Re-registering keeps the original row identity.
func (r *GormServiceRegistry) Register(ctx context.Context, descriptor *gateway.ServiceDescriptor) error {
	if err := descriptor.Validate(); err != nil {
		return err
	}
	descriptor.ApplyDefaults()

	model := &ServiceDescriptorModel{ID: uuid.New()}
	model.FromDomain(descriptor)

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"base_url",
				"health_endpoint",
				"timeout_ms",
				"retry_count",
				"auth_required",
				"circuit_breaker_enabled",
				"rate_limit_per_hour",
				"version",
				"updated_at",
			}),
		}).
		Create(model).Error
}

// Get finds a descriptor by service name
func (r *GormServiceRegistry) Get(ctx context.Context, name string) (*gateway.ServiceDescriptor, error) {
	var model ServiceDescriptorModel
	if err := r.db.WithContext(ctx).
		Where("name = ?", name).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// List returns all registered descriptors ordered by name
func (r *GormServiceRegistry) List(ctx context.Context) ([]*gateway.ServiceDescriptor, error) {
	var models []ServiceDescriptorModel
	if err := r.db.WithContext(ctx).
		Order("name ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	descriptors := make([]*gateway.ServiceDescriptor, 0, len(models))
	for i := range models {
		descriptors = append(descriptors, models[i].ToDomain())
	}
	return descriptors, nil
}

// Deregister removes a descriptor by service name
func (r *GormServiceRegistry) Deregister(ctx context.Context, name string) error {
	result := r.db.WithContext(ctx).Delete(&ServiceDescriptorModel{}, "name = ?", name)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Ensure GormServiceRegistry implements ServiceRegistry
var _ gateway.ServiceRegistry = (*GormServiceRegistry)(nil)
