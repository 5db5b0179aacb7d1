// Package statestore persists workflow and saga instances for the
// orchestrators. The GORM implementations upsert by instance id so every
// step transition overwrites the stored row; the in-memory ones back
// tests and single-node setups with copy-on-read semantics.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ecomhub/gateway/internal/domain/orchestration"
	"github.com/ecomhub/gateway/internal/domain/shared"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WorkflowStateModel is the persistence model for one workflow instance.
// Steps and step results are stored as JSON documents.
type WorkflowStateModel struct {
	ID          string     `gorm:"type:varchar(100);primaryKey"`
	Status      string     `gorm:"type:varchar(20);not null;index"`
	Steps       []byte     `gorm:"type:jsonb;not null"`
	CurrentStep int        `gorm:"not null"`
	StepResults []byte     `gorm:"type:jsonb"`
	Error       string     `gorm:"type:text"`
	StartedAt   time.Time  `gorm:"not null"`
	FinishedAt  *time.Time `gorm:""`
	CreatedAt   time.Time  `gorm:"not null"`
	UpdatedAt   time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (WorkflowStateModel) TableName() string {
	return "workflow_states"
}

// ToDomain converts the persistence model to a domain workflow state
func (m *WorkflowStateModel) ToDomain() (*orchestration.WorkflowState, error) {
	state := &orchestration.WorkflowState{
		ID:          m.ID,
		Status:      orchestration.WorkflowStatus(m.Status),
		CurrentStep: m.CurrentStep,
		Error:       m.Error,
		StartedAt:   m.StartedAt,
		FinishedAt:  m.FinishedAt,
	}
	if err := json.Unmarshal(m.Steps, &state.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode workflow steps: %w", err)
	}
	if len(m.StepResults) > 0 {
		if err := json.Unmarshal(m.StepResults, &state.StepResults); err != nil {
			return nil, fmt.Errorf("failed to decode workflow step results: %w", err)
		}
	}
	return state, nil
}

// FromDomain populates the persistence model from a domain workflow state
func (m *WorkflowStateModel) FromDomain(state *orchestration.WorkflowState) error {
	steps, err := json.Marshal(state.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode workflow steps: %w", err)
	}
	results, err := json.Marshal(state.StepResults)
	if err != nil {
		return fmt.Errorf("failed to encode workflow step results: %w", err)
	}

	m.ID = state.ID
	m.Status = string(state.Status)
	m.Steps = steps
	m.CurrentStep = state.CurrentStep
	m.StepResults = results
	m.Error = state.Error
	m.StartedAt = state.StartedAt
	m.FinishedAt = state.FinishedAt
	return nil
}

// SagaStateModel is the persistence model for one saga instance.
type SagaStateModel struct {
	ID             string     `gorm:"type:varchar(100);primaryKey"`
	Type           string     `gorm:"type:varchar(100);not null;index"`
	Status         string     `gorm:"type:varchar(20);not null;index"`
	CurrentStep    int        `gorm:"not null"`
	Data           []byte     `gorm:"type:jsonb;not null"`
	CompletedSteps []byte     `gorm:"type:jsonb"`
	Error          string     `gorm:"type:text"`
	StartedAt      time.Time  `gorm:"not null"`
	FinishedAt     *time.Time `gorm:""`
	CreatedAt      time.Time  `gorm:"not null"`
	UpdatedAt      time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SagaStateModel) TableName() string {
	return "saga_states"
}

// ToDomain converts the persistence model to a domain saga state
func (m *SagaStateModel) ToDomain() (*orchestration.SagaState, error) {
	state := &orchestration.SagaState{
		ID:          m.ID,
		Type:        m.Type,
		Status:      orchestration.SagaStatus(m.Status),
		CurrentStep: m.CurrentStep,
		Error:       m.Error,
		StartedAt:   m.StartedAt,
		FinishedAt:  m.FinishedAt,
	}
	if err := json.Unmarshal(m.Data, &state.Data); err != nil {
		return nil, fmt.Errorf("failed to decode saga data: %w", err)
	}
	if len(m.CompletedSteps) > 0 {
		if err := json.Unmarshal(m.CompletedSteps, &state.CompletedSteps); err != nil {
			return nil, fmt.Errorf("failed to decode saga completed steps: %w", err)
		}
	}
	return state, nil
}

// FromDomain populates the persistence model from a domain saga state
func (m *SagaStateModel) FromDomain(state *orchestration.SagaState) error {
	data, err := json.Marshal(state.Data)
	if err != nil {
		return fmt.Errorf("failed to encode saga data: %w", err)
	}
	completed, err := json.Marshal(state.CompletedSteps)
	if err != nil {
		return fmt.Errorf("failed to encode saga completed steps: %w", err)
	}

	m.ID = state.ID
	m.Type = state.Type
	m.Status = string(state.Status)
	m.CurrentStep = state.CurrentStep
	m.Data = data
	m.CompletedSteps = completed
	m.Error = state.Error
	m.StartedAt = state.StartedAt
	m.FinishedAt = state.FinishedAt
	return nil
}

// GormWorkflowStore implements orchestration.WorkflowStore using GORM
type GormWorkflowStore struct {
	db *gorm.DB
}

// NewGormWorkflowStore creates a new GormWorkflowStore
func NewGormWorkflowStore(db *gorm.DB) *GormWorkflowStore {
	return &GormWorkflowStore{db: db}
}

// Save upserts the instance by id. Every step transition saves the whole
// state, so the stored row always reflects the latest observed progress.
func (s *GormWorkflowStore) Save(ctx context.Context, state *orchestration.WorkflowState) error {
	model := &WorkflowStateModel{}
	if err := model.FromDomain(state); err != nil {
		return err
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status",
				"current_step",
				"step_results",
				"error",
				"finished_at",
				"updated_at",
			}),
		}).
		Create(model).Error
}

// Get finds a workflow instance by id
func (s *GormWorkflowStore) Get(ctx context.Context, id string) (*orchestration.WorkflowState, error) {
	var model WorkflowStateModel
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// List returns all workflow instances ordered by start time
func (s *GormWorkflowStore) List(ctx context.Context) ([]*orchestration.WorkflowState, error) {
	var models []WorkflowStateModel
	if err := s.db.WithContext(ctx).
		Order("started_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	states := make([]*orchestration.WorkflowState, 0, len(models))
	for i := range models {
		state, err := models[i].ToDomain()
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

// Ensure GormWorkflowStore implements WorkflowStore
var _ orchestration.WorkflowStore = (*GormWorkflowStore)(nil)

// GormSagaStore implements orchestration.SagaStore using GORM
type GormSagaStore struct {
	db *gorm.DB
}

// NewGormSagaStore creates a new GormSagaStore
func NewGormSagaStore(db *gorm.DB) *GormSagaStore {
	return &GormSagaStore{db: db}
}

// Save upserts the instance by id
func (s *GormSagaStore) Save(ctx context.Context, state *orchestration.SagaState) error {
	model := &SagaStateModel{}
	if err := model.FromDomain(state); err != nil {
		return err
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status",
				"current_step",
				"data",
				"completed_steps",
				"error",
				"finished_at",
				"updated_at",
			}),
		}).
		Create(model).Error
}

// Get finds a saga instance by id
func (s *GormSagaStore) Get(ctx context.Context, id string) (*orchestration.SagaState, error) {
	var model SagaStateModel
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// List returns all saga instances ordered by start time
func (s *GormSagaStore) List(ctx context.Context) ([]*orchestration.SagaState, error) {
	var models []SagaStateModel
	if err := s.db.WithContext(ctx).
		Order("started_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	states := make([]*orchestration.SagaState, 0, len(models))
	for i := range models {
		state, err := models[i].ToDomain()
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

// Ensure GormSagaStore implements SagaStore
var _ orchestration.SagaStore = (*GormSagaStore)(nil)
