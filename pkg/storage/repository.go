package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/trialforge-ai/platform/pkg/protocol"
	"github.com/trialforge-ai/platform/pkg/simulation"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Repository persists parsed protocols and simulation runs in Postgres.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type protocolModel struct {
	ID              uuid.UUID      `gorm:"primaryKey;column:id"`
	Title           string         `gorm:"column:title"`
	Synopsis        string         `gorm:"column:synopsis"`
	SampleSize      int            `gorm:"column:sample_size"`
	PrimaryEndpoint string         `gorm:"column:primary_endpoint"`
	CriteriaCount   int            `gorm:"column:criteria_count"`
	ProtocolText    string         `gorm:"column:protocol_text"`
	Diagnostics     datatypes.JSON `gorm:"column:diagnostics"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
}

func (protocolModel) TableName() string { return "protocols" }

type runModel struct {
	ID            uuid.UUID      `gorm:"primaryKey;column:id"`
	ProtocolID    uuid.UUID      `gorm:"column:protocol_id;index"`
	State         string         `gorm:"column:state"`
	DrugModel     string         `gorm:"column:drug_model"`
	Enrolled      int            `gorm:"column:enrolled"`
	ResponseRate  float64        `gorm:"column:response_rate"`
	FailureReason string         `gorm:"column:failure_reason"`
	Payload       datatypes.JSON `gorm:"column:payload"`
	StartedAt     time.Time      `gorm:"column:started_at"`
	CompletedAt   time.Time      `gorm:"column:completed_at"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
}

func (runModel) TableName() string { return "simulation_runs" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&protocolModel{},
		&runModel{},
	)
}

func (r *Repository) SaveProtocol(ctx context.Context, parsed *protocol.ParsedProtocol, text string) error {
	row := &protocolModel{
		ID:              parsed.ID,
		Title:           parsed.Title,
		Synopsis:        parsed.Synopsis,
		SampleSize:      parsed.SampleSize,
		PrimaryEndpoint: parsed.PrimaryEndpoint,
		CriteriaCount:   parsed.CriteriaCount,
		ProtocolText:    text,
		CreatedAt:       time.Now().UTC(),
	}
	if len(parsed.Diagnostics) > 0 {
		if data, err := json.Marshal(parsed.Diagnostics); err == nil {
			row.Diagnostics = datatypes.JSON(data)
		}
	}
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *Repository) GetProtocolText(ctx context.Context, protocolID uuid.UUID) (string, error) {
	var row protocolModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", protocolID).Error; err != nil {
		return "", err
	}
	return row.ProtocolText, nil
}

func (r *Repository) SaveRun(ctx context.Context, run *simulation.Run) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}
	row := &runModel{
		ID:            run.ID,
		ProtocolID:    run.ProtocolID,
		State:         string(run.State),
		DrugModel:     run.DrugModel,
		Enrolled:      run.Aggregate.Enrolled,
		ResponseRate:  run.Aggregate.ResponseRate,
		FailureReason: run.FailureReason,
		Payload:       datatypes.JSON(payload),
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
		CreatedAt:     time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *Repository) GetRun(ctx context.Context, runID uuid.UUID) (*simulation.Run, error) {
	var row runModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", runID).Error; err != nil {
		return nil, err
	}
	var run simulation.Run
	if err := json.Unmarshal(row.Payload, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", runID, err)
	}
	return &run, nil
}

func (r *Repository) ListRuns(ctx context.Context, protocolID *uuid.UUID, limit int) ([]simulation.RunSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Model(&runModel{}).Order("created_at DESC").Limit(limit)
	if protocolID != nil {
		query = query.Where("protocol_id = ?", *protocolID)
	}
	var rows []runModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	summaries := make([]simulation.RunSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, simulation.RunSummary{
			ID:            row.ID,
			ProtocolID:    row.ProtocolID,
			State:         row.State,
			DrugModel:     row.DrugModel,
			Enrolled:      row.Enrolled,
			ResponseRate:  row.ResponseRate,
			FailureReason: row.FailureReason,
			StartedAt:     row.StartedAt,
			CompletedAt:   row.CompletedAt,
		})
	}
	return summaries, nil
}
