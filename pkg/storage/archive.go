package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/trialforge-ai/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventArchive is an append-only record of simulation lifecycle events, kept
// for audit and replay.
type EventArchive struct {
	db *gorm.DB
}

func NewEventArchive(db *gorm.DB) *EventArchive {
	return &EventArchive{db: db}
}

type eventModel struct {
	ID         string         `gorm:"primaryKey;column:id"`
	Type       string         `gorm:"column:type;index"`
	Source     string         `gorm:"column:source"`
	RunID      string         `gorm:"column:run_id;index"`
	ProtocolID string         `gorm:"column:protocol_id"`
	Data       datatypes.JSON `gorm:"column:data"`
	EventTime  time.Time      `gorm:"column:event_time"`
	ArchivedAt time.Time      `gorm:"column:archived_at"`
}

func (eventModel) TableName() string { return "simulation_events" }

func (a *EventArchive) AutoMigrate() error {
	return a.db.AutoMigrate(&eventModel{})
}

func (a *EventArchive) Archive(ctx context.Context, event models.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}
	row := &eventModel{
		ID:         event.ID,
		Type:       event.Type,
		Source:     event.Source,
		RunID:      stringField(event.Data, "run_id"),
		ProtocolID: stringField(event.Data, "protocol_id"),
		Data:       datatypes.JSON(data),
		EventTime:  event.Timestamp,
		ArchivedAt: time.Now().UTC(),
	}
	return a.db.WithContext(ctx).Create(row).Error
}

func (a *EventArchive) ListByRun(ctx context.Context, runID string, limit int) ([]models.Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []eventModel
	if err := a.db.WithContext(ctx).Where("run_id = ?", runID).Order("event_time").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	events := make([]models.Event, 0, len(rows))
	for _, row := range rows {
		event := models.Event{
			ID:        row.ID,
			Type:      row.Type,
			Source:    row.Source,
			Timestamp: row.EventTime,
		}
		if len(row.Data) > 0 {
			_ = json.Unmarshal(row.Data, &event.Data)
		}
		events = append(events, event)
	}
	return events, nil
}

func stringField(data map[string]interface{}, key string) string {
	if value, ok := data[key].(string); ok {
		return value
	}
	return ""
}
