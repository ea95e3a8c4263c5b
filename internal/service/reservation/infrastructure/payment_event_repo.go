package infrastructure

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bazaar/internal/service/reservation/domain"
)

// GormProcessedEventRepository 维护结算幂等闸门与内部重试记录。
type GormProcessedEventRepository struct {
	db *gorm.DB
}

func NewGormProcessedEventRepository(db *gorm.DB) *GormProcessedEventRepository {
	return &GormProcessedEventRepository{db: db}
}

func (r *GormProcessedEventRepository) Find(ctx context.Context, externalEventID string) (*domain.ProcessedEvent, error) {
	var model ProcessedEventModel
	if err := dbFrom(ctx, r.db).First(&model, "external_event_id = ?", externalEventID).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return toProcessedEventDomain(&model), nil
}

// Record 落 record-then-process 的痕迹。并发投递同一事件时
// 只有第一条插入生效，其余保持原状返回。
func (r *GormProcessedEventRepository) Record(ctx context.Context, e *domain.ProcessedEvent) error {
	return dbFrom(ctx, r.db).Clauses(clause.OnConflict{DoNothing: true}).
		Create(toProcessedEventModel(e)).Error
}

func (r *GormProcessedEventRepository) MarkProcessed(ctx context.Context, externalEventID string) error {
	now := time.Now()
	result := dbFrom(ctx, r.db).Model(&ProcessedEventModel{}).
		Where("external_event_id = ?", externalEventID).
		Updates(map[string]interface{}{
			"processed":    true,
			"error":        "",
			"processed_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormProcessedEventRepository) RecordFailure(ctx context.Context, externalEventID string, procErr string) error {
	return dbFrom(ctx, r.db).Model(&ProcessedEventModel{}).
		Where("external_event_id = ? AND processed = ?", externalEventID, false).
		Update("error", procErr).Error
}

func (r *GormProcessedEventRepository) UpsertRetry(ctx context.Context, retry *domain.EventRetry) error {
	return dbFrom(ctx, r.db).Clauses(clause.OnConflict{
		DoUpdates: clause.AssignmentColumns([]string{"retry_count", "next_retry_at", "last_error", "updated_at"}),
	}).Create(toEventRetryModel(retry)).Error
}

func (r *GormProcessedEventRepository) FindRetry(ctx context.Context, externalEventID string) (*domain.EventRetry, error) {
	var model EventRetryModel
	if err := dbFrom(ctx, r.db).First(&model, "external_event_id = ?", externalEventID).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return toEventRetryDomain(&model), nil
}

func (r *GormProcessedEventRepository) DeleteRetry(ctx context.Context, externalEventID string) error {
	return dbFrom(ctx, r.db).Delete(&EventRetryModel{}, "external_event_id = ?", externalEventID).Error
}

func (r *GormProcessedEventRepository) DueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.EventRetry, error) {
	var models []EventRetryModel
	err := dbFrom(ctx, r.db).
		Where("next_retry_at <= ? AND retry_count < max_retries", now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.EventRetry, 0, len(models))
	for i := range models {
		out = append(out, toEventRetryDomain(&models[i]))
	}
	return out, nil
}
