package infrastructure

import (
	"context"

	"gorm.io/gorm"

	"bazaar/internal/service/reservation/domain"
)

type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Create(ctx context.Context, o *domain.Order) error {
	model, err := toOrderModel(o)
	if err != nil {
		return err
	}
	return dbFrom(ctx, r.db).Create(model).Error
}

func (r *GormOrderRepository) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	var model OrderModel
	if err := dbFrom(ctx, r.db).First(&model, "id = ?", orderID).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return toOrderDomain(&model)
}

func (r *GormOrderRepository) Update(ctx context.Context, o *domain.Order) error {
	model, err := toOrderModel(o)
	if err != nil {
		return err
	}
	result := dbFrom(ctx, r.db).Model(&OrderModel{}).
		Where("id = ?", o.ID).
		Updates(map[string]interface{}{
			"status":            model.Status,
			"payment_intent_id": model.PaymentIntentID,
			"updated_at":        model.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormOrderRepository) Delete(ctx context.Context, orderID string) error {
	return dbFrom(ctx, r.db).Delete(&OrderModel{}, "id = ?", orderID).Error
}

type GormPaymentIntentRepository struct {
	db *gorm.DB
}

func NewGormPaymentIntentRepository(db *gorm.DB) *GormPaymentIntentRepository {
	return &GormPaymentIntentRepository{db: db}
}

func (r *GormPaymentIntentRepository) Create(ctx context.Context, p *domain.PaymentIntentRecord) error {
	return dbFrom(ctx, r.db).Create(toPaymentIntentModel(p)).Error
}

func (r *GormPaymentIntentRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.PaymentIntentRecord, error) {
	var model PaymentIntentModel
	if err := dbFrom(ctx, r.db).First(&model, "order_id = ?", orderID).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return toPaymentIntentDomain(&model), nil
}

func (r *GormPaymentIntentRepository) Update(ctx context.Context, p *domain.PaymentIntentRecord) error {
	result := dbFrom(ctx, r.db).Model(&PaymentIntentModel{}).
		Where("id = ?", p.ID).
		Updates(map[string]interface{}{
			"status":     string(p.PaymentStatus),
			"updated_at": p.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormPaymentIntentRepository) DeleteByOrderID(ctx context.Context, orderID string) error {
	return dbFrom(ctx, r.db).Delete(&PaymentIntentModel{}, "order_id = ?", orderID).Error
}
