package infrastructure

import (
	"context"

	"gorm.io/gorm"

	"bazaar/internal/service/reservation/domain"
)

// GormOrderReservationRepository 持久化订单级预占。
// (order_id, store_id) 唯一索引保证每个订单只有一份。
type GormOrderReservationRepository struct {
	db *gorm.DB
}

func NewGormOrderReservationRepository(db *gorm.DB) *GormOrderReservationRepository {
	return &GormOrderReservationRepository{db: db}
}

func (r *GormOrderReservationRepository) Create(ctx context.Context, reservation *domain.OrderInventoryReservation) error {
	model, err := toOrderReservationModel(reservation)
	if err != nil {
		return err
	}
	if err := dbFrom(ctx, r.db).Create(model).Error; err != nil {
		if isDuplicateKey(err) {
			return domain.ErrReservationConflict
		}
		return err
	}
	return nil
}

func (r *GormOrderReservationRepository) FindByOrderID(ctx context.Context, orderID, storeID string) (*domain.OrderInventoryReservation, error) {
	var model OrderReservationModel
	err := dbFrom(ctx, r.db).
		Where("order_id = ? AND store_id = ?", orderID, storeID).
		First(&model).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return toOrderReservationDomain(&model)
}

// Update 带状态条件：只有仍处于 RESERVED 的行可以被推进终态，
// 并发结算里输掉的一方拿到冲突而不是覆盖。
func (r *GormOrderReservationRepository) Update(ctx context.Context, reservation *domain.OrderInventoryReservation) error {
	query := dbFrom(ctx, r.db).Model(&OrderReservationModel{}).Where("id = ?", reservation.ID)
	if reservation.Status != domain.OrderReservationReserved {
		query = query.Where("status = ?", string(domain.OrderReservationReserved))
	}
	result := query.Updates(map[string]interface{}{
		"status":     string(reservation.Status),
		"updated_at": reservation.UpdatedAt,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrReservationConflict
	}
	return nil
}
