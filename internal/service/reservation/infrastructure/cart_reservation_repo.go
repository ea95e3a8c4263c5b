package infrastructure

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bazaar/internal/service/reservation/domain"
)

// GormCartReservationRepository 用唯一索引 (store, cart, item, active)
// 承担并发仲裁：同一购物车对同一商品的活跃占用至多一条。
type GormCartReservationRepository struct {
	db *gorm.DB
}

func NewGormCartReservationRepository(db *gorm.DB) *GormCartReservationRepository {
	return &GormCartReservationRepository{db: db}
}

// UpsertActive 是一条 INSERT ... ON DUPLICATE KEY UPDATE：
// 同一键位已有活跃占用时整行换新（数量、过期时间、ID 都取新值），
// 不做读改写。极端并发下仍冒出来的 1062 映射为占用冲突，交给调用方重试。
func (r *GormCartReservationRepository) UpsertActive(ctx context.Context, reservation *domain.CartReservation) error {
	model := toCartReservationModel(reservation)
	err := dbFrom(ctx, r.db).Clauses(clause.OnConflict{
		DoUpdates: clause.AssignmentColumns([]string{"id", "quantity", "status", "customer_id", "expires_at", "updated_at"}),
	}).Create(model).Error
	if err != nil {
		if isDuplicateKey(err) {
			return domain.ErrReservationConflict
		}
		return err
	}
	return nil
}

func (r *GormCartReservationRepository) FindByID(ctx context.Context, id string) (*domain.CartReservation, error) {
	var model CartReservationModel
	if err := dbFrom(ctx, r.db).First(&model, "id = ?", id).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return toCartReservationDomain(&model), nil
}

// Update 保存状态流转结果。离开 RESERVED 的写入带状态条件，
// 并发下（确认与清扫同时跑）输掉的一方不会覆盖已经落定的终态。
func (r *GormCartReservationRepository) Update(ctx context.Context, reservation *domain.CartReservation) error {
	updates := map[string]interface{}{
		"status":     string(reservation.Status),
		"active":     activeFlag(reservation.Status),
		"order_id":   reservation.OrderID,
		"expires_at": reservation.ExpiresAt,
		"updated_at": reservation.UpdatedAt,
	}

	query := dbFrom(ctx, r.db).Model(&CartReservationModel{}).Where("id = ?", reservation.ID)
	if reservation.Status != domain.CartReservationReserved {
		query = query.Where("status = ?", string(domain.CartReservationReserved))
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// 行不存在，或另一个写入方已经抢先把它推进了终态
		return domain.ErrReservationConflict
	}
	return nil
}

func (r *GormCartReservationRepository) FindActiveByCart(ctx context.Context, cartID string) ([]*domain.CartReservation, error) {
	var models []CartReservationModel
	err := dbFrom(ctx, r.db).
		Where("cart_id = ? AND status = ?", cartID, string(domain.CartReservationReserved)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.CartReservation, 0, len(models))
	for i := range models {
		out = append(out, toCartReservationDomain(&models[i]))
	}
	return out, nil
}

func (r *GormCartReservationRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.CartReservation, error) {
	var models []CartReservationModel
	err := dbFrom(ctx, r.db).
		Where("status = ? AND expires_at <= ?", string(domain.CartReservationReserved), now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.CartReservation, 0, len(models))
	for i := range models {
		out = append(out, toCartReservationDomain(&models[i]))
	}
	return out, nil
}

// ActiveHoldTotal 聚合未过期活跃占用。过期但还没被清扫的行不计入，
// 可售量因此在清扫器落后时也不会偏低。
func (r *GormCartReservationRepository) ActiveHoldTotal(ctx context.Context, storeID, itemID string, now time.Time) (int, error) {
	var total int64
	err := dbFrom(ctx, r.db).
		Model(&CartReservationModel{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("store_id = ? AND sellable_item_id = ? AND status = ? AND expires_at > ?",
			storeID, itemID, string(domain.CartReservationReserved), now).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return int(total), nil
}
