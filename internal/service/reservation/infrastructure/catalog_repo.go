package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bazaar/internal/service/reservation/domain"
)

// GormSellableItemRepository 只读访问在售列表。
type GormSellableItemRepository struct {
	db *gorm.DB
}

func NewGormSellableItemRepository(db *gorm.DB) *GormSellableItemRepository {
	return &GormSellableItemRepository{db: db}
}

func (r *GormSellableItemRepository) FindByID(ctx context.Context, storeID, itemID string) (*domain.SellableItem, error) {
	var model SellableItemModel
	err := dbFrom(ctx, r.db).
		Where("id = ? AND store_id = ?", itemID, storeID).
		First(&model).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return toSellableItemDomain(&model), nil
}

// FindByIDForUpdate 是 SELECT ... FOR UPDATE。只在事务内有意义：
// 拿到的行锁到事务提交或回滚才释放，同一商品上的并发占用创建
// 在这把锁上排队。
func (r *GormSellableItemRepository) FindByIDForUpdate(ctx context.Context, storeID, itemID string) (*domain.SellableItem, error) {
	var model SellableItemModel
	err := dbFrom(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND store_id = ?", itemID, storeID).
		First(&model).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return toSellableItemDomain(&model), nil
}

// GormStockRepository 操作权威的变体库存。
type GormStockRepository struct {
	db *gorm.DB
}

func NewGormStockRepository(db *gorm.DB) *GormStockRepository {
	return &GormStockRepository{db: db}
}

// DecrementVariantStock 条件扣减，永不先读后写。
// UPDATE ... WHERE stock >= qty 没有命中时再区分是库存不足还是变体不存在。
func (r *GormStockRepository) DecrementVariantStock(ctx context.Context, variantID string, qty int) error {
	if qty <= 0 {
		return domain.ErrValidation
	}
	db := dbFrom(ctx, r.db)

	result := db.Model(&VariantModel{}).
		Where("id = ? AND stock >= ?", variantID, qty).
		Update("stock", gorm.Expr("stock - ?", qty))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := db.Model(&VariantModel{}).Where("id = ?", variantID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return errors.Wrapf(domain.ErrNotFound, "variant %s", variantID)
	}
	return errors.Wrapf(domain.ErrInsufficientStock, "variant %s", variantID)
}
