package infrastructure

import (
	"context"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"bazaar/internal/service/reservation/domain"
)

// NewDB 打开 MySQL 连接并迁移本服务的表结构。
func NewDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to mysql")
	}
	if err := db.AutoMigrate(
		&SellableItemModel{},
		&VariantModel{},
		&CartReservationModel{},
		&OrderModel{},
		&PaymentIntentModel{},
		&OrderReservationModel{},
		&ProcessedEventModel{},
		&EventRetryModel{},
	); err != nil {
		return nil, errors.Wrap(err, "failed to migrate schema")
	}
	return db, nil
}

type txKey struct{}

// GormTransactionManager 把 gorm 事务句柄塞进 context 向下传递，
// 仓储通过 dbFrom 取出它；不在事务里时退回普通连接。
type GormTransactionManager struct {
	db *gorm.DB
}

func NewGormTransactionManager(db *gorm.DB) *GormTransactionManager {
	return &GormTransactionManager{db: db}
}

func (m *GormTransactionManager) WithinTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func dbFrom(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return fallback.WithContext(ctx)
}

// isDuplicateKey 识别唯一键冲突（MySQL 1062）。
func isDuplicateKey(err error) bool {
	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// mapNotFound 把 gorm 的未命中翻译成领域错误。
func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}
