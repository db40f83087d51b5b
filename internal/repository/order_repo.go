package repository

import (
	"context"

	"faturamento/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	FindByNumber(ctx context.Context, orderNumber string) (*model.Order, error)
	// FindByNumberForUpdate takes a row lock on the order. Reconciliation
	// is a read-modify-write on the order balance and must run under it.
	FindByNumberForUpdate(ctx context.Context, orderNumber string) (*model.Order, error)
	Update(ctx context.Context, order *model.Order) error
	List(ctx context.Context, status string, page, limit int) ([]model.Order, int64, error)
	Delete(ctx context.Context, orderNumber string) error
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	return GetDB(ctx, r.db).Create(order).Error
}

func (r *orderRepository) FindByNumber(ctx context.Context, orderNumber string) (*model.Order, error) {
	var order model.Order
	if err := GetDB(ctx, r.db).
		Preload("Items").
		First(&order, "order_number = ?", orderNumber).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) FindByNumberForUpdate(ctx context.Context, orderNumber string) (*model.Order, error) {
	var order model.Order
	if err := GetDB(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items").
		First(&order, "order_number = ?", orderNumber).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) Update(ctx context.Context, order *model.Order) error {
	return GetDB(ctx, r.db).Save(order).Error
}

func (r *orderRepository) List(ctx context.Context, status string, page, limit int) ([]model.Order, int64, error) {
	var orders []model.Order
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.Order{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	fetchQuery := db.Preload("Items")
	if status != "" {
		fetchQuery = fetchQuery.Where("status = ?", status)
	}
	if err := fetchQuery.
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

// Delete removes an order together with its requests and audit events.
// Administrative purge only.
func (r *orderRepository) Delete(ctx context.Context, orderNumber string) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("order_number = ?", orderNumber).Delete(&model.BillingRequest{}).Error; err != nil {
		return err
	}
	if err := db.Where("order_number = ?", orderNumber).Delete(&model.AuditEvent{}).Error; err != nil {
		return err
	}
	return db.Where("order_number = ?", orderNumber).Delete(&model.Order{}).Error
}
