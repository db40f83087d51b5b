package repository

import (
	"context"

	"faturamento/internal/model"

	"gorm.io/gorm"
)

// AuditRepository is the durable replica of the append-only audit log.
type AuditRepository interface {
	Append(ctx context.Context, event *model.AuditEvent) error
	ListByOrder(ctx context.Context, orderNumber string) ([]model.AuditEvent, error)
	List(ctx context.Context, page, limit int) ([]model.AuditEvent, int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, event *model.AuditEvent) error {
	return GetDB(ctx, r.db).Create(event).Error
}

func (r *auditRepository) ListByOrder(ctx context.Context, orderNumber string) ([]model.AuditEvent, error) {
	var events []model.AuditEvent
	if err := GetDB(ctx, r.db).
		Where("order_number = ?", orderNumber).
		Order("created_at desc").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *auditRepository) List(ctx context.Context, page, limit int) ([]model.AuditEvent, int64, error) {
	var events []model.AuditEvent
	var total int64

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.AuditEvent{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("created_at desc").Offset(offset).Limit(limit).Find(&events).Error; err != nil {
		return nil, 0, err
	}

	return events, total, nil
}
