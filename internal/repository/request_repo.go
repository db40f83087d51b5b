package repository

import (
	"context"

	"faturamento/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RequestRepository interface {
	Create(ctx context.Context, req *model.BillingRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.BillingRequest, error)
	FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.BillingRequest, error)
	ListByOrder(ctx context.Context, orderNumber string) ([]model.BillingRequest, error)
	List(ctx context.Context, status string, page, limit int) ([]model.BillingRequest, int64, error)
	Update(ctx context.Context, req *model.BillingRequest) error
}

type requestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, req *model.BillingRequest) error {
	return GetDB(ctx, r.db).Create(req).Error
}

func (r *requestRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.BillingRequest, error) {
	var req model.BillingRequest
	if err := GetDB(ctx, r.db).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.BillingRequest, error) {
	var req model.BillingRequest
	if err := GetDB(ctx, r.db).
		Preload("Requester").
		Preload("Approver").
		First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) ListByOrder(ctx context.Context, orderNumber string) ([]model.BillingRequest, error) {
	var requests []model.BillingRequest
	if err := GetDB(ctx, r.db).
		Preload("Requester").
		Where("order_number = ?", orderNumber).
		Order("created_at DESC").
		Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *requestRepository) List(ctx context.Context, status string, page, limit int) ([]model.BillingRequest, int64, error) {
	var requests []model.BillingRequest
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.BillingRequest{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	fetchQuery := db.Preload("Requester").Preload("Approver")
	if status != "" {
		fetchQuery = fetchQuery.Where("status = ?", status)
	}
	if err := fetchQuery.
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&requests).Error; err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

func (r *requestRepository) Update(ctx context.Context, req *model.BillingRequest) error {
	return GetDB(ctx, r.db).Save(req).Error
}
