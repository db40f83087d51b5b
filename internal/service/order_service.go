package service

import (
	"context"
	"fmt"
	"time"

	"faturamento/internal/model"
	"faturamento/internal/repository"
	"faturamento/internal/workflow"

	"github.com/shopspring/decimal"
)

// --- DTOs ---

type OrderItemDTO struct {
	Product   string `json:"product" binding:"required"`
	Volume    string `json:"volume" binding:"required"`
	Unit      string `json:"unit"`
	UnitPrice string `json:"unit_price"`
}

type CreateOrderDTO struct {
	OrderNumber string         `json:"order_number" binding:"required"`
	ClientCode  string         `json:"client_code"`
	ClientName  string         `json:"client_name" binding:"required"`
	Product     string         `json:"product"`
	Unit        string         `json:"unit"`
	TotalValue  string         `json:"total_value"`
	SellerCode  string         `json:"seller_code"`
	SellerName  string         `json:"seller_name"`
	Items       []OrderItemDTO `json:"items" binding:"required"`
}

type OrderFilter struct {
	Status string
	Page   int
	Limit  int
}

type OrderResponse struct {
	ID              string            `json:"id"`
	OrderNumber     string            `json:"order_number"`
	ClientCode      string            `json:"client_code"`
	ClientName      string            `json:"client_name"`
	Product         string            `json:"product"`
	Unit            string            `json:"unit"`
	TotalVolume     string            `json:"total_volume"`
	RemainingVolume string            `json:"remaining_volume"`
	InvoicedVolume  string            `json:"invoiced_volume"`
	TotalValue      string            `json:"total_value"`
	InvoicedValue   string            `json:"invoiced_value"`
	SellerCode      string            `json:"seller_code"`
	SellerName      string            `json:"seller_name"`
	Status          string            `json:"status"`
	BlockNote       string            `json:"block_note,omitempty"`
	Items           []model.OrderItem `json:"items"`
	CreatedAt       string            `json:"created_at"`
}

// --- Interface ---

type OrderService interface {
	CreateOrder(ctx context.Context, actor Actor, req CreateOrderDTO) (OrderResponse, error)
	GetOrder(ctx context.Context, orderNumber string) (OrderResponse, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]OrderResponse, int64, error)
	// PurgeOrder removes an order and everything hanging off it: its
	// billing requests and its audit events. Admin only.
	PurgeOrder(ctx context.Context, actor Actor, orderNumber string) error
}

type orderService struct {
	orderRepo repository.OrderRepository
	txManager repository.TransactionManager
	recorder  AuditRecorder
}

func NewOrderService(orderRepo repository.OrderRepository, txManager repository.TransactionManager, recorder AuditRecorder) OrderService {
	return &orderService{orderRepo: orderRepo, txManager: txManager, recorder: recorder}
}

// --- Implementation ---

func (s *orderService) CreateOrder(ctx context.Context, actor Actor, req CreateOrderDTO) (OrderResponse, error) {
	if actor.Department != model.DeptAdmin {
		return OrderResponse{}, &workflow.PermissionError{
			Department: actor.Department,
			Reason:     "only admins can create orders directly",
		}
	}
	if len(req.Items) == 0 {
		return OrderResponse{}, &workflow.ValidationError{Reason: "at least one order item required"}
	}

	order := &model.Order{
		OrderNumber: req.OrderNumber,
		ClientCode:  req.ClientCode,
		ClientName:  req.ClientName,
		Product:     req.Product,
		Unit:        req.Unit,
		SellerCode:  req.SellerCode,
		SellerName:  req.SellerName,
		Status:      model.OrderStatusPending,
	}

	for _, in := range req.Items {
		volume, err := workflow.ParseVolume(in.Volume)
		if err != nil || !volume.IsPositive() {
			return OrderResponse{}, &workflow.ValidationError{
				Reason: fmt.Sprintf("volume must be a positive number for item %s", in.Product),
			}
		}
		unitPrice := decimal.Zero
		if in.UnitPrice != "" {
			unitPrice, err = workflow.ParseVolume(in.UnitPrice)
			if err != nil {
				return OrderResponse{}, &workflow.ValidationError{
					Reason: fmt.Sprintf("invalid unit price for item %s", in.Product),
				}
			}
		}
		order.Items = append(order.Items, model.OrderItem{
			Product:   in.Product,
			Volume:    volume,
			Unit:      in.Unit,
			UnitPrice: unitPrice,
		})
		order.TotalVolume = order.TotalVolume.Add(volume)
		order.TotalValue = order.TotalValue.Add(volume.Mul(unitPrice))
	}
	order.RemainingVolume = order.TotalVolume
	if req.TotalValue != "" {
		totalValue, err := workflow.ParseVolume(req.TotalValue)
		if err != nil {
			return OrderResponse{}, &workflow.ValidationError{Reason: "invalid total value"}
		}
		order.TotalValue = totalValue
	}

	if err := s.orderRepo.Create(ctx, order); err != nil {
		return OrderResponse{}, fmt.Errorf("failed to create order: %w", err)
	}

	return toOrderResponse(order), nil
}

func (s *orderService) GetOrder(ctx context.Context, orderNumber string) (OrderResponse, error) {
	order, err := s.orderRepo.FindByNumber(ctx, orderNumber)
	if err != nil {
		return OrderResponse{}, notFoundOr(err, "order %s", orderNumber)
	}
	return toOrderResponse(order), nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderFilter) ([]OrderResponse, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	orders, total, err := s.orderRepo.List(ctx, filter.Status, filter.Page, filter.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch orders: %w", err)
	}

	result := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		result = append(result, toOrderResponse(&orders[i]))
	}
	return result, total, nil
}

func (s *orderService) PurgeOrder(ctx context.Context, actor Actor, orderNumber string) error {
	if actor.Department != model.DeptAdmin {
		return &workflow.PermissionError{
			Department: actor.Department,
			Reason:     "only admins can purge orders",
		}
	}

	if _, err := s.orderRepo.FindByNumber(ctx, orderNumber); err != nil {
		return notFoundOr(err, "order %s", orderNumber)
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		return s.orderRepo.Delete(txCtx, orderNumber)
	})
	if err != nil {
		return fmt.Errorf("failed to purge order %s: %w", orderNumber, err)
	}

	s.recorder.Record(ctx, model.AuditEvent{
		OrderNumber: orderNumber,
		Actor:       actor.Name,
		Department:  actor.Department,
		Action:      model.ActionPurgeOrder,
		Detail:      "order purged with its requests and audit trail",
		Severity:    model.SeverityWarning,
	})
	return nil
}

func toOrderResponse(o *model.Order) OrderResponse {
	return OrderResponse{
		ID:              o.ID.String(),
		OrderNumber:     o.OrderNumber,
		ClientCode:      o.ClientCode,
		ClientName:      o.ClientName,
		Product:         o.Product,
		Unit:            o.Unit,
		TotalVolume:     o.TotalVolume.String(),
		RemainingVolume: o.RemainingVolume.String(),
		InvoicedVolume:  o.InvoicedVolume.String(),
		TotalValue:      o.TotalValue.String(),
		InvoicedValue:   o.InvoicedValue.String(),
		SellerCode:      o.SellerCode,
		SellerName:      o.SellerName,
		Status:          o.Status,
		BlockNote:       o.BlockNote,
		Items:           o.Items,
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
	}
}
