package handler

import (
	"net/http"

	"faturamento/internal/middleware"
	"faturamento/internal/model"
	"faturamento/internal/service"
	"faturamento/pkg/pagination"
	"faturamento/pkg/response"

	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	orderService   service.OrderService
	requestService service.RequestService
}

func NewOrderHandler(orderService service.OrderService, requestService service.RequestService) *OrderHandler {
	return &OrderHandler{orderService: orderService, requestService: requestService}
}

func (h *OrderHandler) RegisterRoutes(router *gin.RouterGroup) {
	anyDepartment := middleware.RequireDepartment(
		model.DeptSeller, model.DeptBilling, model.DeptCommercial, model.DeptCredit, model.DeptAdmin,
	)

	orders := router.Group("/api/orders")
	{
		orders.POST("", middleware.RequireDepartment(model.DeptAdmin), h.CreateOrder)
		orders.GET("", anyDepartment, h.ListOrders)
		orders.GET("/:number", anyDepartment, h.GetOrder)
		orders.GET("/:number/requests", anyDepartment, h.ListOrderRequests)
		orders.DELETE("/:number", middleware.RequireDepartment(model.DeptAdmin), h.PurgeOrder)
	}
}

// CreateOrder registers a sales order with its item catalog
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req service.CreateOrderDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.orderService.CreateOrder(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		c.JSON(statusFor(err), response.Error(statusFor(err), err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// ListOrders returns orders, optionally filtered by status
func (h *OrderHandler) ListOrders(c *gin.Context) {
	params := pagination.Parse(c)
	filter := service.OrderFilter{
		Status: c.Query("status"),
		Page:   params.Page,
		Limit:  params.Limit,
	}

	orders, total, err := h.orderService.ListOrders(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Page(orders, total, params.Page, params.Limit))
}

// GetOrder returns one order with its item catalog and balances
func (h *OrderHandler) GetOrder(c *gin.Context) {
	result, err := h.orderService.GetOrder(c.Request.Context(), c.Param("number"))
	if err != nil {
		c.JSON(statusFor(err), response.Error(statusFor(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ListOrderRequests returns the billing requests drawing on an order
func (h *OrderHandler) ListOrderRequests(c *gin.Context) {
	requests, err := h.requestService.ListByOrder(c.Request.Context(), c.Param("number"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, requests))
}

// PurgeOrder removes an order, its requests and its audit trail
func (h *OrderHandler) PurgeOrder(c *gin.Context) {
	if err := h.orderService.PurgeOrder(c.Request.Context(), actorFrom(c), c.Param("number")); err != nil {
		c.JSON(statusFor(err), response.Error(statusFor(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"purged": c.Param("number")}))
}
