package handler

import (
	"errors"
	"net/http"

	"faturamento/internal/middleware"
	"faturamento/internal/model"
	"faturamento/internal/service"
	"faturamento/internal/workflow"
	"faturamento/pkg/pagination"
	"faturamento/pkg/response"

	"github.com/gin-gonic/gin"
)

type RequestHandler struct {
	requestService service.RequestService
}

func NewRequestHandler(requestService service.RequestService) *RequestHandler {
	return &RequestHandler{requestService: requestService}
}

func (h *RequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	requests := router.Group("/api/requests")
	{
		requests.POST("", middleware.RequireDepartment(model.DeptSeller, model.DeptAdmin), h.CreateRequest)
		requests.GET("", middleware.RequireDepartment(model.DeptSeller, model.DeptBilling, model.DeptCommercial, model.DeptCredit, model.DeptAdmin), h.ListRequests)
		requests.GET("/:id", middleware.RequireDepartment(model.DeptSeller, model.DeptBilling, model.DeptCommercial, model.DeptCredit, model.DeptAdmin), h.GetRequest)
		requests.PUT("/:id/submit", middleware.RequireDepartment(model.DeptBilling), h.SubmitForReview)
		requests.PUT("/:id/approve", middleware.RequireDepartment(model.DeptCommercial, model.DeptCredit), h.ApproveStep)
		requests.PUT("/:id/reject", middleware.RequireDepartment(model.DeptBilling, model.DeptCommercial, model.DeptCredit), h.Reject)
		requests.PUT("/:id/unblock", middleware.RequireDepartment(model.DeptBilling, model.DeptCommercial, model.DeptCredit, model.DeptAdmin), h.Unblock)
		requests.PUT("/:id/invoice", middleware.RequireDepartment(model.DeptBilling), h.Invoice)
	}
}

// actorFrom rebuilds the acting identity from the claims the auth
// middleware stashed on the context.
func actorFrom(c *gin.Context) service.Actor {
	id, _ := c.Get("userID")
	name, _ := c.Get("userName")
	department, _ := c.Get("userDepartment")

	actor := service.Actor{}
	if s, ok := id.(string); ok {
		actor.ID = s
	}
	if s, ok := name.(string); ok {
		actor.Name = s
	}
	if s, ok := department.(string); ok {
		actor.Department = s
	}
	return actor
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case workflow.IsValidation(err):
		return http.StatusBadRequest
	case workflow.IsPermission(err):
		return http.StatusForbidden
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// CreateRequest opens a new billing request against an order
// @Summary      Create billing request
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateRequestDTO  true  "New request"
// @Success      201      {object}  response.Response{data=service.RequestResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/requests [post]
func (h *RequestHandler) CreateRequest(c *gin.Context) {
	var req service.CreateRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.requestService.CreateRequest(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		c.JSON(statusFor(err), response.Error(statusFor(err), err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// ListRequests returns billing requests, optionally filtered by status
func (h *RequestHandler) ListRequests(c *gin.Context) {
	params := pagination.Parse(c)
	filter := service.RequestFilter{
		Status: c.Query("status"),
		Page:   params.Page,
		Limit:  params.Limit,
	}

	requests, total, err := h.requestService.ListRequests(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Page(requests, total, params.Page, params.Limit))
}

// GetRequest returns a single billing request with relations
func (h *RequestHandler) GetRequest(c *gin.Context) {
	result, err := h.requestService.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), response.Error(statusFor(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// SubmitForReview moves a pending request into review
// @Summary      Submit request for review
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                      true  "Request ID"
// @Param        payload  body      service.SubmitForReviewDTO  true  "Revised items and deadline"
// @Success      200      {object}  response.Response{data=service.RequestResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/requests/{id}/submit [put]
func (h *RequestHandler) SubmitForReview(c *gin.Context) {
	var req service.SubmitForReviewDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.requestService.SubmitForReview(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		c.JSON(statusFor(err), response.Error(statusFor(err), err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ApproveStep applies the caller's approval track, optionally itemized
func (h *RequestHandler) ApproveStep(c *gin.Context) {
	var req service.ApproveStepDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		// Empty body is fine: a plain approval with no note
		req = service.ApproveStepDTO{}
	}

	result, err := h.requestService.ApproveStep(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		c.JSON(statusFor(err), response.Error(statusFor(err), err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// Reject parks the request, attributing blame to the caller's department
func (h *RequestHandler) Reject(c *gin.Context) {
	var req service.RejectDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.requestService.Reject(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		c.JSON(statusFor(err), response.Error(statusFor(err), err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// Unblock reverses a rejection; only the blocking department or an admin
func (h *RequestHandler) Unblock(c *gin.Context) {
	result, err := h.requestService.Unblock(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), response.Error(statusFor(err), err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// Invoice finishes a released request with the fulfilled volumes
func (h *RequestHandler) Invoice(c *gin.Context) {
	var req service.InvoiceDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.requestService.Invoice(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		c.JSON(statusFor(err), response.Error(statusFor(err), err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}
