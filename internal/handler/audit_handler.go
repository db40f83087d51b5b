package handler

import (
	"net/http"

	"faturamento/internal/middleware"
	"faturamento/internal/model"
	"faturamento/internal/service"
	"faturamento/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	recorder service.AuditRecorder
}

func NewAuditHandler(recorder service.AuditRecorder) *AuditHandler {
	return &AuditHandler{recorder: recorder}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	anyDepartment := middleware.RequireDepartment(
		model.DeptSeller, model.DeptBilling, model.DeptCommercial, model.DeptCredit, model.DeptAdmin,
	)
	router.GET("/api/orders/:number/audit", anyDepartment, h.ListOrderAudit)
}

// ListOrderAudit returns the merged, time-descending audit trail of an
// order, combining the durable store with locally buffered events.
func (h *AuditHandler) ListOrderAudit(c *gin.Context) {
	events, err := h.recorder.Read(c.Request.Context(), c.Param("number"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, events))
}
