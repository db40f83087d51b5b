package model

import (
	"time"

	"github.com/google/uuid"
)

// Audit action labels
const (
	ActionCreateRequest   = "CREATE_REQUEST"
	ActionSubmitForReview = "SUBMIT_FOR_REVIEW"
	ActionPartialApproval = "PARTIAL_APPROVAL"
	ActionReadyToInvoice  = "READY_TO_INVOICE"
	ActionRejectRequest   = "REJECT_REQUEST"
	ActionUnblockRequest  = "UNBLOCK_REQUEST"
	ActionInvoiceRequest  = "INVOICE_REQUEST"
	ActionPurgeOrder      = "PURGE_ORDER"
)

// Audit severity tags
const (
	SeveritySuccess = "SUCCESS"
	SeverityError   = "ERROR"
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
)

// AuditEvent is one immutable record per workflow transition: who did what
// to which order, and how it went. Events are append-only and read back
// merged from the local buffer and the durable store.
type AuditEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrderNumber string    `gorm:"type:varchar(50);not null;index" json:"order_number"`
	Actor       string    `gorm:"type:varchar(255)" json:"actor"`
	Department  string    `gorm:"type:varchar(20)" json:"department"`
	Action      string    `gorm:"type:varchar(50);not null;index" json:"action"`
	Detail      string    `gorm:"type:text" json:"detail"`
	Severity    string    `gorm:"type:varchar(10);not null;default:'INFO'" json:"severity"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}
