package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RequestStatus constants
const (
	RequestStatusPending        = "PENDING"
	RequestStatusUnderReview    = "UNDER_REVIEW"
	RequestStatusReadyToInvoice = "READY_TO_INVOICE"
	RequestStatusRejected       = "REJECTED"
	RequestStatusInvoiced       = "INVOICED"
)

// Departments are approval/authority domains, not people.
const (
	DeptSeller     = "SELLER"
	DeptBilling    = "BILLING"
	DeptCommercial = "COMMERCIAL"
	DeptCredit     = "CREDIT"
	DeptAdmin      = "ADMIN"
)

// LineItem is a (product, volume, unit) tuple with an optional note. The
// same shape is used for requested and fulfilled quantities.
type LineItem struct {
	Product string          `json:"product"`
	Volume  decimal.Decimal `json:"volume"`
	Unit    string          `json:"unit,omitempty"`
	Note    string          `json:"note,omitempty"`
}

// LineItems is persisted as a jsonb column.
type LineItems []LineItem

func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *LineItems) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported column type %T for line items", value)
	}
}

// TotalVolume sums the item volumes.
func (l LineItems) TotalVolume() decimal.Decimal {
	total := decimal.Zero
	for _, item := range l {
		total = total.Add(item.Volume)
	}
	return total
}

// BillingRequest (Solicitação) is one draw-down attempt against an order.
// Client/product/unit are denormalized from the order at creation time so
// a request stays displayable even if the order record drifts.
type BillingRequest struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderNumber string    `gorm:"type:varchar(50);not null;index" json:"order_number"`
	ClientCode  string    `gorm:"type:varchar(50)" json:"client_code"`
	ClientName  string    `gorm:"type:varchar(255)" json:"client_name"`
	Product     string    `gorm:"type:varchar(500)" json:"product"`
	Unit        string    `gorm:"type:varchar(20)" json:"unit"`

	Items       LineItems       `gorm:"type:jsonb" json:"items"`
	TotalVolume decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"total_volume"`

	Status      string     `gorm:"type:varchar(30);not null;default:'PENDING';index" json:"status"`
	RequestedBy *uuid.UUID `gorm:"type:uuid;index" json:"requested_by"`
	Requester   *User      `gorm:"foreignKey:RequestedBy" json:"requester,omitempty"`
	Deadline    string     `gorm:"type:varchar(100)" json:"deadline"`

	// One free-text note slot per department that touches the request.
	SellerNote     string `gorm:"type:text" json:"seller_note,omitempty"`
	BillingNote    string `gorm:"type:text" json:"billing_note,omitempty"`
	CommercialNote string `gorm:"type:text" json:"commercial_note,omitempty"`
	CreditNote     string `gorm:"type:text" json:"credit_note,omitempty"`
	IssuanceNote   string `gorm:"type:text" json:"issuance_note,omitempty"`

	CommercialApproved bool `gorm:"not null;default:false" json:"commercial_approved"`
	CreditApproved     bool `gorm:"not null;default:false" json:"credit_approved"`

	// BlockedBy names the department whose rejection parked the request;
	// set exactly while Status == REJECTED.
	BlockedBy       string `gorm:"type:varchar(20)" json:"blocked_by,omitempty"`
	RejectionReason string `gorm:"type:text" json:"rejection_reason,omitempty"`

	ApprovedBy *uuid.UUID `gorm:"type:uuid" json:"approved_by"`
	Approver   *User      `gorm:"foreignKey:ApprovedBy" json:"approver,omitempty"`

	FulfilledItems LineItems  `gorm:"type:jsonb" json:"itens_atendidos,omitempty"`
	InvoicedAt     *time.Time `json:"invoiced_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetDepartmentNote overwrites the note slot owned by a department.
func (r *BillingRequest) SetDepartmentNote(department, note string) {
	switch department {
	case DeptSeller:
		r.SellerNote = note
	case DeptBilling:
		r.BillingNote = note
	case DeptCommercial:
		r.CommercialNote = note
	case DeptCredit:
		r.CreditNote = note
	}
}

// ClearDepartmentNote empties the note slot owned by a department.
func (r *BillingRequest) ClearDepartmentNote(department string) {
	r.SetDepartmentNote(department, "")
}
