package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus constants
const (
	OrderStatusPending           = "PENDING"
	OrderStatusPartiallyInvoiced = "PARTIALLY_INVOICED"
	OrderStatusAwaitingIssuance  = "AWAITING_ISSUANCE"
	OrderStatusFinalized         = "FINALIZED"
)

// Order (Pedido) is a standing sales order with a consumable volume/value
// budget. Its remaining balance is debited exclusively when a billing
// request that draws on it reaches INVOICED.
type Order struct {
	ID              uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderNumber     string          `gorm:"type:varchar(50);uniqueIndex;not null" json:"order_number"`
	ClientCode      string          `gorm:"type:varchar(50)" json:"client_code"`
	ClientName      string          `gorm:"type:varchar(255)" json:"client_name"`
	Product         string          `gorm:"type:varchar(255)" json:"product"`
	Unit            string          `gorm:"type:varchar(20)" json:"unit"`
	TotalVolume     decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"total_volume"`
	RemainingVolume decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"remaining_volume"`
	InvoicedVolume  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"invoiced_volume"`
	TotalValue      decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"total_value"`
	InvoicedValue   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"invoiced_value"`
	SellerCode      string          `gorm:"type:varchar(50)" json:"seller_code"`
	SellerName      string          `gorm:"type:varchar(255)" json:"seller_name"`
	Status          string          `gorm:"type:varchar(30);not null;default:'PENDING';index" json:"status"`
	BlockNote       string          `gorm:"type:text" json:"block_note,omitempty"`
	Items           []OrderItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderItem is one product line of an order's catalog. Unit prices are
// looked up here at invoice time; a product missing from the catalog is
// priced at zero.
type OrderItem struct {
	ID        uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"order_id"`
	Product   string          `gorm:"type:varchar(255);not null" json:"product"`
	Volume    decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"volume"`
	Unit      string          `gorm:"type:varchar(20)" json:"unit"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"unit_price"`
}

// UnitPriceFor returns the catalog price for a product, zero if absent.
func (o *Order) UnitPriceFor(product string) decimal.Decimal {
	for _, item := range o.Items {
		if item.Product == product {
			return item.UnitPrice
		}
	}
	return decimal.Zero
}
