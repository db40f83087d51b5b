package workflow

import (
	"strings"

	"github.com/shopspring/decimal"

	"faturamento/internal/model"
)

// Orders are finalized once less than one unit remains; source feeds round
// volumes, so a sub-unit remainder counts as fully consumed.
var finalizeTolerance = decimal.NewFromInt(1)

// ParseVolume normalizes a volume string to a decimal. Input may use
// either ',' or '.' as the decimal separator.
func ParseVolume(s string) (decimal.Decimal, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	return decimal.NewFromString(normalized)
}

// displayProduct builds the cached product summary for a request from its
// line items: the single product name, or a " + " concatenation.
func displayProduct(items model.LineItems) string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Product)
	}
	return strings.Join(names, " + ")
}

// FulfilledItem is the per-line fulfilled volume supplied at invoice time.
type FulfilledItem struct {
	Product string
	Volume  string
	Unit    string
	Note    string
}

// FilterFulfilled keeps the items whose volume parses to a positive
// number. Non-positive or unparseable volumes mean the item was not
// available at issuance time and is simply excluded rather than treated
// as an error. The result may be empty.
func FilterFulfilled(inputs []FulfilledItem) model.LineItems {
	fulfilled := make(model.LineItems, 0, len(inputs))
	for _, in := range inputs {
		volume, err := ParseVolume(in.Volume)
		if err != nil || !volume.IsPositive() {
			continue
		}
		fulfilled = append(fulfilled, model.LineItem{
			Product: in.Product,
			Volume:  volume,
			Unit:    in.Unit,
			Note:    in.Note,
		})
	}
	return fulfilled
}

// ApplyInvoice debits an order's balance for the fulfilled items of an
// invoiced request and re-derives the order status. Each item's debit
// value is fulfilled volume times the catalog unit price (zero when the
// product is not in the catalog). The remaining volume is floored at zero
// to absorb rounding from the source feeds.
//
// Callers must serialize invocations per order: this is a read-modify-
// write on the single point of truth for the order's balance.
func ApplyInvoice(order *model.Order, fulfilled model.LineItems) {
	volume := decimal.Zero
	value := decimal.Zero
	for _, item := range fulfilled {
		volume = volume.Add(item.Volume)
		value = value.Add(item.Volume.Mul(order.UnitPriceFor(item.Product)))
	}

	order.RemainingVolume = order.RemainingVolume.Sub(volume)
	if order.RemainingVolume.IsNegative() {
		order.RemainingVolume = decimal.Zero
	}
	order.InvoicedVolume = order.InvoicedVolume.Add(volume)
	order.InvoicedValue = order.InvoicedValue.Add(value)

	if order.RemainingVolume.LessThan(finalizeTolerance) {
		order.Status = model.OrderStatusFinalized
	} else {
		order.Status = model.OrderStatusPartiallyInvoiced
	}
}
