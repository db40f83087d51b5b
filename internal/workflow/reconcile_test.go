package workflow

import (
	"testing"

	"faturamento/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestParseVolume(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"38,5", "38.5"},
		{"38.5", "38.5"},
		{"  100 ", "100"},
		{"0,25", "0.25"},
		{"-5", "-5"},
		{"0", "0"},
	}
	for _, tc := range cases {
		got, err := ParseVolume(tc.in)
		require.NoErrorf(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got.String())
	}

	for _, bad := range []string{"", "abc", "1,5,0", "10 t"} {
		_, err := ParseVolume(bad)
		assert.Errorf(t, err, "input %q should not parse", bad)
	}
}

func TestFilterFulfilled(t *testing.T) {
	items := FilterFulfilled([]FulfilledItem{
		{Product: "Cimento CP-II", Volume: "38,5", Unit: "t"},
		{Product: "Cal Hidratada", Volume: "0"},
		{Product: "Areia Média", Volume: "-5"},
		{Product: "Brita 1", Volume: "abc"},
		{Product: "Argamassa", Volume: "2", Note: "lote 9"},
	})

	require.Len(t, items, 2)
	assert.Equal(t, "Cimento CP-II", items[0].Product)
	assert.Equal(t, "38.5", items[0].Volume.String())
	assert.Equal(t, "Argamassa", items[1].Product)
	assert.Equal(t, "lote 9", items[1].Note)
}

func TestFilterFulfilledAllExcluded(t *testing.T) {
	items := FilterFulfilled([]FulfilledItem{
		{Product: "A", Volume: "0"},
		{Product: "B", Volume: ""},
	})
	assert.Empty(t, items)
}

func catalogOrder() *model.Order {
	return &model.Order{
		OrderNumber:     "PED-1001",
		TotalVolume:     dec("100"),
		RemainingVolume: dec("100"),
		InvoicedVolume:  decimal.Zero,
		TotalValue:      dec("50000"),
		InvoicedValue:   decimal.Zero,
		Status:          model.OrderStatusPending,
		Items: []model.OrderItem{
			{Product: "Cimento CP-II", Volume: dec("80"), Unit: "t", UnitPrice: dec("500")},
			{Product: "Cal Hidratada", Volume: dec("20"), Unit: "t", UnitPrice: dec("500")},
		},
	}
}

func TestApplyInvoice(t *testing.T) {
	t.Run("debits volume and value and leaves the order partially invoiced", func(t *testing.T) {
		order := catalogOrder()
		ApplyInvoice(order, model.LineItems{
			{Product: "Cimento CP-II", Volume: dec("38.5")},
			{Product: "Cal Hidratada", Volume: dec("1.5")},
		})

		assert.Equal(t, "60", order.RemainingVolume.String())
		assert.Equal(t, "40", order.InvoicedVolume.String())
		assert.Equal(t, "20000", order.InvoicedValue.String())
		assert.Equal(t, model.OrderStatusPartiallyInvoiced, order.Status)
	})

	t.Run("finalizes when less than one unit remains", func(t *testing.T) {
		order := catalogOrder()
		ApplyInvoice(order, model.LineItems{{Product: "Cimento CP-II", Volume: dec("99.2")}})

		assert.Equal(t, "0.8", order.RemainingVolume.String())
		assert.Equal(t, model.OrderStatusFinalized, order.Status)
	})

	t.Run("exactly one unit remaining stays open", func(t *testing.T) {
		order := catalogOrder()
		ApplyInvoice(order, model.LineItems{{Product: "Cimento CP-II", Volume: dec("99")}})

		assert.Equal(t, "1", order.RemainingVolume.String())
		assert.Equal(t, model.OrderStatusPartiallyInvoiced, order.Status)
	})

	t.Run("remaining volume floors at zero on overdraw", func(t *testing.T) {
		order := catalogOrder()
		ApplyInvoice(order, model.LineItems{{Product: "Cimento CP-II", Volume: dec("120")}})

		assert.Equal(t, "0", order.RemainingVolume.String())
		assert.Equal(t, "120", order.InvoicedVolume.String())
		assert.Equal(t, model.OrderStatusFinalized, order.Status)
	})

	t.Run("products outside the catalog debit volume at zero value", func(t *testing.T) {
		order := catalogOrder()
		ApplyInvoice(order, model.LineItems{{Product: "Produto Avulso", Volume: dec("10")}})

		assert.Equal(t, "90", order.RemainingVolume.String())
		assert.Equal(t, "0", order.InvoicedValue.String())
	})

	t.Run("successive invoices accumulate", func(t *testing.T) {
		order := catalogOrder()
		ApplyInvoice(order, model.LineItems{{Product: "Cimento CP-II", Volume: dec("50")}})
		ApplyInvoice(order, model.LineItems{{Product: "Cimento CP-II", Volume: dec("50")}})

		assert.Equal(t, "0", order.RemainingVolume.String())
		assert.Equal(t, "100", order.InvoicedVolume.String())
		assert.Equal(t, "50000", order.InvoicedValue.String())
		assert.Equal(t, model.OrderStatusFinalized, order.Status)
	})
}
