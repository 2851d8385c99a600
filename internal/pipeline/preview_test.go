package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partsbin/internal"
)

func TestPreviewAttachesCandidates(t *testing.T) {
	p := NewPreviewer(NewParser(nil), nil, nil)

	orders, stats, err := p.Preview(context.Background(), loadFixture(t, "order_history.html"), nil)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	for _, order := range orders {
		for _, item := range order.Items {
			require.NotNil(t, item.Candidate, "item %q missing candidate", item.Title)
		}
	}
	assert.Equal(t, "Resistor", orders[0].Items[0].Candidate.Category)
	assert.Equal(t, 2, stats.TotalOrders)
	assert.Equal(t, 3, stats.TotalItems)
	assert.Equal(t, 1, stats.SkippedBlocks)
}

func TestPreviewIsRepeatable(t *testing.T) {
	p := NewPreviewer(NewParser(nil), nil, nil)
	raw := loadFixture(t, "order_history.html")

	first, firstStats, err := p.Preview(context.Background(), raw, nil)
	require.NoError(t, err)
	second, secondStats, err := p.Preview(context.Background(), raw, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstStats, secondStats)
}

func TestSummarize(t *testing.T) {
	march := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	april := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	totalA := decimal.RequireFromString("10.00")

	orders := []internal.Order{
		{
			OrderNumber: "A", Supplier: "S1", OrderDate: &april, Total: &totalA,
			Items: []internal.Item{{Title: "x", Quantity: 1}},
		},
		{
			// No header total: item totals are summed instead.
			OrderNumber: "B", Supplier: "S2", OrderDate: &march,
			Items: []internal.Item{
				{Title: "y", Quantity: 1, TotalPrice: decimal.RequireFromString("2.50")},
				{Title: "z", Quantity: 1, TotalPrice: decimal.RequireFromString("1.25")},
			},
		},
		{OrderNumber: "C", Supplier: "S1"},
	}

	stats := Summarize(orders, 4)
	assert.Equal(t, 3, stats.TotalOrders)
	assert.Equal(t, 3, stats.TotalItems)
	assert.Equal(t, 2, stats.DistinctSuppliers)
	assert.Equal(t, 4, stats.SkippedBlocks)
	assert.Equal(t, "13.75", stats.TotalValue.String())
	require.NotNil(t, stats.EarliestOrderDate)
	require.NotNil(t, stats.LatestOrderDate)
	assert.Equal(t, march, *stats.EarliestOrderDate)
	assert.Equal(t, april, *stats.LatestOrderDate)
}
